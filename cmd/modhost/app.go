// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/modhost/modhost/internal/builtin/status"
	"github.com/modhost/modhost/internal/config"
	"github.com/modhost/modhost/internal/installer"
	"github.com/modhost/modhost/internal/issue"
	"github.com/modhost/modhost/internal/pkgstore"
	"github.com/modhost/modhost/internal/statestore"
	"github.com/modhost/modhost/pkg/hostmod"
)

type (
	// App wires CLI services and shared dependencies. Every Cobra handler
	// receives the App and opens a session through it.
	App struct {
		Config ConfigProvider
		// Mirror builds the S3 client for the archive mirror. Tests replace it.
		Mirror MirrorFactory
		stdout io.Writer
		stderr io.Writer

		// Set from persistent flags.
		configPath string
		verbose    bool
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config ConfigProvider
		Mirror MirrorFactory
		Stdout io.Writer
		Stderr io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// MirrorFactory creates the object client used by the archive mirror.
	MirrorFactory func(ctx context.Context, cfg pkgstore.MirrorConfig) (pkgstore.ObjectAPI, error)

	// session is everything one command invocation needs, built from the
	// loaded configuration.
	session struct {
		cfg       *config.Config
		logger    *log.Logger
		layout    hostmod.Layout
		store     *statestore.FileStore
		catalog   *hostmod.Catalog
		installer *installer.Installer
	}

	sessionOptions struct {
		// Registerer receives the installer metrics; nil disables them.
		Registerer prometheus.Registerer
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Mirror == nil {
		deps.Mirror = func(ctx context.Context, cfg pkgstore.MirrorConfig) (pkgstore.ObjectAPI, error) {
			return pkgstore.NewS3Client(ctx, cfg)
		}
	}

	return &App{
		Config: deps.Config,
		Mirror: deps.Mirror,
		stdout: deps.Stdout,
		stderr: deps.Stderr,
	}, nil
}

// loadConfig loads configuration honoring the --config flag.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
}

// newCatalog returns the built-ins compiled into this binary.
func newCatalog() (*hostmod.Catalog, error) {
	return hostmod.NewCatalog(status.BuiltIn())
}

// openSession loads configuration and assembles the installer stack.
func (a *App) openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(a.stderr, cfg.Log, a.verbose)
	if err != nil {
		return nil, err
	}

	hostVersion, err := cfg.ResolveHostVersion()
	if err != nil {
		return nil, err
	}
	layout, err := hostmod.NewLayout(cfg.Root)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("open module root").
			WithResource(cfg.Root).
			WithSuggestion("Set 'root' in config.cue or MODHOST_ROOT to a writable directory").
			Wrap(err).
			BuildError()
	}
	catalog, err := newCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to build built-in catalog: %w", err)
	}

	var packages pkgstore.Store = pkgstore.NewFSStore(layout)
	if cfg.Mirror.Enabled {
		mirrorCfg := pkgstore.MirrorConfig{
			Bucket:    cfg.Mirror.Bucket,
			Region:    cfg.Mirror.Region,
			Endpoint:  cfg.Mirror.Endpoint,
			Prefix:    cfg.Mirror.Prefix,
			PathStyle: cfg.Mirror.PathStyle,
		}
		client, err := a.Mirror(ctx, mirrorCfg)
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("configure archive mirror").
				WithResource(cfg.Mirror.Bucket).
				WithSuggestion("Check the AWS credentials available to modhost").
				WithSuggestion("Set mirror.enabled to false to keep archives local only").
				Wrap(err).
				BuildError()
		}
		packages = pkgstore.NewS3Mirror(packages, client, mirrorCfg, logger.WithPrefix("mirror"))
	}

	var metrics *installer.Metrics
	if opts.Registerer != nil {
		if metrics, err = installer.NewMetrics(opts.Registerer); err != nil {
			return nil, fmt.Errorf("failed to register installer metrics: %w", err)
		}
	}

	store := statestore.NewFileStore(layout.StatePath())
	inst, err := installer.New(installer.Options{
		Layout:      layout,
		State:       store,
		Packages:    packages,
		Catalog:     catalog,
		HostVersion: hostVersion,
		Extract:     cfg.ExtractOptions(),
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("prepare module root").
			WithResource(layout.Root).
			WithSuggestions(issue.FilesystemSuggestions(err)...).
			Wrap(err).
			BuildError()
	}

	logger.Debug("session ready", "root", layout.Root, "host", hostVersion, "config", cfg.Source)
	return &session{
		cfg:       cfg,
		logger:    logger,
		layout:    layout,
		store:     store,
		catalog:   catalog,
		installer: inst,
	}, nil
}
