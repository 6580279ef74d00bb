// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"cuelang.org/go/cue"
	"github.com/spf13/viper"

	"github.com/modhost/modhost/internal/cueutil"
	"github.com/modhost/modhost/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "modhost"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. MODHOST_LOG_LEVEL.
	EnvPrefix = "MODHOST"
	// ModulesDirName is the default module root under the config directory.
	ModulesDirName = "modules"
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the modhost configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions reads defaults, then the config file, then MODHOST_*
// environment overrides, and validates the merged result.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, DefaultConfig(), filepath.Join(cfgDir, ModulesDirName))
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath := ""
	candidates := []string{filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)}
	if opts.ConfigFilePath != "" {
		// An explicit --config path is used exclusively and must exist.
		if !fileExists(opts.ConfigFilePath) {
			return nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestions(issue.Suggestions(issue.ConfigLoadFailedId)...).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		candidates = []string{opts.ConfigFilePath}
	}
	for _, path := range candidates {
		if !fileExists(path) {
			continue
		}
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestions(issue.Suggestions(issue.ConfigLoadFailedId)...).
				Wrap(err).
				BuildError()
		}
		resolvedPath = path
		break
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Source = resolvedPath

	if err := cfg.Validate(); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Fix the reported keys in the config file or the MODHOST_* environment").
			Wrap(err).
			BuildError()
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config, root string) {
	v.SetDefault("root", root)
	v.SetDefault("host_version", d.HostVersion)
	v.SetDefault("log.level", string(d.Log.Level))
	v.SetDefault("log.format", string(d.Log.Format))
	v.SetDefault("archive.max_entries", d.Archive.MaxEntries)
	v.SetDefault("archive.max_bytes", d.Archive.MaxBytes)
	v.SetDefault("loader.boundary_prefixes", d.Loader.BoundaryPrefixes)
	v.SetDefault("mirror.enabled", d.Mirror.Enabled)
	v.SetDefault("mirror.bucket", d.Mirror.Bucket)
	v.SetDefault("mirror.region", d.Mirror.Region)
	v.SetDefault("mirror.endpoint", d.Mirror.Endpoint)
	v.SetDefault("mirror.prefix", d.Mirror.Prefix)
	v.SetDefault("mirror.path_style", d.Mirror.PathStyle)
	v.SetDefault("serve.addr", d.Serve.Addr)
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against #Config and merges it into
// Viper, keeping defaults for absent keys and env overrides on top.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	unified, err := cueutil.Unify(configSchema, data, "#Config", path)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes a default config.cue into the config directory
// unless one exists, and returns its path.
func CreateDefaultConfig(opts LoadOptions) (string, error) {
	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, nil
	}

	defaults := DefaultConfig()
	defaults.Root = filepath.Join(cfgDir, ModulesDirName)
	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(defaults)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// modhost configuration file\n\n")

	sb.WriteString(fmt.Sprintf("root: %q\n", cfg.Root))
	if cfg.HostVersion != "" {
		sb.WriteString(fmt.Sprintf("host_version: %q\n", cfg.HostVersion))
	}

	sb.WriteString("\nlog: {\n")
	sb.WriteString(fmt.Sprintf("\tlevel:  %q\n", cfg.Log.Level))
	sb.WriteString(fmt.Sprintf("\tformat: %q\n", cfg.Log.Format))
	sb.WriteString("}\n")

	sb.WriteString("\narchive: {\n")
	sb.WriteString(fmt.Sprintf("\tmax_entries: %d\n", cfg.Archive.MaxEntries))
	sb.WriteString(fmt.Sprintf("\tmax_bytes:   %d\n", cfg.Archive.MaxBytes))
	sb.WriteString("}\n")

	sb.WriteString("\nloader: {\n")
	sb.WriteString("\tboundary_prefixes: [")
	for i, p := range cfg.Loader.BoundaryPrefixes {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%q", p))
	}
	sb.WriteString("]\n")
	sb.WriteString("}\n")

	sb.WriteString("\nmirror: {\n")
	sb.WriteString(fmt.Sprintf("\tenabled: %v\n", cfg.Mirror.Enabled))
	if cfg.Mirror.Bucket != "" {
		sb.WriteString(fmt.Sprintf("\tbucket: %q\n", cfg.Mirror.Bucket))
	}
	sb.WriteString(fmt.Sprintf("\tregion: %q\n", cfg.Mirror.Region))
	if cfg.Mirror.Endpoint != "" {
		sb.WriteString(fmt.Sprintf("\tendpoint: %q\n", cfg.Mirror.Endpoint))
	}
	if cfg.Mirror.Prefix != "" {
		sb.WriteString(fmt.Sprintf("\tprefix: %q\n", cfg.Mirror.Prefix))
	}
	sb.WriteString(fmt.Sprintf("\tpath_style: %v\n", cfg.Mirror.PathStyle))
	sb.WriteString("}\n")

	sb.WriteString("\nserve: {\n")
	sb.WriteString(fmt.Sprintf("\taddr: %q\n", cfg.Serve.Addr))
	sb.WriteString("}\n")

	return sb.String()
}
