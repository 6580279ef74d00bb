// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/config"
)

// newConfigCommand creates the `modhost config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage modhost configuration",
		Long: `Manage modhost configuration.

Configuration is stored in:
  - Linux: ~/.config/modhost/config.cue
  - macOS: ~/Library/Application Support/modhost/config.cue
  - Windows: %APPDATA%\modhost\config.cue

Every key can be overridden from the environment with the MODHOST_ prefix,
for example MODHOST_LOG_LEVEL=debug or MODHOST_ARCHIVE_MAX_ENTRIES=500.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			showConfig(app, cfg)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.CreateDefaultConfig(config.LoadOptions{})
			if err != nil {
				return app.fail(cmd, err)
			}
			printf(app.stdout, "%s Configuration file: %s\n", successIcon, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.configPath != "" {
				printf(app.stdout, "%s\n", app.configPath)
				return nil
			}
			dir, err := config.ConfigDir()
			if err != nil {
				return app.fail(cmd, err)
			}
			printf(app.stdout, "%s\n", filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			printf(app.stdout, "%s", config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(app *App, cfg *config.Config) {
	keyStyle := CmdStyle
	valueStyle := SuccessStyle

	printf(app.stdout, "%s\n\n", TitleStyle.Render("Current Configuration"))
	if cfg.Source != "" {
		printf(app.stdout, "%s: %s\n\n", keyStyle.Render("Config file"), cfg.Source)
	} else {
		printf(app.stdout, "%s: %s\n\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}

	hostVersion := cfg.HostVersion
	if hostVersion == "" {
		if v, err := cfg.ResolveHostVersion(); err == nil {
			hostVersion = v.String() + " " + SubtitleStyle.Render("(build)")
		}
	}

	rows := []struct{ key, value string }{
		{"root", cfg.Root},
		{"host_version", hostVersion},
		{"log.level", string(cfg.Log.Level)},
		{"log.format", string(cfg.Log.Format)},
		{"archive.max_entries", fmt.Sprintf("%d", cfg.Archive.MaxEntries)},
		{"archive.max_bytes", fmt.Sprintf("%d", cfg.Archive.MaxBytes)},
		{"loader.boundary_prefixes", strings.Join(cfg.Loader.BoundaryPrefixes, ", ")},
		{"mirror.enabled", fmt.Sprintf("%t", cfg.Mirror.Enabled)},
	}
	if cfg.Mirror.Enabled {
		rows = append(rows,
			struct{ key, value string }{"mirror.bucket", cfg.Mirror.Bucket},
			struct{ key, value string }{"mirror.region", cfg.Mirror.Region},
		)
	}
	rows = append(rows, struct{ key, value string }{"serve.addr", cfg.Serve.Addr})

	for _, r := range rows {
		printf(app.stdout, "%s: %s\n", keyStyle.Render(r.key), valueStyle.Render(r.value))
	}
}
