// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/issue"
)

// newModuleCommand creates the `modhost module` command tree.
func newModuleCommand(app *App) *cobra.Command {
	moduleCmd := &cobra.Command{
		Use:   "module",
		Short: "Manage installed modules",
		Long: `Manage the modules in the module root.

Installed versions live under installed/<id>/<version>/, the archives they
came from under packages/<id>/, and enablement plus the active version in
modules.json.

Examples:
  modhost module install ./sample-1.0.0.zip
  modhost module enable sample
  modhost module use sample 1.1.0
  modhost module prune sample`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	moduleCmd.AddCommand(
		newModuleInstallCommand(app),
		newModuleEnableCommand(app),
		newModuleDisableCommand(app),
		newModuleUseCommand(app),
		newModuleRemoveCommand(app),
		newModuleRemoveVersionCommand(app),
		newModulePruneCommand(app),
		newModuleListCommand(app),
		newModuleShowCommand(app),
		newModuleVerifyCommand(app),
		newModulePackCommand(app),
	)
	return moduleCmd
}

func newModuleInstallCommand(app *App) *cobra.Command {
	var enable bool
	cmd := &cobra.Command{
		Use:   "install <archive>",
		Short: "Install a module archive",
		Long: `Install a module from a zip archive.

The archive must carry manifest.json at its root (or inside a single
top-level folder) and the entry library under lib/. The first installed
version of a module becomes its active version; later versions are added
alongside without switching.`,
		Example: `  modhost module install ./sample-1.0.0.zip
  modhost module install ./sample-1.1.0.zip --enable`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModuleInstall(cmd, app, args[0], enable)
		},
	}
	cmd.Flags().BoolVar(&enable, "enable", false, "enable the module after installing it")
	return cmd
}

func runModuleInstall(cmd *cobra.Command, app *App, archivePath string, enable bool) error {
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return app.fail(cmd, issue.NewErrorContext().
			WithOperation("read module archive").
			WithResource(archivePath).
			WithSuggestion("Verify the archive path is correct").
			Wrap(err).
			Build())
	}

	s, err := app.openSession(cmd.Context(), sessionOptions{})
	if err != nil {
		return app.fail(cmd, err)
	}

	res, err := s.installer.Install(cmd.Context(), data, filepath.Base(archivePath), enable)
	if err != nil {
		return app.fail(cmd, err)
	}

	printf(app.stdout, "%s Installed %s %s\n", successIcon, CmdStyle.Render(res.ID), res.Version)
	if res.Active {
		printf(app.stdout, "%s %s is the active version\n", infoIcon, res.Version)
	}
	if !res.PackageStored {
		printf(app.stdout, "%s Archive was already retained\n", infoIcon)
	}
	switch {
	case res.EnableErr != nil:
		printf(app.stderr, "%s Not enabled: %s\n", warningIcon, formatErrorForDisplay(res.EnableErr, app.verbose))
		cmd.SilenceErrors = true
		return &ExitError{Code: exitCodeFor(res.EnableErr)}
	case res.Enabled:
		printf(app.stdout, "%s Enabled %s\n", successIcon, CmdStyle.Render(res.ID))
	}
	return nil
}

func newModuleEnableCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <id> [version]",
		Short: "Enable a module",
		Long: `Enable a module after checking host compatibility and every declared
dependency. Dependencies must already be installed and enabled; they are
never enabled on the module's behalf.

With a version, that version becomes the active version. Built-in modules
are enabled at the host version.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := ""
			if len(args) == 2 {
				version = args[1]
			}
			return app.mutate(cmd, func(ctx context.Context, s *session) (string, error) {
				if err := s.installer.Enable(ctx, args[0], version); err != nil {
					return "", err
				}
				return fmt.Sprintf("Enabled %s", CmdStyle.Render(args[0])), nil
			})
		},
	}
}

func newModuleDisableCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a module",
		Long: `Disable a module. Modules that depend on it stay enabled; the host
reports their dependency failure on the next activation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.mutate(cmd, func(ctx context.Context, s *session) (string, error) {
				if err := s.installer.Disable(ctx, args[0]); err != nil {
					return "", err
				}
				return fmt.Sprintf("Disabled %s", CmdStyle.Render(args[0])), nil
			})
		},
	}
}

func newModuleUseCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "use <id> <version>",
		Short: "Switch the active version of a module",
		Long: `Make an installed version the active one. The previous active version
is remembered as the last good version. Compatibility is not re-checked;
run 'modhost module enable <id>' to validate the switch.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.mutate(cmd, func(ctx context.Context, s *session) (string, error) {
				if err := s.installer.SetActiveVersion(ctx, args[0], args[1]); err != nil {
					return "", err
				}
				return fmt.Sprintf("%s now uses %s", CmdStyle.Render(args[0]), args[1]), nil
			})
		},
	}
}

func newModuleRemoveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a module and every installed version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.mutate(cmd, func(ctx context.Context, s *session) (string, error) {
				if err := s.installer.RemoveModule(ctx, args[0]); err != nil {
					return "", err
				}
				return fmt.Sprintf("Removed %s", CmdStyle.Render(args[0])), nil
			})
		},
	}
}

func newModuleRemoveVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-version <id> <version>",
		Short: "Remove one installed version",
		Long: `Remove one installed version of a module together with its retained
archive. The active version cannot be removed; switch with 'modhost module
use' first. The module entry disappears with its last version.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.mutate(cmd, func(ctx context.Context, s *session) (string, error) {
				if err := s.installer.RemoveModuleVersion(ctx, args[0], args[1]); err != nil {
					return "", err
				}
				return fmt.Sprintf("Removed %s %s", CmdStyle.Render(args[0]), args[1]), nil
			})
		},
	}
}

func newModulePruneCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "prune <id>",
		Short: "Remove every version except the active and last good ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.mutate(cmd, func(ctx context.Context, s *session) (string, error) {
				removed, err := s.installer.PruneOldVersions(ctx, args[0])
				if err != nil {
					return "", err
				}
				if len(removed) == 0 {
					return fmt.Sprintf("Nothing to prune for %s", CmdStyle.Render(args[0])), nil
				}
				for _, v := range removed {
					printf(app.stdout, "%s Removed %s %s\n", infoIcon, args[0], v)
				}
				return fmt.Sprintf("Pruned %d version(s) of %s", len(removed), CmdStyle.Render(args[0])), nil
			})
		},
	}
}

// mutate opens a session, runs fn and reports its outcome.
func (a *App) mutate(cmd *cobra.Command, fn func(ctx context.Context, s *session) (string, error)) error {
	s, err := a.openSession(cmd.Context(), sessionOptions{})
	if err != nil {
		return a.fail(cmd, err)
	}
	msg, err := fn(cmd.Context(), s)
	if err != nil {
		return a.fail(cmd, err)
	}
	printf(a.stdout, "%s %s\n", successIcon, msg)
	return nil
}
