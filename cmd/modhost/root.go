// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/installer"
	"github.com/modhost/modhost/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the modhost command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "modhost",
		Short: "Install, enable and host versioned modules",
		Long: TitleStyle.Render("modhost") + SubtitleStyle.Render(" - Install, enable and host versioned modules") + `

modhost keeps a module root with every installed version of every module,
a persisted record of which version is active and whether it is enabled,
and the original archives. The host loads each enabled module's active
version and mounts the HTTP routes it registers.

` + SubtitleStyle.Render("Examples:") + `
  modhost module install ./sample-1.0.0.zip --enable
  modhost module list
  modhost module use sample 1.1.0
  modhost serve
  modhost config show`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(app.stdout)
	rootCmd.SetErr(app.stderr)

	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/modhost/config.cue)")

	rootCmd.AddCommand(newModuleCommand(app))
	rootCmd.AddCommand(newServeCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process with the command's status.
// It is called by main.main().
func Execute() {
	app, err := NewApp(Dependencies{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// fail renders err with its remediation hints on stderr and returns an
// ExitError so the failure is not printed a second time.
func (a *App) fail(cmd *cobra.Command, err error) error {
	cmd.SilenceErrors = true
	fmt.Fprintf(a.stderr, "%s %s\n", errorIcon, formatErrorForDisplay(err, a.verbose))
	return &ExitError{Code: exitCodeFor(err)}
}

// formatErrorForDisplay formats an error for user display. Actionable
// errors render their suggestions; installer errors get the hints for their
// failure kind. Verbose mode adds the error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ie *installer.Error
	if errors.As(err, &ie) {
		return formatWithSuggestions(err.Error(), ie.Suggestions(), err, verboseMode)
	}
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

func formatWithSuggestions(msg string, suggestions []string, err error, verboseMode bool) string {
	var b strings.Builder
	b.WriteString(msg)
	if len(suggestions) > 0 {
		b.WriteString("\n")
		for _, s := range suggestions {
			b.WriteString("\n  • ")
			b.WriteString(s)
		}
	}
	if verboseMode {
		b.WriteString("\n\nError chain:")
		depth := 1
		for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
			fmt.Fprintf(&b, "\n  %d. %s", depth, e.Error())
			depth++
		}
	}
	return b.String()
}

// exitCodeFor maps installer failure kinds to distinct exit codes so scripts
// can tell a bad archive from a missing module.
func exitCodeFor(err error) int {
	switch installer.KindOf(err) {
	case installer.KindValidation, installer.KindCompatibility:
		return 2
	case installer.KindDependency:
		return 3
	case installer.KindConflict:
		return 4
	case installer.KindNotFound:
		return 5
	default:
		return 1
	}
}

// printf writes formatted output to w, ignoring write errors like fmt.Printf.
func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
