// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/installer"
	"github.com/modhost/modhost/internal/issue"
)

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2025-06-15T10:00:00Z"

		got := getVersionString()
		want := "v1.2.3 (commit: abc1234, built: 2025-06-15T10:00:00Z)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})

	t.Run("dev build", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "dev"
		if got, want := getVersionString(), "dev (built from source)"; got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})
}

func TestExitCodeFor(t *testing.T) {
	t.Parallel()

	kindErr := func(k installer.Kind) error {
		return &installer.Error{Op: "enable", ModuleID: "app", Kind: k, Reason: "boom"}
	}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: kindErr(installer.KindValidation), want: 2},
		{name: "compatibility", err: kindErr(installer.KindCompatibility), want: 2},
		{name: "dependency", err: kindErr(installer.KindDependency), want: 3},
		{name: "conflict", err: kindErr(installer.KindConflict), want: 4},
		{name: "not found", err: kindErr(installer.KindNotFound), want: 5},
		{name: "wrapped not found", err: fmt.Errorf("outer: %w", kindErr(installer.KindNotFound)), want: 5},
		{name: "filesystem", err: kindErr(installer.KindFilesystem), want: 1},
		{name: "plain error", err: errors.New("boom"), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFormatErrorForDisplay(t *testing.T) {
	t.Parallel()

	depErr := &installer.Error{
		Op:       "enable",
		ModuleID: "app",
		Kind:     installer.KindDependency,
		Reason:   `dependency "core" is disabled`,
		Err:      installer.ErrDependency,
	}
	actionable := issue.NewErrorContext().
		WithOperation("read module archive").
		WithResource("missing.zip").
		WithSuggestion("Verify the archive path is correct").
		Wrap(errors.New("no such file")).
		BuildError()

	tests := []struct {
		name     string
		err      error
		verbose  bool
		contains []string
		excludes []string
	}{
		{
			name:     "installer error gets kind suggestions",
			err:      depErr,
			contains: []string{`enable app: dependency "core" is disabled`, "\n  • " + issue.Suggestions(issue.DependencyUnsatisfiedId)[0]},
			excludes: []string{"Error chain:"},
		},
		{
			name:     "installer error verbose chain",
			err:      depErr,
			verbose:  true,
			contains: []string{"Error chain:", "1. dependency not satisfied"},
		},
		{
			name:     "actionable error",
			err:      actionable,
			contains: []string{"failed to read module archive: missing.zip: no such file", "• Verify the archive path is correct"},
		},
		{
			name:     "plain error",
			err:      errors.New("plain failure"),
			contains: []string{"plain failure"},
			excludes: []string{"•"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := formatErrorForDisplay(tt.err, tt.verbose)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("output missing %q:\n%s", want, got)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(got, unwanted) {
					t.Errorf("output unexpectedly contains %q:\n%s", unwanted, got)
				}
			}
		})
	}
}

func TestAppFail(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	app, err := NewApp(Dependencies{Stdout: &stdout, Stderr: &stderr})
	if err != nil {
		t.Fatalf("NewApp() failed: %v", err)
	}
	cmd := &cobra.Command{Use: "test"}

	failErr := app.fail(cmd, &installer.Error{Op: "disable", ModuleID: "ghost", Kind: installer.KindNotFound, Reason: "module is not installed"})

	var exitErr *ExitError
	if !errors.As(failErr, &exitErr) {
		t.Fatalf("fail() = %T, want *ExitError", failErr)
	}
	if exitErr.Code != 5 {
		t.Errorf("exit code = %d, want 5", exitErr.Code)
	}
	if !cmd.SilenceErrors {
		t.Error("fail() did not silence cobra's error output")
	}
	if !strings.Contains(stderr.String(), "disable ghost: module is not installed") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", stdout.String())
	}
}
