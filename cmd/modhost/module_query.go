// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/modhost/modhost/internal/installer"
	"github.com/modhost/modhost/internal/statestore"
	"github.com/modhost/modhost/pkg/hostmod"
)

const (
	descriptionWidth = 76

	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

type (
	// moduleRow is the list/show representation of a module.
	moduleRow struct {
		ID                string   `json:"id" yaml:"id"`
		Enabled           bool     `json:"enabled" yaml:"enabled"`
		BuiltIn           bool     `json:"builtIn" yaml:"builtIn"`
		ActiveVersion     string   `json:"activeVersion,omitempty" yaml:"activeVersion,omitempty"`
		LastGoodVersion   string   `json:"lastGoodVersion,omitempty" yaml:"lastGoodVersion,omitempty"`
		InstalledVersions []string `json:"installedVersions" yaml:"installedVersions"`
	}

	// moduleDetail adds the active version's manifest to a row.
	moduleDetail struct {
		moduleRow `yaml:",inline"`

		Name         string               `json:"name,omitempty" yaml:"name,omitempty"`
		Description  string               `json:"description,omitempty" yaml:"description,omitempty"`
		Entry        *hostmod.Entry       `json:"entry,omitempty" yaml:"entry,omitempty"`
		Dependencies []hostmod.Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	}
)

func rowOf(it statestore.Item) moduleRow {
	versions := it.InstalledVersions
	if versions == nil {
		versions = []string{}
	}
	return moduleRow{
		ID:                it.ID,
		Enabled:           it.Enabled,
		BuiltIn:           it.BuiltIn,
		ActiveVersion:     it.ActiveVersion,
		LastGoodVersion:   it.LastGoodVersion,
		InstalledVersions: versions,
	}
}

func addOutputFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "output", "o", outputText, "output format (text, json, yaml)")
}

// writeStructured renders v as JSON or YAML. It reports false for text
// output, which each command renders itself.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	case outputText:
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q (expected text, json or yaml)", format)
	}
}

func newModuleListCommand(app *App) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed and built-in modules",
		Example: `  modhost module list
  modhost module list -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd.Context(), sessionOptions{})
			if err != nil {
				return app.fail(cmd, err)
			}
			items, err := s.installer.List(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}

			rows := make([]moduleRow, 0, len(items))
			for _, it := range items {
				rows = append(rows, rowOf(it))
			}
			if done, err := writeStructured(app.stdout, output, rows); done {
				if err != nil {
					return app.fail(cmd, err)
				}
				return nil
			}
			renderModuleTable(app.stdout, rows)
			return nil
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func renderModuleTable(w io.Writer, rows []moduleRow) {
	if len(rows) == 0 {
		printf(w, "%s No modules installed\n", infoIcon)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	printf(tw, "ID\tSTATE\tACTIVE\tINSTALLED\n")
	for _, r := range rows {
		state := "disabled"
		if r.Enabled {
			state = "enabled"
		}
		if r.BuiltIn {
			state += " (built-in)"
		}
		active := r.ActiveVersion
		if active == "" {
			active = "-"
		}
		printf(tw, "%s\t%s\t%s\t%s\n", r.ID, state, active, strings.Join(r.InstalledVersions, ", "))
	}
	_ = tw.Flush()
}

func newModuleShowCommand(app *App) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one module and its active manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd.Context(), sessionOptions{})
			if err != nil {
				return app.fail(cmd, err)
			}
			it, err := s.installer.Get(cmd.Context(), args[0])
			if err != nil {
				return app.fail(cmd, err)
			}

			detail := moduleDetail{moduleRow: rowOf(it)}
			if m, ok := s.activeManifest(it); ok {
				detail.Name = m.Name
				detail.Description = m.Description
				detail.Entry = &m.Entry
				detail.Dependencies = m.Dependencies
			}

			if done, err := writeStructured(app.stdout, output, detail); done {
				if err != nil {
					return app.fail(cmd, err)
				}
				return nil
			}
			renderModuleDetail(app.stdout, detail)
			return nil
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

// activeManifest returns the manifest of the item's active version, if readable.
func (s *session) activeManifest(it statestore.Item) (*hostmod.Manifest, bool) {
	if it.BuiltIn {
		m, err := s.catalog.Manifest(it.ID, s.installer.HostVersion())
		if err != nil {
			return nil, false
		}
		return &m, true
	}
	if it.ActiveVersion == "" {
		return nil, false
	}
	m, err := hostmod.ReadManifest(s.layout.VersionDir(it.ID, it.ActiveVersion))
	if err != nil {
		s.logger.Warn("failed to read active manifest", "id", it.ID, "version", it.ActiveVersion, "err", err)
		return nil, false
	}
	return m, true
}

func renderModuleDetail(w io.Writer, d moduleDetail) {
	printf(w, "%s\n\n", TitleStyle.Render(d.ID))
	field := func(name, value string) {
		if value != "" {
			printf(w, "%s %s\n", CmdStyle.Render(fmt.Sprintf("%-12s", name+":")), value)
		}
	}
	field("Name", d.Name)
	field("Enabled", fmt.Sprintf("%t", d.Enabled))
	if d.BuiltIn {
		field("Built-in", "true")
	}
	field("Active", d.ActiveVersion)
	field("Last good", d.LastGoodVersion)
	field("Installed", strings.Join(d.InstalledVersions, ", "))
	if d.Entry != nil {
		field("Entry", strings.TrimPrefix(d.Entry.Assembly+" "+d.Entry.Type, " "))
	}
	for _, dep := range d.Dependencies {
		field("Requires", dep.ID+" "+dep.Range)
	}
	if d.Description != "" {
		printf(w, "\n%s\n", renderDescription(d.Description))
	}
}

// renderDescription renders a manifest description as markdown, falling
// back to the raw text when rendering fails.
func renderDescription(md string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(descriptionWidth),
	)
	if err != nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

func newModuleVerifyCommand(app *App) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare modules.json with the installed directories",
		Long: `Report every disagreement between the state document and installed/:
versions recorded but missing on disk, directories that are not recorded,
and active versions that are not installed. Nothing is changed. The command
exits with status 1 when drift is found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.openSession(cmd.Context(), sessionOptions{})
			if err != nil {
				return app.fail(cmd, err)
			}
			drifts, err := s.installer.Verify(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}

			if drifts == nil {
				drifts = []installer.Drift{}
			}
			done, err := writeStructured(app.stdout, output, drifts)
			if err != nil {
				return app.fail(cmd, err)
			}
			if !done {
				if len(drifts) == 0 {
					printf(app.stdout, "%s State and installed files agree\n", successIcon)
				}
				for _, d := range drifts {
					printf(app.stdout, "%s %s %s: %s\n", warningIcon, d.ID, d.Version, d.Kind)
				}
			}
			if len(drifts) > 0 {
				cmd.SilenceErrors = true
				return &ExitError{Code: 1}
			}
			return nil
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}
