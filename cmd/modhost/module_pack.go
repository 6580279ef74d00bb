// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/modhost/modhost/internal/issue"
	"github.com/modhost/modhost/pkg/hostmod"
)

func newModulePackCommand(app *App) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "pack <dir>",
		Short: "Build an installable archive from a module directory",
		Long: `Validate the manifest.json in <dir> and zip the directory so the
manifest lands at the archive root. The default output name is
<id>-<version>.zip in the current directory.`,
		Example: `  modhost module pack ./sample
  modhost module pack ./sample -o dist/sample.zip`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			m, err := hostmod.ReadManifest(dir)
			if err != nil {
				return app.fail(cmd, packError(dir, err, issue.ManifestInvalidId))
			}
			if err := m.Validate(hostmod.ValidateOptions{LibDir: filepath.Join(dir, hostmod.LibDirName)}); err != nil {
				return app.fail(cmd, packError(dir, err, issue.ManifestInvalidId))
			}

			if output == "" {
				output = m.ID + "-" + m.Version + ".zip"
			}
			archivePath, err := hostmod.PackFile(dir, output)
			if err != nil {
				return app.fail(cmd, packError(output, err, issue.FilesystemId))
			}
			printf(app.stdout, "%s Packed %s %s into %s\n", successIcon, CmdStyle.Render(m.ID), m.Version, archivePath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path (default <id>-<version>.zip)")
	return cmd
}

func packError(resource string, err error, id issue.Id) error {
	return issue.NewErrorContext().
		WithOperation("pack module").
		WithResource(resource).
		WithSuggestions(issue.Suggestions(id)...).
		Wrap(err).
		BuildError()
}
