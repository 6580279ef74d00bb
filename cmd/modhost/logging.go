// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"

	"github.com/charmbracelet/log"

	"github.com/modhost/modhost/internal/config"
)

// newLogger builds the process logger from the log config. Verbose forces
// debug output regardless of the configured level.
func newLogger(w io.Writer, cfg config.LogConfig, verbose bool) (*log.Logger, error) {
	level, err := log.ParseLevel(string(cfg.Level))
	if err != nil {
		return nil, err
	}
	if verbose {
		level = log.DebugLevel
	}

	formatter := log.TextFormatter
	switch cfg.Format {
	case config.LogFormatJSON:
		formatter = log.JSONFormatter
	case config.LogFormatLogfmt:
		formatter = log.LogfmtFormatter
	}

	return log.NewWithOptions(w, log.Options{
		Prefix:          config.AppName,
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: formatter != log.TextFormatter,
	}), nil
}
