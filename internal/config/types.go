// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/modhost/modhost/pkg/hostmod"
)

const (
	// LogLevelDebug enables debug output.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs warnings and errors.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs errors only.
	LogLevelError LogLevel = "error"

	// LogFormatText is charmbracelet/log's styled output.
	LogFormatText LogFormat = "text"
	// LogFormatJSON emits one JSON object per line.
	LogFormatJSON LogFormat = "json"
	// LogFormatLogfmt emits key=value pairs.
	LogFormatLogfmt LogFormat = "logfmt"

	// DefaultServeAddr is where `modhost serve` listens by default.
	DefaultServeAddr = "127.0.0.1:8480"
	// DefaultMirrorRegion is used when the mirror region is unset.
	DefaultMirrorRegion = "us-east-1"
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned when a LogFormat value is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is a logger verbosity.
	LogLevel string

	// LogFormat selects the log formatter.
	LogFormat string

	// Config is the modhost configuration.
	Config struct {
		// Root is the module root directory holding packages/, installed/,
		// staging/ and modules.json.
		Root string `json:"root" mapstructure:"root"`
		// HostVersion overrides the version built-ins are pinned to and host
		// bounds are checked against. Empty means the build version.
		HostVersion string        `json:"host_version" mapstructure:"host_version"`
		Log         LogConfig     `json:"log" mapstructure:"log"`
		Archive     ArchiveConfig `json:"archive" mapstructure:"archive"`
		Loader      LoaderConfig  `json:"loader" mapstructure:"loader"`
		Mirror      MirrorConfig  `json:"mirror" mapstructure:"mirror"`
		Serve       ServeConfig   `json:"serve" mapstructure:"serve"`

		// Source is the config file the values came from, empty for defaults.
		Source string `json:"-" mapstructure:"-"`
	}

	// LogConfig configures the logger.
	LogConfig struct {
		Level  LogLevel  `json:"level" mapstructure:"level"`
		Format LogFormat `json:"format" mapstructure:"format"`
	}

	// ArchiveConfig bounds archive extraction.
	ArchiveConfig struct {
		MaxEntries int   `json:"max_entries" mapstructure:"max_entries"`
		MaxBytes   int64 `json:"max_bytes" mapstructure:"max_bytes"`
	}

	// LoaderConfig configures module library resolution.
	LoaderConfig struct {
		// BoundaryPrefixes always resolve from the host.
		BoundaryPrefixes []string `json:"boundary_prefixes" mapstructure:"boundary_prefixes"`
	}

	// MirrorConfig configures the optional S3 copy of retained archives.
	MirrorConfig struct {
		Enabled   bool   `json:"enabled" mapstructure:"enabled"`
		Bucket    string `json:"bucket" mapstructure:"bucket"`
		Region    string `json:"region" mapstructure:"region"`
		Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
		Prefix    string `json:"prefix" mapstructure:"prefix"`
		PathStyle bool   `json:"path_style" mapstructure:"path_style"`
	}

	// ServeConfig configures `modhost serve`.
	ServeConfig struct {
		Addr string `json:"addr" mapstructure:"addr"`
	}

	// InvalidConfigError collects every problem found by Config.Validate.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// Validate returns ErrInvalidLogLevel for unknown levels.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	default:
		return fmt.Errorf("%w: %q (expected debug, info, warn or error)", ErrInvalidLogLevel, string(l))
	}
}

// Validate returns ErrInvalidLogFormat for unknown formats.
func (f LogFormat) Validate() error {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatLogfmt:
		return nil
	default:
		return fmt.Errorf("%w: %q (expected text, json or logfmt)", ErrInvalidLogFormat, string(f))
	}
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks the rules CUE does not cover once env overrides are merged.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, errors.New("root: is required"))
	}
	if c.HostVersion != "" {
		if _, err := NormalizeHostVersion(c.HostVersion); err != nil {
			errs = append(errs, fmt.Errorf("host_version: %w", err))
		}
	}
	if err := c.Log.Level.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if err := c.Log.Format.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	if c.Archive.MaxEntries <= 0 {
		errs = append(errs, errors.New("archive.max_entries: must be positive"))
	}
	if c.Archive.MaxBytes <= 0 {
		errs = append(errs, errors.New("archive.max_bytes: must be positive"))
	}
	if c.Mirror.Enabled && strings.TrimSpace(c.Mirror.Bucket) == "" {
		errs = append(errs, errors.New("mirror.bucket: is required when the mirror is enabled"))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// ExtractOptions converts the archive limits.
func (c *Config) ExtractOptions() hostmod.ExtractOptions {
	return hostmod.ExtractOptions{MaxEntries: c.Archive.MaxEntries, MaxBytes: c.Archive.MaxBytes}
}

// DefaultConfig returns the built-in configuration. Root is left to Load,
// which places it under the config directory.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
		Archive: ArchiveConfig{
			MaxEntries: hostmod.DefaultMaxEntries,
			MaxBytes:   hostmod.DefaultMaxBytes,
		},
		Loader: LoaderConfig{
			BoundaryPrefixes: []string{"github.com/modhost/modhost/pkg/"},
		},
		Mirror: MirrorConfig{
			Region: DefaultMirrorRegion,
		},
		Serve: ServeConfig{
			Addr: DefaultServeAddr,
		},
	}
}
