// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from config.cue in the platform config directory
// (~/.config/modhost on Linux, ~/Library/Application Support/modhost on macOS,
// %APPDATA%\modhost on Windows) or from an explicit --config path, validated
// against the embedded #Config schema, and overridden by MODHOST_* environment
// variables (MODHOST_LOG_LEVEL, MODHOST_MIRROR_BUCKET, ...).
package config
