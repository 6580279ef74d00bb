// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for modhost.
//
// This package implements the Cobra command hierarchy: module management
// (install, enable, disable, use, remove, prune, list, show, verify, pack),
// the serve command that runs the module host, and configuration helpers.
package cmd
