// SPDX-License-Identifier: MPL-2.0

// Package hostmod defines what a host module is and how it sits on disk.
//
// A module ships as a zip archive with manifest.json at its root and its
// binary payload under lib/. This package parses and validates manifests
// (an embedded CUE schema for structure, Go code for identity, versions,
// host bounds and dependency declarations), extracts untrusted archives
// without letting any entry escape the staging directory, describes the
// packages/installed/staging layout under the host's module root, and holds
// the catalog of built-in modules compiled into the host.
package hostmod
