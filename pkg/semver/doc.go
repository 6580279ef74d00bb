// SPDX-License-Identifier: MPL-2.0

// Package semver parses and compares the plain "x.y.z" versions used by module
// manifests, and evaluates the comparator ranges modules declare for their
// dependencies.
//
// Parsing never fails loudly: [Parse] and [ParseRange] report a boolean so that
// callers treat unparsable input as a data-validation problem of their own.
package semver
