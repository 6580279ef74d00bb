// SPDX-License-Identifier: MPL-2.0

// Package pkgstore retains the original module archives next to their
// exploded copies, optionally mirroring them to an S3 bucket.
package pkgstore
