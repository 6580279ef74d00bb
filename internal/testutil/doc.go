// SPDX-License-Identifier: MPL-2.0

// Package testutil provides shared test fixtures: a controllable clock for
// timestamped state and a builder for module archives, including the
// malformed ones the extractor must reject.
package testutil
