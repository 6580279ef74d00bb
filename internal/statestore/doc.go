// SPDX-License-Identifier: MPL-2.0

// Package statestore persists which modules exist, which versions are
// installed, which version is active and whether each module is enabled.
//
// The document is written whole on every save through a temp file and a
// rename, so a crash leaves either the old or the new document on disk.
// FileStore serializes its own load/modify/save cycle; callers that combine
// filesystem work with a state change must serialize those themselves.
package statestore
