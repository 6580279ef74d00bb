// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"io/fs"
	"syscall"
)

// Id names a class of operator-facing problem with canned remediation.
type Id int

const (
	// FilesystemId covers failures to create, move or delete module files.
	FilesystemId Id = iota + 1
	// ManifestInvalidId covers archives whose manifest does not validate.
	ManifestInvalidId
	// HostIncompatibleId covers modules built for another host version.
	HostIncompatibleId
	// DependencyUnsatisfiedId covers enable-time dependency failures.
	DependencyUnsatisfiedId
	// UnsafeArchiveId covers archives rejected by the extractor.
	UnsafeArchiveId
	// StateCorruptId covers an unreadable state document.
	StateCorruptId
	// ConfigLoadFailedId covers configuration file errors.
	ConfigLoadFailedId
)

var remedies = map[Id][]string{
	FilesystemId: {
		"Check that the module root is writable by the host process",
		"Make sure no other process holds files open inside the module directory",
	},
	ManifestInvalidId: {
		"Fix the reported manifest.json fields and repackage with 'modhost module pack'",
	},
	HostIncompatibleId: {
		"Install a module release built for this host version, or upgrade the host",
	},
	DependencyUnsatisfiedId: {
		"Install and enable the required module first, then retry",
		"Run 'modhost module list' to see installed versions",
	},
	UnsafeArchiveId: {
		"Rebuild the archive with 'modhost module pack' so every entry is a plain relative path",
	},
	StateCorruptId: {
		"Restore modules.json from a backup, or remove it and reinstall modules",
	},
	ConfigLoadFailedId: {
		"Run 'modhost config show' to inspect the effective configuration",
	},
}

// Suggestions returns the canned remediation hints for id.
func Suggestions(id Id) []string {
	return append([]string(nil), remedies[id]...)
}

// FilesystemSuggestions returns hints specific to err's cause, followed by
// the generic filesystem hints.
func FilesystemSuggestions(err error) []string {
	var specific []string
	switch {
	case errors.Is(err, fs.ErrPermission):
		specific = append(specific, "Grant the host process write access to the module root")
	case errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.ETXTBSY):
		specific = append(specific, "A module file is in use; stop the host before removing it")
	case errors.Is(err, syscall.ENOSPC):
		specific = append(specific, "Free disk space on the volume holding the module root")
	}
	return append(specific, Suggestions(FilesystemId)...)
}
