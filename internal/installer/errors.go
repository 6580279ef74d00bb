// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/modhost/modhost/internal/issue"
	"github.com/modhost/modhost/pkg/hostmod"
)

// Kind classifies installer failures.
type Kind string

const (
	// KindValidation covers malformed archives and manifests.
	KindValidation Kind = "validation"
	// KindCompatibility covers host-version window violations.
	KindCompatibility Kind = "compatibility"
	// KindDependency covers missing, disabled or mismatched dependencies.
	KindDependency Kind = "dependency"
	// KindConflict covers requests that clash with current state.
	KindConflict Kind = "conflict"
	// KindNotFound covers unknown modules and versions.
	KindNotFound Kind = "not-found"
	// KindFilesystem covers I/O failures while mutating the module root.
	KindFilesystem Kind = "filesystem"
)

var (
	// ErrInvalidArgument is returned for caller bugs such as an empty id.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAlreadyInstalled is returned when installed/<id>/<version> exists.
	ErrAlreadyInstalled = errors.New("already installed")
	// ErrNotInstalled is returned when a module or version is unknown.
	ErrNotInstalled = errors.New("not installed")
	// ErrBuiltIn is returned for operations built-in modules do not support.
	ErrBuiltIn = errors.New("not supported for built-in modules")
	// ErrActiveVersion is returned when removing the active version.
	ErrActiveVersion = errors.New("cannot remove the active version")
	// ErrDependency is returned when a declared dependency is not satisfied.
	ErrDependency = errors.New("dependency not satisfied")
)

// Error is the failure shape every Installer operation returns.
type Error struct {
	Op       string
	ModuleID string
	Kind     Kind
	// Reason is the human-readable explanation; Err's message is used when empty.
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.ModuleID != "" {
		b.WriteString(" ")
		b.WriteString(e.ModuleID)
	}
	b.WriteString(": ")
	switch {
	case e.Reason != "":
		b.WriteString(e.Reason)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(string(e.Kind) + " error")
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NotFound reports whether the module or version is unknown.
func (e *Error) NotFound() bool { return e.Kind == KindNotFound }

// Suggestions returns remediation hints: those of a wrapped ActionableError,
// else the canned hints for the failure kind.
func (e *Error) Suggestions() []string {
	var ae *issue.ActionableError
	if errors.As(e.Err, &ae) && ae.HasSuggestions() {
		return ae.Suggestions
	}
	switch e.Kind {
	case KindCompatibility:
		return issue.Suggestions(issue.HostIncompatibleId)
	case KindDependency:
		return issue.Suggestions(issue.DependencyUnsatisfiedId)
	case KindFilesystem:
		return issue.Suggestions(issue.FilesystemId)
	case KindValidation:
		if errors.Is(e.Err, hostmod.ErrUnsafePath) || errors.Is(e.Err, hostmod.ErrArchiveTooLarge) || errors.Is(e.Err, hostmod.ErrInvalidArchive) {
			return issue.Suggestions(issue.UnsafeArchiveId)
		}
		return issue.Suggestions(issue.ManifestInvalidId)
	default:
		return nil
	}
}

// KindOf returns the Kind of an installer error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(op, id string, kind Kind, cause error, format string, args ...any) *Error {
	reason := ""
	if format != "" {
		reason = fmt.Sprintf(format, args...)
	}
	return &Error{Op: op, ModuleID: id, Kind: kind, Reason: reason, Err: cause}
}

// fsError wraps an I/O failure in an ActionableError carrying hints that
// match the cause.
func fsError(op, id, action, resource string, cause error) *Error {
	ae := issue.NewErrorContext().
		WithOperation(action).
		WithResource(resource).
		WithSuggestions(issue.FilesystemSuggestions(cause)...).
		Wrap(cause).
		Build()
	return &Error{Op: op, ModuleID: id, Kind: KindFilesystem, Err: ae}
}

func invalidArgument(op, format string, args ...any) *Error {
	return &Error{Op: op, Kind: KindValidation, Reason: fmt.Sprintf(format, args...), Err: ErrInvalidArgument}
}
