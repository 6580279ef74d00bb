// SPDX-License-Identifier: MPL-2.0

// Package installer manages the module lifecycle on top of the module root
// layout and the state store.
//
// Modules move between NotInstalled, Installed(disabled) and
// Installed(enabled). Host compatibility and dependency ranges are checked
// when a module is installed (host only) and every time it is enabled; they
// are not re-checked when the active version is switched, so a switch takes
// effect unchecked until the next Enable. Built-in modules are always
// installed, pinned to the host version, and can only be enabled or disabled.
//
// Every failure is an *Error carrying a Kind; I/O failures additionally wrap
// an issue.ActionableError with remediation hints.
package installer
