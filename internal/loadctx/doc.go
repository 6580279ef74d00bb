// SPDX-License-Identifier: MPL-2.0

// Package loadctx loads uploaded modules. Each installed module version gets
// its own Context, cached by the Manager under id@version, that decides where
// a library name comes from.
//
// Resolution order matters: names under a boundary prefix, or already linked
// into the host binary, always resolve from the host. Loading a second copy
// of a contract package inside a module would give it distinct types that no
// longer satisfy the host's interfaces.
package loadctx
