// SPDX-License-Identifier: MPL-2.0

// Package host activates the enabled modules recorded in the state store and
// gives them a shared service registry and HTTP mux.
package host
