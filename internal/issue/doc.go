// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors: failures that carry the operation,
// the resource involved and remediation hints for the operator.
package issue
