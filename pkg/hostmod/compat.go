// SPDX-License-Identifier: MPL-2.0

package hostmod

import (
	"errors"
	"fmt"

	"github.com/modhost/modhost/pkg/semver"
)

// ErrHostIncompatible is the sentinel error wrapped by HostIncompatibleError.
var ErrHostIncompatible = errors.New("host version incompatible")

// HostIncompatibleError reports which bound of the host window was violated.
type HostIncompatibleError struct {
	ModuleID string
	Host     semver.Version
	// Bound is "min" or "max".
	Bound    string
	Required semver.Version
}

// Error implements the error interface.
func (e *HostIncompatibleError) Error() string {
	op := ">="
	if e.Bound == "max" {
		op = "<="
	}
	return fmt.Sprintf("module %q requires host version %s %s, but host version is %s", e.ModuleID, op, e.Required, e.Host)
}

// Unwrap returns ErrHostIncompatible for errors.Is() compatibility.
func (e *HostIncompatibleError) Unwrap() error { return ErrHostIncompatible }

// CheckHost verifies the running host version against the manifest's
// inclusive host window. Unparsable bounds are reported as manifest errors.
func (m *Manifest) CheckHost(host semver.Version) error {
	if m.Host.Min != "" {
		minV, ok := semver.Parse(m.Host.Min)
		if !ok {
			return &InvalidManifestError{ModuleID: m.ID, FieldErrors: []error{fmt.Errorf("host.min: %q is not a valid x.y.z version", m.Host.Min)}}
		}
		if host.Less(minV) {
			return &HostIncompatibleError{ModuleID: m.ID, Host: host, Bound: "min", Required: minV}
		}
	}
	if m.Host.Max != "" {
		maxV, ok := semver.Parse(m.Host.Max)
		if !ok {
			return &InvalidManifestError{ModuleID: m.ID, FieldErrors: []error{fmt.Errorf("host.max: %q is not a valid x.y.z version", m.Host.Max)}}
		}
		if maxV.Less(host) {
			return &HostIncompatibleError{ModuleID: m.ID, Host: host, Bound: "max", Required: maxV}
		}
	}
	return nil
}
