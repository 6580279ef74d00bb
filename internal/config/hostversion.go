// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"runtime/debug"
	"strings"

	modsemver "golang.org/x/mod/semver"

	"github.com/modhost/modhost/pkg/semver"
)

// DefaultHostVersion is used for development builds that carry no module
// version.
const DefaultHostVersion = "1.0.0"

// NormalizeHostVersion accepts Go-style versions ("v1.2", "v1.2.3-rc.1+meta",
// "1.2.3") and reduces them to the plain major.minor.patch triple modules
// are checked against. Pre-release and build suffixes are dropped.
func NormalizeHostVersion(raw string) (semver.Version, error) {
	v := strings.TrimSpace(raw)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !modsemver.IsValid(v) {
		return semver.Version{}, fmt.Errorf("%q is not a semantic version", raw)
	}
	canonical := modsemver.Canonical(v)
	canonical = strings.TrimSuffix(canonical, modsemver.Prerelease(canonical))
	parsed, ok := semver.Parse(strings.TrimPrefix(canonical, "v"))
	if !ok {
		return semver.Version{}, fmt.Errorf("%q is not a semantic version", raw)
	}
	return parsed, nil
}

// BuildVersion returns the main module version recorded in the binary, or ""
// for development builds.
func BuildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return ""
	}
	return info.Main.Version
}

// ResolveHostVersion returns the configured host version, falling back to the
// build version and then DefaultHostVersion.
func (c *Config) ResolveHostVersion() (semver.Version, error) {
	if c.HostVersion != "" {
		return NormalizeHostVersion(c.HostVersion)
	}
	if bv := BuildVersion(); bv != "" {
		// Pseudo-versions normalize like any other; an unusable one falls through.
		if v, err := NormalizeHostVersion(bv); err == nil {
			return v, nil
		}
	}
	return semver.MustParse(DefaultHostVersion), nil
}
