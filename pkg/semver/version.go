// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"fmt"
	"regexp"
	"strconv"
)

// versionRegex matches a plain x.y.z triple without leading zeros.
var versionRegex = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)$`)

// Version is a parsed semantic version. The zero value is 0.0.0.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Parse parses a plain "x.y.z" version string.
// It reports false for anything else, including pre-release and build suffixes.
func Parse(s string) (Version, bool) {
	matches := versionRegex.FindStringSubmatch(s)
	if matches == nil {
		return Version{}, false
	}

	var parts [3]int
	for i := range parts {
		n, err := strconv.Atoi(matches[i+1])
		if err != nil {
			// Out of int range.
			return Version{}, false
		}
		parts[i] = n
	}

	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}, true
}

// MustParse is like Parse but panics on invalid input.
// Intended for constants and tests.
func MustParse(s string) Version {
	v, ok := Parse(s)
	if !ok {
		panic(fmt.Sprintf("semver: invalid version %q", s))
	}
	return v
}

// IsValid reports whether s parses as a version.
func IsValid(s string) bool {
	_, ok := Parse(s)
	return ok
}

// String formats the version as "x.y.z".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1 if v < other, 0 if v == other, 1 if v > other.
func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return cmpInt(v.Major, other.Major)
	case v.Minor != other.Minor:
		return cmpInt(v.Minor, other.Minor)
	default:
		return cmpInt(v.Patch, other.Patch)
	}
}

// Less reports whether v orders before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// Equal reports whether v and other are the same version.
func (v Version) Equal(other Version) bool { return v == other }

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// CompareStrings orders two version strings. Unparsable strings order before
// every valid version and are compared lexically among themselves.
func CompareStrings(a, b string) int {
	va, okA := Parse(a)
	vb, okB := Parse(b)
	switch {
	case okA && okB:
		return va.Compare(vb)
	case okA:
		return 1
	case okB:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
