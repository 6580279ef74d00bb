// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"sort"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		want   Version
		wantOK bool
	}{
		{input: "1.0.0", want: Version{1, 0, 0}, wantOK: true},
		{input: "0.0.0", want: Version{}, wantOK: true},
		{input: "10.20.30", want: Version{10, 20, 30}, wantOK: true},
		{input: "", wantOK: false},
		{input: "1.0", wantOK: false},
		{input: "v1.0.0", wantOK: false},
		{input: "1.0.0-beta", wantOK: false},
		{input: "1.0.0+build", wantOK: false},
		{input: "01.0.0", wantOK: false},
		{input: "-1.0.0", wantOK: false},
		{input: " 1.0.0", wantOK: false},
		{input: "1.a.0", wantOK: false},
		{input: "99999999999999999999.0.0", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, ok := Parse(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"0.0.0", "0.0.1", "1.2.3", "10.0.0", "2.30.400"} {
		v, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := v.String(); got != s {
			t.Errorf("Parse(%q).String() = %q", s, got)
		}
	}
}

func TestVersionCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "2.0.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.2.0", "1.10.0", -1},
		{"1.0.10", "1.0.9", 1},
	}

	for _, tt := range tests {
		got := MustParse(tt.a).Compare(MustParse(tt.b))
		if got != tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if back := MustParse(tt.b).Compare(MustParse(tt.a)); back != -tt.want {
			t.Errorf("Compare(%s, %s) = %d, not antisymmetric", tt.b, tt.a, back)
		}
	}
}

func TestVersionOrderingIsStructural(t *testing.T) {
	t.Parallel()

	inputs := []string{"1.10.0", "0.0.1", "1.2.3", "1.2.10", "0.10.0", "2.0.0", "1.2.3"}
	versions := make([]Version, 0, len(inputs))
	for _, s := range inputs {
		versions = append(versions, MustParse(s))
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Less(versions[j]) })

	for i := 1; i < len(versions); i++ {
		prev, cur := versions[i-1], versions[i]
		structural := [3]int{prev.Major, prev.Minor, prev.Patch}
		next := [3]int{cur.Major, cur.Minor, cur.Patch}
		for k := range structural {
			if structural[k] != next[k] {
				if structural[k] > next[k] {
					t.Fatalf("order %v before %v violates structural comparison", prev, cur)
				}
				break
			}
		}
	}

	// Transitivity over every triple.
	for _, a := range versions {
		for _, b := range versions {
			for _, c := range versions {
				if a.Compare(b) <= 0 && b.Compare(c) <= 0 && a.Compare(c) > 0 {
					t.Fatalf("ordering not transitive for %v <= %v <= %v", a, b, c)
				}
			}
		}
	}
}

func TestCompareStrings(t *testing.T) {
	t.Parallel()

	if got := CompareStrings("1.10.0", "1.9.0"); got != 1 {
		t.Errorf("CompareStrings numeric = %d, want 1", got)
	}
	if got := CompareStrings("garbage", "0.0.1"); got != -1 {
		t.Errorf("CompareStrings invalid vs valid = %d, want -1", got)
	}
	if got := CompareStrings("b", "a"); got != 1 {
		t.Errorf("CompareStrings invalid vs invalid = %d, want 1", got)
	}
}
