// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"regexp"
	"strings"
)

// Op is a comparison operator inside a range clause.
type Op string

const (
	OpEqual        Op = "="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
)

// clauseRegex matches a single comparator such as ">=1.2.0", "^1.0.0" or "1.2.3".
var clauseRegex = regexp.MustCompile(`^(>=|<=|>|<|=|\^|~)?\s*(\S+)$`)

type (
	// Clause is a single comparator against a version.
	Clause struct {
		Op      Op
		Version Version
	}

	// Range is a disjunction of clause groups. A version is contained when
	// every clause of at least one group holds.
	//
	// Grammar: groups are separated by "||"; clauses inside a group are
	// separated by whitespace or commas. "^x.y.z" and "~x.y.z" expand into a
	// lower and an upper bound. "*" or an empty string matches everything.
	Range struct {
		groups   [][]Clause
		original string
	}
)

// Matches reports whether v satisfies the clause.
func (c Clause) Matches(v Version) bool {
	cmp := v.Compare(c.Version)
	switch c.Op {
	case OpEqual:
		return cmp == 0
	case OpGreater:
		return cmp > 0
	case OpGreaterEqual:
		return cmp >= 0
	case OpLess:
		return cmp < 0
	case OpLessEqual:
		return cmp <= 0
	default:
		return false
	}
}

// String formats the clause, e.g. ">=1.2.0".
func (c Clause) String() string {
	return string(c.Op) + c.Version.String()
}

// ParseRange parses a range expression. It reports false on any malformed clause.
func ParseRange(s string) (Range, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == "*" {
		return Range{groups: [][]Clause{{}}, original: trimmed}, true
	}

	var groups [][]Clause
	for _, rawGroup := range strings.Split(trimmed, "||") {
		group, ok := parseGroup(rawGroup)
		if !ok {
			return Range{}, false
		}
		groups = append(groups, group)
	}

	return Range{groups: groups, original: trimmed}, true
}

// MustParseRange is like ParseRange but panics on invalid input.
func MustParseRange(s string) Range {
	r, ok := ParseRange(s)
	if !ok {
		panic("semver: invalid range " + s)
	}
	return r
}

func parseGroup(raw string) ([]Clause, bool) {
	// Operators may be written apart from their version (">= 1.0.0"); glue them back.
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == '\t' || r == ',' })
	if len(fields) == 0 {
		return nil, false
	}

	var tokens []string
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if isBareOp(f) {
			if i+1 >= len(fields) {
				return nil, false
			}
			f += fields[i+1]
			i++
		}
		tokens = append(tokens, f)
	}

	var clauses []Clause
	for _, tok := range tokens {
		if tok == "*" {
			continue
		}
		expanded, ok := parseClause(tok)
		if !ok {
			return nil, false
		}
		clauses = append(clauses, expanded...)
	}
	return clauses, true
}

func isBareOp(s string) bool {
	switch s {
	case ">=", "<=", ">", "<", "=", "^", "~":
		return true
	}
	return false
}

func parseClause(tok string) ([]Clause, bool) {
	matches := clauseRegex.FindStringSubmatch(tok)
	if matches == nil {
		return nil, false
	}
	v, ok := Parse(matches[2])
	if !ok {
		return nil, false
	}

	switch matches[1] {
	case "", "=":
		return []Clause{{Op: OpEqual, Version: v}}, true
	case ">":
		return []Clause{{Op: OpGreater, Version: v}}, true
	case ">=":
		return []Clause{{Op: OpGreaterEqual, Version: v}}, true
	case "<":
		return []Clause{{Op: OpLess, Version: v}}, true
	case "<=":
		return []Clause{{Op: OpLessEqual, Version: v}}, true
	case "^":
		// ^1.2.3 := >=1.2.3 <2.0.0, ^0.2.3 := >=0.2.3 <0.3.0, ^0.0.3 := >=0.0.3 <0.0.4
		var upper Version
		switch {
		case v.Major != 0:
			upper = Version{Major: v.Major + 1}
		case v.Minor != 0:
			upper = Version{Minor: v.Minor + 1}
		default:
			upper = Version{Patch: v.Patch + 1}
		}
		return []Clause{{Op: OpGreaterEqual, Version: v}, {Op: OpLess, Version: upper}}, true
	case "~":
		// ~1.2.3 := >=1.2.3 <1.3.0
		upper := Version{Major: v.Major, Minor: v.Minor + 1}
		return []Clause{{Op: OpGreaterEqual, Version: v}, {Op: OpLess, Version: upper}}, true
	}
	return nil, false
}

// Contains reports whether v satisfies the range.
func (r Range) Contains(v Version) bool {
	for _, group := range r.groups {
		if groupMatches(group, v) {
			return true
		}
	}
	return false
}

func groupMatches(group []Clause, v Version) bool {
	for _, c := range group {
		if !c.Matches(v) {
			return false
		}
	}
	return true
}

// Groups returns a copy of the parsed clause groups.
func (r Range) Groups() [][]Clause {
	out := make([][]Clause, len(r.groups))
	for i, g := range r.groups {
		out[i] = append([]Clause(nil), g...)
	}
	return out
}

// String returns the expression the range was parsed from.
func (r Range) String() string {
	if r.original == "" {
		return "*"
	}
	return r.original
}
