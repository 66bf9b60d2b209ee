package plugin

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a strict major.minor.patch triple. Manifests carry no
// pre-release or build metadata.
type Version struct {
	Major, Minor, Patch int
}

func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("version %q must be major.minor.patch", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("version %q has invalid component %q", s, p)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 like strings.Compare.
func (v Version) Compare(o Version) int {
	for _, d := range []int{v.Major - o.Major, v.Minor - o.Minor, v.Patch - o.Patch} {
		if d < 0 {
			return -1
		}
		if d > 0 {
			return 1
		}
	}
	return 0
}

// Constraint is a conjunction of version requirements parsed from a range
// expression like ">=1.2.0 <2.0.0", "^1.4.0", "~2.1.0" or a bare "1.0.0"
// (exact match).
type Constraint struct {
	raw   string
	terms []constraintTerm
}

type constraintTerm struct {
	op      string
	version Version
}

func ParseConstraint(s string) (Constraint, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Constraint{}, fmt.Errorf("empty version constraint")
	}
	c := Constraint{raw: raw}
	for _, field := range strings.Fields(raw) {
		op := "="
		rest := field
		for _, candidate := range []string{">=", "<=", ">", "<", "=", "^", "~"} {
			if strings.HasPrefix(field, candidate) {
				op = candidate
				rest = field[len(candidate):]
				break
			}
		}
		v, err := ParseVersion(rest)
		if err != nil {
			return Constraint{}, fmt.Errorf("constraint %q: %w", field, err)
		}
		c.terms = append(c.terms, constraintTerm{op: op, version: v})
	}
	return c, nil
}

func (c Constraint) String() string { return c.raw }

// Matches reports whether v satisfies every term of the constraint.
func (c Constraint) Matches(v Version) bool {
	for _, t := range c.terms {
		if !t.matches(v) {
			return false
		}
	}
	return len(c.terms) > 0
}

func (t constraintTerm) matches(v Version) bool {
	cmp := v.Compare(t.version)
	switch t.op {
	case "=":
		return cmp == 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "^":
		// Same major, at or above the base. ^0.x pins the minor as well.
		if cmp < 0 || v.Major != t.version.Major {
			return false
		}
		if t.version.Major == 0 && v.Minor != t.version.Minor {
			return false
		}
		return true
	case "~":
		// Same major.minor, at or above the base.
		return cmp >= 0 && v.Major == t.version.Major && v.Minor == t.version.Minor
	}
	return false
}
