package authority

import (
	"fmt"
	"strings"
)

// Wildcard is the action and scope value of a blanket grant.
const Wildcard = "all"

// PermissionTriple is a parsed "entity:action:scope" permission string.
type PermissionTriple struct {
	Entity string
	Action string
	Scope  string
}

// ParsePermission splits s into its three parts. Every part must be
// non-empty and lower-case.
func ParsePermission(s string) (PermissionTriple, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return PermissionTriple{}, fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
	for _, part := range parts {
		if strings.TrimSpace(part) != part || part == "" {
			return PermissionTriple{}, fmt.Errorf("%w: %q has an empty or padded segment", ErrInvalidPermission, s)
		}
		if part != strings.ToLower(part) {
			return PermissionTriple{}, fmt.Errorf("%w: %q is not lower-case", ErrInvalidSlug, s)
		}
	}
	return PermissionTriple{Entity: parts[0], Action: parts[1], Scope: parts[2]}, nil
}

func (p PermissionTriple) String() string {
	return p.Entity + ":" + p.Action + ":" + p.Scope
}

// IsBlanket reports whether p is an entity:all:all grant.
func (p PermissionTriple) IsBlanket() bool {
	return p.Action == Wildcard && p.Scope == Wildcard
}

// Covers reports whether holding p satisfies required.
func (p PermissionTriple) Covers(required PermissionTriple) bool {
	if p == required {
		return true
	}
	return p.Entity == required.Entity && p.IsBlanket()
}

// PermissionMatches reports whether the held permission string satisfies
// the required one. Only an exact match or a held entity:all:all for the
// same entity matches; strings with fewer than three parts only ever
// match exactly.
func PermissionMatches(held, required string) bool {
	if held == required {
		return true
	}
	h := strings.Split(held, ":")
	r := strings.Split(required, ":")
	if len(h) < 3 || len(r) < 3 {
		return false
	}
	if h[0] != r[0] {
		return false
	}
	return h[1] == Wildcard && h[2] == Wildcard
}
