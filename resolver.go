package authority

import (
	"context"
	"sort"
	"time"
)

// PermissionSet is the set of permission slugs a user holds.
type PermissionSet map[string]struct{}

// Has reports whether slug is in the set verbatim.
func (s PermissionSet) Has(slug string) bool {
	_, ok := s[slug]
	return ok
}

// Satisfies reports whether any held permission matches required.
func (s PermissionSet) Satisfies(required string) bool {
	if s.Has(required) {
		return true
	}
	for held := range s {
		if PermissionMatches(held, required) {
			return true
		}
	}
	return false
}

// Slice returns the slugs sorted.
func (s PermissionSet) Slice() []string {
	out := make([]string, 0, len(s))
	for slug := range s {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// UserPermissions returns every permission the user holds, directly or
// through a role. It always reads the store.
func (a *Authority) UserPermissions(ctx context.Context, userID UserID) (PermissionSet, error) {
	start := time.Now()
	defer a.metrics.observeResolve(start)

	var direct []string
	if err := a.db.NewSelect().
		ColumnExpr("perm.slug").
		TableExpr(a.tables.userPerm.aliased()).
		Join("JOIN "+a.tables.perm.aliased()+" ON perm.id = up.permission_id").
		Where("up.user_id = ?", userID).
		Scan(ctx, &direct); err != nil {
		return nil, storageError("get user permissions", err)
	}

	var inherited []string
	if err := a.db.NewSelect().
		ColumnExpr("perm.slug").
		TableExpr(a.tables.userRole.aliased()).
		Join("JOIN "+a.tables.role.aliased()+" ON role.id = ur.role_id").
		Join("JOIN "+a.tables.rolePerm.aliased()+" ON rp.role_id = role.id").
		Join("JOIN "+a.tables.perm.aliased()+" ON perm.id = rp.permission_id").
		Where("ur.user_id = ?", userID).
		Scan(ctx, &inherited); err != nil {
		return nil, storageError("get user permissions", err)
	}

	set := make(PermissionSet, len(direct)+len(inherited))
	for _, slug := range direct {
		set[slug] = struct{}{}
	}
	for _, slug := range inherited {
		set[slug] = struct{}{}
	}

	return set, nil
}
