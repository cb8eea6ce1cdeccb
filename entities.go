package authority

import (
	"context"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
)

// UserID is the stable identifier issued by the identity store.
type UserID string

// RoleID identifies a stored role.
type RoleID int64

// PermissionID identifies a stored permission.
type PermissionID int64

// Role represents the database model of roles
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:role"`
	ID            RoleID `bun:"id,pk,autoincrement" json:"id"`
	Slug          string `bun:"slug,unique,notnull" json:"slug"`
	Description   string `bun:"description,nullzero" json:"description,omitempty"`
}

// Permission represents the database model of permissions.
// Slug holds an "entity:action:scope" string.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:perm"`
	ID            PermissionID `bun:"id,pk,autoincrement" json:"id"`
	Slug          string       `bun:"slug,unique,notnull" json:"slug"`
	Description   string       `bun:"description,nullzero" json:"description,omitempty"`
}

// UserRole represents the relationship between users and roles
type UserRole struct {
	bun.BaseModel `bun:"table:user_roles,alias:ur"`
	UserID        UserID `bun:"user_id,pk"`
	RoleID        RoleID `bun:"role_id,pk"`
}

// UserPermission is a permission granted to a user without a role.
type UserPermission struct {
	bun.BaseModel `bun:"table:user_permissions,alias:up"`
	UserID        UserID       `bun:"user_id,pk"`
	PermissionID  PermissionID `bun:"permission_id,pk"`
}

// RolePermission stores the relationship between roles and permissions
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`
	RoleID        RoleID       `bun:"role_id,pk"`
	PermissionID  PermissionID `bun:"permission_id,pk"`
}

var (
	_ bun.BeforeAppendModelHook = (*Role)(nil)
	_ bun.BeforeAppendModelHook = (*Permission)(nil)
)

// BeforeAppendModel rejects slugs that are not stored lower-case.
func (r *Role) BeforeAppendModel(_ context.Context, query bun.Query) error {
	if r == nil {
		return nil
	}
	return checkLowerSlug(query, r.Slug)
}

// BeforeAppendModel rejects slugs that are not stored lower-case.
func (p *Permission) BeforeAppendModel(_ context.Context, query bun.Query) error {
	if p == nil {
		return nil
	}
	return checkLowerSlug(query, p.Slug)
}

func checkLowerSlug(query bun.Query, slug string) error {
	switch query.(type) {
	case *bun.InsertQuery, *bun.UpdateQuery:
		if slug != strings.ToLower(slug) {
			return fmt.Errorf("%w: %q is not lower-case", ErrInvalidSlug, slug)
		}
	}
	return nil
}
