package authority

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// lowerSlugCheck keeps slugs lower-case for writes that bypass the models.
const lowerSlugCheck = "CONSTRAINT lower_slug CHECK (slug = lower(slug))"

func migrateTables(ctx context.Context, db bun.IDB, t tables) error {
	if _, err := db.NewCreateTable().IfNotExists().Model((*Role)(nil)).
		ModelTableExpr(t.role.name).
		ColumnExpr(lowerSlugCheck).Exec(ctx); err != nil {
		return err
	}

	if _, err := db.NewCreateTable().IfNotExists().Model((*Permission)(nil)).
		ModelTableExpr(t.perm.name).
		ColumnExpr(lowerSlugCheck).Exec(ctx); err != nil {
		return err
	}

	roleFk := fmt.Sprintf(`("role_id") REFERENCES "%s" ("id") ON DELETE CASCADE`, t.role.name)
	permFk := fmt.Sprintf(`("permission_id") REFERENCES "%s" ("id") ON DELETE CASCADE`, t.perm.name)

	if _, err := db.NewCreateTable().IfNotExists().Model((*RolePermission)(nil)).
		ModelTableExpr(t.rolePerm.name).
		ForeignKey(roleFk).ForeignKey(permFk).Exec(ctx); err != nil {
		return err
	}

	if _, err := db.NewCreateTable().IfNotExists().Model((*UserRole)(nil)).
		ModelTableExpr(t.userRole.name).
		ForeignKey(roleFk).Exec(ctx); err != nil {
		return err
	}

	if _, err := db.NewCreateTable().IfNotExists().Model((*UserPermission)(nil)).
		ModelTableExpr(t.userPerm.name).
		ForeignKey(permFk).Exec(ctx); err != nil {
		return err
	}

	return nil
}
