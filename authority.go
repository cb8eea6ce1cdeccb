package authority

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

const (
	// DefaultForbiddenPath is where denied users are sent unless Options
	// says otherwise.
	DefaultForbiddenPath = "/forbidden"

	maxSlugLength = 255
)

// Authority helps deal with permissions
type Authority struct {
	db   bun.IDB
	root *bun.DB // nil when the instance is bound to a caller's transaction

	tables        tables
	logger        *slog.Logger
	metrics       *metrics
	forbiddenPath string
}

// Options has the options for initiating the package
type Options struct {
	DB           *bun.DB
	TablesPrefix string

	// ForbiddenPath is the access-denied view used by ForbiddenError.Location.
	ForbiddenPath string
	Logger        *slog.Logger
	// Registerer receives the decision metrics. Nil disables them.
	Registerer prometheus.Registerer
	// SkipMigrations leaves table creation to the caller.
	SkipMigrations bool
}

// CreateResult is the outcome of an idempotent create. Created is false
// when a row with the same slug already existed; ID is set either way.
type CreateResult[T ~int64] struct {
	ID      T
	Created bool
}

// New initiates authority and creates the authorization tables unless
// opts.SkipMigrations is set.
func New(ctx context.Context, opts Options) (*Authority, error) {
	if opts.DB == nil {
		return nil, errors.New("authority: nil DB")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	forbidden := opts.ForbiddenPath
	if forbidden == "" {
		forbidden = DefaultForbiddenPath
	}
	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("authority: register metrics: %w", err)
	}

	a := &Authority{
		db:            opts.DB,
		root:          opts.DB,
		tables:        newTables(opts.TablesPrefix),
		logger:        logger,
		metrics:       m,
		forbiddenPath: forbidden,
	}

	if !opts.SkipMigrations {
		if err := migrateTables(ctx, opts.DB, a.tables); err != nil {
			return nil, &StorageError{Op: "migrate tables", Err: err}
		}
	}

	return a, nil
}

// RunInTx runs fn inside a single transaction. Every call made on the
// Authority handed to fn joins that transaction. Calling RunInTx on an
// instance that is already bound to a transaction runs fn in it directly.
func (a *Authority) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Authority) error) error {
	return a.inTx(ctx, func(ctx context.Context, db bun.IDB) error {
		bound := *a
		bound.db = db
		bound.root = nil
		return fn(ctx, &bound)
	})
}

func (a *Authority) inTx(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error {
	if a.root == nil {
		return fn(ctx, a.db)
	}
	return a.root.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

// CreateRole stores a role unless one with the same slug exists.
func (a *Authority) CreateRole(ctx context.Context, slug, description string) (CreateResult[RoleID], error) {
	if err := checkSlug(slug); err != nil {
		return CreateResult[RoleID]{}, err
	}

	var res CreateResult[RoleID]
	err := a.inTx(ctx, func(ctx context.Context, db bun.IDB) error {
		created, err := insertIgnore(ctx, db, &Role{Slug: slug, Description: description}, a.tables.role)
		if err != nil {
			return err
		}
		var role Role
		if err := db.NewSelect().Model(&role).ModelTableExpr(a.tables.role.aliased()).
			Where("slug = ?", slug).Scan(ctx); err != nil {
			return err
		}
		res = CreateResult[RoleID]{ID: role.ID, Created: created}
		return nil
	})
	if err != nil {
		return CreateResult[RoleID]{}, a.fail(ctx, "create role", err)
	}

	return res, nil
}

// DeleteRole deletes a role together with its user and permission links.
// Deleting a missing role is not an error.
func (a *Authority) DeleteRole(ctx context.Context, roleID RoleID) error {
	err := a.inTx(ctx, func(ctx context.Context, db bun.IDB) error {
		if _, err := db.NewDelete().Model((*UserRole)(nil)).ModelTableExpr(a.tables.userRole.name).
			Where("role_id = ?", roleID).Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewDelete().Model((*RolePermission)(nil)).ModelTableExpr(a.tables.rolePerm.name).
			Where("role_id = ?", roleID).Exec(ctx); err != nil {
			return err
		}
		_, err := db.NewDelete().Model((*Role)(nil)).ModelTableExpr(a.tables.role.name).
			Where("id = ?", roleID).Exec(ctx)
		return err
	})

	return a.fail(ctx, "delete role", err)
}

// AddPermission stores a permission unless one with the same slug exists.
// The slug must be a well-formed entity:action:scope string.
func (a *Authority) AddPermission(ctx context.Context, slug, description string) (CreateResult[PermissionID], error) {
	if err := checkSlug(slug); err != nil {
		return CreateResult[PermissionID]{}, err
	}
	if _, err := ParsePermission(slug); err != nil {
		return CreateResult[PermissionID]{}, err
	}

	var res CreateResult[PermissionID]
	err := a.inTx(ctx, func(ctx context.Context, db bun.IDB) error {
		created, err := insertIgnore(ctx, db, &Permission{Slug: slug, Description: description}, a.tables.perm)
		if err != nil {
			return err
		}
		var perm Permission
		if err := db.NewSelect().Model(&perm).ModelTableExpr(a.tables.perm.aliased()).
			Where("slug = ?", slug).Scan(ctx); err != nil {
			return err
		}
		res = CreateResult[PermissionID]{ID: perm.ID, Created: created}
		return nil
	})
	if err != nil {
		return CreateResult[PermissionID]{}, a.fail(ctx, "add permission", err)
	}

	return res, nil
}

// DeletePermission deletes a permission and every grant of it.
// Deleting a missing permission is not an error.
func (a *Authority) DeletePermission(ctx context.Context, permID PermissionID) error {
	err := a.inTx(ctx, func(ctx context.Context, db bun.IDB) error {
		if _, err := db.NewDelete().Model((*UserPermission)(nil)).ModelTableExpr(a.tables.userPerm.name).
			Where("permission_id = ?", permID).Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewDelete().Model((*RolePermission)(nil)).ModelTableExpr(a.tables.rolePerm.name).
			Where("permission_id = ?", permID).Exec(ctx); err != nil {
			return err
		}
		_, err := db.NewDelete().Model((*Permission)(nil)).ModelTableExpr(a.tables.perm.name).
			Where("id = ?", permID).Exec(ctx)
		return err
	})

	return a.fail(ctx, "delete permission", err)
}

// AssignRoleToUser assigns a role to a user. Assigning it twice is a no-op.
func (a *Authority) AssignRoleToUser(ctx context.Context, userID UserID, roleID RoleID) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	_, err := insertIgnore(ctx, a.db, &UserRole{UserID: userID, RoleID: roleID}, a.tables.userRole)
	return a.fail(ctx, "assign role", err)
}

// RevokeRoleFromUser removes a role assignment.
func (a *Authority) RevokeRoleFromUser(ctx context.Context, userID UserID, roleID RoleID) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	_, err := a.db.NewDelete().Model((*UserRole)(nil)).ModelTableExpr(a.tables.userRole.name).
		Where("user_id = ?", userID).Where("role_id = ?", roleID).Exec(ctx)
	return a.fail(ctx, "revoke role", err)
}

// GrantPermissionToRole attaches a permission to a role.
func (a *Authority) GrantPermissionToRole(ctx context.Context, roleID RoleID, permID PermissionID) error {
	_, err := insertIgnore(ctx, a.db, &RolePermission{RoleID: roleID, PermissionID: permID}, a.tables.rolePerm)
	return a.fail(ctx, "grant permission", err)
}

// RevokePermissionFromRole detaches a permission from a role.
func (a *Authority) RevokePermissionFromRole(ctx context.Context, roleID RoleID, permID PermissionID) error {
	_, err := a.db.NewDelete().Model((*RolePermission)(nil)).ModelTableExpr(a.tables.rolePerm.name).
		Where("role_id = ?", roleID).Where("permission_id = ?", permID).Exec(ctx)
	return a.fail(ctx, "revoke permission", err)
}

// GrantPermissionToUser grants a permission directly, bypassing roles.
func (a *Authority) GrantPermissionToUser(ctx context.Context, userID UserID, permID PermissionID) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	_, err := insertIgnore(ctx, a.db, &UserPermission{UserID: userID, PermissionID: permID}, a.tables.userPerm)
	return a.fail(ctx, "grant permission", err)
}

// RevokePermissionFromUser removes a direct grant. Permissions the user
// holds through roles are untouched.
func (a *Authority) RevokePermissionFromUser(ctx context.Context, userID UserID, permID PermissionID) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	_, err := a.db.NewDelete().Model((*UserPermission)(nil)).ModelTableExpr(a.tables.userPerm.name).
		Where("user_id = ?", userID).Where("permission_id = ?", permID).Exec(ctx)
	return a.fail(ctx, "revoke permission", err)
}

// ListRoles returns all stored roles ordered by slug
func (a *Authority) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	if err := a.db.NewSelect().Model(&roles).ModelTableExpr(a.tables.role.aliased()).
		OrderExpr("role.slug ASC").Scan(ctx); err != nil {
		return nil, a.fail(ctx, "list roles", err)
	}

	return roles, nil
}

// ListPermissions returns all stored permissions ordered by slug
func (a *Authority) ListPermissions(ctx context.Context) ([]Permission, error) {
	var perms []Permission
	if err := a.db.NewSelect().Model(&perms).ModelTableExpr(a.tables.perm.aliased()).
		OrderExpr("perm.slug ASC").Scan(ctx); err != nil {
		return nil, a.fail(ctx, "list permissions", err)
	}

	return perms, nil
}

// RoleBySlug looks a role up by slug. It returns ErrRoleNotFound when
// there is none.
func (a *Authority) RoleBySlug(ctx context.Context, slug string) (Role, error) {
	var role Role
	if err := a.db.NewSelect().Model(&role).ModelTableExpr(a.tables.role.aliased()).
		Where("slug = ?", slug).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		return Role{}, a.fail(ctx, "get role", err)
	}

	return role, nil
}

// PermissionBySlug looks a permission up by slug. It returns
// ErrPermissionNotFound when there is none.
func (a *Authority) PermissionBySlug(ctx context.Context, slug string) (Permission, error) {
	var perm Permission
	if err := a.db.NewSelect().Model(&perm).ModelTableExpr(a.tables.perm.aliased()).
		Where("slug = ?", slug).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Permission{}, ErrPermissionNotFound
		}
		return Permission{}, a.fail(ctx, "get permission", err)
	}

	return perm, nil
}

// UserRoles returns the roles assigned to a user
func (a *Authority) UserRoles(ctx context.Context, userID UserID) ([]Role, error) {
	var roles []Role
	if err := a.db.NewSelect().Model(&roles).ModelTableExpr(a.tables.role.aliased()).
		Join("JOIN "+a.tables.userRole.aliased()+" ON ur.role_id = role.id").
		Where("ur.user_id = ?", userID).
		OrderExpr("role.slug ASC").Scan(ctx); err != nil {
		return nil, a.fail(ctx, "get user roles", err)
	}

	return roles, nil
}

// UserHasRole checks if a role is assigned to a user
func (a *Authority) UserHasRole(ctx context.Context, userID UserID, roleID RoleID) (bool, error) {
	exists, err := a.db.NewSelect().Model((*UserRole)(nil)).ModelTableExpr(a.tables.userRole.aliased()).
		Where("user_id = ?", userID).Where("role_id = ?", roleID).Exists(ctx)
	if err != nil {
		return false, a.fail(ctx, "check role", err)
	}

	return exists, nil
}

// insertIgnore inserts model and reports whether a row was written. A
// conflict on a unique key leaves the table untouched.
func insertIgnore(ctx context.Context, db bun.IDB, model any, t table) (bool, error) {
	res, err := db.NewInsert().Model(model).ModelTableExpr(t.name).
		On("CONFLICT DO NOTHING").Returning("NULL").Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (a *Authority) fail(ctx context.Context, op string, err error) error {
	err = storageError(op, err)
	if err != nil {
		a.logger.WarnContext(ctx, "authority storage failure", slog.String("op", op), slog.Any("error", err))
	}
	return err
}

var validate = newValidator()

func checkSlug(slug string) error {
	if err := validate.Var(slug, "required,slug,lowercase,max="+strconv.Itoa(maxSlugLength)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	// "slug" rejects any whitespace
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsSpace)
	})
	return v
}

type table struct {
	name  string
	alias string
}

func (t table) aliased() string {
	return t.name + " AS " + t.alias
}

type tables struct {
	role     table
	perm     table
	userRole table
	userPerm table
	rolePerm table
}

func newTables(prefix string) tables {
	return tables{
		role:     table{name: prefix + "roles", alias: "role"},
		perm:     table{name: prefix + "permissions", alias: "perm"},
		userRole: table{name: prefix + "user_roles", alias: "ur"},
		userPerm: table{name: prefix + "user_permissions", alias: "up"},
		rolePerm: table{name: prefix + "role_permissions", alias: "rp"},
	}
}
