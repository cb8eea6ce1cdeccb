package authority_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/hackreg/authority"
	"github.com/hackreg/authority/internal/testdb"
)

func TestOrganizerScenario(t *testing.T) {
	a := newAuthority(t)
	ctx := context.Background()
	u1 := newUser()

	organizer, err := a.CreateRole(ctx, "organizer", "")
	require.NoError(t, err)
	manage, err := a.AddPermission(ctx, "event:manage:all", "")
	require.NoError(t, err)
	require.NoError(t, a.GrantPermissionToRole(ctx, organizer.ID, manage.ID))
	require.NoError(t, a.AssignRoleToUser(ctx, u1, organizer.ID))

	assert.True(t, a.HasPermission(ctx, u1, "event:manage:all"))
	assert.False(t, a.HasPermission(ctx, u1, "event:manage:self"))
	assert.False(t, a.HasPermission(ctx, u1, "user:read:all"))
}

func TestDirectBlanketGrantScenario(t *testing.T) {
	a := newAuthority(t)
	ctx := context.Background()
	u2 := newUser()

	perm, err := a.AddPermission(ctx, "submission:all:all", "")
	require.NoError(t, err)
	require.NoError(t, a.GrantPermissionToUser(ctx, u2, perm.ID))

	submissionID := "submission:review:" + string(newUser())
	assert.True(t, a.HasPermission(ctx, u2, submissionID))
	assert.True(t, a.HasPermission(ctx, u2, "submission:delete:self"))
	assert.False(t, a.HasPermission(ctx, u2, "team:all:all"))
	assert.False(t, a.HasPermission(ctx, u2, "user:read:all"))

	require.NoError(t, a.RevokePermissionFromUser(ctx, u2, perm.ID))
	assert.False(t, a.HasPermission(ctx, u2, submissionID))
}

func TestHasPermissionExactMatchForEveryHeldPermission(t *testing.T) {
	a := newAuthority(t)
	ctx := context.Background()
	user := newUser()

	role, err := a.CreateRole(ctx, "participant", "")
	require.NoError(t, err)
	require.NoError(t, a.AssignRoleToUser(ctx, user, role.ID))

	for i, slug := range []string{"registration:read:self", "team:join:any", "team:create:any", "user:update:self"} {
		res, err := a.AddPermission(ctx, slug, "")
		require.NoError(t, err)
		if i%2 == 0 {
			require.NoError(t, a.GrantPermissionToRole(ctx, role.ID, res.ID))
		} else {
			require.NoError(t, a.GrantPermissionToUser(ctx, user, res.ID))
		}
	}

	held, err := a.UserPermissions(ctx, user)
	require.NoError(t, err)
	require.Len(t, held, 4)
	for slug := range held {
		assert.True(t, a.HasPermission(ctx, user, slug), slug)
	}
}

func TestUnauthenticatedUserHoldsNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a, err := authority.New(context.Background(), authority.Options{
		DB:             bun.NewDB(db, pgdialect.New()),
		SkipMigrations: true,
	})
	require.NoError(t, err)

	assert.False(t, a.HasPermission(context.Background(), "", "event:manage:all"))
	// no query may be issued for an anonymous caller
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequirePermission(t *testing.T) {
	a := newAuthority(t)
	ctx := context.Background()
	user := newUser()

	perm, err := a.AddPermission(ctx, "submission:all:all", "")
	require.NoError(t, err)

	err = a.RequirePermission(ctx, user, "submission:edit:self")
	require.Error(t, err)
	assert.True(t, authority.IsForbidden(err))

	var fe *authority.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, authority.ReasonMissingPermission, fe.Reason)
	assert.Equal(t, "submission:edit:self", fe.Permission)
	assert.Equal(t, "/forbidden?reason=missing_permission&permission=submission%3Aedit%3Aself", fe.Location())

	require.NoError(t, a.GrantPermissionToUser(ctx, user, perm.ID))
	require.NoError(t, a.RequirePermission(ctx, user, "submission:delete:all"))
}

func TestAuthorizeDecision(t *testing.T) {
	a := newAuthority(t)
	ctx := context.Background()
	user := newUser()

	perm, err := a.AddPermission(ctx, "team:manage:any", "")
	require.NoError(t, err)
	require.NoError(t, a.GrantPermissionToUser(ctx, user, perm.ID))

	assert.Equal(t, authority.Decision{Allowed: true, Permission: "team:manage:any"},
		a.Authorize(ctx, user, "team:manage:any"))
	assert.Equal(t, authority.Decision{Reason: authority.ReasonMissingPermission, Permission: "team:delete:any"},
		a.Authorize(ctx, user, "team:delete:any"))
}

func TestForbiddenPathOption(t *testing.T) {
	db, prefix := testdb.New(t)
	a, err := authority.New(context.Background(), authority.Options{
		DB:            db,
		TablesPrefix:  prefix,
		ForbiddenPath: "/access-denied",
	})
	require.NoError(t, err)

	err = a.RequirePermission(context.Background(), newUser(), "user:read:all")
	var fe *authority.ForbiddenError
	require.True(t, errors.As(err, &fe))
	assert.True(t, strings.HasPrefix(fe.Location(), "/access-denied?reason=missing_permission"))
}

func TestGateFailsClosedOnStorageError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a, err := authority.New(context.Background(), authority.Options{
		DB:             bun.NewDB(db, pgdialect.New()),
		SkipMigrations: true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection refused"))
	assert.False(t, a.HasPermission(ctx, "u1", "event:manage:all"))

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"slug"}).AddRow("event:all:all"))
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset by peer"))
	err = a.RequirePermission(ctx, "u1", "event:manage:all")
	assert.True(t, authority.IsForbidden(err))

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection refused"))
	_, err = a.UserPermissions(ctx, "u1")
	var se *authority.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "failed to get user permissions: connection refused", err.Error())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantStorageFailuresAreReported(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a, err := authority.New(context.Background(), authority.Options{
		DB:             bun.NewDB(db, pgdialect.New()),
		SkipMigrations: true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	_, err = a.CreateRole(ctx, "organizer", "")
	var se *authority.StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "create role", se.Op)

	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("connection refused"))
	err = a.AssignRoleToUser(ctx, "u1", 1)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "assign role", se.Op)

	mock.ExpectExec("DELETE FROM").WillReturnError(errors.New("connection refused"))
	err = a.RevokePermissionFromUser(ctx, "u1", 1)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "revoke permission", se.Op)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDecisionMetrics(t *testing.T) {
	db, prefix := testdb.New(t)
	reg := prometheus.NewRegistry()
	a, err := authority.New(context.Background(), authority.Options{DB: db, TablesPrefix: prefix, Registerer: reg})
	require.NoError(t, err)
	ctx := context.Background()
	user := newUser()

	perm, err := a.AddPermission(ctx, "event:all:all", "")
	require.NoError(t, err)
	require.NoError(t, a.GrantPermissionToUser(ctx, user, perm.ID))

	assert.True(t, a.HasPermission(ctx, user, "event:read:any"))
	assert.False(t, a.HasPermission(ctx, user, "user:read:any"))
	assert.False(t, a.HasPermission(ctx, "", "user:read:any"))

	expected := `
# HELP authority_decisions_total Access decisions by outcome.
# TYPE authority_decisions_total counter
authority_decisions_total{outcome="allowed"} 1
authority_decisions_total{outcome="denied"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "authority_decisions_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "authority_resolve_duration_seconds"))

	_, err = authority.New(ctx, authority.Options{DB: db, TablesPrefix: prefix, Registerer: reg})
	require.Error(t, err)
}
