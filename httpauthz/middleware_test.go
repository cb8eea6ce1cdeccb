package httpauthz_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackreg/authority"
	"github.com/hackreg/authority/httpauthz"
	"github.com/hackreg/authority/internal/testdb"
)

func newAuthority(t *testing.T) *authority.Authority {
	t.Helper()
	db, prefix := testdb.New(t)
	a, err := authority.New(context.Background(), authority.Options{DB: db, TablesPrefix: prefix})
	require.NoError(t, err)
	return a
}

// headerUsers identifies callers by the X-User header.
var headerUsers = httpauthz.UserProviderFunc(func(r *http.Request) (authority.UserID, bool) {
	id := r.Header.Get("X-User")
	return authority.UserID(id), id != ""
})

func grant(t *testing.T, a *authority.Authority, userID authority.UserID, slug string) {
	t.Helper()
	ctx := context.Background()
	perm, err := a.AddPermission(ctx, slug, "")
	require.NoError(t, err)
	require.NoError(t, a.GrantPermissionToUser(ctx, userID, perm.ID))
}

func TestRequirePermission(t *testing.T) {
	a := newAuthority(t)
	organizer := authority.UserID(uuid.NewString())
	grant(t, a, organizer, "event:manage:all")

	mw := httpauthz.Middleware{Gate: a, Users: headerUsers}
	var seen authority.UserID
	h := mw.RequirePermission("event:manage:all")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = httpauthz.UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		req.Header.Set("X-User", string(organizer))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, organizer, seen)
	})

	t.Run("denied browser is redirected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		req.Header.Set("X-User", uuid.NewString())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/forbidden?reason=missing_permission&permission=event%3Amanage%3Aall", rec.Header().Get("Location"))
	})

	t.Run("anonymous is redirected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
		assert.Equal(t, http.StatusSeeOther, rec.Code)
	})

	t.Run("denied json client gets a problem", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

		var p httpauthz.ProblemDetail
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
		assert.Equal(t, authority.ReasonMissingPermission, p.Reason)
		assert.Equal(t, "event:manage:all", p.Permission)
	})
}

type brokenGate struct{}

func (brokenGate) RequirePermission(context.Context, authority.UserID, string) error {
	return errors.New("gate unavailable")
}

func TestRequirePermissionUnexpectedError(t *testing.T) {
	mw := httpauthz.Middleware{Gate: brokenGate{}, Users: headerUsers}
	h := mw.RequirePermission("event:manage:all")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestForbiddenHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/forbidden?reason=missing_permission&permission=submission%3Aedit%3Aself", nil)
	httpauthz.ForbiddenHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	var p httpauthz.ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Equal(t, "submission:edit:self", p.Permission)
	assert.Contains(t, p.Detail, `"submission:edit:self"`)

	rec = httptest.NewRecorder()
	httpauthz.ForbiddenHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forbidden", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	assert.Equal(t, "you do not have access to this page", p.Detail)
}
