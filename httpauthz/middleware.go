package httpauthz

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hackreg/authority"
)

// Gate is the part of *authority.Authority the middleware depends on.
type Gate interface {
	RequirePermission(ctx context.Context, userID authority.UserID, required string) error
}

// UserProvider returns the identity of the caller. ok is false for
// unauthenticated requests.
type UserProvider interface {
	CurrentUser(r *http.Request) (userID authority.UserID, ok bool)
}

// UserProviderFunc adapts a function to UserProvider.
type UserProviderFunc func(r *http.Request) (authority.UserID, bool)

func (f UserProviderFunc) CurrentUser(r *http.Request) (authority.UserID, bool) {
	return f(r)
}

type userKey struct{}

// WithUser stores the caller identity in ctx.
func WithUser(ctx context.Context, userID authority.UserID) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the identity stored by the middleware.
func UserFromContext(ctx context.Context) (authority.UserID, bool) {
	userID, ok := ctx.Value(userKey{}).(authority.UserID)
	return userID, ok && userID != ""
}

// Middleware wires authority checks into HTTP handlers.
type Middleware struct {
	Gate   Gate
	Users  UserProvider
	Logger *slog.Logger
}

// RequirePermission lets the request through only when the caller holds
// required. Denied browser requests are redirected (303) to the access-denied
// page; JSON clients get a 403 problem document instead.
func (m Middleware) RequirePermission(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID authority.UserID
			if m.Users != nil {
				if id, ok := m.Users.CurrentUser(r); ok {
					userID = id
				}
			}

			err := m.Gate.RequirePermission(r.Context(), userID, required)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
				return
			}

			var fe *authority.ForbiddenError
			if !errors.As(err, &fe) {
				m.logger().Error("authz require permission", slog.Any("error", err))
				problem(w, http.StatusInternalServerError, "")
				return
			}
			m.logger().Debug("access denied",
				slog.String("path", r.URL.Path),
				slog.String("user_id", string(userID)),
				slog.String("permission", required),
			)
			if wantsJSON(r) {
				Problem(w, forbiddenProblem(fe.Reason, fe.Permission))
				return
			}
			http.Redirect(w, r, fe.Location(), http.StatusSeeOther)
		})
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.Logger
}
