package authority

import (
	"context"
	"log/slog"
)

// Decision is the outcome of a single access check.
type Decision struct {
	Allowed    bool
	Reason     string
	Permission string
}

// Authorize resolves the user's permissions and decides whether they
// satisfy required. A missing user or a failed resolution is a denial.
func (a *Authority) Authorize(ctx context.Context, userID UserID, required string) Decision {
	denied := Decision{Reason: ReasonMissingPermission, Permission: required}
	if userID == "" {
		a.metrics.decision(outcomeDenied)
		return denied
	}

	held, err := a.UserPermissions(ctx, userID)
	if err != nil {
		a.logger.ErrorContext(ctx, "resolve permissions",
			slog.String("user_id", string(userID)),
			slog.String("permission", required),
			slog.Any("error", err))
		a.metrics.decision(outcomeError)
		return denied
	}

	if held.Satisfies(required) {
		a.metrics.decision(outcomeAllowed)
		return Decision{Allowed: true, Permission: required}
	}

	a.logger.DebugContext(ctx, "permission denied",
		slog.String("user_id", string(userID)),
		slog.String("permission", required))
	a.metrics.decision(outcomeDenied)
	return denied
}

// HasPermission reports whether the user holds required, exactly or
// through an entity:all:all grant.
func (a *Authority) HasPermission(ctx context.Context, userID UserID, required string) bool {
	return a.Authorize(ctx, userID, required).Allowed
}

// RequirePermission returns nil when the user holds required and a
// *ForbiddenError otherwise. Use HasPermission to check and continue.
func (a *Authority) RequirePermission(ctx context.Context, userID UserID, required string) error {
	d := a.Authorize(ctx, userID, required)
	if d.Allowed {
		return nil
	}
	return &ForbiddenError{Reason: d.Reason, Permission: d.Permission, path: a.forbiddenPath}
}
