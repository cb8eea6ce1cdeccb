package httpauthz

import (
	"fmt"
	"net/http"

	"github.com/hackreg/authority"
)

// ForbiddenHandler answers the middleware redirect target with a 403
// problem+json document built from the reason and permission query
// parameters.
func ForbiddenHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		Problem(w, forbiddenProblem(q.Get("reason"), q.Get("permission")))
	})
}

func forbiddenProblem(reason, permission string) ProblemDetail {
	p := ProblemDetail{
		Title:      http.StatusText(http.StatusForbidden),
		Status:     http.StatusForbidden,
		Reason:     reason,
		Permission: permission,
	}
	switch {
	case reason == authority.ReasonMissingPermission && permission != "":
		p.Detail = fmt.Sprintf("you need the %q permission to access this page", permission)
	default:
		p.Detail = "you do not have access to this page"
	}
	return p
}
