package httpauthz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/hackreg/authority"
)

// AdminPermission guards every admin route.
const AdminPermission = "authz:manage:all"

// AdminHandler serves the grant API.
type AdminHandler struct {
	logger    *slog.Logger
	authz     *authority.Authority
	rbac      Middleware
	validator *validator.Validate
	rateLimit int
}

// NewAdminHandler builds an AdminHandler. rateLimit is the number of
// requests a single caller may issue per minute; zero disables limiting.
func NewAdminHandler(logger *slog.Logger, authz *authority.Authority, rbac Middleware, rateLimit int) *AdminHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AdminHandler{
		logger:    logger,
		authz:     authz,
		rbac:      rbac,
		validator: validator.New(),
		rateLimit: rateLimit,
	}
}

// MountRoutes registers admin routes on the provided router.
func (h *AdminHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.rateLimit > 0 {
			r.Use(httprate.Limit(h.rateLimit, time.Minute,
				httprate.WithKeyFuncs(h.rateLimitKey),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					problem(w, http.StatusTooManyRequests, "")
				}),
			))
		}
		r.Use(h.rbac.RequirePermission(AdminPermission))

		r.Get("/roles", h.listRoles)
		r.Post("/roles", h.createRole)
		r.Delete("/roles/{roleID}", h.deleteRole)
		r.Put("/roles/{roleID}/permissions/{permissionID}", h.grantRolePermission)
		r.Delete("/roles/{roleID}/permissions/{permissionID}", h.revokeRolePermission)

		r.Get("/permissions", h.listPermissions)
		r.Post("/permissions", h.addPermission)
		r.Delete("/permissions/{permissionID}", h.deletePermission)

		r.Get("/users/{userID}/roles", h.userRoles)
		r.Put("/users/{userID}/roles/{roleID}", h.assignRole)
		r.Delete("/users/{userID}/roles/{roleID}", h.revokeRole)
		r.Get("/users/{userID}/permissions", h.userPermissions)
		r.Put("/users/{userID}/permissions/{permissionID}", h.grantUserPermission)
		r.Delete("/users/{userID}/permissions/{permissionID}", h.revokeUserPermission)

		r.Get("/check", h.check)
	})
}

func (h *AdminHandler) rateLimitKey(r *http.Request) (string, error) {
	if h.rbac.Users != nil {
		if userID, ok := h.rbac.Users.CurrentUser(r); ok {
			return "user:" + string(userID), nil
		}
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type createForm struct {
	Slug        string `json:"slug" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1024"`
}

type createResponse struct {
	ID      int64 `json:"id"`
	Created bool  `json:"created"`
}

func (h *AdminHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.authz.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, roles)
}

func (h *AdminHandler) createRole(w http.ResponseWriter, r *http.Request) {
	form, ok := h.decodeCreate(w, r)
	if !ok {
		return
	}
	res, err := h.authz.CreateRole(r.Context(), form.Slug, form.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	JSON(w, createdStatus(res.Created), createResponse{ID: int64(res.ID), Created: res.Created})
}

func (h *AdminHandler) deleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := roleParam(w, r)
	if !ok {
		return
	}
	h.respond(w, h.authz.DeleteRole(r.Context(), roleID))
}

func (h *AdminHandler) grantRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := roleParam(w, r)
	if !ok {
		return
	}
	permID, ok := permissionParam(w, r)
	if !ok {
		return
	}
	h.respond(w, h.authz.GrantPermissionToRole(r.Context(), roleID, permID))
}

func (h *AdminHandler) revokeRolePermission(w http.ResponseWriter, r *http.Request) {
	roleID, ok := roleParam(w, r)
	if !ok {
		return
	}
	permID, ok := permissionParam(w, r)
	if !ok {
		return
	}
	h.respond(w, h.authz.RevokePermissionFromRole(r.Context(), roleID, permID))
}

func (h *AdminHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.authz.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, perms)
}

func (h *AdminHandler) addPermission(w http.ResponseWriter, r *http.Request) {
	form, ok := h.decodeCreate(w, r)
	if !ok {
		return
	}
	res, err := h.authz.AddPermission(r.Context(), form.Slug, form.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	JSON(w, createdStatus(res.Created), createResponse{ID: int64(res.ID), Created: res.Created})
}

func (h *AdminHandler) deletePermission(w http.ResponseWriter, r *http.Request) {
	permID, ok := permissionParam(w, r)
	if !ok {
		return
	}
	h.respond(w, h.authz.DeletePermission(r.Context(), permID))
}

func (h *AdminHandler) userRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.authz.UserRoles(r.Context(), userParam(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, roles)
}

func (h *AdminHandler) assignRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := roleParam(w, r)
	if !ok {
		return
	}
	h.respond(w, h.authz.AssignRoleToUser(r.Context(), userParam(r), roleID))
}

func (h *AdminHandler) revokeRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := roleParam(w, r)
	if !ok {
		return
	}
	h.respond(w, h.authz.RevokeRoleFromUser(r.Context(), userParam(r), roleID))
}

func (h *AdminHandler) userPermissions(w http.ResponseWriter, r *http.Request) {
	set, err := h.authz.UserPermissions(r.Context(), userParam(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	JSON(w, http.StatusOK, set.Slice())
}

func (h *AdminHandler) grantUserPermission(w http.ResponseWriter, r *http.Request) {
	permID, ok := permissionParam(w, r)
	if !ok {
		return
	}
	h.respond(w, h.authz.GrantPermissionToUser(r.Context(), userParam(r), permID))
}

func (h *AdminHandler) revokeUserPermission(w http.ResponseWriter, r *http.Request) {
	permID, ok := permissionParam(w, r)
	if !ok {
		return
	}
	h.respond(w, h.authz.RevokePermissionFromUser(r.Context(), userParam(r), permID))
}

type checkResponse struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
}

func (h *AdminHandler) check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user"))
	perm := strings.TrimSpace(q.Get("permission"))
	if perm == "" {
		problem(w, http.StatusBadRequest, "permission query parameter is required")
		return
	}
	d := h.authz.Authorize(r.Context(), authority.UserID(userID), perm)
	JSON(w, http.StatusOK, checkResponse{UserID: userID, Permission: perm, Allowed: d.Allowed, Reason: d.Reason})
}

func (h *AdminHandler) decodeCreate(w http.ResponseWriter, r *http.Request) (createForm, bool) {
	var form createForm
	if err := decodeJSON(r, &form); err != nil {
		problem(w, http.StatusBadRequest, "malformed request body")
		return form, false
	}
	if err := h.validator.Struct(form); err != nil {
		problem(w, http.StatusBadRequest, err.Error())
		return form, false
	}
	return form, true
}

func (h *AdminHandler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondError maps authority errors to HTTP responses.
func (h *AdminHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authority.ErrInvalidSlug),
		errors.Is(err, authority.ErrInvalidPermission),
		errors.Is(err, authority.ErrEmptyUserID):
		problem(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, authority.ErrRoleNotFound),
		errors.Is(err, authority.ErrPermissionNotFound):
		problem(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("authz admin", slog.Any("error", err))
		problem(w, http.StatusInternalServerError, "")
	}
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func userParam(r *http.Request) authority.UserID {
	return authority.UserID(strings.TrimSpace(chi.URLParam(r, "userID")))
}

func roleParam(w http.ResponseWriter, r *http.Request) (authority.RoleID, bool) {
	id, ok := idParam(w, r, "roleID")
	return authority.RoleID(id), ok
}

func permissionParam(w http.ResponseWriter, r *http.Request) (authority.PermissionID, bool) {
	id, ok := idParam(w, r, "permissionID")
	return authority.PermissionID(id), ok
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		problem(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
