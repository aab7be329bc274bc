package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/observability"
)

// Permissions guarding the admin API
var (
	PermissionRolesRead   = Permission(ResourceRoles, ActionRead)
	PermissionRolesManage = Permission(ResourceRoles, ActionManage)
)

// Guard wraps next so that it only runs for callers holding permission
type Guard func(permission string, next http.Handler) http.Handler

// Handlers provides HTTP handlers for role administration
type Handlers struct {
	registry *Registry
}

// NewHandlers creates new RBAC handlers
func NewHandlers(registry *Registry) *Handlers {
	return &Handlers{registry: registry}
}

// RegisterRoutes registers the admin routes on router. A nil guard leaves
// the routes unprotected, which is only useful in tests.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard Guard) {
	if guard == nil {
		guard = func(_ string, next http.Handler) http.Handler { return next }
	}
	read := func(fn http.HandlerFunc) http.Handler { return guard(PermissionRolesRead, fn) }
	manage := func(fn http.HandlerFunc) http.Handler { return guard(PermissionRolesManage, fn) }

	router.Handle("/roles", read(h.ListRoles)).Methods(http.MethodGet)
	router.Handle("/roles", manage(h.CreateRole)).Methods(http.MethodPost)
	router.Handle("/roles/{id:[0-9]+}", read(h.GetRole)).Methods(http.MethodGet)
	router.Handle("/roles/{id:[0-9]+}", manage(h.UpdateRole)).Methods(http.MethodPatch, http.MethodPut)
	router.Handle("/roles/{id:[0-9]+}", manage(h.DeleteRole)).Methods(http.MethodDelete)

	router.Handle("/users/{userID}/roles", read(h.GetUserRoles)).Methods(http.MethodGet)
	router.Handle("/users/{userID}/roles/{roleID:[0-9]+}", manage(h.AssignRole)).Methods(http.MethodPut)
	router.Handle("/users/{userID}/roles/{roleID:[0-9]+}", manage(h.RevokeRole)).Methods(http.MethodDelete)
	router.Handle("/users/{userID}/permissions", read(h.GetUserPermissions)).Methods(http.MethodGet)
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,max=255"`
	Description string   `json:"description" validate:"max=1024"`
	Permissions []string `json:"permissions" validate:"dive,required,max=255"`
}

// ListRoles returns every role
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.registry.ListRoles(r.Context())
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// CreateRole creates a role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	audit.SetAction(r.Context(), "role.create")

	var req createRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	role, err := h.registry.CreateRole(r.Context(), req.Name, req.Description, req.Permissions)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// GetRole returns one role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.registry.GetRole(r.Context(), id)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole applies a partial update to a role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	audit.SetAction(r.Context(), "role.update")

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req RoleUpdate
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	role, err := h.registry.UpdateRole(r.Context(), id, req)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// DeleteRole deletes a role and its assignments
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	audit.SetAction(r.Context(), "role.delete")

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.registry.DeleteRole(r.Context(), id); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserRoles returns the roles a user holds
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	roles, err := h.registry.UserRoles(r.Context(), userID)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// AssignRole grants a role to a user. It answers 201 when the assignment is
// new and 200 when the user already held the role.
func (h *Handlers) AssignRole(w http.ResponseWriter, r *http.Request) {
	audit.SetAction(r.Context(), "role.assign")

	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	created, err := h.registry.AssignRole(r.Context(), userID, roleID)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, map[string]interface{}{
		"user_id": userID,
		"role_id": roleID,
		"created": created,
	})
}

// RevokeRole removes a role from a user
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	audit.SetAction(r.Context(), "role.revoke")

	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	removed, err := h.registry.RevokeRole(r.Context(), userID, roleID)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id": userID,
		"role_id": roleID,
		"removed": removed,
	})
}

// GetUserPermissions returns a user's effective permissions
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	perms, err := h.registry.ResolvePermissions(r.Context(), userID)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":     userID,
		"permissions": perms,
	})
}

func writeRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	audit.SetError(r.Context(), err)

	switch {
	case errors.Is(err, ErrInvalidRole):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrRoleNotFound):
		httputil.WriteNotFoundError(w, ErrRoleNotFound.Error())
	case errors.Is(err, ErrDuplicateRoleName):
		httputil.WriteConflict(w, ErrDuplicateRoleName.Error())
	case errors.Is(err, ErrStoreUnavailable):
		observability.FromContext(r.Context()).WithError(err).Warn("Permission store unavailable")
		httputil.WriteServiceUnavailable(w, ErrStoreUnavailable.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Role administration failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
