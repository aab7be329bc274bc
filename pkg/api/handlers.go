package api

import (
	"net/http"

	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/observability"
)

type meResponse struct {
	Principal   *auth.Principal `json:"principal"`
	Roles       []string        `json:"assigned_roles"`
	Permissions []string        `json:"permissions"`
}

// getMe returns the caller's principal with the roles and permissions the
// role store currently grants it
func (s *Server) getMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, auth.ErrMissingCredential.Error())
		return
	}

	roles, err := s.registry.UserRoles(ctx, principal.Subject)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("Failed to load user roles")
		httputil.WriteServiceUnavailable(w, "permission store unavailable")
		return
	}
	perms, err := s.registry.ResolvePermissions(ctx, principal.Subject)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("Failed to resolve permissions")
		httputil.WriteServiceUnavailable(w, "permission store unavailable")
		return
	}

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}

	httputil.WriteSuccess(w, meResponse{
		Principal:   principal,
		Roles:       names,
		Permissions: perms,
	})
}
