package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/accessgate/pkg/audit"
	"github.com/platinummonkey/accessgate/pkg/auth"
	"github.com/platinummonkey/accessgate/pkg/authz"
	"github.com/platinummonkey/accessgate/pkg/httputil"
	"github.com/platinummonkey/accessgate/pkg/observability"
)

// OwnerAccessor returns the id of the principal owning the resource a
// request addresses
type OwnerAccessor func(r *http.Request) (string, error)

// AuthorizeMiddleware enforces authz requirements on routes. It must run
// after AuthMiddleware.
type AuthorizeMiddleware struct {
	authorizer *authz.Authorizer
}

// NewAuthorizeMiddleware creates a new authorization middleware
func NewAuthorizeMiddleware(authorizer *authz.Authorizer) *AuthorizeMiddleware {
	return &AuthorizeMiddleware{authorizer: authorizer}
}

// Require wraps next so it only runs when the request's principal satisfies
// req. Every denial is a 403, including denials caused by store failures.
func (m *AuthorizeMiddleware) Require(req authz.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, req, next)
		})
	}
}

// RequirePermission guards next with a permission requirement. Its
// signature matches rbac.Guard.
func (m *AuthorizeMiddleware) RequirePermission(permission string, next http.Handler) http.Handler {
	return m.Require(authz.RequirePermission(permission))(next)
}

// RequireAnyRole guards routes with a role requirement
func (m *AuthorizeMiddleware) RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return m.Require(authz.RequireAnyRole(roles...))
}

// RequireOwnership guards routes so only the resource owner or an elevated
// principal reaches them
func (m *AuthorizeMiddleware) RequireOwnership(owner OwnerAccessor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var ownerFunc authz.OwnerFunc
			if owner != nil {
				ownerFunc = func(ctx context.Context) (string, error) {
					return owner(r.WithContext(ctx))
				}
			}
			m.serve(w, r, authz.RequireOwnership(ownerFunc), next)
		})
	}
}

func (m *AuthorizeMiddleware) serve(w http.ResponseWriter, r *http.Request, req authz.Requirement, next http.Handler) {
	ctx := r.Context()
	principal, _ := auth.PrincipalFromContext(ctx)

	if err := m.authorizer.Authorize(ctx, principal, req); err != nil {
		audit.SetError(ctx, err)
		observability.FromContext(ctx).WithError(err).WithField("requirement", req.String()).Info("Request denied")
		httputil.WriteForbidden(w, authz.ErrForbidden.Error())
		return
	}

	next.ServeHTTP(w, r)
}
