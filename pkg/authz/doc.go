// Package authz makes allow/deny decisions for authenticated principals.
//
// Three requirement kinds are supported:
//
//	authz.RequirePermission("billing:read")
//	authz.RequireAnyRole("Billing", "Support")
//	authz.RequireOwnership(func(ctx context.Context) (string, error) { ... })
//
// Permission requirements are checked against the live role graph through a
// PermissionChecker (normally *rbac.Registry) so revocations take effect on
// the next request. Role requirements use the roles carried by the
// credential.
//
// Principals holding an elevated role (default superadmin and Administrator)
// pass every requirement, including permissions that no role grants.
//
// Decisions fail closed. A nil principal, a store error, a timeout or a
// failing owner accessor all produce an error wrapping ErrForbidden.
package authz
