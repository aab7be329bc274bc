// Package rbac provides role-based access control: durable roles, their
// permission sets, and user assignments.
//
// # Overview
//
// Store is the data-access layer. It issues only parameterized statements and
// checks connections out through postgres.Acquire so every unit of work has a
// scoped, deferred release. Registry carries the business rules on top of it:
// validation, transactions, seeding and permission resolution.
//
// # Data Model
//
//	roles(id, name UNIQUE, description, created_at, updated_at)
//	role_permissions(role_id, permission)   PRIMARY KEY (role_id, permission)
//	user_roles(user_id, role_id, assigned_at) PRIMARY KEY (user_id, role_id)
//
// Permissions are bare "<resource>:<action>" strings. They exist only as rows
// of role_permissions, so a role with no permissions is valid and grants
// nothing.
//
// # Transactions
//
// CreateRole, UpdateRole, DeleteRole, AssignRole and RevokeRole each run in one
// transaction. UpdateRole replaces a supplied permission set by deleting and
// re-inserting inside that transaction, so readers never see a role whose
// permissions are half written. Mutations are started on a context detached
// from the caller's cancellation and bounded by the registry timeout.
//
// # Reads
//
// ResolvePermissions, HasPermission and UserRoles always query the store. A
// revoked role stops granting on the very next check.
//
// # Seeding
//
//	created, err := registry.SeedDefaultRoles(ctx, rbac.DefaultRoles())
//
// Seeding creates each definition whose name is free and skips the rest, so it
// is safe to run on every start. Definitions can also come from YAML:
//
//	roles:
//	  - name: Billing
//	    description: Invoicing and payments
//	    permissions: [billing:read, billing:update]
//
// # Errors
//
//	ErrRoleNotFound       404
//	ErrDuplicateRoleName  409
//	ErrInvalidRole        400
//	ErrStoreUnavailable   503 on admin routes, Forbidden when authorizing
package rbac
