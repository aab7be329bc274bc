package authz

import (
	"context"
	"strings"
)

type kind int

const (
	kindPermission kind = iota + 1
	kindAnyRole
	kindOwnership
)

func (k kind) String() string {
	switch k {
	case kindPermission:
		return "permission"
	case kindAnyRole:
		return "role"
	case kindOwnership:
		return "ownership"
	default:
		return "unknown"
	}
}

// OwnerFunc returns the principal id owning the resource being accessed
type OwnerFunc func(ctx context.Context) (string, error)

// Requirement is what a principal must satisfy. The zero value is never
// satisfied.
type Requirement struct {
	kind       kind
	permission string
	roles      []string
	owner      OwnerFunc
}

// RequirePermission requires permission in the principal's resolved
// permission set
func RequirePermission(permission string) Requirement {
	return Requirement{kind: kindPermission, permission: permission}
}

// RequireAnyRole requires at least one of roles among the principal's roles
func RequireAnyRole(roles ...string) Requirement {
	return Requirement{kind: kindAnyRole, roles: roles}
}

// RequireOwnership requires the principal to own the resource reported by
// owner
func RequireOwnership(owner OwnerFunc) Requirement {
	return Requirement{kind: kindOwnership, owner: owner}
}

func (r Requirement) target() string {
	switch r.kind {
	case kindPermission:
		return r.permission
	case kindAnyRole:
		return strings.Join(r.roles, ",")
	default:
		return ""
	}
}

// String describes the requirement for logs
func (r Requirement) String() string {
	if t := r.target(); t != "" {
		return r.kind.String() + ":" + t
	}
	return r.kind.String()
}
