package rbac

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// Role is a named set of permission strings
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasPermission reports whether the role grants permission
func (r *Role) HasPermission(permission string) bool {
	return slices.Contains(r.Permissions, permission)
}

// UserRole records that a user holds a role
type UserRole struct {
	UserID     string    `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// RoleUpdate carries the fields to change on a role. Nil fields are left
// untouched; a non-nil Permissions replaces the whole set.
type RoleUpdate struct {
	Name        *string   `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string   `json:"description,omitempty" validate:"omitempty,max=1024"`
	Permissions *[]string `json:"permissions,omitempty" validate:"omitempty,dive,required,max=255"`
}

// RoleDefinition describes a role to seed
type RoleDefinition struct {
	Name        string   `json:"name" yaml:"name" validate:"required,max=255"`
	Description string   `json:"description" yaml:"description" validate:"max=1024"`
	Permissions []string `json:"permissions" yaml:"permissions" validate:"dive,required,max=255"`
}

// Default role names
const (
	RoleAdministrator = "Administrator"
	RoleDoctor        = "Doctor"
	RoleNurse         = "Nurse"
	RoleReceptionist  = "Receptionist"
	RoleBilling       = "Billing"

	// RoleSuperAdmin is never seeded; it is granted by the identity provider
	RoleSuperAdmin = "superadmin"
)

// Resources
const (
	ResourcePatients       = "patients"
	ResourceAppointments   = "appointments"
	ResourceMedicalRecords = "medical_records"
	ResourcePrescriptions  = "prescriptions"
	ResourceBilling        = "billing"
	ResourceReports        = "reports"
	ResourceUsers          = "users"
	ResourceRoles          = "roles"
	ResourceAudit          = "audit"
)

// Actions
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionManage = "manage"
)

// Permission builds a "<resource>:<action>" permission string
func Permission(resource, action string) string {
	return resource + ":" + action
}

// ParsePermission splits a permission into resource and action
func ParsePermission(permission string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(permission, ":")
	if !ok || resource == "" || action == "" {
		return "", "", false
	}
	return resource, action, true
}

// NormalizePermissions trims, de-duplicates and sorts permissions. Blank
// entries are dropped. The result is never nil.
func NormalizePermissions(permissions []string) []string {
	seen := make(map[string]struct{}, len(permissions))
	out := make([]string, 0, len(permissions))
	for _, p := range permissions {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func crud(resource string, actions ...string) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, Permission(resource, a))
	}
	return out
}

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return NormalizePermissions(out)
}

// DefaultRoles returns the built-in role set seeded at startup
func DefaultRoles() []RoleDefinition {
	all := []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

	return []RoleDefinition{
		{
			Name:        RoleAdministrator,
			Description: "Full administrative access",
			Permissions: concat(
				crud(ResourcePatients, all...),
				crud(ResourceAppointments, all...),
				crud(ResourceMedicalRecords, all...),
				crud(ResourcePrescriptions, all...),
				crud(ResourceBilling, all...),
				crud(ResourceReports, ActionRead),
				crud(ResourceUsers, all...),
				crud(ResourceRoles, ActionRead, ActionManage),
				crud(ResourceAudit, ActionRead),
			),
		},
		{
			Name:        RoleDoctor,
			Description: "Clinical staff with prescribing rights",
			Permissions: concat(
				crud(ResourcePatients, ActionRead, ActionUpdate),
				crud(ResourceAppointments, ActionRead, ActionUpdate),
				crud(ResourceMedicalRecords, ActionCreate, ActionRead, ActionUpdate),
				crud(ResourcePrescriptions, ActionCreate, ActionRead, ActionUpdate),
			),
		},
		{
			Name:        RoleNurse,
			Description: "Clinical staff",
			Permissions: concat(
				crud(ResourcePatients, ActionRead, ActionUpdate),
				crud(ResourceAppointments, ActionRead),
				crud(ResourceMedicalRecords, ActionRead, ActionUpdate),
				crud(ResourcePrescriptions, ActionRead),
			),
		},
		{
			Name:        RoleReceptionist,
			Description: "Front desk scheduling and registration",
			Permissions: concat(
				crud(ResourcePatients, ActionCreate, ActionRead, ActionUpdate),
				crud(ResourceAppointments, all...),
				crud(ResourceBilling, ActionRead),
			),
		},
		{
			Name:        RoleBilling,
			Description: "Invoicing and payments",
			Permissions: concat(
				crud(ResourceBilling, ActionCreate, ActionRead, ActionUpdate),
				crud(ResourcePatients, ActionRead),
				crud(ResourceReports, ActionRead),
			),
		},
	}
}
