package rbac

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

const maxRoleNameLength = 255

// Registry is the business layer over Store. Mutations run as single
// transactions on a context detached from the caller's cancellation, so an
// aborted request can never leave a partial write behind. Reads always hit
// the store; nothing is cached.
type Registry struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry logger
func WithLogger(logger *observability.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records store operation counts and latency
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// WithTimeout bounds every store call
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRegistry creates a registry over store
func NewRegistry(store *Store, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		logger:  observability.NewNopLogger(),
		timeout: 5 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) mutationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

func (r *Registry) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// observe is deferred with a pointer to the named error result
func (r *Registry) observe(op string, start time.Time, err *error) {
	r.metrics.ObserveStoreOperation(op, *err, time.Since(start))
}

func validateRoleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidRole)
	}
	if len(name) > maxRoleNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRole, maxRoleNameLength)
	}
	return name, nil
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRole)
	}
	return nil
}

// CreateRole persists a role and its permissions in one transaction
func (r *Registry) CreateRole(ctx context.Context, name, description string, permissions []string) (role *Role, err error) {
	defer r.observe("create_role", time.Now(), &err)

	name, err = validateRoleName(name)
	if err != nil {
		return nil, err
	}
	perms := NormalizePermissions(permissions)
	now := r.now()

	ctx, cancel := r.mutationContext(ctx)
	defer cancel()

	var id int64
	err = r.store.InTx(ctx, "rbac.create_role", func(tx *Store) error {
		var err error
		id, err = tx.InsertRole(ctx, name, description, now)
		if err != nil {
			return err
		}
		return tx.InsertPermissions(ctx, id, perms)
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(map[string]interface{}{
		"role_id":     id,
		"role":        name,
		"permissions": len(perms),
	}).Info("Role created")

	return &Role{
		ID:          id,
		Name:        name,
		Description: description,
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetRole returns a role with its permissions
func (r *Registry) GetRole(ctx context.Context, id int64) (role *Role, err error) {
	defer r.observe("get_role", time.Now(), &err)

	ctx, cancel := r.readContext(ctx)
	defer cancel()
	return r.store.GetRole(ctx, id)
}

// GetRoleByName returns the role with the given name
func (r *Registry) GetRoleByName(ctx context.Context, name string) (role *Role, err error) {
	defer r.observe("get_role_by_name", time.Now(), &err)

	ctx, cancel := r.readContext(ctx)
	defer cancel()
	return r.store.GetRoleByName(ctx, name)
}

// ListRoles returns all roles ordered by name
func (r *Registry) ListRoles(ctx context.Context) (roles []Role, err error) {
	defer r.observe("list_roles", time.Now(), &err)

	ctx, cancel := r.readContext(ctx)
	defer cancel()
	return r.store.ListRoles(ctx)
}

// UpdateRole merges the supplied fields into the role. A supplied permission
// set replaces the existing one inside the same transaction.
func (r *Registry) UpdateRole(ctx context.Context, id int64, update RoleUpdate) (role *Role, err error) {
	defer r.observe("update_role", time.Now(), &err)

	var name string
	if update.Name != nil {
		if name, err = validateRoleName(*update.Name); err != nil {
			return nil, err
		}
	}
	now := r.now()

	ctx, cancel := r.mutationContext(ctx)
	defer cancel()

	err = r.store.InTx(ctx, "rbac.update_role", func(tx *Store) error {
		current, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}

		if update.Name != nil {
			current.Name = name
		}
		if update.Description != nil {
			current.Description = *update.Description
		}

		found, err := tx.UpdateRoleFields(ctx, id, current.Name, current.Description, now)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %d", ErrRoleNotFound, id)
		}
		current.UpdatedAt = now

		if update.Permissions != nil {
			perms := NormalizePermissions(*update.Permissions)
			if err := tx.DeletePermissions(ctx, id); err != nil {
				return err
			}
			if err := tx.InsertPermissions(ctx, id, perms); err != nil {
				return err
			}
			current.Permissions = perms
		}

		role = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(map[string]interface{}{
		"role_id":              id,
		"role":                 role.Name,
		"permissions_replaced": update.Permissions != nil,
	}).Info("Role updated")

	return role, nil
}

// DeleteRole removes a role, its permissions and every assignment of it in
// one transaction
func (r *Registry) DeleteRole(ctx context.Context, id int64) (err error) {
	defer r.observe("delete_role", time.Now(), &err)

	ctx, cancel := r.mutationContext(ctx)
	defer cancel()

	var revoked int64
	err = r.store.InTx(ctx, "rbac.delete_role", func(tx *Store) error {
		exists, err := tx.RoleExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %d", ErrRoleNotFound, id)
		}

		if revoked, err = tx.DeleteAssignmentsForRole(ctx, id); err != nil {
			return err
		}
		if err := tx.DeletePermissions(ctx, id); err != nil {
			return err
		}
		if _, err := tx.DeleteRole(ctx, id); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.WithFields(map[string]interface{}{
		"role_id":             id,
		"assignments_removed": revoked,
	}).Info("Role deleted")
	return nil
}

// AssignRole grants a role to a user. It reports false when the user
// already held it.
func (r *Registry) AssignRole(ctx context.Context, userID string, roleID int64) (created bool, err error) {
	defer r.observe("assign_role", time.Now(), &err)

	if err = validateUserID(userID); err != nil {
		return false, err
	}
	now := r.now()

	ctx, cancel := r.mutationContext(ctx)
	defer cancel()

	err = r.store.InTx(ctx, "rbac.assign_role", func(tx *Store) error {
		exists, err := tx.RoleExists(ctx, roleID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %d", ErrRoleNotFound, roleID)
		}
		created, err = tx.InsertUserRole(ctx, userID, roleID, now)
		return err
	})
	if err != nil {
		return false, err
	}

	if created {
		r.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"role_id": roleID,
		}).Info("Role assigned")
	}
	return created, nil
}

// RevokeRole removes a role from a user. It reports false when the user did
// not hold it.
func (r *Registry) RevokeRole(ctx context.Context, userID string, roleID int64) (removed bool, err error) {
	defer r.observe("revoke_role", time.Now(), &err)

	ctx, cancel := r.mutationContext(ctx)
	defer cancel()

	err = r.store.InTx(ctx, "rbac.revoke_role", func(tx *Store) error {
		removed, err = tx.DeleteUserRole(ctx, userID, roleID)
		return err
	})
	if err != nil {
		return false, err
	}

	if removed {
		r.logger.WithFields(map[string]interface{}{
			"user_id": userID,
			"role_id": roleID,
		}).Info("Role revoked")
	}
	return removed, nil
}

// ResolvePermissions returns the sorted union of the user's permissions.
// A user with no roles resolves to an empty slice.
func (r *Registry) ResolvePermissions(ctx context.Context, userID string) (perms []string, err error) {
	defer r.observe("resolve_permissions", time.Now(), &err)

	ctx, cancel := r.readContext(ctx)
	defer cancel()

	perms, err = r.store.UserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []string{}
	}
	return perms, nil
}

// HasPermission reports whether any of the user's roles grants permission
func (r *Registry) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	perms, err := r.ResolvePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return slices.Contains(perms, permission), nil
}

// UserRoles returns the roles a user currently holds
func (r *Registry) UserRoles(ctx context.Context, userID string) (roles []Role, err error) {
	defer r.observe("user_roles", time.Now(), &err)

	ctx, cancel := r.readContext(ctx)
	defer cancel()
	return r.store.UserRoles(ctx, userID)
}

// HasAnyRole reports whether the user currently holds any of the named roles
func (r *Registry) HasAnyRole(ctx context.Context, userID string, names ...string) (bool, error) {
	roles, err := r.UserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if slices.Contains(names, role.Name) {
			return true, nil
		}
	}
	return false, nil
}

// SeedDefaultRoles creates each definition whose name is not taken yet and
// returns the names it created. Definitions are handled one at a time so a
// failure on one does not block the rest; losing a creation race to another
// instance counts as already seeded.
func (r *Registry) SeedDefaultRoles(ctx context.Context, defs []RoleDefinition) ([]string, error) {
	created := []string{}
	var errs []error

	for _, def := range defs {
		_, err := r.GetRoleByName(ctx, def.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrRoleNotFound) {
			errs = append(errs, fmt.Errorf("seed %s: %w", def.Name, err))
			continue
		}

		_, err = r.CreateRole(ctx, def.Name, def.Description, def.Permissions)
		switch {
		case errors.Is(err, ErrDuplicateRoleName):
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("seed %s: %w", def.Name, err))
			continue
		}
		created = append(created, def.Name)
	}

	if len(created) > 0 {
		r.logger.WithField("roles", created).Info("Seeded default roles")
	}
	return created, errors.Join(errs...)
}
