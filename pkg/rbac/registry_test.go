package rbac

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/accessgate/pkg/observability"
)

func TestRegistry_CreateRole(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes permissions", func(t *testing.T) {
		reg := NewTestRegistry(t)

		role, err := reg.CreateRole(ctx, "  Billing ", "Invoicing", []string{"billing:update", "billing:read", "billing:read", " ", " billing:update"})
		require.NoError(t, err)
		assert.NotZero(t, role.ID)
		assert.Equal(t, "Billing", role.Name)
		assert.Equal(t, []string{"billing:read", "billing:update"}, role.Permissions)

		stored, err := reg.GetRole(ctx, role.ID)
		require.NoError(t, err)
		assert.Equal(t, role.Permissions, stored.Permissions)
		assert.Equal(t, "Invoicing", stored.Description)
		assert.False(t, stored.CreatedAt.IsZero())
	})

	t.Run("zero permissions is valid", func(t *testing.T) {
		reg := NewTestRegistry(t)

		role, err := reg.CreateRole(ctx, "Guest", "", nil)
		require.NoError(t, err)
		assert.Empty(t, role.Permissions)
		assert.NotNil(t, role.Permissions)
	})

	t.Run("duplicate name", func(t *testing.T) {
		reg := NewTestRegistry(t)

		_, err := reg.CreateRole(ctx, "Nurse", "", []string{"patients:read"})
		require.NoError(t, err)

		_, err = reg.CreateRole(ctx, "Nurse", "", []string{"patients:update"})
		assert.ErrorIs(t, err, ErrDuplicateRoleName)

		roles, err := reg.ListRoles(ctx)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, []string{"patients:read"}, roles[0].Permissions)
	})

	t.Run("empty name", func(t *testing.T) {
		reg := NewTestRegistry(t)

		_, err := reg.CreateRole(ctx, "   ", "", nil)
		assert.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("survives caller cancellation", func(t *testing.T) {
		reg := NewTestRegistry(t)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		role, err := reg.CreateRole(cancelled, "Doctor", "", []string{"patients:read"})
		require.NoError(t, err)

		stored, err := reg.GetRole(ctx, role.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"patients:read"}, stored.Permissions)
	})
}

func TestRegistry_GetAndList(t *testing.T) {
	ctx := context.Background()
	reg := NewTestRegistry(t)

	_, err := reg.GetRole(ctx, 42)
	assert.ErrorIs(t, err, ErrRoleNotFound)

	_, err = reg.GetRoleByName(ctx, "Nobody")
	assert.ErrorIs(t, err, ErrRoleNotFound)

	for _, name := range []string{"Receptionist", "Administrator", "Nurse"} {
		_, err := reg.CreateRole(ctx, name, "", []string{name + ":x"})
		require.NoError(t, err)
	}

	roles, err := reg.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, "Administrator", roles[0].Name)
	assert.Equal(t, "Nurse", roles[1].Name)
	assert.Equal(t, "Receptionist", roles[2].Name)
	assert.Equal(t, []string{"Nurse:x"}, roles[1].Permissions)

	byName, err := reg.GetRoleByName(ctx, "Nurse")
	require.NoError(t, err)
	assert.Equal(t, roles[1].ID, byName.ID)
}

func TestRegistry_UpdateRole(t *testing.T) {
	ctx := context.Background()

	str := func(s string) *string { return &s }
	perms := func(p ...string) *[]string { return &p }

	t.Run("merges supplied fields only", func(t *testing.T) {
		reg := NewTestRegistry(t)
		role, err := reg.CreateRole(ctx, "Billing", "old", []string{"billing:read"})
		require.NoError(t, err)

		updated, err := reg.UpdateRole(ctx, role.ID, RoleUpdate{Description: str("new")})
		require.NoError(t, err)
		assert.Equal(t, "Billing", updated.Name)
		assert.Equal(t, "new", updated.Description)
		assert.Equal(t, []string{"billing:read"}, updated.Permissions)
	})

	t.Run("replaces the permission set", func(t *testing.T) {
		reg := NewTestRegistry(t)
		role, err := reg.CreateRole(ctx, "Billing", "", []string{"billing:read", "billing:update"})
		require.NoError(t, err)

		_, err = reg.UpdateRole(ctx, role.ID, RoleUpdate{Permissions: perms("reports:read", "billing:read")})
		require.NoError(t, err)

		stored, err := reg.GetRole(ctx, role.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"billing:read", "reports:read"}, stored.Permissions)
	})

	t.Run("empty permission set clears", func(t *testing.T) {
		reg := NewTestRegistry(t)
		role, err := reg.CreateRole(ctx, "Billing", "", []string{"billing:read"})
		require.NoError(t, err)

		_, err = reg.UpdateRole(ctx, role.ID, RoleUpdate{Permissions: perms()})
		require.NoError(t, err)

		stored, err := reg.GetRole(ctx, role.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.Permissions)
	})

	t.Run("rename onto existing name", func(t *testing.T) {
		reg := NewTestRegistry(t)
		_, err := reg.CreateRole(ctx, "Doctor", "", nil)
		require.NoError(t, err)
		nurse, err := reg.CreateRole(ctx, "Nurse", "", []string{"patients:read"})
		require.NoError(t, err)

		_, err = reg.UpdateRole(ctx, nurse.ID, RoleUpdate{Name: str("Doctor"), Permissions: perms("x:y")})
		assert.ErrorIs(t, err, ErrDuplicateRoleName)

		stored, err := reg.GetRole(ctx, nurse.ID)
		require.NoError(t, err)
		assert.Equal(t, "Nurse", stored.Name)
		assert.Equal(t, []string{"patients:read"}, stored.Permissions)
	})

	t.Run("not found", func(t *testing.T) {
		reg := NewTestRegistry(t)
		_, err := reg.UpdateRole(ctx, 99, RoleUpdate{Description: str("x")})
		assert.ErrorIs(t, err, ErrRoleNotFound)
	})

	t.Run("blank name rejected", func(t *testing.T) {
		reg := NewTestRegistry(t)
		role, err := reg.CreateRole(ctx, "Billing", "", nil)
		require.NoError(t, err)
		_, err = reg.UpdateRole(ctx, role.ID, RoleUpdate{Name: str(" ")})
		assert.ErrorIs(t, err, ErrInvalidRole)
	})
}

func TestRegistry_Assignments(t *testing.T) {
	ctx := context.Background()
	reg := NewTestRegistry(t)

	doctor, err := reg.CreateRole(ctx, "Doctor", "", []string{"patients:read", "prescriptions:create"})
	require.NoError(t, err)
	nurse, err := reg.CreateRole(ctx, "Nurse", "", []string{"patients:read", "patients:update"})
	require.NoError(t, err)

	created, err := reg.AssignRole(ctx, "U1", doctor.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = reg.AssignRole(ctx, "U1", doctor.ID)
	require.NoError(t, err)
	assert.False(t, created, "second assignment is a no-op")

	_, err = reg.AssignRole(ctx, "U1", nurse.ID)
	require.NoError(t, err)

	perms, err := reg.ResolvePermissions(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"patients:read", "patients:update", "prescriptions:create"}, perms)

	roles, err := reg.UserRoles(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "Doctor", roles[0].Name)
	assert.Equal(t, []string{"patients:read", "prescriptions:create"}, roles[0].Permissions)

	removed, err := reg.RevokeRole(ctx, "U1", doctor.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = reg.RevokeRole(ctx, "U1", doctor.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	ok, err := reg.HasPermission(ctx, "U1", "prescriptions:create")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = reg.AssignRole(ctx, "U1", 9999)
	assert.ErrorIs(t, err, ErrRoleNotFound)

	_, err = reg.AssignRole(ctx, "", doctor.ID)
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestRegistry_ResolvePermissionsEmpty(t *testing.T) {
	reg := NewTestRegistry(t)

	perms, err := reg.ResolvePermissions(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, perms)
	assert.Empty(t, perms)
}

func TestRegistry_BillingScenario(t *testing.T) {
	ctx := context.Background()
	reg := NewTestRegistry(t)

	billing, err := reg.CreateRole(ctx, "Billing", "", []string{"billing:read", "billing:update"})
	require.NoError(t, err)

	_, err = reg.AssignRole(ctx, "U1", billing.ID)
	require.NoError(t, err)

	ok, err := reg.HasPermission(ctx, "U1", "billing:read")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.HasPermission(ctx, "U1", "patients:delete")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = reg.RevokeRole(ctx, "U1", billing.ID)
	require.NoError(t, err)

	ok, err = reg.HasPermission(ctx, "U1", "billing:read")
	require.NoError(t, err)
	assert.False(t, ok, "revocation takes effect on the next check")
}

func TestRegistry_DeleteRoleCascades(t *testing.T) {
	ctx := context.Background()
	reg := NewTestRegistry(t)

	billing, err := reg.CreateRole(ctx, "Billing", "", []string{"billing:read", "billing:update"})
	require.NoError(t, err)
	_, err = reg.AssignRole(ctx, "U1", billing.ID)
	require.NoError(t, err)

	require.NoError(t, reg.DeleteRole(ctx, billing.ID))

	perms, err := reg.ResolvePermissions(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, perms)

	roles, err := reg.UserRoles(ctx, "U1")
	require.NoError(t, err)
	assert.Empty(t, roles)

	_, err = reg.GetRole(ctx, billing.ID)
	assert.ErrorIs(t, err, ErrRoleNotFound)

	assert.ErrorIs(t, reg.DeleteRole(ctx, billing.ID), ErrRoleNotFound)

	// the name is free again
	_, err = reg.CreateRole(ctx, "Billing", "", nil)
	assert.NoError(t, err)
}

func TestRegistry_SeedDefaultRoles(t *testing.T) {
	ctx := context.Background()
	reg := NewTestRegistry(t)

	created, err := reg.SeedDefaultRoles(ctx, DefaultRoles())
	require.NoError(t, err)
	assert.Equal(t, []string{RoleAdministrator, RoleDoctor, RoleNurse, RoleReceptionist, RoleBilling}, created)

	created, err = reg.SeedDefaultRoles(ctx, DefaultRoles())
	require.NoError(t, err)
	assert.Empty(t, created)

	roles, err := reg.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 5)

	billing, err := reg.GetRoleByName(ctx, RoleBilling)
	require.NoError(t, err)
	assert.True(t, billing.HasPermission("billing:read"))
	assert.False(t, billing.HasPermission("patients:delete"))
}

func TestRegistry_SeedKeepsExistingRoles(t *testing.T) {
	ctx := context.Background()
	reg := NewTestRegistry(t)

	_, err := reg.CreateRole(ctx, RoleNurse, "customized", []string{"patients:read"})
	require.NoError(t, err)

	created, err := reg.SeedDefaultRoles(ctx, DefaultRoles())
	require.NoError(t, err)
	assert.NotContains(t, created, RoleNurse)

	nurse, err := reg.GetRoleByName(ctx, RoleNurse)
	require.NoError(t, err)
	assert.Equal(t, "customized", nurse.Description)
	assert.Equal(t, []string{"patients:read"}, nurse.Permissions)
}

func TestRegistry_ConcurrentAssign(t *testing.T) {
	ctx := context.Background()
	reg := NewTestRegistry(t)

	role, err := reg.CreateRole(ctx, "Nurse", "", []string{"patients:read"})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := reg.AssignRole(ctx, "U1", role.ID)
			assert.NoError(t, err)
			if created {
				mu.Lock()
				creates++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, creates)
}

func TestRegistry_Metrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	reg := NewTestRegistry(t, WithMetrics(metrics))
	ctx := context.Background()

	_, err := reg.CreateRole(ctx, "Billing", "", nil)
	require.NoError(t, err)
	_, err = reg.GetRole(ctx, 999)
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("create_role", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StoreOperationsTotal.WithLabelValues("get_role", "error")))
}
