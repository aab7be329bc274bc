package rbac

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against TEST_POSTGRES_PRIMARY when it is set; skipped otherwise.
func TestRegistry_Postgres(t *testing.T) {
	db := RequireDatabase(t)
	ctx := context.Background()
	reg := NewRegistry(NewStore(db))

	suffix := uuid.NewString()[:8]
	user := "pg-user-" + suffix

	billing, err := reg.CreateRole(ctx, "Billing-"+suffix, "", []string{"billing:read", "billing:update"})
	require.NoError(t, err)
	t.Cleanup(func() { reg.DeleteRole(context.Background(), billing.ID) })

	t.Run("duplicate name maps to ErrDuplicateRoleName", func(t *testing.T) {
		_, err := reg.CreateRole(ctx, billing.Name, "", nil)
		assert.ErrorIs(t, err, ErrDuplicateRoleName)
	})

	t.Run("assign resolve revoke", func(t *testing.T) {
		created, err := reg.AssignRole(ctx, user, billing.ID)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = reg.AssignRole(ctx, user, billing.ID)
		require.NoError(t, err)
		assert.False(t, created)

		perms, err := reg.ResolvePermissions(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, []string{"billing:read", "billing:update"}, perms)

		removed, err := reg.RevokeRole(ctx, user, billing.ID)
		require.NoError(t, err)
		assert.True(t, removed)

		ok, err := reg.HasPermission(ctx, user, "billing:read")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete cascades", func(t *testing.T) {
		role, err := reg.CreateRole(ctx, "Temp-"+suffix, "", []string{"reports:read"})
		require.NoError(t, err)
		_, err = reg.AssignRole(ctx, user, role.ID)
		require.NoError(t, err)

		require.NoError(t, reg.DeleteRole(ctx, role.ID))

		perms, err := reg.ResolvePermissions(ctx, user)
		require.NoError(t, err)
		assert.Empty(t, perms)
	})
}
