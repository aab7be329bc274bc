package rbac

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoleDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []RoleDefinition
		wantErr bool
	}{
		{
			name: "valid",
			input: `
roles:
  - name: Billing
    description: Invoicing
    permissions: [billing:update, billing:read, billing:read]
  - name: Guest
`,
			want: []RoleDefinition{
				{Name: "Billing", Description: "Invoicing", Permissions: []string{"billing:read", "billing:update"}},
				{Name: "Guest", Permissions: []string{}},
			},
		},
		{
			name:    "missing name",
			input:   "roles:\n  - description: nameless\n",
			wantErr: true,
		},
		{
			name:    "duplicate name",
			input:   "roles:\n  - name: A\n  - name: A\n",
			wantErr: true,
		},
		{
			name:    "empty permission",
			input:   "roles:\n  - name: A\n    permissions: [\"\"]\n",
			wantErr: true,
		},
		{
			name:    "permission without action",
			input:   "roles:\n  - name: A\n    permissions: [billing]\n",
			wantErr: true,
		},
		{
			name:    "permission without resource",
			input:   "roles:\n  - name: A\n    permissions: [\":read\"]\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			input:   "roles: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRoleDefinitions([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRoleDefinitions_InvalidIsInvalidRole(t *testing.T) {
	_, err := ParseRoleDefinitions([]byte("roles:\n  - name: A\n  - name: A\n"))
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestLoadRoleDefinitions(t *testing.T) {
	_, err := LoadRoleDefinitions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  - name: Billing\n    permissions: [billing:read]\n"), 0o600))

	defs, err := LoadRoleDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Billing", defs[0].Name)
}

func TestDefaultRolesAreValid(t *testing.T) {
	for _, def := range DefaultRoles() {
		assert.NoError(t, validate.Struct(def), def.Name)
		assert.Equal(t, NormalizePermissions(def.Permissions), def.Permissions, def.Name)
	}
}

func TestWatchRoleDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  - name: A\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan []RoleDefinition, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchRoleDefinitions(ctx, path, 20*time.Millisecond, nil, func(defs []RoleDefinition) {
			changes <- defs
		})
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("ignored"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  - name: B\n    permissions: [b:read]\n"), 0o600))

	select {
	case defs := <-changes:
		require.Len(t, defs, 1)
		assert.Equal(t, "B", defs[0].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
