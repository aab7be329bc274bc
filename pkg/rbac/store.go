package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/accessgate/pkg/storage/postgres"
)

// DBTX is satisfied by scoped connections and transactions
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store handles role and assignment persistence. It holds no business
// rules; every statement is parameterized.
type Store struct {
	db        *sql.DB
	tx        DBTX
	scopeOpts []postgres.ScopeOption
}

// NewStore creates a store over db. Scope options apply to every
// connection the store checks out.
func NewStore(db *sql.DB, opts ...postgres.ScopeOption) *Store {
	return &Store{db: db, scopeOpts: opts}
}

func (s *Store) acquire(ctx context.Context, label string) (*postgres.ScopedConn, error) {
	opts := make([]postgres.ScopeOption, 0, len(s.scopeOpts)+1)
	opts = append(opts, s.scopeOpts...)
	opts = append(opts, postgres.WithLabel(label))

	conn, err := postgres.Acquire(ctx, s.db, opts...)
	if err != nil {
		return nil, classifyError(err)
	}
	return conn, nil
}

// run executes fn on the active transaction, or on a freshly acquired
// connection that is released when fn returns
func (s *Store) run(ctx context.Context, label string, fn func(q DBTX) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	conn, err := s.acquire(ctx, label)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn)
}

// InTx runs fn inside a single transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, label string, fn func(tx *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	conn, err := s.acquire(ctx, label)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classifyError(err))
	}

	if err := fn(&Store{db: s.db, tx: tx, scopeOpts: s.scopeOpts}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classifyError(err))
	}
	return nil
}

// InsertRole inserts a role row and returns its id
func (s *Store) InsertRole(ctx context.Context, name, description string, now time.Time) (int64, error) {
	query := `
		INSERT INTO roles (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	err := s.run(ctx, "rbac.insert_role", func(q DBTX) error {
		return q.QueryRowContext(ctx, query, name, description, now, now).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create role: %w", classifyError(err))
	}
	return id, nil
}

// InsertPermissions adds permission rows to a role, ignoring ones it already has
func (s *Store) InsertPermissions(ctx context.Context, roleID int64, permissions []string) error {
	if len(permissions) == 0 {
		return nil
	}

	query := `
		INSERT INTO role_permissions (role_id, permission)
		VALUES ($1, $2)
		ON CONFLICT (role_id, permission) DO NOTHING
	`

	err := s.run(ctx, "rbac.insert_permissions", func(q DBTX) error {
		for _, p := range permissions {
			if _, err := q.ExecContext(ctx, query, roleID, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert permissions: %w", classifyError(err))
	}
	return nil
}

// DeletePermissions removes every permission row of a role
func (s *Store) DeletePermissions(ctx context.Context, roleID int64) error {
	err := s.run(ctx, "rbac.delete_permissions", func(q DBTX) error {
		_, err := q.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete permissions: %w", classifyError(err))
	}
	return nil
}

// GetRole retrieves a role and its permissions by id
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM roles
		WHERE id = $1
	`
	return s.getRole(ctx, "rbac.get_role", query, roleID)
}

// GetRoleByName retrieves a role and its permissions by name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := `
		SELECT id, name, description, created_at, updated_at
		FROM roles
		WHERE name = $1
	`
	return s.getRole(ctx, "rbac.get_role_by_name", query, name)
}

func (s *Store) getRole(ctx context.Context, label, query string, arg interface{}) (*Role, error) {
	var role Role
	err := s.run(ctx, label, func(q DBTX) error {
		err := q.QueryRowContext(ctx, query, arg).Scan(
			&role.ID,
			&role.Name,
			&role.Description,
			&role.CreatedAt,
			&role.UpdatedAt,
		)
		if err != nil {
			return err
		}

		perms, err := queryStrings(ctx, q,
			`SELECT permission FROM role_permissions WHERE role_id = $1 ORDER BY permission`,
			role.ID,
		)
		if err != nil {
			return err
		}
		role.Permissions = perms
		return nil
	})

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", ErrRoleNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", classifyError(err))
	}
	return &role, nil
}

// ListRoles returns every role ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	var roles []Role
	err := s.run(ctx, "rbac.list_roles", func(q DBTX) error {
		var err error
		roles, err = queryRoles(ctx, q, `
			SELECT id, name, description, created_at, updated_at
			FROM roles
			ORDER BY name
		`)
		if err != nil {
			return err
		}
		return attachPermissions(ctx, q, roles, `
			SELECT role_id, permission
			FROM role_permissions
			ORDER BY role_id, permission
		`)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", classifyError(err))
	}
	return roles, nil
}

// UpdateRoleFields overwrites name and description. It reports false when
// no role has the id.
func (s *Store) UpdateRoleFields(ctx context.Context, roleID int64, name, description string, now time.Time) (bool, error) {
	query := `
		UPDATE roles
		SET name = $1, description = $2, updated_at = $3
		WHERE id = $4
	`

	var affected int64
	err := s.run(ctx, "rbac.update_role", func(q DBTX) error {
		res, err := q.ExecContext(ctx, query, name, description, now, roleID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to update role: %w", classifyError(err))
	}
	return affected > 0, nil
}

// DeleteRole removes the role row. It reports false when no role has the id.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) (bool, error) {
	var affected int64
	err := s.run(ctx, "rbac.delete_role", func(q DBTX) error {
		res, err := q.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete role: %w", classifyError(err))
	}
	return affected > 0, nil
}

// DeleteAssignmentsForRole removes every user assignment of a role
func (s *Store) DeleteAssignmentsForRole(ctx context.Context, roleID int64) (int64, error) {
	var affected int64
	err := s.run(ctx, "rbac.delete_role_assignments", func(q DBTX) error {
		res, err := q.ExecContext(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete role assignments: %w", classifyError(err))
	}
	return affected, nil
}

// RoleExists reports whether a role with the id exists
func (s *Store) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	var n int
	err := s.run(ctx, "rbac.role_exists", func(q DBTX) error {
		return q.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles WHERE id = $1`, roleID).Scan(&n)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", classifyError(err))
	}
	return n > 0, nil
}

// InsertUserRole assigns a role to a user. It reports false when the user
// already held the role.
func (s *Store) InsertUserRole(ctx context.Context, userID string, roleID int64, now time.Time) (bool, error) {
	query := `
		INSERT INTO user_roles (user_id, role_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`

	var affected int64
	err := s.run(ctx, "rbac.assign_role", func(q DBTX) error {
		res, err := q.ExecContext(ctx, query, userID, roleID, now)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to assign role: %w", classifyError(err))
	}
	return affected > 0, nil
}

// DeleteUserRole removes an assignment. It reports false when there was none.
func (s *Store) DeleteUserRole(ctx context.Context, userID string, roleID int64) (bool, error) {
	var affected int64
	err := s.run(ctx, "rbac.revoke_role", func(q DBTX) error {
		res, err := q.ExecContext(ctx,
			`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`,
			userID, roleID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to revoke role: %w", classifyError(err))
	}
	return affected > 0, nil
}

// UserRoles returns the roles a user holds, ordered by name
func (s *Store) UserRoles(ctx context.Context, userID string) ([]Role, error) {
	var roles []Role
	err := s.run(ctx, "rbac.user_roles", func(q DBTX) error {
		var err error
		roles, err = queryRoles(ctx, q, `
			SELECT r.id, r.name, r.description, r.created_at, r.updated_at
			FROM roles r
			JOIN user_roles ur ON ur.role_id = r.id
			WHERE ur.user_id = $1
			ORDER BY r.name
		`, userID)
		if err != nil {
			return err
		}
		return attachPermissions(ctx, q, roles, `
			SELECT rp.role_id, rp.permission
			FROM role_permissions rp
			JOIN user_roles ur ON ur.role_id = rp.role_id
			WHERE ur.user_id = $1
			ORDER BY rp.role_id, rp.permission
		`, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", classifyError(err))
	}
	return roles, nil
}

// UserPermissions returns the sorted union of permissions across a user's roles
func (s *Store) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	var perms []string
	err := s.run(ctx, "rbac.user_permissions", func(q DBTX) error {
		var err error
		perms, err = queryStrings(ctx, q, `
			SELECT DISTINCT rp.permission
			FROM user_roles ur
			JOIN role_permissions rp ON rp.role_id = ur.role_id
			WHERE ur.user_id = $1
			ORDER BY rp.permission
		`, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", classifyError(err))
	}
	return perms, nil
}

// queryStrings returns a single text column in Go byte order. ORDER BY
// follows the database collation, which differs between dialects and locales.
func queryStrings(ctx context.Context, q DBTX, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func queryRoles(ctx context.Context, q DBTX, query string, args ...interface{}) ([]Role, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		role.Permissions = []string{}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func attachPermissions(ctx context.Context, q DBTX, roles []Role, query string, args ...interface{}) error {
	if len(roles) == 0 {
		return nil
	}

	index := make(map[int64]int, len(roles))
	for i := range roles {
		index[roles[i].ID] = i
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var roleID int64
		var perm string
		if err := rows.Scan(&roleID, &perm); err != nil {
			return err
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, perm)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range roles {
		sort.Strings(roles[i].Permissions)
	}
	return nil
}
