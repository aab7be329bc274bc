package rbac

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrRoleNotFound is returned when a role id or name does not exist
	ErrRoleNotFound = errors.New("role not found")

	// ErrDuplicateRoleName is returned when a role name is already taken
	ErrDuplicateRoleName = errors.New("role name already exists")

	// ErrStoreUnavailable wraps connectivity failures and timeouts
	ErrStoreUnavailable = errors.New("permission store unavailable")

	// ErrInvalidRole is returned for malformed role or assignment input
	ErrInvalidRole = errors.New("invalid role")
)

// classifyError maps driver errors onto the package sentinels. Errors that
// already carry a sentinel are returned unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRoleNotFound) || errors.Is(err, ErrDuplicateRoleName) ||
		errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrInvalidRole) {
		return err
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", ErrDuplicateRoleName, err)
	}
	if isUnavailable(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08: connection exception, 57P: operator intervention
		switch pqErr.Code.Class() {
		case "08", "57":
			return true
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}
