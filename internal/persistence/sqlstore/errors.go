package sqlstore

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/example/facility-booking/internal/persistence"
)

// MySQL server error numbers the store distinguishes.
const (
	mysqlTooManyConnections = 1040
	mysqlDuplicateEntry     = 1062
	mysqlLockWaitTimeout    = 1205
	mysqlDeadlock           = 1213
	mysqlSignalException    = 1644
	mysqlCheckViolated      = 3819
)

// mapError translates driver errors onto the persistence sentinels, keeping
// the original error in the message.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", persistence.ErrNotFound, err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %v", persistence.ErrUnavailable, err)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlSignalException:
			if strings.Contains(myErr.Message, overlapMessage) {
				return fmt.Errorf("%w: %v", persistence.ErrOverlap, err)
			}
		case mysqlDuplicateEntry:
			return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
		case mysqlCheckViolated:
			return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
		case mysqlTooManyConnections, mysqlLockWaitTimeout, mysqlDeadlock:
			return fmt.Errorf("%w: %v", persistence.ErrUnavailable, err)
		}
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, overlapMessage):
		return fmt.Errorf("%w: %v", persistence.ErrOverlap, err)
	case containsAny(msg, "UNIQUE constraint failed", "PRIMARY KEY constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case containsAny(msg, "CHECK constraint failed", "NOT NULL constraint failed"):
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	case containsAny(msg, "database is locked", "database table is locked", "SQLITE_BUSY"):
		return fmt.Errorf("%w: %v", persistence.ErrUnavailable, err)
	}
	return err
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
