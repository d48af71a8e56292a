package db

import (
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/teranos/pulseflow/errors"
)

// ErrDatabaseClosed marks work cut off by shutdown closing the connection
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err comes from a closed connection. The
// sql package returns its own unexported error for this, so the message is
// matched as well.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsBusy reports whether SQLite refused err's statement because another
// connection holds the write lock past the busy timeout. For job locking
// this means another node is claiming at the same moment.
func IsBusy(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code == sqlite3.ErrBusy || code == sqlite3.ErrLocked)
}

// IsConstraintViolation reports whether err is a UNIQUE, PRIMARY KEY or
// FOREIGN KEY failure
func IsConstraintViolation(err error) bool {
	code, ok := sqliteCode(err)
	return ok && code == sqlite3.ErrConstraint
}

func sqliteCode(err error) (sqlite3.ErrNo, bool) {
	var sqliteErr sqlite3.Error
	if err == nil || !errors.As(err, &sqliteErr) {
		return 0, false
	}
	return sqliteErr.Code, true
}
