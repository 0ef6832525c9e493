package db

import (
	"database/sql"
	"strings"

	"github.com/teranos/docpipe/errors"
)

// ErrDatabaseClosed marks store calls that raced with shutdown
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err comes from a closed database handle.
// database/sql reports a closed *sql.DB with an unexported error, hence the
// message check.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// Classify marks closed-database errors with ErrDatabaseClosed and
// errors.ErrServiceUnavailable, so RPC callers get Unavailable instead of
// Internal while the server drains. Other errors are returned unchanged.
func Classify(err error) error {
	if !IsDatabaseClosed(err) {
		return err
	}
	return errors.Mark(errors.Mark(err, ErrDatabaseClosed), errors.ErrServiceUnavailable)
}
