package db

import (
	"context"
	"net/url"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/docpipe/errors"
)

// SQLiteBusyTimeoutMS is how long SQLite waits on a locked database before
// failing with SQLITE_BUSY.
const SQLiteBusyTimeoutMS = 5000

// Postgres pool settings.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
	DefaultPingTimeout     = 5 * time.Second
)

// Driver names understood by Open and Migrate.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// sqliteDSN appends the connection pragmas to path. go-sqlite3 applies
// DSN pragmas to every connection it opens, not just the first.
func sqliteDSN(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", strconv.Itoa(SQLiteBusyTimeoutMS))
	return path + "?" + q.Encode()
}

// Open opens the SQLite database at path, creating the file if needed.
// A nil logger runs silently.
func Open(path string, logger *zap.SugaredLogger) (*sqlx.DB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := sqlx.Open(DriverSQLite, sqliteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if path == ":memory:" {
		// each pooled connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	// sqlx.Open is lazy; surface bad paths here rather than on first query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}

	logger.Infow("Database opened", "path", path, "busy_timeout_ms", SQLiteBusyTimeoutMS)
	return db, nil
}

// OpenPostgres connects through the pgx stdlib driver and pings once.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.SugaredLogger) (*sqlx.DB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(Classify(err), "failed to ping postgres")
	}

	logger.Infow("Postgres connection established", "max_open_conns", DefaultMaxOpenConns)
	return db, nil
}

// OpenWithMigrations opens a SQLite database and brings its schema up to date.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sqlx.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	return db, nil
}
