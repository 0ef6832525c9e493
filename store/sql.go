package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/teranos/docpipe/db"
	"github.com/teranos/docpipe/errors"
)

// SQLBackend stores entries in the kv_records table. The same queries serve
// SQLite and Postgres; sqlx rebinds placeholders for the driver.
type SQLBackend struct {
	db *sqlx.DB
}

// NewSQLBackend wraps a migrated database (see db.Migrate)
func NewSQLBackend(database *sqlx.DB) *SQLBackend {
	return &SQLBackend{db: database}
}

type kvRow struct {
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

const upsertQuery = `
	INSERT INTO kv_records (bucket, key, value, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (bucket, key) DO UPDATE
	SET value = excluded.value, updated_at = excluded.updated_at
`

func (s *SQLBackend) Put(ctx context.Context, bucket, key string, value []byte) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(upsertQuery), bucket, key, string(value), now, now); err != nil {
		return s.wrap(err, "failed to put %s/%s", bucket, key)
	}
	return nil
}

func (s *SQLBackend) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind(`SELECT value FROM kv_records WHERE bucket = ? AND key = ?`), bucket, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("%s/%s", bucket, key)
	}
	if err != nil {
		return nil, s.wrap(err, "failed to get %s/%s", bucket, key)
	}
	return []byte(value), nil
}

func (s *SQLBackend) List(ctx context.Context, bucket string) ([]Entry, error) {
	var rows []kvRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT key, value, updated_at FROM kv_records WHERE bucket = ? ORDER BY key`), bucket)
	if err != nil {
		return nil, s.wrap(err, "failed to list %s", bucket)
	}
	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry{Key: r.Key, Value: []byte(r.Value), UpdatedAt: r.UpdatedAt}
	}
	return entries, nil
}

func (s *SQLBackend) Delete(ctx context.Context, bucket, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM kv_records WHERE bucket = ? AND key = ?`), bucket, key)
	if err != nil {
		return false, s.wrap(err, "failed to delete %s/%s", bucket, key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	return n > 0, nil
}

func (s *SQLBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM kv_records WHERE bucket = ? AND key = ?)`), bucket, key)
	if err != nil {
		return false, s.wrap(err, "failed to check %s/%s", bucket, key)
	}
	return exists, nil
}

func (s *SQLBackend) Close() error {
	return s.db.Close()
}

func (s *SQLBackend) wrap(err error, format string, args ...interface{}) error {
	return errors.Wrapf(db.Classify(err), format, args...)
}
