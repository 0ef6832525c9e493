package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/docpipe/errors"
)

func newPostgresMock(t *testing.T) (*SQLBackend, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewSQLBackend(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestSQLBackendPostgresPlaceholders(t *testing.T) {
	ctx := context.Background()

	t.Run("put upserts with dollar placeholders", func(t *testing.T) {
		b, mock := newPostgresMock(t)
		mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5)`)).
			WithArgs("fetchers", "f1", `{"plugin_id":"fs"}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, b.Put(ctx, "fetchers", "f1", []byte(`{"plugin_id":"fs"}`)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get maps no rows to not found", func(t *testing.T) {
		b, mock := newPostgresMock(t)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kv_records WHERE bucket = $1 AND key = $2`)).
			WithArgs("jobs", "nope").
			WillReturnError(sql.ErrNoRows)

		_, err := b.Get(ctx, "jobs", "nope")
		assert.True(t, errors.IsNotFoundError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list scans rows", func(t *testing.T) {
		b, mock := newPostgresMock(t)
		now := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT key, value, updated_at FROM kv_records WHERE bucket = $1 ORDER BY key`)).
			WithArgs("emitters").
			WillReturnRows(sqlmock.NewRows([]string{"key", "value", "updated_at"}).
				AddRow("e1", `{"a":1}`, now).
				AddRow("e2", `{"b":2}`, now))

		entries, err := b.List(ctx, "emitters")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "e2", entries[1].Key)
		assert.Equal(t, `{"b":2}`, string(entries[1].Value))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete reports existence", func(t *testing.T) {
		b, mock := newPostgresMock(t)
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM kv_records WHERE bucket = $1 AND key = $2`)).
			WithArgs("fetchers", "f1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM kv_records`)).
			WithArgs("fetchers", "f1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		existed, err := b.Delete(ctx, "fetchers", "f1")
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = b.Delete(ctx, "fetchers", "f1")
		require.NoError(t, err)
		assert.False(t, existed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver errors are wrapped", func(t *testing.T) {
		b, mock := newPostgresMock(t)
		mock.ExpectQuery(`SELECT EXISTS`).WillReturnError(sql.ErrConnDone)

		_, err := b.Exists(ctx, "fetchers", "f1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, sql.ErrConnDone))
		assert.Contains(t, err.Error(), "failed to check fetchers/f1")
	})
}
