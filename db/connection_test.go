package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/docpipe/errors"
)

func TestOpen(t *testing.T) {
	t.Run("applies pragmas", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "docpipe.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		var journalMode string
		require.NoError(t, db.Get(&journalMode, "PRAGMA journal_mode"))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, db.Get(&foreignKeys, "PRAGMA foreign_keys"))
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		require.NoError(t, db.Get(&busyTimeout, "PRAGMA busy_timeout"))
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("pragmas hold on every pooled connection", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "pool.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		ctx := context.Background()
		c1, err := db.Connx(ctx)
		require.NoError(t, err)
		defer c1.Close()
		c2, err := db.Connx(ctx)
		require.NoError(t, err)
		defer c2.Close()

		for _, c := range []*sqlx.Conn{c1, c2} {
			var fk int
			require.NoError(t, c.GetContext(ctx, &fk, "PRAGMA foreign_keys"))
			assert.Equal(t, 1, fk)
		}
	})

	t.Run("invalid path fails at open", func(t *testing.T) {
		db, err := Open("/invalid/nonexistent/path/db.sqlite", nil)
		require.Error(t, err)
		assert.Nil(t, db)
		assert.NotNil(t, errors.GetStack(err))
	})

	t.Run("creates the file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "new.db")
		_, err := os.Stat(dbPath)
		require.True(t, os.IsNotExist(err))

		db, err := Open(dbPath, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer db.Close()

		_, err = os.Stat(dbPath)
		assert.NoError(t, err)
	})

	t.Run("closed database is detected", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		_, err = db.Exec("PRAGMA journal_mode")
		require.Error(t, err)
		assert.True(t, IsDatabaseClosed(err))

		classified := Classify(err)
		assert.True(t, errors.Is(classified, ErrDatabaseClosed))
		assert.True(t, errors.Is(classified, errors.ErrServiceUnavailable))
	})
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil))
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "save job")))
	assert.True(t, IsDatabaseClosed(sql.ErrConnDone))

	other := errors.New("disk full")
	assert.False(t, IsDatabaseClosed(other))
	assert.Same(t, other, Classify(other))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", sqliteDSN(":memory:"))
}
