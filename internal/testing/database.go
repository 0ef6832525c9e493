// Package testing holds helpers shared by docpipe's package tests.
package testing

import (
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/docpipe/db"
)

// CreateTestDB returns an in-memory SQLite database with every migration
// applied. It is closed when t finishes.
func CreateTestDB(t testing.TB) *sqlx.DB {
	t.Helper()

	conn, err := db.Open(":memory:", nil)
	require.NoError(t, err, "open test database")
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, db.Migrate(conn, zaptest.NewLogger(t).Sugar()), "migrate test database")
	return conn
}
