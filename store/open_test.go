package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/docpipe/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop().Sugar()

	t.Run("memory", func(t *testing.T) {
		b, err := Open(ctx, config.StoreConfig{Backend: config.BackendMemory}, log)
		require.NoError(t, err)
		assert.IsType(t, &MemoryBackend{}, b)
	})

	t.Run("sqlite migrates", func(t *testing.T) {
		b, err := Open(ctx, config.StoreConfig{Backend: config.BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "s.db")}, log)
		require.NoError(t, err)
		defer b.Close()
		require.NoError(t, b.Put(ctx, "fetchers", "f", []byte("{}")))
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		b, err := Open(ctx, config.StoreConfig{Backend: config.BackendRedis, Redis: config.RedisConfig{Address: mr.Addr(), Prefix: "x"}}, log)
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &RedisBackend{}, b)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Open(ctx, config.StoreConfig{Backend: "etcd"}, log)
		assert.Error(t, err)
	})
}
