package store

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/docpipe/errors"
	testutil "github.com/teranos/docpipe/internal/testing"
)

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*SQLBackend)(nil)
	_ Backend = (*RedisBackend)(nil)
)

func newRedisTestBackend(t *testing.T) *RedisBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisBackendWithClient(client, "test")
}

// backends returns a fresh instance of every backend that runs without external services
func backends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": NewSQLBackend(testutil.CreateTestDB(t)),
		"redis":  newRedisTestBackend(t),
	}
}

func TestBackendContract(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := b.Get(ctx, "fetchers", "missing")
			assert.True(t, errors.IsNotFoundError(err))

			exists, err := b.Exists(ctx, "fetchers", "a")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, b.Put(ctx, "fetchers", "b", []byte(`{"v":1}`)))
			require.NoError(t, b.Put(ctx, "fetchers", "a", []byte(`{"v":2}`)))
			require.NoError(t, b.Put(ctx, "fetchers", "a", []byte(`{"v":3}`)))
			require.NoError(t, b.Put(ctx, "emitters", "a", []byte(`{"other":true}`)))

			got, err := b.Get(ctx, "fetchers", "a")
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":3}`, string(got))

			entries, err := b.List(ctx, "fetchers")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "a", entries[0].Key)
			assert.Equal(t, "b", entries[1].Key)

			existed, err := b.Delete(ctx, "fetchers", "a")
			require.NoError(t, err)
			assert.True(t, existed)

			existed, err = b.Delete(ctx, "fetchers", "a")
			require.NoError(t, err)
			assert.False(t, existed)

			exists, err = b.Exists(ctx, "emitters", "a")
			require.NoError(t, err)
			assert.True(t, exists, "buckets are independent")

			empty, err := b.List(ctx, "iterators")
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestBackendConcurrentPuts(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					assert.NoError(t, b.Put(ctx, "jobs", "same", []byte{byte('a' + i)}))
				}(i)
			}
			wg.Wait()

			entries, err := b.List(ctx, "jobs")
			require.NoError(t, err)
			assert.Len(t, entries, 1)
		})
	}
}

func TestRedisBackendLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	b := NewRedisBackendWithClient(client, "dp")

	require.NoError(t, b.Put(context.Background(), "fetchers", "f1", []byte("{}")))
	assert.Equal(t, "{}", mr.HGet("dp:fetchers", "f1"))
}

func TestNewRedisBackend(t *testing.T) {
	_, err := NewRedisBackend(context.Background(), RedisOptions{})
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(context.Background(), RedisOptions{Address: mr.Addr()})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "docpipe", b.prefix)
}
