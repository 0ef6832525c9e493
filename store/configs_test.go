package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/pipes"
)

func TestConfigStoreSaveIsIdempotentUpsert(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewConfigStore(pipes.KindFetcher, b)

			for i, base := range []string{"/a", "/b", "/c"} {
				require.NoError(t, s.Save(ctx, pipes.ExtensionConfig{
					ID:       "docs",
					PluginID: "file-system",
					Config:   map[string]any{"basePath": base, "n": i},
				}))
			}

			got, err := s.Get(ctx, "docs")
			require.NoError(t, err)
			assert.Equal(t, pipes.KindFetcher, got.Kind)
			assert.Equal(t, "file-system", got.PluginID)
			assert.Equal(t, "/c", got.Config["basePath"])
			assert.False(t, got.UpdatedAt.IsZero())

			all, err := s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestConfigStoreDeleteReflectsExistence(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewConfigStore(pipes.KindEmitter, b)

			existed, err := s.Delete(ctx, "never-saved")
			require.NoError(t, err)
			assert.False(t, existed)

			require.NoError(t, s.Save(ctx, pipes.ExtensionConfig{ID: "out", PluginID: "jsonl"}))
			ok, err := s.Exists(ctx, "out")
			require.NoError(t, err)
			assert.True(t, ok)

			existed, err = s.Delete(ctx, "out")
			require.NoError(t, err)
			assert.True(t, existed)

			existed, err = s.Delete(ctx, "out")
			require.NoError(t, err)
			assert.False(t, existed)

			_, err = s.Get(ctx, "out")
			assert.True(t, errors.Is(err, errors.ErrConfigNotFound))
			assert.Contains(t, err.Error(), `emitter "out"`)
		})
	}
}

func TestConfigStoresAreSeparatedByKind(t *testing.T) {
	ctx := context.Background()
	stores := NewConfigStores(NewMemoryBackend())

	require.NoError(t, stores.Save(ctx, pipes.ExtensionConfig{Kind: pipes.KindFetcher, ID: "x", PluginID: "fs"}))
	require.NoError(t, stores.Save(ctx, pipes.ExtensionConfig{Kind: pipes.KindIterator, ID: "x", PluginID: "csv"}))

	f, err := stores.Fetchers.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "fs", f.PluginID)

	_, err = stores.Emitters.Get(ctx, "x")
	assert.True(t, errors.Is(err, errors.ErrConfigNotFound))

	_, err = stores.For("parser")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestConfigStoreRejectsMissingFields(t *testing.T) {
	s := NewConfigStore(pipes.KindFetcher, NewMemoryBackend())
	err := s.Save(context.Background(), pipes.ExtensionConfig{ID: "f"})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestConfigStoreKeepsIntegers(t *testing.T) {
	ctx := context.Background()
	s := NewConfigStore(pipes.KindIterator, NewMemoryBackend())
	require.NoError(t, s.Save(ctx, pipes.ExtensionConfig{
		ID: "big", PluginID: "csv",
		Config: map[string]any{"maxRows": int64(9007199254740993)},
	}))

	got, err := s.Get(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), got.Config["maxRows"])
}
