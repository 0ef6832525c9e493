package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/pipes"
)

func TestJobStore(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewJobStore(b)

			_, err := s.Get(ctx, "unknown")
			assert.True(t, errors.Is(err, errors.ErrJobNotFound))

			older := pipes.NewJobStatus("j-old", "it", "f", "e")
			older.CreatedAt = time.Now().Add(-time.Hour).UTC()
			require.NoError(t, s.Save(ctx, older))

			status := pipes.NewJobStatus("j-new", "it", "f", "e")
			require.NoError(t, s.Save(ctx, status))

			got, err := s.Get(ctx, "j-new")
			require.NoError(t, err)
			assert.True(t, got.Running)
			assert.False(t, got.Completed)

			status.UpdateProgress(5, 4, 1)
			status.Finish(false)
			require.NoError(t, s.Save(ctx, status))

			got, err = s.Get(ctx, "j-new")
			require.NoError(t, err)
			assert.False(t, got.Running)
			assert.True(t, got.Completed)
			assert.True(t, got.HasError)
			assert.Equal(t, int64(4), got.Emitted)

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "j-new", all[0].JobID)
		})
	}
}

func TestJobStoreRejectsEmptyID(t *testing.T) {
	s := NewJobStore(NewMemoryBackend())
	assert.Error(t, s.Save(context.Background(), &pipes.JobStatus{}))
	assert.Error(t, s.Save(context.Background(), nil))
}
