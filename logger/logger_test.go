package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbosity  Verbosity
		enabled    zapcore.Level
		disabled   zapcore.Level
	}{
		{"json quiet", true, Quiet, zapcore.WarnLevel, zapcore.InfoLevel},
		{"console -v", false, Verbose, zapcore.InfoLevel, zapcore.DebugLevel},
		{"console -vv", false, Debug, zapcore.DebugLevel, zapcore.DebugLevel - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

			require.NoError(t, Initialize(tt.jsonOutput, tt.verbosity))
			assert.True(t, Enabled(tt.enabled))
			assert.False(t, Enabled(tt.disabled))
			assert.True(t, Logger.Desugar().Core().Enabled(tt.enabled))
		})
	}
}

func TestSetVerbosityRaisesExistingLogger(t *testing.T) {
	t.Cleanup(func() { Logger = zap.NewNop().Sugar() })

	require.NoError(t, Initialize(false, Quiet))
	derived := Logger.Named("jobs")
	assert.False(t, derived.Desugar().Core().Enabled(zapcore.InfoLevel))

	SetVerbosity(Verbose)
	assert.True(t, derived.Desugar().Core().Enabled(zapcore.InfoLevel))
}

func TestVerbosity(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, Verbosity(-1).Level())
	assert.Equal(t, zapcore.WarnLevel, Quiet.Level())
	assert.Equal(t, zapcore.InfoLevel, Verbose.Level())
	assert.Equal(t, zapcore.DebugLevel, Debug.Level())
	assert.Equal(t, zapcore.DebugLevel, Verbosity(9).Level())

	assert.Equal(t, "quiet", Quiet.String())
	assert.Equal(t, "debug (-vv)", Debug.String())
	assert.Equal(t, "trace (-vvv)", Verbosity(5).String())
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	ctx := WithJobID(context.Background(), "job-1")
	ctx = WithRequestID(ctx, "req-9")

	FromContext(ctx, base).Infow("job started", FieldFetcherID, "f1")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-1", fields[FieldJobID])
	assert.Equal(t, "req-9", fields[FieldRequestID])
	assert.Equal(t, "f1", fields[FieldFetcherID])
}

func TestFromEmptyContext(t *testing.T) {
	base := zap.NewNop().Sugar()
	assert.Empty(t, FieldsFromContext(context.Background()))
	assert.Same(t, base, FromContext(context.Background(), base))
}

func TestCleanupOnNop(t *testing.T) {
	assert.NotPanics(t, Cleanup)
}
