// Package logger holds the process-wide zap logger shared by the CLI and
// the server, plus the field names every component logs under.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. It is a no-op until Initialize runs,
// so packages may capture it at construction time in tests.
var Logger = zap.NewNop().Sugar()

var level = zap.NewAtomicLevelAt(zapcore.WarnLevel)

// Initialize replaces Logger. Logs always go to stderr; stdout belongs to
// command output.
func Initialize(jsonOutput bool, v Verbosity) error {
	level.SetLevel(v.Level())

	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		l, err := cfg.Build()
		if err != nil {
			return err
		}
		Logger = l.Sugar()
		return nil
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	enc.EncodeCaller = nil
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	Logger = zap.New(core).Sugar()
	return nil
}

// SetVerbosity changes the level of Logger, and of every logger derived
// from it, without rebuilding it.
func SetVerbosity(v Verbosity) {
	level.SetLevel(v.Level())
}

// Enabled reports whether Logger currently emits entries at lvl.
func Enabled(lvl zapcore.Level) bool {
	return level.Enabled(lvl)
}

// Cleanup flushes buffered entries.
func Cleanup() {
	_ = Logger.Sync()
}
