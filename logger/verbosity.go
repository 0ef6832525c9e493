package logger

import "go.uber.org/zap/zapcore"

// Verbosity is the number of -v flags given on the command line.
type Verbosity int

const (
	Quiet   Verbosity = iota // results and errors only
	Verbose                  // -v: startup, plugin status, job lifecycle
	Debug                    // -vv: per-item fetch/parse/emit, config details
	Trace                    // -vvv
)

// Level maps v to the zap level Logger filters at.
func (v Verbosity) Level() zapcore.Level {
	switch {
	case v <= Quiet:
		return zapcore.WarnLevel
	case v == Verbose:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func (v Verbosity) String() string {
	switch {
	case v <= Quiet:
		return "quiet"
	case v == Verbose:
		return "info (-v)"
	case v == Debug:
		return "debug (-vv)"
	default:
		return "trace (-vvv)"
	}
}
