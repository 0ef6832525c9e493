package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldRequestID = "request_id"

	// Extensions
	FieldPluginID = "plugin_id"

	// Pipeline
	FieldFetcherID  = "fetcher_id"
	FieldEmitterID  = "emitter_id"
	FieldIteratorID = "iterator_id"
	FieldFetchKey   = "fetch_key"
	FieldParseStat  = "parse_status"

	// Operations
	FieldMethod = "method"
	FieldPath   = "path"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"
	FieldCode  = "code"

	// Counts and sizes
	FieldCount     = "count"
	FieldSize      = "size"
	FieldProcessed = "processed"
	FieldEmitted   = "emitted"
	FieldFailed    = "failed"

	// Status
	FieldStatus = "status"

	// Network
	FieldAddress = "address"
	FieldPort    = "port"
	FieldBinary  = "binary"
)

type ctxKey int

const (
	jobIDKey ctxKey = iota
	requestIDKey
)

// WithJobID tags ctx so FieldsFromContext reports job_id.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRequestID tags ctx so FieldsFromContext reports request_id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext returns the tags set on ctx as key/value pairs for
// the *w logging methods.
func FieldsFromContext(ctx context.Context) []any {
	var fields []any
	if id, _ := ctx.Value(jobIDKey).(string); id != "" {
		fields = append(fields, FieldJobID, id)
	}
	if id, _ := ctx.Value(requestIDKey).(string); id != "" {
		fields = append(fields, FieldRequestID, id)
	}
	return fields
}

// FromContext returns base with the tags of ctx attached.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if fields := FieldsFromContext(ctx); len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}
