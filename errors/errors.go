// Package errors provides error handling for docpipe.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details that survive wrapping
//
// Usage:
//
//	// Wrap with context
//	if err := store.Save(ctx, cfg); err != nil {
//	    return errors.Wrap(err, "failed to save fetcher config")
//	}
//
//	// Check domain errors
//	if errors.Is(err, errors.ErrConfigNotFound) {
//	    // unknown fetcher/emitter/iterator id
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New           = crdb.New
	Newf          = crdb.Newf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	WithStack     = crdb.WithStack
	WithMessage   = crdb.WithMessage
	WithMessagef  = crdb.WithMessagef
	Mark          = crdb.Mark
	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// Generic sentinel errors.
// Use these with errors.Is() for type-safe error checking.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrUnauthorized indicates the request lacks proper authentication
	ErrUnauthorized = New("unauthorized")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// Domain sentinel errors. They stay distinct from one another; errors built
// with MarkAs or the constructors below also satisfy errors.Is against the
// generic sentinel each one specializes (ErrNotFound, ErrInvalidRequest).
var (
	// ErrConfigNotFound: no fetcher/emitter/iterator config stored under the id.
	ErrConfigNotFound = New("config not found")

	// ErrExtensionNotFound: no loaded extension advertises the capability under the plugin id.
	ErrExtensionNotFound = New("extension not found")

	// ErrJobNotFound: unknown pipe job id.
	ErrJobNotFound = New("job not found")

	// ErrInvalidConfig: config JSON could not be validated or hydrated into the
	// extension's native type.
	ErrInvalidConfig = New("invalid extension config")
)

// A marked error takes on the mark of its reference, so the domain sentinels
// cannot be marked with their parent themselves without becoming equal.
var parents = map[error]error{
	ErrConfigNotFound:    ErrNotFound,
	ErrExtensionNotFound: ErrNotFound,
	ErrJobNotFound:       ErrNotFound,
	ErrInvalidConfig:     ErrInvalidRequest,
}

// MarkAs marks err so errors.Is(err, sentinel) holds, plus the generic
// parent of a domain sentinel.
func MarkAs(err, sentinel error) error {
	err = Mark(err, sentinel)
	if parent, ok := parents[sentinel]; ok {
		err = Mark(err, parent)
	}
	return err
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// NewConfigNotFoundError reports a missing config of the given kind.
func NewConfigNotFoundError(kind, id string) error {
	return MarkAs(Wrapf(ErrConfigNotFound, "%s %q", kind, id), ErrConfigNotFound)
}

// NewExtensionNotFoundError reports that no loaded extension provides capability under pluginID.
func NewExtensionNotFoundError(capability, pluginID string) error {
	return WithHint(
		MarkAs(Wrapf(ErrExtensionNotFound, "no %s registered under plugin id %q", capability, pluginID), ErrExtensionNotFound),
		"check plugin.enabled and plugin.paths, then list loaded extensions with 'docpipe plugins ls'",
	)
}

// NewJobNotFoundError reports an unknown job id.
func NewJobNotFoundError(id string) error {
	return MarkAs(Wrapf(ErrJobNotFound, "job %q", id), ErrJobNotFound)
}

// NewInvalidConfigError reports a config that cannot cross into pluginID's native type.
func NewInvalidConfigError(pluginID string, cause error) error {
	return Wrapf(MarkAs(cause, ErrInvalidConfig), "config for plugin %q", pluginID)
}
