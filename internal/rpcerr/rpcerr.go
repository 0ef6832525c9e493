// Package rpcerr converts between docpipe errors and gRPC statuses.
//
// Statuses built here carry a google.rpc.ErrorInfo detail in the "docpipe"
// domain whose reason names the sentinel, so the receiving side can restore
// it and errors.Is keeps working across the wire.
package rpcerr

import (
	"context"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/teranos/docpipe/errors"
)

// Domain is the ErrorInfo domain of docpipe statuses.
const Domain = "docpipe"

// ErrorInfo reasons.
const (
	ReasonConfigNotFound    = "CONFIG_NOT_FOUND"
	ReasonExtensionNotFound = "EXTENSION_NOT_FOUND"
	ReasonJobNotFound       = "JOB_NOT_FOUND"
	ReasonInvalidConfig     = "INVALID_CONFIG"
	ReasonNotFound          = "NOT_FOUND"
	ReasonInvalidRequest    = "INVALID_REQUEST"
	ReasonTimeout           = "TIMEOUT"
	ReasonUnavailable       = "UNAVAILABLE"
	ReasonUnauthorized      = "UNAUTHORIZED"
	ReasonRateLimited       = "RATE_LIMITED"
)

// mapping is checked in order; specific sentinels come before the generic
// ones they are marked with.
var mapping = []struct {
	sentinel error
	code     codes.Code
	reason   string
}{
	{errors.ErrConfigNotFound, codes.NotFound, ReasonConfigNotFound},
	{errors.ErrExtensionNotFound, codes.NotFound, ReasonExtensionNotFound},
	{errors.ErrJobNotFound, codes.NotFound, ReasonJobNotFound},
	{errors.ErrInvalidConfig, codes.InvalidArgument, ReasonInvalidConfig},
	{errors.ErrNotFound, codes.NotFound, ReasonNotFound},
	{errors.ErrInvalidRequest, codes.InvalidArgument, ReasonInvalidRequest},
	{errors.ErrTimeout, codes.DeadlineExceeded, ReasonTimeout},
	{errors.ErrServiceUnavailable, codes.Unavailable, ReasonUnavailable},
	{errors.ErrUnauthorized, codes.Unauthenticated, ReasonUnauthorized},
}

// ToStatus converts err into a gRPC status error. Errors that already are
// statuses pass through unless they wrap a docpipe sentinel.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range mapping {
		if errors.Is(err, m.sentinel) {
			return WithReason(m.code, m.reason, err.Error())
		}
	}
	if st, ok := status.FromError(err); ok {
		return st.Err()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return WithReason(codes.DeadlineExceeded, ReasonTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// WithReason builds a status with an ErrorInfo detail.
func WithReason(code codes.Code, reason, msg string) error {
	st := status.New(code, msg)
	detailed, err := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: Domain})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

// Reason returns the docpipe ErrorInfo reason of a status error, or "".
func Reason(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == Domain {
			return info.GetReason()
		}
	}
	return ""
}

// FromStatus restores the docpipe sentinel a status error was built from.
// Without an ErrorInfo detail the status code decides. Other errors and
// codes with no sentinel are returned unchanged.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	reason := Reason(err)
	for _, m := range mapping {
		if m.reason == reason {
			return errors.MarkAs(errors.Newf("%s", st.Message()), m.sentinel)
		}
	}
	if reason == ReasonRateLimited {
		return errors.Mark(errors.Newf("%s", st.Message()), errors.ErrServiceUnavailable)
	}
	if sentinel, ok := byCode[st.Code()]; ok {
		return errors.Mark(errors.Newf("%s", st.Message()), sentinel)
	}
	return err
}

var byCode = map[codes.Code]error{
	codes.NotFound:         errors.ErrNotFound,
	codes.InvalidArgument:  errors.ErrInvalidRequest,
	codes.DeadlineExceeded: errors.ErrTimeout,
	codes.Unavailable:      errors.ErrServiceUnavailable,
	codes.Unauthenticated:  errors.ErrUnauthorized,
}
