package server

import (
	"encoding/json"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/teranos/docpipe/internal/rpcerr"
)

// errorBody is the admin API's error payload. Reason is the same ErrorInfo
// reason gRPC callers see.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// httpStatusFromCode maps gRPC codes the way grpc-gateway does.
func httpStatusFromCode(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.Canceled:
		return 499
	case codes.InvalidArgument, codes.OutOfRange, codes.FailedPrecondition:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeErr answers with the status and reason err would carry over gRPC.
func writeErr(w http.ResponseWriter, err error) {
	st := rpcerr.ToStatus(err)
	writeJSON(w, httpStatusFromCode(status.Code(st)), errorBody{
		Error:  err.Error(),
		Reason: rpcerr.Reason(st),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// the status line is already out; a failed encode only truncates the body
	_ = json.NewEncoder(w).Encode(v)
}
