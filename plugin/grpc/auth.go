package grpc

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/internal/rpcerr"
)

// authMetadataKey carries the shared plugin token on every call.
const authMetadataKey = "authorization"

// TokenEnvVar hands the shared token to launched plugin processes.
const TokenEnvVar = "DOCPIPE_PLUGIN_TOKEN"

// ValidateToken performs constant-time comparison of authentication tokens.
// This prevents timing attacks by comparing all bytes regardless of match status.
func ValidateToken(providedToken, storedToken string) error {
	if subtle.ConstantTimeCompare([]byte(providedToken), []byte(storedToken)) != 1 {
		return errors.Mark(errors.New("invalid authentication token"), errors.ErrUnauthorized)
	}
	return nil
}

func tokenFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(authMetadataKey)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimPrefix(values[0], "Bearer ")
}

func checkToken(ctx context.Context, token string) error {
	if err := ValidateToken(tokenFromContext(ctx), token); err != nil {
		return rpcerr.ToStatus(err)
	}
	return nil
}

// UnaryTokenInterceptor rejects unary calls without the shared token.
func UnaryTokenInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := checkToken(ctx, token); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamTokenInterceptor rejects streams without the shared token.
func StreamTokenInterceptor(token string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkToken(ss.Context(), token); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// tokenCredentials attaches the shared token to outgoing calls. Plugins are
// reached over loopback without TLS.
type tokenCredentials struct {
	token string
}

func (c tokenCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{authMetadataKey: "Bearer " + c.token}, nil
}

func (tokenCredentials) RequireTransportSecurity() bool { return false }
