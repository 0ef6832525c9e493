package grpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/teranos/docpipe/errors"
)

func TestValidateToken(t *testing.T) {
	assert.NoError(t, ValidateToken("abc", "abc"))

	err := ValidateToken("abd", "abc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))

	assert.Error(t, ValidateToken("", "abc"))
	assert.Error(t, ValidateToken("abcd", "abc"))
}

func TestUnaryTokenInterceptor(t *testing.T) {
	intercept := UnaryTokenInterceptor("s3cret")
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	tests := []struct {
		name   string
		header string
		ok     bool
	}{
		{"bearer", "Bearer s3cret", true},
		{"bare token", "s3cret", true},
		{"wrong", "Bearer nope", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.header != "" {
				ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(authMetadataKey, tt.header))
			}
			resp, err := intercept(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/docpipe.Extension/Emit"}, handler)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, "ok", resp)
				return
			}
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
			assert.Nil(t, resp)
		})
	}
}

func TestTokenCredentials(t *testing.T) {
	md, err := tokenCredentials{token: "s3cret"}.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", md[authMetadataKey])
	assert.False(t, tokenCredentials{}.RequireTransportSecurity())
}
