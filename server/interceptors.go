package server

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/internal/rpcerr"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/metrics"
)

// interceptors returns the server options installing, outermost first:
// request logging, rate limiting, error mapping and panic recovery.
func interceptors(cfg config.RateLimitConfig, m *metrics.Metrics, log *zap.SugaredLogger) []grpc.ServerOption {
	unary := []grpc.UnaryServerInterceptor{unaryLogging(m, log)}
	stream := []grpc.StreamServerInterceptor{streamLogging(m, log)}

	if limiter := newLimiter(cfg); limiter != nil {
		unary = append(unary, unaryRateLimit(limiter, m))
		stream = append(stream, streamRateLimit(limiter, m))
	}

	unary = append(unary, unaryErrors, unaryRecovery(log))
	stream = append(stream, streamErrors, streamRecovery(log))

	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
}

// newLimiter returns nil when rate limiting is disabled.
func newLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// contextStream overrides the context of a server stream.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }

func unaryLogging(m *metrics.Metrics, log *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		ctx = logger.WithRequestID(ctx, uuid.NewString())
		resp, err := handler(ctx, req)
		logCall(ctx, m, log, info.FullMethod, err, time.Since(start))
		return resp, err
	}
}

func streamLogging(m *metrics.Metrics, log *zap.SugaredLogger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		ctx := logger.WithRequestID(ss.Context(), uuid.NewString())
		err := handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
		logCall(ctx, m, log, info.FullMethod, err, time.Since(start))
		return err
	}
}

func logCall(ctx context.Context, m *metrics.Metrics, log *zap.SugaredLogger, method string, err error, d time.Duration) {
	code := status.Code(err)
	m.ObserveRPC(method, code.String(), d)

	fields := append(logger.FieldsFromContext(ctx),
		logger.FieldMethod, method,
		logger.FieldCode, code.String(),
		logger.FieldDurationMS, d.Milliseconds(),
	)
	switch code {
	case codes.OK:
		log.Debugw("RPC", fields...)
	case codes.Internal, codes.Unknown, codes.DataLoss:
		log.Errorw("RPC failed", append(fields, logger.FieldError, err)...)
	default:
		log.Infow("RPC failed", append(fields, logger.FieldError, err)...)
	}
}

func rateLimited(m *metrics.Metrics) error {
	m.RateLimitHit()
	return rpcerr.WithReason(codes.ResourceExhausted, rpcerr.ReasonRateLimited, "rate limit exceeded")
}

func unaryRateLimit(limiter *rate.Limiter, m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !limiter.Allow() {
			return nil, rateLimited(m)
		}
		return handler(ctx, req)
	}
}

// streamRateLimit charges one token per stream, not per message.
func streamRateLimit(limiter *rate.Limiter, m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !limiter.Allow() {
			return rateLimited(m)
		}
		return handler(srv, ss)
	}
}

func unaryErrors(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		return nil, rpcerr.ToStatus(err)
	}
	return resp, nil
}

func streamErrors(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	return rpcerr.ToStatus(handler(srv, ss))
}

func recovered(log *zap.SugaredLogger, method string, r any) error {
	log.Errorw("Panic in RPC handler",
		logger.FieldMethod, method,
		"panic", r,
		"stack", string(debug.Stack()),
	)
	return status.Error(codes.Internal, fmt.Sprintf("internal error in %s", method))
}

func unaryRecovery(log *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				resp, err = nil, recovered(log, info.FullMethod, r)
			}
		}()
		return handler(ctx, req)
	}
}

func streamRecovery(log *zap.SugaredLogger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recovered(log, info.FullMethod, r)
			}
		}()
		return handler(srv, ss)
	}
}
