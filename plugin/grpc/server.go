// Package grpc runs docpipe extensions out of process.
//
// A plugin binary wraps its extension with ServeExtension. The docpipe
// server reaches it through a RemoteExtension, which implements every
// capability contract and advertises only the ones the plugin reported, so
// the registry treats it exactly like an in-process extension.
// PluginManager launches, connects and stops plugin processes.
package grpc

import (
	"context"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/internal/rpcerr"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/plugin"
	"github.com/teranos/docpipe/plugin/grpc/protocol"
	"github.com/teranos/docpipe/version"
)

// fetchChunkSize bounds the data carried by one FetchChunk.
const fetchChunkSize = 64 * 1024

// ServeOptions configures a plugin-side server.
type ServeOptions struct {
	// AuthToken, when set, must accompany every call.
	AuthToken string
	// MaxRecvMsgSize overrides grpc's 4MB default for emit batches.
	MaxRecvMsgSize int
	Logger         *zap.SugaredLogger
}

// ExtensionServer exposes one extension over docpipe.Extension.
type ExtensionServer struct {
	protocol.UnimplementedExtensionServer

	ext      plugin.Extension
	registry *plugin.Registry
	logger   *zap.SugaredLogger

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// NewExtensionServer wraps ext. Configs arriving over the wire are hydrated
// through a registry private to this server.
func NewExtensionServer(ext plugin.Extension, log *zap.SugaredLogger) (*ExtensionServer, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	registry := plugin.NewRegistry(version.Version, log)
	if err := registry.Register(ext); err != nil {
		return nil, err
	}
	return &ExtensionServer{
		ext:      ext,
		registry: registry,
		logger:   log.With(logger.FieldPluginID, ext.Metadata().PluginID),
		shutdown: make(chan struct{}),
	}, nil
}

// ServeExtension listens on addr and serves ext until ctx ends or the host
// calls Shutdown.
func ServeExtension(ctx context.Context, addr string, ext plugin.Extension, opts ServeOptions) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return Serve(ctx, lis, ext, opts)
}

// Serve serves ext on lis. It returns nil after a graceful stop.
func Serve(ctx context.Context, lis net.Listener, ext plugin.Extension, opts ServeOptions) error {
	srv, err := NewExtensionServer(ext, opts.Logger)
	if err != nil {
		lis.Close()
		return err
	}

	var serverOpts []grpc.ServerOption
	if opts.AuthToken != "" {
		serverOpts = append(serverOpts,
			grpc.ChainUnaryInterceptor(UnaryTokenInterceptor(opts.AuthToken)),
			grpc.ChainStreamInterceptor(StreamTokenInterceptor(opts.AuthToken)))
	}
	if opts.MaxRecvMsgSize > 0 {
		serverOpts = append(serverOpts, grpc.MaxRecvMsgSize(opts.MaxRecvMsgSize))
	}
	grpcServer := grpc.NewServer(serverOpts...)
	protocol.RegisterExtensionServer(grpcServer, srv)

	srv.logger.Infow("Starting gRPC plugin server", logger.FieldAddress, lis.Addr().String())

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			srv.logger.Info("Shutting down gRPC server")
		case <-srv.shutdown:
			srv.logger.Info("Shutdown requested by host")
		case <-stopped:
			return
		}
		grpcServer.GracefulStop()
	}()

	if err := grpcServer.Serve(lis); err != nil {
		return errors.Wrap(err, "gRPC server error")
	}
	return nil
}

// Metadata returns the extension's metadata, capabilities and config schema.
func (s *ExtensionServer) Metadata(ctx context.Context, _ *protocol.Empty) (*protocol.MetadataResponse, error) {
	meta := s.ext.Metadata()
	return &protocol.MetadataResponse{
		PluginID:     meta.PluginID,
		Version:      meta.Version,
		HostVersion:  meta.HostVersion,
		Description:  meta.Description,
		Author:       meta.Author,
		License:      meta.License,
		Capabilities: protocol.KindsToStrings(plugin.Capabilities(s.ext)),
		ConfigSchema: plugin.Schema(s.ext),
	}, nil
}

// Fetch streams one document. The first chunk carries only the fetcher's
// response metadata.
func (s *ExtensionServer) Fetch(req *protocol.FetchRequest, stream grpc.ServerStreamingServer[protocol.FetchChunk]) error {
	f, ok := s.ext.(plugin.Fetcher)
	if !ok {
		return s.unsupported(pipes.KindFetcher)
	}
	cfg, err := s.hydrate(f, req.ConfigJSON)
	if err != nil {
		return rpcerr.ToStatus(err)
	}
	fetchMD, err := pipes.ParseMetadataJSON(req.FetchMetadataJSON)
	if err != nil {
		return rpcerr.ToStatus(errors.Wrap(err, "fetch metadata"))
	}

	rc, md, err := f.Fetch(stream.Context(), cfg, req.FetchKey, fetchMD)
	if err != nil {
		return rpcerr.ToStatus(err)
	}
	defer rc.Close()

	mdJSON, err := protocol.EncodeMetadata(md)
	if err != nil {
		return rpcerr.ToStatus(err)
	}
	if err := stream.Send(&protocol.FetchChunk{MetadataJSON: mdJSON}); err != nil {
		return err
	}

	buf := make([]byte, fetchChunkSize)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			chunk := &protocol.FetchChunk{Data: append([]byte(nil), buf[:n]...)}
			if err := stream.Send(chunk); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rpcerr.ToStatus(errors.Wrapf(rerr, "read %q", req.FetchKey))
		}
	}
}

// Emit hands outputs to the emitter.
func (s *ExtensionServer) Emit(ctx context.Context, req *protocol.EmitRequest) (*protocol.Empty, error) {
	em, ok := s.ext.(plugin.Emitter)
	if !ok {
		return nil, s.unsupported(pipes.KindEmitter)
	}
	cfg, err := s.hydrate(em, req.ConfigJSON)
	if err != nil {
		return nil, rpcerr.ToStatus(err)
	}
	if err := em.Emit(ctx, cfg, req.Outputs); err != nil {
		return nil, rpcerr.ToStatus(err)
	}
	return &protocol.Empty{}, nil
}

// Iterate opens the iterator and streams every input it yields.
func (s *ExtensionServer) Iterate(req *protocol.IterateRequest, stream grpc.ServerStreamingServer[pipes.PipeInput]) error {
	pi, ok := s.ext.(plugin.PipeIterator)
	if !ok {
		return s.unsupported(pipes.KindIterator)
	}
	cfg, err := s.hydrate(pi, req.ConfigJSON)
	if err != nil {
		return rpcerr.ToStatus(err)
	}

	ctx := stream.Context()
	it, err := pi.Open(ctx, cfg)
	if err != nil {
		return rpcerr.ToStatus(err)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			s.logger.Warnw("Failed to close iterator", logger.FieldError, cerr)
		}
	}()

	for {
		in, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return rpcerr.ToStatus(err)
		}
		if err := stream.Send(&in); err != nil {
			return err
		}
	}
}

// Shutdown releases the extension and stops the server once in-flight
// calls have finished.
func (s *ExtensionServer) Shutdown(ctx context.Context, _ *protocol.Empty) (*protocol.Empty, error) {
	var err error
	s.shutdownOnce.Do(func() {
		if c, ok := s.ext.(plugin.Closer); ok {
			err = c.Close()
		}
		close(s.shutdown)
	})
	if err != nil {
		return nil, rpcerr.ToStatus(errors.Wrapf(err, "close %s", s.ext.Metadata().PluginID))
	}
	return &protocol.Empty{}, nil
}

func (s *ExtensionServer) hydrate(ext plugin.ConfigFactory, configJSON string) (any, error) {
	raw, err := protocol.DecodeConfig(configJSON)
	if err != nil {
		return nil, errors.NewInvalidConfigError(s.ext.Metadata().PluginID, err)
	}
	return s.registry.Hydrate(ext, raw)
}

func (s *ExtensionServer) unsupported(kind pipes.Kind) error {
	return status.Errorf(codes.Unimplemented, "extension %q is not a %s", s.ext.Metadata().PluginID, kind)
}
