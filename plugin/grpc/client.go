package grpc

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/internal/rpcerr"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/plugin"
	"github.com/teranos/docpipe/plugin/grpc/protocol"
)

// connectTimeout bounds the initial metadata call when ctx has no deadline.
const connectTimeout = 10 * time.Second

// RemoteExtension implements every capability by proxying to a plugin
// process. It advertises only the capabilities the plugin reported, so the
// registry resolves it exactly like an in-process extension.
type RemoteExtension struct {
	conn   *grpc.ClientConn
	client protocol.ExtensionClient
	logger *zap.SugaredLogger
	addr   string

	metadata plugin.Metadata
	caps     []pipes.Kind
	schema   string

	closeOnce sync.Once
	closeErr  error
}

var (
	_ plugin.Fetcher              = (*RemoteExtension)(nil)
	_ plugin.Emitter              = (*RemoteExtension)(nil)
	_ plugin.PipeIterator         = (*RemoteExtension)(nil)
	_ plugin.CapabilityAdvertiser = (*RemoteExtension)(nil)
	_ plugin.SchemaProvider       = (*RemoteExtension)(nil)
	_ plugin.Closer               = (*RemoteExtension)(nil)
)

// NewRemoteExtension connects to the plugin at addr and caches its metadata.
// token, when set, is sent with every call.
func NewRemoteExtension(ctx context.Context, addr, token string, log *zap.SugaredLogger, opts ...grpc.DialOption) (*RemoteExtension, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(protocol.CodecName)),
	}
	if token != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(tokenCredentials{token: token}))
	}
	conn, err := grpc.NewClient(addr, append(dialOpts, opts...)...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to plugin at %s", addr)
	}

	r := &RemoteExtension{
		conn:   conn,
		client: protocol.NewExtensionClient(conn),
		logger: log,
		addr:   addr,
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}
	meta, err := r.client.Metadata(ctx, &protocol.Empty{}, grpc.WaitForReady(true))
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(rpcerr.FromStatus(err), "failed to get plugin metadata from %s", addr)
	}
	caps, err := protocol.ParseKinds(meta.Capabilities)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "plugin at %s", addr)
	}

	r.metadata = plugin.Metadata{
		PluginID:    meta.PluginID,
		Version:     meta.Version,
		HostVersion: meta.HostVersion,
		Description: meta.Description,
		Author:      meta.Author,
		License:     meta.License,
	}
	r.caps = caps
	r.schema = meta.ConfigSchema
	r.logger = log.With(logger.FieldPluginID, meta.PluginID)

	r.logger.Infof("Connected to '%s' plugin gRPC server v%s at %s (capabilities %v)",
		meta.PluginID, meta.Version, addr, meta.Capabilities)
	return r, nil
}

// Metadata returns the plugin's metadata (cached from connection).
func (r *RemoteExtension) Metadata() plugin.Metadata { return r.metadata }

func (r *RemoteExtension) Capabilities() []pipes.Kind {
	return append([]pipes.Kind(nil), r.caps...)
}

func (r *RemoteExtension) ConfigSchema() string { return r.schema }

// NewConfig keeps remote configs untyped; the plugin hydrates them itself.
func (r *RemoteExtension) NewConfig() any { return &map[string]any{} }

// Addr is the plugin's gRPC address.
func (r *RemoteExtension) Addr() string { return r.addr }

func (r *RemoteExtension) Fetch(ctx context.Context, cfg any, fetchKey string, fetchMetadata pipes.Metadata) (io.ReadCloser, pipes.Metadata, error) {
	cfgJSON, err := protocol.EncodeConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	mdJSON, err := protocol.EncodeMetadata(fetchMetadata)
	if err != nil {
		return nil, nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := r.client.Fetch(streamCtx, &protocol.FetchRequest{
		ConfigJSON:        cfgJSON,
		FetchKey:          fetchKey,
		FetchMetadataJSON: mdJSON,
	})
	if err != nil {
		cancel()
		return nil, nil, r.callErr(err, "fetch")
	}
	first, err := stream.Recv()
	if err != nil {
		cancel()
		if err == io.EOF {
			return nil, nil, errors.Newf("plugin %s closed fetch of %q without a response", r.metadata.PluginID, fetchKey)
		}
		return nil, nil, r.callErr(err, "fetch")
	}
	md, err := pipes.ParseMetadataJSON(first.MetadataJSON)
	if err != nil {
		cancel()
		return nil, nil, errors.Wrapf(err, "plugin %s fetch metadata", r.metadata.PluginID)
	}
	return &chunkReader{stream: stream, cancel: cancel, buf: first.Data, owner: r}, md, nil
}

// chunkReader reads a fetch stream. Close abandons the rest of the stream.
type chunkReader struct {
	stream grpc.ServerStreamingClient[protocol.FetchChunk]
	cancel context.CancelFunc
	buf    []byte
	err    error
	owner  *RemoteExtension
}

func (c *chunkReader) Read(p []byte) (int, error) {
	for len(c.buf) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		chunk, err := c.stream.Recv()
		if err == io.EOF {
			c.err = io.EOF
			continue
		}
		if err != nil {
			c.err = c.owner.callErr(err, "fetch")
			continue
		}
		c.buf = chunk.Data
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *chunkReader) Close() error {
	c.cancel()
	return nil
}

func (r *RemoteExtension) Emit(ctx context.Context, cfg any, outputs []pipes.EmitOutput) error {
	cfgJSON, err := protocol.EncodeConfig(cfg)
	if err != nil {
		return err
	}
	if _, err := r.client.Emit(ctx, &protocol.EmitRequest{ConfigJSON: cfgJSON, Outputs: outputs}); err != nil {
		return r.callErr(err, "emit")
	}
	return nil
}

// Open starts the remote iterator and waits for its first input, so errors
// opening the source surface here rather than on the first Next.
func (r *RemoteExtension) Open(ctx context.Context, cfg any) (plugin.Iterator, error) {
	cfgJSON, err := protocol.EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := r.client.Iterate(streamCtx, &protocol.IterateRequest{ConfigJSON: cfgJSON})
	if err != nil {
		cancel()
		return nil, r.callErr(err, "iterate")
	}

	it := &remoteIterator{stream: stream, cancel: cancel, owner: r}
	first, err := stream.Recv()
	switch {
	case err == io.EOF:
		it.err = io.EOF
	case err != nil:
		cancel()
		return nil, r.callErr(err, "iterate")
	default:
		it.pending = first
	}
	return it, nil
}

type remoteIterator struct {
	stream  grpc.ServerStreamingClient[pipes.PipeInput]
	cancel  context.CancelFunc
	pending *pipes.PipeInput
	err     error
	owner   *RemoteExtension
}

func (it *remoteIterator) Next(ctx context.Context) (pipes.PipeInput, error) {
	if err := ctx.Err(); err != nil {
		return pipes.PipeInput{}, err
	}
	if it.pending != nil {
		in := *it.pending
		it.pending = nil
		return in, nil
	}
	if it.err != nil {
		return pipes.PipeInput{}, it.err
	}
	in, err := it.stream.Recv()
	if err == io.EOF {
		it.err = io.EOF
		return pipes.PipeInput{}, io.EOF
	}
	if err != nil {
		it.err = it.owner.callErr(err, "iterate")
		return pipes.PipeInput{}, it.err
	}
	return *in, nil
}

func (it *remoteIterator) Close() error {
	it.cancel()
	return nil
}

// Shutdown asks the plugin to release its resources and stop serving, then
// closes the connection.
func (r *RemoteExtension) Shutdown(ctx context.Context) error {
	_, err := r.client.Shutdown(ctx, &protocol.Empty{})
	cerr := r.Close()
	if err != nil {
		return errors.Wrapf(rpcerr.FromStatus(err), "failed to shutdown remote plugin %s at %s", r.metadata.PluginID, r.addr)
	}
	return cerr
}

// Close closes the gRPC connection.
func (r *RemoteExtension) Close() error {
	r.closeOnce.Do(func() { r.closeErr = r.conn.Close() })
	return r.closeErr
}

func (r *RemoteExtension) callErr(err error, op string) error {
	return errors.Wrapf(rpcerr.FromStatus(err), "plugin %s %s", r.metadata.PluginID, op)
}
