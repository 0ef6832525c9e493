package protocol

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/internal/rpcerr"
	"github.com/teranos/docpipe/pipes"
	extproto "github.com/teranos/docpipe/plugin/grpc/protocol"
)

// Client calls docpipe.Pipes. Errors carrying a docpipe reason are mapped
// back to their sentinels, so errors.Is(err, errors.ErrConfigNotFound)
// works across the wire.
type Client struct {
	conn *grpc.ClientConn // nil when built on a caller's connection
	cc   grpc.ClientConnInterface
}

// Dial creates a client for addr. The connection is established lazily.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(extproto.CodecName)),
	}
	conn, err := grpc.NewClient(addr, append(base, opts...)...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create client for %s", addr)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClient creates a client on an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes the connection made by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.cc.Invoke(ctx, method, in, out, extproto.WithJSON(nil)...); err != nil {
		return nil, rpcerr.FromStatus(err)
	}
	return out, nil
}

// SaveConfig creates or replaces a config and returns its id.
func (c *Client) SaveConfig(ctx context.Context, kind pipes.Kind, id, pluginID, configJSON string) (string, error) {
	return c.Save(ctx, kind, &SaveConfigRequest{ID: id, PluginID: pluginID, ConfigJSON: configJSON})
}

// Save sends a full save request, e.g. one with Validate set.
func (c *Client) Save(ctx context.Context, kind pipes.Kind, in *SaveConfigRequest) (string, error) {
	out, err := invoke[SaveConfigReply](ctx, c, MethodsFor(kind).Save, in)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) GetConfig(ctx context.Context, kind pipes.Kind, id string) (*ConfigReply, error) {
	return invoke[ConfigReply](ctx, c, MethodsFor(kind).Get, &ConfigIDRequest{ID: id})
}

func (c *Client) ListConfigs(ctx context.Context, kind pipes.Kind) ([]ConfigReply, error) {
	out, err := invoke[ListConfigsReply](ctx, c, MethodsFor(kind).List, &Empty{})
	if err != nil {
		return nil, err
	}
	return out.Configs, nil
}

// DeleteConfig reports whether the config existed.
func (c *Client) DeleteConfig(ctx context.Context, kind pipes.Kind, id string) (bool, error) {
	out, err := invoke[DeleteConfigReply](ctx, c, MethodsFor(kind).Delete, &ConfigIDRequest{ID: id})
	if err != nil {
		return false, err
	}
	return out.Success, nil
}

// ConfigSchema returns the plugin's config JSON schema, "" when it has none.
func (c *Client) ConfigSchema(ctx context.Context, kind pipes.Kind, pluginID string) (string, error) {
	out, err := invoke[SchemaReply](ctx, c, MethodsFor(kind).Schema, &SchemaRequest{PluginID: pluginID})
	if err != nil {
		return "", err
	}
	return out.JSONSchema, nil
}

func (c *Client) FetchAndParse(ctx context.Context, in *FetchAndParseRequest) (*FetchAndParseReply, error) {
	return invoke[FetchAndParseReply](ctx, c, FetchAndParseMethod, in)
}

// FetchAndParseStream calls the server-streaming variant and hands every
// reply to fn. An error from fn ends the call and is returned as is.
func (c *Client) FetchAndParseStream(ctx context.Context, in *FetchAndParseRequest, fn func(*FetchAndParseReply) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := extproto.OpenServerStream[FetchAndParseRequest, FetchAndParseReply](ctx, c.cc, &PipesServiceDesc.Streams[0], FetchAndParseServerStreamingMethod, in, nil)
	if err != nil {
		return rpcerr.FromStatus(err)
	}
	for {
		reply, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return rpcerr.FromStatus(err)
		}
		if err := fn(reply); err != nil {
			return err
		}
	}
}

// FetchAndParseBiDirectional opens a bidirectional session. Replies arrive
// in completion order; match them to requests by fetch key.
func (c *Client) FetchAndParseBiDirectional(ctx context.Context) (*BiDiStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s, err := c.cc.NewStream(ctx, &PipesServiceDesc.Streams[1], FetchAndParseBiDirectionalMethod, extproto.WithJSON(nil)...)
	if err != nil {
		cancel()
		return nil, rpcerr.FromStatus(err)
	}
	return &BiDiStream{
		stream: &grpc.GenericClientStream[FetchAndParseRequest, FetchAndParseReply]{ClientStream: s},
		cancel: cancel,
	}, nil
}

// BiDiStream is the client end of FetchAndParseBiDirectional.
type BiDiStream struct {
	stream grpc.BidiStreamingClient[FetchAndParseRequest, FetchAndParseReply]
	cancel context.CancelFunc
}

// Send queues one request. io.EOF means the server ended the stream; call
// Recv for its status.
func (b *BiDiStream) Send(req *FetchAndParseRequest) error {
	if err := b.stream.Send(req); err != nil {
		if err == io.EOF {
			return err
		}
		return rpcerr.FromStatus(err)
	}
	return nil
}

// CloseSend tells the server no more requests follow. Replies for requests
// already sent are still delivered.
func (b *BiDiStream) CloseSend() error {
	return b.stream.CloseSend()
}

// Recv returns the next reply, or io.EOF once every reply was delivered.
func (b *BiDiStream) Recv() (*FetchAndParseReply, error) {
	reply, err := b.stream.Recv()
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, rpcerr.FromStatus(err)
	}
	return reply, nil
}

// Close abandons the stream; in-flight requests are cancelled on the server.
func (b *BiDiStream) Close() {
	b.cancel()
}

// RunPipeJob submits a job and returns its id.
func (c *Client) RunPipeJob(ctx context.Context, in *RunPipeJobRequest) (string, error) {
	out, err := invoke[RunPipeJobReply](ctx, c, RunPipeJobMethod, in)
	if err != nil {
		return "", err
	}
	return out.PipeJobID, nil
}

func (c *Client) GetPipeJob(ctx context.Context, jobID string) (*PipeJobReply, error) {
	return invoke[PipeJobReply](ctx, c, GetPipeJobMethod, &GetPipeJobRequest{PipeJobID: jobID})
}

func (c *Client) ListPipeJobs(ctx context.Context) ([]PipeJobReply, error) {
	out, err := invoke[ListPipeJobsReply](ctx, c, ListPipeJobsMethod, &Empty{})
	if err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *Client) ListExtensions(ctx context.Context) ([]ExtensionInfo, error) {
	out, err := invoke[ListExtensionsReply](ctx, c, ListExtensionsMethod, &Empty{})
	if err != nil {
		return nil, err
	}
	return out.Extensions, nil
}
