package protocol

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/teranos/docpipe/pipes"
)

// ExtensionServiceName is the fully qualified gRPC service name.
const ExtensionServiceName = "docpipe.Extension"

// Full method names, as seen by interceptors.
const (
	ExtensionMetadataMethod = "/docpipe.Extension/Metadata"
	ExtensionFetchMethod    = "/docpipe.Extension/Fetch"
	ExtensionEmitMethod     = "/docpipe.Extension/Emit"
	ExtensionIterateMethod  = "/docpipe.Extension/Iterate"
	ExtensionShutdownMethod = "/docpipe.Extension/Shutdown"
)

// ExtensionServer is implemented by the plugin side.
type ExtensionServer interface {
	Metadata(context.Context, *Empty) (*MetadataResponse, error)
	Fetch(*FetchRequest, grpc.ServerStreamingServer[FetchChunk]) error
	Emit(context.Context, *EmitRequest) (*Empty, error)
	Iterate(*IterateRequest, grpc.ServerStreamingServer[pipes.PipeInput]) error
	Shutdown(context.Context, *Empty) (*Empty, error)
}

// UnimplementedExtensionServer answers every call with codes.Unimplemented.
// Embed it to serve only some capabilities.
type UnimplementedExtensionServer struct{}

func (UnimplementedExtensionServer) Metadata(context.Context, *Empty) (*MetadataResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Metadata not implemented")
}
func (UnimplementedExtensionServer) Fetch(*FetchRequest, grpc.ServerStreamingServer[FetchChunk]) error {
	return status.Error(codes.Unimplemented, "method Fetch not implemented")
}
func (UnimplementedExtensionServer) Emit(context.Context, *EmitRequest) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Emit not implemented")
}
func (UnimplementedExtensionServer) Iterate(*IterateRequest, grpc.ServerStreamingServer[pipes.PipeInput]) error {
	return status.Error(codes.Unimplemented, "method Iterate not implemented")
}
func (UnimplementedExtensionServer) Shutdown(context.Context, *Empty) (*Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Shutdown not implemented")
}

// RegisterExtensionServer registers srv on s.
func RegisterExtensionServer(s grpc.ServiceRegistrar, srv ExtensionServer) {
	s.RegisterService(&ExtensionServiceDesc, srv)
}

// ExtensionServiceDesc describes docpipe.Extension.
var ExtensionServiceDesc = grpc.ServiceDesc{
	ServiceName: ExtensionServiceName,
	HandlerType: (*ExtensionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Metadata", Handler: UnaryHandler(ExtensionMetadataMethod, ExtensionServer.Metadata)},
		{MethodName: "Emit", Handler: UnaryHandler(ExtensionEmitMethod, ExtensionServer.Emit)},
		{MethodName: "Shutdown", Handler: UnaryHandler(ExtensionShutdownMethod, ExtensionServer.Shutdown)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Fetch",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(FetchRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ExtensionServer).Fetch(in, &grpc.GenericServerStream[FetchRequest, FetchChunk]{ServerStream: stream})
			},
		},
		{
			StreamName:    "Iterate",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(IterateRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(ExtensionServer).Iterate(in, &grpc.GenericServerStream[IterateRequest, pipes.PipeInput]{ServerStream: stream})
			},
		},
	},
	Metadata: "docpipe/extension",
}

// UnaryHandler adapts a typed method to grpc's untyped handler signature.
func UnaryHandler[S any, Req any, Resp any](fullMethod string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ExtensionClient is the host side of docpipe.Extension.
type ExtensionClient interface {
	Metadata(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*MetadataResponse, error)
	Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[FetchChunk], error)
	Emit(ctx context.Context, in *EmitRequest, opts ...grpc.CallOption) (*Empty, error)
	Iterate(ctx context.Context, in *IterateRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[pipes.PipeInput], error)
	Shutdown(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error)
}

type extensionClient struct {
	cc grpc.ClientConnInterface
}

// NewExtensionClient creates a client on cc. Every call uses the JSON codec.
func NewExtensionClient(cc grpc.ClientConnInterface) ExtensionClient {
	return &extensionClient{cc: cc}
}

func (c *extensionClient) Metadata(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*MetadataResponse, error) {
	out := new(MetadataResponse)
	if err := c.cc.Invoke(ctx, ExtensionMetadataMethod, in, out, WithJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *extensionClient) Fetch(ctx context.Context, in *FetchRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[FetchChunk], error) {
	return OpenServerStream[FetchRequest, FetchChunk](ctx, c.cc, &ExtensionServiceDesc.Streams[0], ExtensionFetchMethod, in, opts)
}

func (c *extensionClient) Emit(ctx context.Context, in *EmitRequest, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, ExtensionEmitMethod, in, out, WithJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *extensionClient) Iterate(ctx context.Context, in *IterateRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[pipes.PipeInput], error) {
	return OpenServerStream[IterateRequest, pipes.PipeInput](ctx, c.cc, &ExtensionServiceDesc.Streams[1], ExtensionIterateMethod, in, opts)
}

func (c *extensionClient) Shutdown(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, ExtensionShutdownMethod, in, out, WithJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenServerStream opens a server-streaming call and sends its single request.
func OpenServerStream[Req any, Resp any](ctx context.Context, cc grpc.ClientConnInterface, desc *grpc.StreamDesc, method string, in *Req, opts []grpc.CallOption) (grpc.ServerStreamingClient[Resp], error) {
	stream, err := cc.NewStream(ctx, desc, method, WithJSON(opts)...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, Resp]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// WithJSON prepends the JSON content subtype to opts.
func WithJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
