// Package protocol defines the docpipe.Pipes gRPC service: config CRUD per
// kind, fetch-and-parse in unary, server-streaming and bidirectional form,
// and pipe job submission and status.
//
// It is carried by the JSON codec of plugin/grpc/protocol; configs and
// metadata travel as JSON text. Client is the typed Go client used by the
// CLI.
package protocol

import (
	"context"
	"strings"

	"google.golang.org/grpc"

	"github.com/teranos/docpipe/pipes"
	extproto "github.com/teranos/docpipe/plugin/grpc/protocol"
)

// PipesServiceName is the fully qualified gRPC service name.
const PipesServiceName = "docpipe.Pipes"

// Full method names that do not depend on a config kind.
const (
	FetchAndParseMethod                = "/docpipe.Pipes/FetchAndParse"
	FetchAndParseServerStreamingMethod = "/docpipe.Pipes/FetchAndParseServerStreaming"
	FetchAndParseBiDirectionalMethod   = "/docpipe.Pipes/FetchAndParseBiDirectional"
	RunPipeJobMethod                   = "/docpipe.Pipes/RunPipeJob"
	GetPipeJobMethod                   = "/docpipe.Pipes/GetPipeJob"
	ListPipeJobsMethod                 = "/docpipe.Pipes/ListPipeJobs"
	ListExtensionsMethod               = "/docpipe.Pipes/ListExtensions"
)

// ConfigMethods are the full method names of one kind's config calls.
type ConfigMethods struct {
	Save   string
	Get    string
	List   string
	Delete string
	Schema string
}

// MethodsFor returns the config method names of kind, e.g.
// /docpipe.Pipes/SavePipeIterator for iterators.
func MethodsFor(kind pipes.Kind) ConfigMethods {
	n := stem(kind)
	return ConfigMethods{
		Save:   fullMethod("Save" + n),
		Get:    fullMethod("Get" + n),
		List:   fullMethod("List" + n + "s"),
		Delete: fullMethod("Delete" + n),
		Schema: fullMethod("Get" + n + "ConfigJsonSchema"),
	}
}

func stem(kind pipes.Kind) string {
	switch kind {
	case pipes.KindFetcher:
		return "Fetcher"
	case pipes.KindEmitter:
		return "Emitter"
	case pipes.KindIterator:
		return "PipeIterator"
	}
	return string(kind)
}

func fullMethod(name string) string {
	return "/" + PipesServiceName + "/" + name
}

func shortName(full string) string {
	return strings.TrimPrefix(full, "/"+PipesServiceName+"/")
}

// PipesServer is implemented by the docpipe server. Config calls receive the
// kind their method name selects.
type PipesServer interface {
	SaveConfig(context.Context, pipes.Kind, *SaveConfigRequest) (*SaveConfigReply, error)
	GetConfig(context.Context, pipes.Kind, *ConfigIDRequest) (*ConfigReply, error)
	ListConfigs(context.Context, pipes.Kind, *Empty) (*ListConfigsReply, error)
	DeleteConfig(context.Context, pipes.Kind, *ConfigIDRequest) (*DeleteConfigReply, error)
	GetConfigSchema(context.Context, pipes.Kind, *SchemaRequest) (*SchemaReply, error)

	FetchAndParse(context.Context, *FetchAndParseRequest) (*FetchAndParseReply, error)
	FetchAndParseServerStreaming(*FetchAndParseRequest, grpc.ServerStreamingServer[FetchAndParseReply]) error
	FetchAndParseBiDirectional(grpc.BidiStreamingServer[FetchAndParseRequest, FetchAndParseReply]) error

	RunPipeJob(context.Context, *RunPipeJobRequest) (*RunPipeJobReply, error)
	GetPipeJob(context.Context, *GetPipeJobRequest) (*PipeJobReply, error)
	ListPipeJobs(context.Context, *Empty) (*ListPipeJobsReply, error)
	ListExtensions(context.Context, *Empty) (*ListExtensionsReply, error)
}

// RegisterPipesServer registers srv on s.
func RegisterPipesServer(s grpc.ServiceRegistrar, srv PipesServer) {
	s.RegisterService(&PipesServiceDesc, srv)
}

// PipesServiceDesc describes docpipe.Pipes.
var PipesServiceDesc = newPipesServiceDesc()

func newPipesServiceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: PipesServiceName,
		HandlerType: (*PipesServer)(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName:    shortName(FetchAndParseServerStreamingMethod),
				ServerStreams: true,
				Handler: func(srv any, stream grpc.ServerStream) error {
					in := new(FetchAndParseRequest)
					if err := stream.RecvMsg(in); err != nil {
						return err
					}
					return srv.(PipesServer).FetchAndParseServerStreaming(in, &grpc.GenericServerStream[FetchAndParseRequest, FetchAndParseReply]{ServerStream: stream})
				},
			},
			{
				StreamName:    shortName(FetchAndParseBiDirectionalMethod),
				ServerStreams: true,
				ClientStreams: true,
				Handler: func(srv any, stream grpc.ServerStream) error {
					return srv.(PipesServer).FetchAndParseBiDirectional(&grpc.GenericServerStream[FetchAndParseRequest, FetchAndParseReply]{ServerStream: stream})
				},
			},
		},
		Metadata: "docpipe/pipes",
	}

	for _, kind := range pipes.Kinds {
		m := MethodsFor(kind)
		desc.Methods = append(desc.Methods,
			method(m.Save, func(s PipesServer, ctx context.Context, in *SaveConfigRequest) (*SaveConfigReply, error) {
				return s.SaveConfig(ctx, kind, in)
			}),
			method(m.Get, func(s PipesServer, ctx context.Context, in *ConfigIDRequest) (*ConfigReply, error) {
				return s.GetConfig(ctx, kind, in)
			}),
			method(m.List, func(s PipesServer, ctx context.Context, in *Empty) (*ListConfigsReply, error) {
				return s.ListConfigs(ctx, kind, in)
			}),
			method(m.Delete, func(s PipesServer, ctx context.Context, in *ConfigIDRequest) (*DeleteConfigReply, error) {
				return s.DeleteConfig(ctx, kind, in)
			}),
			method(m.Schema, func(s PipesServer, ctx context.Context, in *SchemaRequest) (*SchemaReply, error) {
				return s.GetConfigSchema(ctx, kind, in)
			}),
		)
	}

	desc.Methods = append(desc.Methods,
		method(FetchAndParseMethod, PipesServer.FetchAndParse),
		method(RunPipeJobMethod, PipesServer.RunPipeJob),
		method(GetPipeJobMethod, PipesServer.GetPipeJob),
		method(ListPipeJobsMethod, PipesServer.ListPipeJobs),
		method(ListExtensionsMethod, PipesServer.ListExtensions),
	)
	return desc
}

func method[Req any, Resp any](full string, call func(PipesServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{MethodName: shortName(full), Handler: extproto.UnaryHandler(full, call)}
}
