package server

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/jobs"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/metrics"
	"github.com/teranos/docpipe/pipeline"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/plugin"
	"github.com/teranos/docpipe/server/protocol"
	"github.com/teranos/docpipe/store"
)

// pipesService implements docpipe.Pipes over the stores, the handler and
// the job orchestrator. Errors are returned as domain errors; the error
// interceptor turns them into statuses.
type pipesService struct {
	configs  *store.ConfigStores
	registry *plugin.Registry
	handler  *pipeline.Handler
	jobs     *jobs.Orchestrator
	session  pipeline.SessionOptions
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

var _ protocol.PipesServer = (*pipesService)(nil)

func (s *pipesService) SaveConfig(ctx context.Context, kind pipes.Kind, in *protocol.SaveConfigRequest) (*protocol.SaveConfigReply, error) {
	raw, err := pipes.ParseObjectJSON(in.ConfigJSON)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %q config", kind, in.ID)
	}
	cfg := pipes.ExtensionConfig{Kind: kind, ID: in.ID, PluginID: in.PluginID, Config: raw}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// plugins that are not loaded yet are checked when the config is used
	if in.Validate {
		if err := s.registry.Validate(in.PluginID, raw); err != nil {
			return nil, err
		}
	}
	if err := s.configs.Save(ctx, cfg); err != nil {
		return nil, err
	}
	s.metrics.ConfigSaved(string(kind))
	s.logger.Debugw("Saved config", "kind", kind, "id", in.ID, logger.FieldPluginID, in.PluginID)
	return &protocol.SaveConfigReply{ID: in.ID}, nil
}

func (s *pipesService) GetConfig(ctx context.Context, kind pipes.Kind, in *protocol.ConfigIDRequest) (*protocol.ConfigReply, error) {
	st, err := s.configs.For(kind)
	if err != nil {
		return nil, err
	}
	cfg, err := st.Get(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	return configReply(cfg)
}

func (s *pipesService) ListConfigs(ctx context.Context, kind pipes.Kind, _ *protocol.Empty) (*protocol.ListConfigsReply, error) {
	st, err := s.configs.For(kind)
	if err != nil {
		return nil, err
	}
	cfgs, err := st.List(ctx)
	if err != nil {
		return nil, err
	}
	out := &protocol.ListConfigsReply{Configs: make([]protocol.ConfigReply, 0, len(cfgs))}
	for _, cfg := range cfgs {
		r, err := configReply(cfg)
		if err != nil {
			return nil, err
		}
		out.Configs = append(out.Configs, *r)
	}
	return out, nil
}

func (s *pipesService) DeleteConfig(ctx context.Context, kind pipes.Kind, in *protocol.ConfigIDRequest) (*protocol.DeleteConfigReply, error) {
	st, err := s.configs.For(kind)
	if err != nil {
		return nil, err
	}
	existed, err := st.Delete(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	return &protocol.DeleteConfigReply{Success: existed}, nil
}

func (s *pipesService) GetConfigSchema(_ context.Context, kind pipes.Kind, in *protocol.SchemaRequest) (*protocol.SchemaReply, error) {
	ct, err := s.registry.ResolveConfigType(kind, in.PluginID)
	if err != nil {
		return nil, err
	}
	return &protocol.SchemaReply{JSONSchema: ct.Schema}, nil
}

func configReply(cfg pipes.ExtensionConfig) (*protocol.ConfigReply, error) {
	text, err := cfg.ConfigJSON()
	if err != nil {
		return nil, err
	}
	return &protocol.ConfigReply{ID: cfg.ID, PluginID: cfg.PluginID, ConfigJSON: text}, nil
}

// toRequest decodes the JSON metadata of a wire request.
func toRequest(in *protocol.FetchAndParseRequest) (pipeline.Request, error) {
	fetchMD, err := pipes.ParseMetadataJSON(in.FetchMetadataJSON)
	if err != nil {
		return pipeline.Request{}, errors.Wrap(err, "fetch metadata")
	}
	addedMD, err := pipes.ParseMetadataJSON(in.AddedMetadataJSON)
	if err != nil {
		return pipeline.Request{}, errors.Wrap(err, "added metadata")
	}
	req := pipeline.Request{
		FetcherID:     in.FetcherID,
		FetchKey:      in.FetchKey,
		FetchMetadata: fetchMD,
		AddedMetadata: addedMD,
	}
	return req, req.Validate()
}

func (s *pipesService) FetchAndParse(ctx context.Context, in *protocol.FetchAndParseRequest) (*protocol.FetchAndParseReply, error) {
	req, err := toRequest(in)
	if err != nil {
		return nil, err
	}
	result, err := s.handler.FetchAndParse(ctx, req)
	if err != nil {
		return nil, err
	}
	return protocol.NewFetchAndParseReply(result), nil
}

func (s *pipesService) FetchAndParseServerStreaming(in *protocol.FetchAndParseRequest, stream grpc.ServerStreamingServer[protocol.FetchAndParseReply]) error {
	req, err := toRequest(in)
	if err != nil {
		return err
	}
	return s.handler.Stream(stream.Context(), req, func(r pipes.FetchAndParseResult) error {
		return stream.Send(protocol.NewFetchAndParseReply(r))
	})
}

// FetchAndParseBiDirectional pipes every received request into one handler
// session and streams results back as they complete. A request that cannot
// be processed at all ends the stream with its error; fetch and parse
// failures are ordinary replies.
func (s *pipesService) FetchAndParseBiDirectional(stream grpc.BidiStreamingServer[protocol.FetchAndParseRequest, protocol.FetchAndParseReply]) error {
	ctx := stream.Context()
	sess := s.handler.Open(ctx, s.session)
	defer sess.Cancel()

	// exactly one value is sent before the receiver exits
	recvErr := make(chan error, 1)
	go func() {
		for {
			in, err := stream.Recv()
			if err == io.EOF {
				sess.CloseSend()
				recvErr <- nil
				return
			}
			if err != nil {
				sess.Cancel()
				recvErr <- err
				return
			}
			req, err := toRequest(in)
			if err != nil {
				sess.Cancel()
				recvErr <- errors.Wrapf(err, "request for %q", in.FetchKey)
				return
			}
			if err := sess.Send(ctx, req); err != nil {
				recvErr <- ctx.Err()
				return
			}
		}
	}()

	for resp := range sess.Results() {
		if resp.Err != nil {
			s.logger.Infow("Ending bidirectional stream on unusable request",
				logger.FieldFetcherID, resp.Request.FetcherID,
				logger.FieldFetchKey, resp.Request.FetchKey,
				logger.FieldError, resp.Err,
			)
			return resp.Err
		}
		if err := stream.Send(protocol.NewFetchAndParseReply(resp.Result)); err != nil {
			return err
		}
	}
	return <-recvErr
}

func (s *pipesService) RunPipeJob(ctx context.Context, in *protocol.RunPipeJobRequest) (*protocol.RunPipeJobReply, error) {
	id, err := s.jobs.RunJob(ctx, jobs.RunRequest{
		IteratorID:        in.PipeIteratorID,
		FetcherID:         in.FetcherID,
		EmitterID:         in.EmitterID,
		CompletionTimeout: time.Duration(in.JobCompletionTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &protocol.RunPipeJobReply{PipeJobID: id}, nil
}

func (s *pipesService) GetPipeJob(ctx context.Context, in *protocol.GetPipeJobRequest) (*protocol.PipeJobReply, error) {
	st, err := s.jobs.GetJob(ctx, in.PipeJobID)
	if err != nil {
		return nil, err
	}
	return protocol.NewPipeJobReply(st), nil
}

func (s *pipesService) ListPipeJobs(ctx context.Context, _ *protocol.Empty) (*protocol.ListPipeJobsReply, error) {
	list, err := s.jobs.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	out := &protocol.ListPipeJobsReply{Jobs: make([]protocol.PipeJobReply, 0, len(list))}
	for _, st := range list {
		out.Jobs = append(out.Jobs, *protocol.NewPipeJobReply(st))
	}
	return out, nil
}

func (s *pipesService) ListExtensions(context.Context, *protocol.Empty) (*protocol.ListExtensionsReply, error) {
	return &protocol.ListExtensionsReply{Extensions: extensionInfos(s.registry)}, nil
}

func extensionInfos(registry *plugin.Registry) []protocol.ExtensionInfo {
	list := registry.List()
	out := make([]protocol.ExtensionInfo, 0, len(list))
	for _, info := range list {
		caps := make([]string, len(info.Capabilities))
		for i, c := range info.Capabilities {
			caps[i] = string(c)
		}
		out = append(out, protocol.ExtensionInfo{
			PluginID:     info.PluginID,
			Version:      info.Version,
			Description:  info.Description,
			Capabilities: caps,
			HasSchema:    info.HasSchema,
		})
	}
	return out
}
