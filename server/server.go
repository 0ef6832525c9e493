// Package server runs the docpipe gRPC service and its admin HTTP API.
//
// A Server owns the config and job stores, the extension registry, the
// fetch-parse handler and the job orchestrator. Start listens on the
// configured addresses; Serve takes ready listeners, which tests use.
package server

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/jobs"
	"github.com/teranos/docpipe/metrics"
	"github.com/teranos/docpipe/parser"
	"github.com/teranos/docpipe/pipeline"
	"github.com/teranos/docpipe/plugin"
	grpcplugin "github.com/teranos/docpipe/plugin/grpc"
	"github.com/teranos/docpipe/server/protocol"
	"github.com/teranos/docpipe/store"
)

// Deps are the collaborators a Server is built on. Backend and Engine are
// required; the rest default.
type Deps struct {
	Backend  store.Backend
	Engine   parser.Engine
	Registry *plugin.Registry
	Metrics  *metrics.Metrics
	Logger   *zap.SugaredLogger
}

// Server serves docpipe.Pipes and the admin API.
type Server struct {
	cfg      *config.Config
	backend  store.Backend
	configs  *store.ConfigStores
	registry *plugin.Registry
	handler  *pipeline.Handler
	jobs     *jobs.Orchestrator
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger

	grpcServer *grpc.Server
	httpServer *http.Server // nil when the admin API is disabled

	mu          sync.Mutex
	plugins     *grpcplugin.PluginManager
	seedWatcher *config.SeedWatcher
	grpcAddr    net.Addr
	adminAddr   net.Addr

	state    atomic.Int32
	stopping chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// New wires a server from cfg and deps. Nothing listens until Start or Serve.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if deps.Backend == nil {
		return nil, errors.New("store backend cannot be nil")
	}
	if deps.Engine == nil {
		return nil, errors.New("parser engine cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Registry == nil {
		deps.Registry = plugin.NewRegistry("", deps.Logger)
	}

	log := deps.Logger.Named("server")
	configs := store.NewConfigStores(deps.Backend)
	jobStore := store.NewJobStore(deps.Backend)
	session := pipeline.SessionOptions{
		Concurrency: cfg.Pipeline.SessionConcurrency,
		Buffer:      cfg.Pipeline.SessionBuffer,
	}

	handler := pipeline.NewHandler(configs.Fetchers, deps.Registry, deps.Engine, pipeline.Options{
		ItemTimeout:        cfg.Parser.ReadTimeout(),
		SessionConcurrency: session.Concurrency,
		SessionBuffer:      session.Buffer,
		Metrics:            deps.Metrics,
		Logger:             deps.Logger,
	})
	orch := jobs.NewOrchestrator(handler, configs, deps.Registry, jobStore, jobs.Options{
		Config:  cfg.Jobs,
		Session: session,
		Metrics: deps.Metrics,
		Logger:  deps.Logger,
	})

	s := &Server{
		cfg:      cfg,
		backend:  deps.Backend,
		configs:  configs,
		registry: deps.Registry,
		handler:  handler,
		jobs:     orch,
		metrics:  deps.Metrics,
		logger:   log,
		stopping: make(chan struct{}),
	}

	opts := interceptors(cfg.Server.RateLimit, deps.Metrics, log)
	if cfg.Server.MaxRecvMsgMB > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(cfg.Server.MaxRecvMsgMB<<20))
	}
	s.grpcServer = grpc.NewServer(opts...)
	protocol.RegisterPipesServer(s.grpcServer, &pipesService{
		configs:  configs,
		registry: deps.Registry,
		handler:  handler,
		jobs:     orch,
		session:  session,
		metrics:  deps.Metrics,
		logger:   log,
	})

	if cfg.Server.AdminAddress != "" {
		s.httpServer = &http.Server{
			Handler:           s.adminRouter(),
			ReadHeaderTimeout: adminReadHeaderTimeout,
		}
	}
	return s, nil
}

// Registry returns the extension registry; in-process extensions are
// registered on it before Start.
func (s *Server) Registry() *plugin.Registry { return s.registry }

// Configs returns the config stores.
func (s *Server) Configs() *store.ConfigStores { return s.configs }

// Jobs returns the job orchestrator.
func (s *Server) Jobs() *jobs.Orchestrator { return s.jobs }

// GRPCAddr is the bound gRPC address, nil before Serve.
func (s *Server) GRPCAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grpcAddr
}

// AdminAddr is the bound admin HTTP address, nil when disabled or before Serve.
func (s *Server) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminAddr
}
