package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/metrics"
	"github.com/teranos/docpipe/parser"
	"github.com/teranos/docpipe/plugin"
	"github.com/teranos/docpipe/store"
	"github.com/teranos/docpipe/version"
)

// NewFromConfig opens the configured store and parsing engine and wires a
// server on them. Plugins are loaded later, by Start.
func NewFromConfig(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	backend, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}

	engine, err := parser.New(cfg.Parser, log)
	if err != nil {
		backend.Close()
		return nil, errors.Wrap(err, "failed to create parsing engine")
	}

	log.Infow("Server dependencies ready",
		"store", cfg.Store.Backend,
		"engine", cfg.Parser.Engine,
		"version", version.Version,
	)

	s, err := New(cfg, Deps{
		Backend:  backend,
		Engine:   engine,
		Registry: plugin.NewRegistry(version.Version, log),
		Metrics:  metrics.New(),
		Logger:   log,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}
