// Package pipeline runs the fetch-parse step for single documents, in unary,
// server-streaming and bidirectional session shapes.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/metrics"
	"github.com/teranos/docpipe/parser"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/plugin"
	"github.com/teranos/docpipe/store"
)

// Default session sizing when Options leaves it unset.
const (
	DefaultSessionConcurrency = 8
	DefaultSessionBuffer      = 64
)

// Request asks for one document to be fetched and parsed.
type Request struct {
	FetcherID string
	FetchKey  string
	// FetchMetadata is handed to the fetcher.
	FetchMetadata pipes.Metadata
	// AddedMetadata is merged into every result record.
	AddedMetadata pipes.Metadata
}

// Validate checks the fields every request needs.
func (r Request) Validate() error {
	if strings.TrimSpace(r.FetcherID) == "" {
		return errors.NewInvalidRequestError("fetcher id is required")
	}
	if r.FetchKey == "" {
		return errors.NewInvalidRequestError("fetch key is required")
	}
	return nil
}

// Options configures a Handler.
type Options struct {
	// ItemTimeout bounds one fetch-and-parse; zero means no bound beyond the caller's context.
	ItemTimeout        time.Duration
	SessionConcurrency int
	SessionBuffer      int
	Metrics            *metrics.Metrics
	Logger             *zap.SugaredLogger
}

// Handler fetches documents through fetcher extensions and parses them.
// It holds no per-call state and is safe for concurrent use.
type Handler struct {
	fetchers *store.ConfigStore
	registry *plugin.Registry
	engine   parser.Engine
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

// NewHandler creates a handler resolving fetcher ids through fetchers.
func NewHandler(fetchers *store.ConfigStore, registry *plugin.Registry, engine parser.Engine, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.SessionConcurrency <= 0 {
		opts.SessionConcurrency = DefaultSessionConcurrency
	}
	if opts.SessionBuffer < 0 {
		opts.SessionBuffer = DefaultSessionBuffer
	}
	return &Handler{
		fetchers: fetchers,
		registry: registry,
		engine:   engine,
		opts:     opts,
		metrics:  opts.Metrics,
		logger:   opts.Logger.Named("pipeline"),
	}
}

// resolvedFetcher is a fetcher extension bound to its hydrated config.
type resolvedFetcher struct {
	fetcher plugin.Fetcher
	config  any
}

// resolve looks up the named fetcher config and hydrates it into the
// extension's native config type.
func (h *Handler) resolve(ctx context.Context, fetcherID string) (resolvedFetcher, error) {
	cfg, err := h.fetchers.Get(ctx, fetcherID)
	if err != nil {
		return resolvedFetcher{}, err
	}
	f, err := h.registry.ResolveFetcher(cfg.PluginID)
	if err != nil {
		return resolvedFetcher{}, errors.Wrapf(err, "fetcher %q", fetcherID)
	}
	native, err := h.registry.Hydrate(f, cfg.Config)
	if err != nil {
		return resolvedFetcher{}, errors.Wrapf(err, "fetcher %q", fetcherID)
	}
	return resolvedFetcher{fetcher: f, config: native}, nil
}

// FetchAndParse fetches and parses one document.
//
// Configuration problems (unknown fetcher id, unloaded plugin, config that
// does not fit the plugin) are returned as errors. Fetch and parse failures
// are not errors: they come back as FETCH_EXCEPTION or PARSE_EXCEPTION
// results carrying the failure in a well-known field.
func (h *Handler) FetchAndParse(ctx context.Context, req Request) (pipes.FetchAndParseResult, error) {
	if err := req.Validate(); err != nil {
		return pipes.FetchAndParseResult{}, err
	}
	rf, err := h.resolve(ctx, req.FetcherID)
	if err != nil {
		return pipes.FetchAndParseResult{}, err
	}
	return h.run(ctx, rf, req), nil
}

// Stream is the server-streaming shape: every result for req is handed to
// send. A single request currently yields a single result.
func (h *Handler) Stream(ctx context.Context, req Request, send func(pipes.FetchAndParseResult) error) error {
	result, err := h.FetchAndParse(ctx, req)
	if err != nil {
		return err
	}
	return send(result)
}

// run executes fetch then parse. The fetched stream is closed on every path.
func (h *Handler) run(ctx context.Context, rf resolvedFetcher, req Request) (result pipes.FetchAndParseResult) {
	start := time.Now()
	log := logger.FromContext(ctx, h.logger).With(logger.FieldFetcherID, req.FetcherID, logger.FieldFetchKey, req.FetchKey)
	defer func() {
		h.metrics.ObserveFetchParse(string(result.Status), time.Since(start))
		log.Debugw("Fetch and parse finished",
			logger.FieldParseStat, result.Status,
			logger.FieldCount, len(result.Records),
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	}()

	if h.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.ItemTimeout)
		defer cancel()
	}

	added := req.AddedMetadata.ToRecord()

	stream, fetched, err := h.fetch(ctx, rf, req)
	if err != nil {
		if stream != nil {
			_ = stream.Close()
		}
		log.Infow("Fetch failed", logger.FieldError, err)
		rec := pipes.Record{}
		rec.Set(pipes.FieldFetchException, err.Error())
		rec.Merge(added)
		return pipes.FetchAndParseResult{
			FetchKey: req.FetchKey,
			Status:   pipes.StatusFetchException,
			Records:  []pipes.Record{rec},
			Error:    err.Error(),
		}
	}
	defer stream.Close()

	hints := pipes.Metadata{pipes.FieldResourceName: req.FetchKey}
	for k, v := range fetched {
		hints[k] = v
	}

	status := pipes.StatusSuccess
	errMsg := ""
	records, err := h.parse(ctx, stream, hints)
	if err != nil {
		status = pipes.StatusParseException
		errMsg = err.Error()
		log.Infow("Parse failed", logger.FieldError, err, logger.FieldCount, len(records))
	}
	if len(records) == 0 {
		records = []pipes.Record{{}}
	}
	if err != nil {
		if _, ok := records[0][pipes.FieldParseException]; !ok {
			records[0].Set(pipes.FieldParseException, errMsg)
		}
	}

	// fetcher metadata seeds fields the parser did not report
	for k, v := range fetched {
		if _, ok := records[0][k]; !ok {
			records[0][k] = pipes.ToValues(v)
		}
	}
	for _, rec := range records {
		rec.Merge(added)
	}

	return pipes.FetchAndParseResult{
		FetchKey: req.FetchKey,
		Status:   status,
		Records:  records,
		Error:    errMsg,
	}
}

// fetch calls the extension, converting a panic into a fetch error.
func (h *Handler) fetch(ctx context.Context, rf resolvedFetcher, req Request) (rc io.ReadCloser, md pipes.Metadata, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("fetcher %s panicked: %v", rf.fetcher.Metadata().PluginID, p)
		}
	}()
	rc, md, err = rf.fetcher.Fetch(ctx, rf.config, req.FetchKey, req.FetchMetadata)
	if err == nil && rc == nil {
		err = errors.Newf("fetcher %s returned no stream", rf.fetcher.Metadata().PluginID)
	}
	return rc, md, err
}

// parse calls the engine, converting a panic into a parse error.
func (h *Handler) parse(ctx context.Context, r io.Reader, hints pipes.Metadata) (records []pipes.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("parser panicked: %s", fmt.Sprint(p))
		}
	}()
	return h.engine.Parse(ctx, r, hints)
}
