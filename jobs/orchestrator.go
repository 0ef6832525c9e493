// Package jobs runs pipe jobs: an iterator's inputs are fetched and parsed
// through one pipeline session and every usable result is emitted.
//
// A job is submitted with RunJob, which returns its id immediately; the job
// itself executes on a worker goroutine and is only observable through the
// job status store (GetJob, ListJobs, Watch).
package jobs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/metrics"
	"github.com/teranos/docpipe/pipeline"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/plugin"
	"github.com/teranos/docpipe/store"
)

const (
	// DefaultFlushInterval is how often progress counters of a running job
	// are written to the job store.
	DefaultFlushInterval = 2 * time.Second

	// statusWriteTimeout bounds status writes made after the job context ended
	statusWriteTimeout = 10 * time.Second

	// MaxOrphanedJobsToRecover limits how many interrupted jobs Recover marks
	// failed in one call.
	MaxOrphanedJobsToRecover = 1000
)

// RunRequest names the three configs a pipe job is built from.
type RunRequest struct {
	IteratorID string
	FetcherID  string
	EmitterID  string
	// CompletionTimeout bounds the job once it holds a worker slot. Zero or
	// negative uses the configured default.
	CompletionTimeout time.Duration
}

// Validate checks every id is present.
func (r RunRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.IteratorID) == "" {
		missing = append(missing, "iterator id")
	}
	if strings.TrimSpace(r.FetcherID) == "" {
		missing = append(missing, "fetcher id")
	}
	if strings.TrimSpace(r.EmitterID) == "" {
		missing = append(missing, "emitter id")
	}
	if len(missing) > 0 {
		return errors.NewInvalidRequestError("%s required", strings.Join(missing, ", "))
	}
	return nil
}

// Options configures an Orchestrator.
type Options struct {
	Config        config.JobsConfig
	FlushInterval time.Duration
	Session       pipeline.SessionOptions
	Metrics       *metrics.Metrics
	Logger        *zap.SugaredLogger
}

// Orchestrator submits and executes pipe jobs.
type Orchestrator struct {
	handler  *pipeline.Handler
	configs  *store.ConfigStores
	registry *plugin.Registry
	jobs     *store.JobStore

	cfg           config.JobsConfig
	flushInterval time.Duration
	sessionOpts   pipeline.SessionOptions
	metrics       *metrics.Metrics
	logger        *zap.SugaredLogger

	slots  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	waiting  int
	active   int
	local    map[string]struct{}
	watchers map[string]map[chan pipes.JobStatus]struct{}
}

// NewOrchestrator creates an orchestrator. Jobs execute against handler,
// resolving iterator and emitter configs from configs and extensions from
// registry; their status is kept in jobStore.
func NewOrchestrator(handler *pipeline.Handler, configs *store.ConfigStores, registry *plugin.Registry, jobStore *store.JobStore, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Config.MaxConcurrent <= 0 {
		opts.Config.MaxConcurrent = 1
	}
	if opts.Config.DefaultCompletionTimeoutSeconds <= 0 {
		opts.Config.DefaultCompletionTimeoutSeconds = 3600
	}
	if opts.Config.GracePeriodSeconds < 0 {
		opts.Config.GracePeriodSeconds = 0
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		handler:       handler,
		configs:       configs,
		registry:      registry,
		jobs:          jobStore,
		cfg:           opts.Config,
		flushInterval: opts.FlushInterval,
		sessionOpts:   opts.Session,
		metrics:       opts.Metrics,
		logger:        opts.Logger.Named("jobs"),
		slots:         make(chan struct{}, opts.Config.MaxConcurrent),
		ctx:           ctx,
		cancel:        cancel,
		local:         make(map[string]struct{}),
		watchers:      make(map[string]map[chan pipes.JobStatus]struct{}),
	}

	if warning := o.checkMemoryPressure(); warning != "" {
		o.logger.Warnw("Memory pressure warning", "warning", warning, "max_concurrent", o.cfg.MaxConcurrent)
	}
	return o
}

// RunJob records a new job as running and starts it asynchronously. It
// fails only when the request is incomplete, the status cannot be written
// or the orchestrator is stopped; everything that goes wrong later is
// reported through the job's status.
func (o *Orchestrator) RunJob(ctx context.Context, req RunRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	timeout := req.CompletionTimeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultCompletionTimeout()
	}

	// claim the id under the lock so Recover leaves it alone and Stop waits
	// for it, but write the status without holding the lock
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return "", errors.Wrap(errors.ErrServiceUnavailable, "job orchestrator is stopped")
	}
	id := uuid.NewString()
	o.local[id] = struct{}{}
	o.wg.Add(1)
	o.mu.Unlock()

	status := pipes.NewJobStatus(id, req.IteratorID, req.FetcherID, req.EmitterID)
	if err := o.jobs.Save(ctx, status); err != nil {
		o.mu.Lock()
		delete(o.local, id)
		o.mu.Unlock()
		o.wg.Done()
		return "", errors.Wrapf(err, "record job %s", id)
	}

	r := &run{
		o:       o,
		req:     req,
		timeout: timeout,
		status:  status,
		log:     o.logger.With(logger.FieldJobID, id),
	}
	o.mu.Lock()
	o.waiting++
	o.mu.Unlock()
	go r.work()

	o.metrics.JobSubmitted()
	r.log.Infow("Job submitted",
		logger.FieldIteratorID, req.IteratorID,
		logger.FieldFetcherID, req.FetcherID,
		logger.FieldEmitterID, req.EmitterID,
		"timeout", timeout.String())
	return id, nil
}

// GetJob returns the latest status of jobID, or an ErrJobNotFound error.
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*pipes.JobStatus, error) {
	return o.jobs.Get(ctx, jobID)
}

// ListJobs returns every known job, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context) ([]*pipes.JobStatus, error) {
	return o.jobs.List(ctx)
}

// Stop refuses new jobs, cancels running and waiting ones and waits for
// their workers to record a final status. Jobs cancelled this way finish
// with hasError set. The wait is bounded by ctx.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Infow("Job orchestrator stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for job workers")
	}
}

// Recover marks jobs left running by a previous process as failed. Their
// workers are gone, so the status would otherwise stay running forever.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	all, err := o.jobs.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list jobs for recovery")
	}

	recovered := 0
	for _, st := range all {
		if st.Completed || o.isLocal(st.JobID) {
			continue
		}
		if recovered >= MaxOrphanedJobsToRecover {
			o.logger.Warnw("Orphaned job recovery limit reached", logger.FieldCount, recovered)
			break
		}
		st.Fail(errors.New("interrupted: server restarted before the job completed"))
		if err := o.jobs.Save(ctx, st); err != nil {
			return recovered, errors.Wrapf(err, "mark job %s failed", st.JobID)
		}
		recovered++
	}
	if recovered > 0 {
		o.logger.Infow("Marked orphaned jobs failed", logger.FieldCount, recovered)
	}
	return recovered, nil
}

// isLocal reports whether jobID was submitted to this orchestrator.
func (o *Orchestrator) isLocal(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.local[jobID]
	return ok
}
