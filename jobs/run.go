package jobs

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/pipeline"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/plugin"
)

// run is one submitted job and its progress counters.
type run struct {
	o       *Orchestrator
	req     RunRequest
	timeout time.Duration
	log     *zap.SugaredLogger

	processed atomic.Int64
	emitted   atomic.Int64
	failed    atomic.Int64

	// mu serializes status writes so a late flush never overwrites the final status
	mu     sync.Mutex
	status *pipes.JobStatus
}

// emitTarget is an emitter bound to its hydrated config.
type emitTarget struct {
	emitter plugin.Emitter
	config  any
}

func (r *run) work() {
	o := r.o
	defer o.wg.Done()

	select {
	case o.slots <- struct{}{}:
	case <-o.ctx.Done():
		o.mu.Lock()
		o.waiting--
		o.mu.Unlock()
		r.finish(errors.New("job cancelled before it started: orchestrator stopping"))
		return
	}
	defer func() { <-o.slots }()

	o.mu.Lock()
	o.waiting--
	o.active++
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.active--
		o.mu.Unlock()
	}()

	o.metrics.JobStarted()
	start := time.Now()
	r.log.Infow("Job started")

	ctx, cancel := context.WithTimeout(o.ctx, r.timeout)
	defer cancel()
	ctx = logger.WithJobID(ctx, r.status.JobID)

	stopFlush := r.startFlusher()
	err := r.executeWithGrace(ctx)
	if err != nil && ctx.Err() != nil {
		err = r.contextError(ctx, err)
	}
	stopFlush()

	hasError := r.finish(err)
	o.metrics.JobFinished(hasError, time.Since(start))
}

// executeWithGrace runs the job and, once ctx has ended, gives it the grace
// period to return before giving up on it. A goroutine stuck inside an
// extension is left behind; its late updates are ignored.
func (r *run) executeWithGrace(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- r.safeExecute(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	grace := r.o.cfg.GracePeriod()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		r.log.Warnw("Job did not stop within grace period", "grace", grace.String())
		return errors.Newf("job still busy %s after cancellation", grace)
	}
}

func (r *run) contextError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Mark(errors.Wrapf(err, "job exceeded completion timeout of %s", r.timeout), errors.ErrTimeout)
	}
	return errors.Wrap(err, "job cancelled")
}

func (r *run) safeExecute(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("job panicked: %v", p)
		}
	}()
	return r.execute(ctx)
}

// execute resolves the job's extensions, streams the iterator through one
// pipeline session and waits for every result to be emitted.
func (r *run) execute(ctx context.Context) error {
	o := r.o

	iterCfg, err := o.configs.Iterators.Get(ctx, r.req.IteratorID)
	if err != nil {
		return err
	}
	iterExt, err := o.registry.ResolveIterator(iterCfg.PluginID)
	if err != nil {
		return errors.Wrapf(err, "iterator %q", r.req.IteratorID)
	}
	iterNative, err := o.registry.Hydrate(iterExt, iterCfg.Config)
	if err != nil {
		return errors.Wrapf(err, "iterator %q", r.req.IteratorID)
	}

	emCfg, err := o.configs.Emitters.Get(ctx, r.req.EmitterID)
	if err != nil {
		return err
	}
	emExt, err := o.registry.ResolveEmitter(emCfg.PluginID)
	if err != nil {
		return errors.Wrapf(err, "emitter %q", r.req.EmitterID)
	}
	emNative, err := o.registry.Hydrate(emExt, emCfg.Config)
	if err != nil {
		return errors.Wrapf(err, "emitter %q", r.req.EmitterID)
	}
	target := emitTarget{emitter: emExt, config: emNative}

	sess := o.handler.Open(ctx, o.sessionOpts)
	defer sess.Cancel()
	if err := sess.Resolve(r.req.FetcherID); err != nil {
		return err
	}

	it, err := iterExt.Open(ctx, iterNative)
	if err != nil {
		return errors.Wrapf(err, "open iterator %q", r.req.IteratorID)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			r.log.Warnw("Failed to close iterator", logger.FieldError, cerr)
		}
	}()

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		r.consume(ctx, sess, target)
	}()

	if err := r.produce(ctx, sess, it); err != nil {
		return err
	}
	sess.CloseSend()

	select {
	case <-consumed:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for outstanding results")
	}
}

// produce pulls the iterator sequentially, one request per input. Send
// blocks while the session is saturated, which throttles the iterator.
func (r *run) produce(ctx context.Context, sess *pipeline.Session, it plugin.Iterator) error {
	for {
		in, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "iterator %q", r.req.IteratorID)
		}
		req := pipeline.Request{
			FetcherID:     r.req.FetcherID,
			FetchKey:      in.FetchKey,
			FetchMetadata: in.Metadata,
		}
		if err := sess.Send(ctx, req); err != nil {
			return errors.Wrapf(err, "queue %q", in.FetchKey)
		}
	}
}

// consume emits each usable result as soon as it arrives. Items that could
// not be fetched or processed are counted and skipped.
func (r *run) consume(ctx context.Context, sess *pipeline.Session, target emitTarget) {
	for resp := range sess.Results() {
		r.processed.Add(1)
		log := r.log.With(logger.FieldFetchKey, resp.Request.FetchKey)

		if resp.Err != nil {
			r.failed.Add(1)
			log.Warnw("Item failed", logger.FieldError, resp.Err)
			continue
		}

		res := resp.Result
		failed := res.Status != pipes.StatusSuccess
		if failed {
			log.Infow("Item not parsed cleanly", logger.FieldParseStat, res.Status, logger.FieldError, res.Error)
		}
		if res.Emittable() {
			if err := r.emit(ctx, target, res.EmitOutput()); err != nil {
				failed = true
				log.Warnw("Emit failed", logger.FieldError, err)
			} else {
				r.emitted.Add(1)
			}
		}
		if failed {
			r.failed.Add(1)
		}
	}
}

func (r *run) emit(ctx context.Context, target emitTarget, out pipes.EmitOutput) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("emitter panicked: %v", p)
		}
		r.o.metrics.ObserveEmit(err)
	}()
	return target.emitter.Emit(ctx, target.config, []pipes.EmitOutput{out})
}

// startFlusher writes progress counters periodically until stopped.
func (r *run) startFlusher() (stop func()) {
	ticker := time.NewTicker(r.o.flushInterval)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.flush()
			case <-quit:
				return
			}
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}

func (r *run) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Completed {
		return
	}
	r.status.UpdateProgress(r.processed.Load(), r.emitted.Load(), r.failed.Load())
	r.save()
}

// finish records the terminal status and reports whether the job had errors.
func (r *run) finish(jobErr error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.UpdateProgress(r.processed.Load(), r.emitted.Load(), r.failed.Load())
	if jobErr != nil {
		r.status.Fail(jobErr)
	} else {
		r.status.Finish(false)
	}
	r.save()
	r.o.forget(r.status.JobID)

	fields := []interface{}{
		logger.FieldStatus, r.status.State(),
		logger.FieldProcessed, r.status.Processed,
		logger.FieldEmitted, r.status.Emitted,
		logger.FieldFailed, r.status.Failed,
		logger.FieldDurationMS, r.status.Duration().Milliseconds(),
	}
	if jobErr != nil {
		r.log.Warnw("Job failed", append(fields, logger.FieldError, jobErr)...)
	} else {
		r.log.Infow("Job finished", fields...)
	}
	return r.status.HasError
}

// save writes and publishes the current status. Callers hold r.mu.
func (r *run) save() {
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	if err := r.o.jobs.Save(ctx, r.status); err != nil {
		r.log.Errorw("Failed to write job status", logger.FieldError, err)
	}
	r.o.publish(*r.status)
}
