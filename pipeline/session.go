package pipeline

import (
	"context"
	"sync"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/pipes"
)

// ErrSessionClosed is returned by Send after CloseSend or cancellation.
var ErrSessionClosed = errors.New("session closed")

// SessionOptions sizes a session. Zero values take the handler's defaults.
type SessionOptions struct {
	// Concurrency is the number of items processed at once.
	Concurrency int
	// Buffer is the capacity of the request and result channels.
	Buffer int
}

// Response pairs a request with its outcome. Err is set when the request
// could not be processed at all (unknown fetcher, unloaded plugin, bad
// config); fetch and parse failures are reported through Result.Status.
type Response struct {
	Request Request
	Result  pipes.FetchAndParseResult
	Err     error
}

// Session is a bidirectional fetch-and-parse channel.
//
// Requests pushed with Send are dispatched independently, so results arrive
// in completion order, not request order. Results is closed once CloseSend
// has been called and every dispatched request has produced its response,
// or once the session is cancelled. Done is closed right after Results.
type Session struct {
	h    *Handler
	ctx  context.Context
	stop context.CancelFunc

	sendMu     sync.RWMutex
	sendClosed bool
	requests   chan Request

	results chan Response
	done    chan struct{}

	cacheMu sync.Mutex
	cache   map[string]resolvedFetcher
}

// Open starts a session. Cancelling ctx cancels the session.
func (h *Handler) Open(ctx context.Context, opts SessionOptions) *Session {
	if opts.Concurrency <= 0 {
		opts.Concurrency = h.opts.SessionConcurrency
	}
	if opts.Buffer <= 0 {
		opts.Buffer = h.opts.SessionBuffer
	}

	sctx, stop := context.WithCancel(ctx)
	s := &Session{
		h:        h,
		ctx:      sctx,
		stop:     stop,
		requests: make(chan Request, opts.Buffer),
		results:  make(chan Response, opts.Buffer),
		done:     make(chan struct{}),
		cache:    make(map[string]resolvedFetcher),
	}
	h.metrics.SessionOpened()
	go s.dispatch(opts.Concurrency)
	return s
}

// Send queues one request. It blocks while the request buffer is full and
// fails with ErrSessionClosed once CloseSend or cancellation happened.
func (s *Session) Send(ctx context.Context, req Request) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed || s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	select {
	case s.requests <- req:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseSend signals that no more requests will be sent. Safe to call more
// than once.
func (s *Session) CloseSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sendClosed {
		s.sendClosed = true
		close(s.requests)
	}
}

// Cancel stops dispatching queued requests and cancels in-flight ones.
// Their responses are dropped.
func (s *Session) Cancel() {
	s.stop()
}

// Results delivers one response per dispatched request.
func (s *Session) Results() <-chan Response {
	return s.results
}

// Done is closed once the result stream has closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) dispatch(concurrency int) {
	log := logger.FromContext(s.ctx, s.h.logger.Named("session"))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	defer func() {
		wg.Wait()
		close(s.results)
		s.stop()
		s.h.metrics.SessionClosed()
		close(s.done)
	}()

	for {
		// a cancelled session must not pick up requests still in the buffer
		if s.ctx.Err() != nil {
			log.Debugw("Session cancelled", logger.FieldError, s.ctx.Err())
			return
		}
		var req Request
		var ok bool
		select {
		case req, ok = <-s.requests:
			if !ok {
				return
			}
		case <-s.ctx.Done():
			log.Debugw("Session cancelled", logger.FieldError, s.ctx.Err())
			return
		}

		select {
		case sem <- struct{}{}:
		case <-s.ctx.Done():
			return
		}
		if s.ctx.Err() != nil {
			<-sem
			return
		}

		wg.Add(1)
		s.h.metrics.ItemStarted()
		go func(req Request) {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.h.metrics.ItemDone()
			s.deliver(s.process(req))
		}(req)
	}
}

func (s *Session) process(req Request) (resp Response) {
	resp.Request = req
	resp.Result.FetchKey = req.FetchKey

	defer func() {
		if p := recover(); p != nil {
			resp.Err = errors.Newf("panic processing %q: %v", req.FetchKey, p)
		}
	}()

	if err := req.Validate(); err != nil {
		resp.Err = err
		return resp
	}
	rf, err := s.resolve(req.FetcherID)
	if err != nil {
		resp.Err = err
		return resp
	}
	resp.Result = s.h.run(s.ctx, rf, req)
	return resp
}

// Resolve binds fetcherID to the session ahead of any request, so a missing
// config or unloaded plugin is reported before work is queued.
func (s *Session) Resolve(fetcherID string) error {
	_, err := s.resolve(fetcherID)
	return err
}

// resolve caches successful resolutions for the life of the session.
func (s *Session) resolve(fetcherID string) (resolvedFetcher, error) {
	s.cacheMu.Lock()
	rf, ok := s.cache[fetcherID]
	s.cacheMu.Unlock()
	if ok {
		return rf, nil
	}

	rf, err := s.h.resolve(s.ctx, fetcherID)
	if err != nil {
		return resolvedFetcher{}, err
	}

	s.cacheMu.Lock()
	s.cache[fetcherID] = rf
	s.cacheMu.Unlock()
	return rf, nil
}

func (s *Session) deliver(resp Response) {
	select {
	case s.results <- resp:
	case <-s.ctx.Done():
	}
}
