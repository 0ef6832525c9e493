// Package pipestest provides deterministic extensions for tests: a fetcher
// over an in-memory document set, an iterator over a fixed or endless key
// list, a recording emitter and a plain-text parsing engine.
package pipestest

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/parser"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/plugin"
)

// Plugin ids the fakes register under by default.
const (
	FetcherID  = "fixture-fetcher"
	EmitterID  = "recording-emitter"
	IteratorID = "list-iterator"
)

// Document is one fixture in a Fetcher's store.
type Document struct {
	Content     string
	ContentType string
}

// FetcherConfig is the fixture fetcher's native config.
type FetcherConfig struct {
	// Prefix is prepended to every fetch key before lookup.
	Prefix string `json:"prefix"`
	// FailKeys are keys whose fetch always fails.
	FailKeys []string `json:"fail_keys"`
	// Delay is slept before every fetch.
	Delay time.Duration `json:"delay"`
}

// Fetcher serves documents from memory and counts open streams.
type Fetcher struct {
	ID string

	mu     sync.RWMutex
	docs   map[string]Document
	opened atomic.Int64
	closed atomic.Int64
	calls  atomic.Int64
}

var (
	_ plugin.Fetcher        = (*Fetcher)(nil)
	_ plugin.SchemaProvider = (*Fetcher)(nil)
)

// NewFetcher creates a fetcher over docs.
func NewFetcher(docs map[string]Document) *Fetcher {
	f := &Fetcher{ID: FetcherID, docs: make(map[string]Document, len(docs))}
	for k, d := range docs {
		f.docs[k] = d
	}
	return f
}

// Put adds or replaces a document.
func (f *Fetcher) Put(key string, doc Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[key] = doc
}

func (f *Fetcher) Metadata() plugin.Metadata {
	return plugin.Metadata{PluginID: f.ID, Version: "1.0.0", Description: "in-memory fixture fetcher"}
}

func (f *Fetcher) NewConfig() any { return &FetcherConfig{} }

func (f *Fetcher) ConfigSchema() string {
	return `{
  "type": "object",
  "properties": {
    "prefix": {"type": "string"},
    "fail_keys": {"type": "array", "items": {"type": "string"}},
    "delay": {"type": "string"}
  },
  "additionalProperties": false
}`
}

func (f *Fetcher) Fetch(ctx context.Context, cfg any, fetchKey string, fetchMetadata pipes.Metadata) (io.ReadCloser, pipes.Metadata, error) {
	f.calls.Add(1)
	c, ok := cfg.(*FetcherConfig)
	if !ok {
		return nil, nil, errors.Newf("unexpected config type %T", cfg)
	}
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	for _, k := range c.FailKeys {
		if k == fetchKey {
			return nil, nil, errors.Newf("fetch of %q refused", fetchKey)
		}
	}

	f.mu.RLock()
	doc, ok := f.docs[c.Prefix+fetchKey]
	f.mu.RUnlock()
	if !ok {
		return nil, nil, errors.NewNotFoundError("document %q", c.Prefix+fetchKey)
	}

	f.opened.Add(1)
	md := pipes.Metadata{
		pipes.FieldResourceName:  fetchKey,
		pipes.FieldContentLength: len(doc.Content),
	}
	if doc.ContentType != "" {
		md[pipes.FieldContentType] = doc.ContentType
	}
	return &trackedReader{Reader: strings.NewReader(doc.Content), closed: &f.closed}, md, nil
}

// Opened is the number of streams handed out.
func (f *Fetcher) Opened() int64 { return f.opened.Load() }

// Closed is the number of streams closed by callers.
func (f *Fetcher) Closed() int64 { return f.closed.Load() }

// Calls is the number of Fetch invocations.
func (f *Fetcher) Calls() int64 { return f.calls.Load() }

type trackedReader struct {
	io.Reader
	once   sync.Once
	closed *atomic.Int64
}

func (r *trackedReader) Close() error {
	r.once.Do(func() { r.closed.Add(1) })
	return nil
}

// IteratorConfig is the list iterator's native config.
type IteratorConfig struct {
	Keys []string `json:"keys"`
	// Endless yields endless-0, endless-1, ... until the context ends.
	Endless bool `json:"endless"`
	// Interval is slept between items.
	Interval time.Duration `json:"interval"`
	// FailOpen makes Open fail.
	FailOpen bool `json:"fail_open"`
}

// Iterator yields the configured keys in order.
type Iterator struct {
	ID     string
	opened atomic.Int64
	closed atomic.Int64
}

var _ plugin.PipeIterator = (*Iterator)(nil)

func NewIterator() *Iterator { return &Iterator{ID: IteratorID} }

func (it *Iterator) Metadata() plugin.Metadata {
	return plugin.Metadata{PluginID: it.ID, Version: "1.0.0", Description: "fixed key list iterator"}
}

func (it *Iterator) NewConfig() any { return &IteratorConfig{} }

func (it *Iterator) Open(ctx context.Context, cfg any) (plugin.Iterator, error) {
	c, ok := cfg.(*IteratorConfig)
	if !ok {
		return nil, errors.Newf("unexpected config type %T", cfg)
	}
	if c.FailOpen {
		return nil, errors.New("iterator source unavailable")
	}
	it.opened.Add(1)
	return &listIterator{cfg: *c, owner: it}, nil
}

// Closed is the number of opened iterators that were closed.
func (it *Iterator) Closed() int64 { return it.closed.Load() }

type listIterator struct {
	cfg   IteratorConfig
	owner *Iterator
	pos   int
	once  sync.Once
}

func (l *listIterator) Next(ctx context.Context) (pipes.PipeInput, error) {
	if err := ctx.Err(); err != nil {
		return pipes.PipeInput{}, err
	}
	if l.pos > 0 && l.cfg.Interval > 0 {
		select {
		case <-time.After(l.cfg.Interval):
		case <-ctx.Done():
			return pipes.PipeInput{}, ctx.Err()
		}
	}
	var key string
	switch {
	case l.cfg.Endless:
		key = "endless-" + strconv.Itoa(l.pos)
	case l.pos < len(l.cfg.Keys):
		key = l.cfg.Keys[l.pos]
	default:
		return pipes.PipeInput{}, io.EOF
	}
	l.pos++
	return pipes.PipeInput{FetchKey: key, Metadata: pipes.Metadata{"position": l.pos}}, nil
}

func (l *listIterator) Close() error {
	l.once.Do(func() { l.owner.closed.Add(1) })
	return nil
}

// EmitterConfig is the recording emitter's native config.
type EmitterConfig struct {
	// FailKeys are fetch keys whose emit fails.
	FailKeys []string `json:"fail_keys"`
	// Block makes Emit wait for the context to end.
	Block bool `json:"block"`
}

// Emitter records every output it receives.
type Emitter struct {
	ID string

	mu      sync.Mutex
	outputs []pipes.EmitOutput
	calls   int
}

var _ plugin.Emitter = (*Emitter)(nil)

func NewEmitter() *Emitter { return &Emitter{ID: EmitterID} }

func (e *Emitter) Metadata() plugin.Metadata {
	return plugin.Metadata{PluginID: e.ID, Version: "1.0.0", Description: "records emitted outputs"}
}

func (e *Emitter) NewConfig() any { return &EmitterConfig{} }

func (e *Emitter) Emit(ctx context.Context, cfg any, outputs []pipes.EmitOutput) error {
	c, ok := cfg.(*EmitterConfig)
	if !ok {
		return errors.Newf("unexpected config type %T", cfg)
	}

	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if c.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	for _, out := range outputs {
		for _, k := range c.FailKeys {
			if k == out.FetchKey {
				return errors.Newf("emit of %q rejected", out.FetchKey)
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputs = append(e.outputs, outputs...)
	return nil
}

// Outputs returns a copy of everything emitted so far.
func (e *Emitter) Outputs() []pipes.EmitOutput {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]pipes.EmitOutput(nil), e.outputs...)
}

// FetchKeys returns the emitted fetch keys, sorted.
func (e *Emitter) FetchKeys() []string {
	outs := e.Outputs()
	keys := make([]string, len(outs))
	for i, o := range outs {
		keys[i] = o.FetchKey
	}
	sort.Strings(keys)
	return keys
}

// Calls is the number of Emit invocations, failed ones included.
func (e *Emitter) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// TextEngine is a parsing engine for tests. The content is split on form
// feeds into one record per part (first part is the main document, the rest
// embedded at depth 1). Content containing "CORRUPT" fails after the first
// record.
type TextEngine struct{}

var _ parser.Engine = TextEngine{}

func (TextEngine) Parse(ctx context.Context, r io.Reader, hints pipes.Metadata) ([]pipes.Record, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(string(b), "\f")

	var records []pipes.Record
	for i, part := range parts {
		rec := pipes.Record{}
		rec.Set(pipes.FieldContent, part)
		rec.Set(pipes.FieldEmbeddedDepth, int64(min(i, 1)))
		if ct, ok := hints.String(pipes.FieldContentType); ok && i == 0 {
			rec.Set(pipes.FieldContentType, ct)
		}
		records = append(records, rec)
		if strings.Contains(part, "CORRUPT") {
			return records, errors.New("corrupt document")
		}
	}
	return records, nil
}
