package grpc

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/internal/pipestest"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/plugin"
)

// =============================================================================
// Test Fixtures
// =============================================================================

// testServer is a plugin server running in the background.
type testServer struct {
	addr string
	done chan struct{}
	err  error
}

// wait returns Serve's result, failing the test if it has not returned in time.
func (s *testServer) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-s.done:
		return s.err
	case <-time.After(5 * time.Second):
		t.Fatal("plugin server did not stop")
		return nil
	}
}

// startTestServer serves ext on a loopback port until the test ends.
func startTestServer(t *testing.T, ext plugin.Extension, token string) *testServer {
	t.Helper()
	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := &testServer{addr: lis.Addr().String(), done: make(chan struct{})}
	go func() {
		defer close(srv.done)
		srv.err = Serve(ctx, lis, ext, ServeOptions{
			AuthToken: token,
			Logger:    zaptest.NewLogger(t).Sugar(),
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-srv.done
	})
	return srv
}

func connect(t *testing.T, addr, token string) *RemoteExtension {
	t.Helper()
	r, err := NewRemoteExtension(context.Background(), addr, token, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func cfg(m map[string]any) *map[string]any { return &m }

func docs() map[string]pipestest.Document {
	return map[string]pipestest.Document{
		"a":      {Content: "alpha", ContentType: "text/plain"},
		"docs/a": {Content: "prefixed alpha"},
		"big":    {Content: strings.Repeat("0123456789abcdef", 3*fetchChunkSize/16) + "tail"},
	}
}

// closingFetcher records whether Shutdown released it.
type closingFetcher struct {
	*pipestest.Fetcher
	closed atomic.Bool
}

func (f *closingFetcher) Close() error {
	f.closed.Store(true)
	return nil
}

// =============================================================================
// Metadata
// =============================================================================

func TestRemoteMetadataAdvertisesServedCapabilities(t *testing.T) {
	fetcher := pipestest.NewFetcher(docs())
	srv := startTestServer(t, fetcher, "")
	r := connect(t, srv.addr, "")

	assert.Equal(t, pipestest.FetcherID, r.Metadata().PluginID)
	assert.Equal(t, "1.0.0", r.Metadata().Version)
	assert.Equal(t, []pipes.Kind{pipes.KindFetcher}, r.Capabilities())
	assert.Equal(t, []pipes.Kind{pipes.KindFetcher}, plugin.Capabilities(r))
	assert.JSONEq(t, fetcher.ConfigSchema(), r.ConfigSchema())
	assert.Equal(t, srv.addr, r.Addr())

	it := startTestServer(t, pipestest.NewIterator(), "")
	ri := connect(t, it.addr, "")
	assert.Equal(t, []pipes.Kind{pipes.KindIterator}, ri.Capabilities())
	assert.Empty(t, ri.ConfigSchema())
}

func TestRemoteExtensionResolvesThroughRegistry(t *testing.T) {
	srv := startTestServer(t, pipestest.NewFetcher(docs()), "")
	r := connect(t, srv.addr, "")

	reg := plugin.NewRegistry("1.0.0", zaptest.NewLogger(t).Sugar())
	require.NoError(t, reg.Register(r))

	f, err := reg.ResolveFetcher(pipestest.FetcherID)
	require.NoError(t, err)

	_, err = reg.ResolveEmitter(pipestest.FetcherID)
	assert.True(t, errors.Is(err, errors.ErrExtensionNotFound))

	native, err := reg.Hydrate(f, map[string]any{"prefix": "docs/"})
	require.NoError(t, err)
	require.IsType(t, &map[string]any{}, native)

	rc, _, err := f.Fetch(context.Background(), native, "a", nil)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "prefixed alpha", string(b))

	// the host validates against the schema the plugin published
	_, err = reg.Hydrate(f, map[string]any{"prefix": 3})
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

// =============================================================================
// Fetch
// =============================================================================

func TestRemoteFetchStreamsDocumentInChunks(t *testing.T) {
	fetcher := pipestest.NewFetcher(docs())
	srv := startTestServer(t, fetcher, "")
	r := connect(t, srv.addr, "")

	want := docs()["big"].Content
	rc, md, err := r.Fetch(context.Background(), cfg(nil), "big", pipes.Metadata{"caller": "test"})
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, want, string(got))
	assert.Equal(t, "big", md[pipes.FieldResourceName])
	assert.Equal(t, json.Number(strconv.Itoa(len(want))), md[pipes.FieldContentLength])

	assert.Eventually(t, func() bool { return fetcher.Closed() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteFetchCloseAbandonsStream(t *testing.T) {
	fetcher := pipestest.NewFetcher(docs())
	srv := startTestServer(t, fetcher, "")
	r := connect(t, srv.addr, "")

	rc, _, err := r.Fetch(context.Background(), cfg(nil), "big", nil)
	require.NoError(t, err)
	buf := make([]byte, 10)
	_, err = io.ReadFull(rc, buf)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(buf))
	require.NoError(t, rc.Close())

	assert.Eventually(t, func() bool { return fetcher.Closed() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteFetchErrorsKeepTheirKind(t *testing.T) {
	srv := startTestServer(t, pipestest.NewFetcher(docs()), "")
	r := connect(t, srv.addr, "")
	ctx := context.Background()

	_, _, err := r.Fetch(ctx, cfg(nil), "missing", nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err), "got %v", err)
	assert.Contains(t, err.Error(), "missing")

	_, _, err = r.Fetch(ctx, cfg(map[string]any{"fail_keys": []string{"a"}}), "a", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.False(t, errors.IsNotFoundError(err))

	_, _, err = r.Fetch(ctx, cfg(map[string]any{"bogus": true}), "a", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "got %v", err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestCallingMissingCapabilityIsUnimplemented(t *testing.T) {
	srv := startTestServer(t, pipestest.NewFetcher(docs()), "")
	r := connect(t, srv.addr, "")

	err := r.Emit(context.Background(), cfg(nil), []pipes.EmitOutput{{FetchKey: "a"}})
	require.Error(t, err)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

// =============================================================================
// Emit
// =============================================================================

func TestRemoteEmit(t *testing.T) {
	emitter := pipestest.NewEmitter()
	srv := startTestServer(t, emitter, "")
	r := connect(t, srv.addr, "")
	ctx := context.Background()

	rec := pipes.Record{}
	rec.Set(pipes.FieldContent, "hello")
	out := pipes.EmitOutput{FetchKey: "a", Records: []pipes.Record{rec}}
	require.NoError(t, r.Emit(ctx, cfg(nil), []pipes.EmitOutput{out}))

	outs := emitter.Outputs()
	require.Len(t, outs, 1)
	assert.Equal(t, "a", outs[0].FetchKey)
	require.Len(t, outs[0].Records, 1)
	assert.Equal(t, []any{"hello"}, outs[0].Records[0][pipes.FieldContent])

	err := r.Emit(ctx, cfg(map[string]any{"fail_keys": []string{"b"}}), []pipes.EmitOutput{{FetchKey: "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Equal(t, 2, emitter.Calls())
}

// =============================================================================
// Iterate
// =============================================================================

func TestRemoteIterate(t *testing.T) {
	iter := pipestest.NewIterator()
	srv := startTestServer(t, iter, "")
	r := connect(t, srv.addr, "")
	ctx := context.Background()

	it, err := r.Open(ctx, cfg(map[string]any{"keys": []string{"a", "b"}}))
	require.NoError(t, err)

	in, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", in.FetchKey)
	assert.Equal(t, json.Number("1"), in.Metadata["position"])

	in, err = it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", in.FetchKey)

	_, err = it.Next(ctx)
	assert.Equal(t, io.EOF, err)
	_, err = it.Next(ctx)
	assert.Equal(t, io.EOF, err)
	require.NoError(t, it.Close())

	assert.Eventually(t, func() bool { return iter.Closed() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteIteratorErrorsSurfaceAtOpen(t *testing.T) {
	srv := startTestServer(t, pipestest.NewIterator(), "")
	r := connect(t, srv.addr, "")
	ctx := context.Background()

	_, err := r.Open(ctx, cfg(map[string]any{"fail_open": true}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iterator source unavailable")

	_, err = r.Open(ctx, cfg(map[string]any{"interval": "soon"}))
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "got %v", err)

	it, err := r.Open(ctx, cfg(nil))
	require.NoError(t, err)
	_, err = it.Next(ctx)
	assert.Equal(t, io.EOF, err)
	require.NoError(t, it.Close())
}

func TestRemoteIteratorCloseStopsEndlessSource(t *testing.T) {
	iter := pipestest.NewIterator()
	srv := startTestServer(t, iter, "")
	r := connect(t, srv.addr, "")
	ctx := context.Background()

	it, err := r.Open(ctx, cfg(map[string]any{"endless": true, "interval": "5ms"}))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		in, err := it.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "endless-"+strconv.Itoa(i), in.FetchKey)
	}
	require.NoError(t, it.Close())
	assert.Eventually(t, func() bool { return iter.Closed() == 1 }, 2*time.Second, 10*time.Millisecond)
}

// =============================================================================
// Auth and lifecycle
// =============================================================================

func TestTokenAuth(t *testing.T) {
	srv := startTestServer(t, pipestest.NewFetcher(docs()), "s3cret")
	log := zaptest.NewLogger(t).Sugar()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRemoteExtension(ctx, srv.addr, "wrong", log)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized), "got %v", err)

	_, err = NewRemoteExtension(ctx, srv.addr, "", log)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized), "got %v", err)

	r := connect(t, srv.addr, "s3cret")
	rc, _, err := r.Fetch(context.Background(), cfg(nil), "a", nil)
	require.NoError(t, err)
	rc.Close()
}

func TestShutdownReleasesExtensionAndStopsServer(t *testing.T) {
	f := &closingFetcher{Fetcher: pipestest.NewFetcher(docs())}
	srv := startTestServer(t, f, "")
	r := connect(t, srv.addr, "")

	require.NoError(t, r.Shutdown(context.Background()))
	assert.NoError(t, srv.wait(t))
	assert.True(t, f.closed.Load())
}

func TestServeRejectsInvalidExtension(t *testing.T) {
	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	err = Serve(context.Background(), lis, &closingFetcher{Fetcher: &pipestest.Fetcher{}}, ServeOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin id")
}

func TestConnectTimesOutWithoutServer(t *testing.T) {
	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	lis.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = NewRemoteExtension(ctx, addr, "", zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}
