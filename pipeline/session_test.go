package pipeline

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/internal/pipestest"
	"github.com/teranos/docpipe/pipes"
)

func collect(t *testing.T, s *Session, timeout time.Duration) []Response {
	t.Helper()
	var out []Response
	deadline := time.After(timeout)
	for {
		select {
		case resp, ok := <-s.Results():
			if !ok {
				return out
			}
			out = append(out, resp)
		case <-deadline:
			t.Fatalf("session did not finish within %s", timeout)
			return nil
		}
	}
}

func TestSessionDeliversEveryResult(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	for i := 0; i < 20; i++ {
		fx.fetcher.Put(fmt.Sprintf("doc-%02d", i), pipestest.Document{Content: fmt.Sprintf("body %d", i)})
	}

	s := fx.handler.Open(context.Background(), SessionOptions{Concurrency: 4, Buffer: 2})

	go func() {
		for i := 0; i < 20; i++ {
			assert.NoError(t, s.Send(context.Background(), Request{FetcherID: "fx", FetchKey: fmt.Sprintf("doc-%02d", i)}))
		}
		s.CloseSend()
	}()

	responses := collect(t, s, 5*time.Second)
	require.Len(t, responses, 20)

	keys := make([]string, 0, len(responses))
	for _, r := range responses {
		require.NoError(t, r.Err)
		assert.Equal(t, pipes.StatusSuccess, r.Result.Status)
		assert.Equal(t, r.Request.FetchKey, r.Result.FetchKey)
		keys = append(keys, r.Result.FetchKey)
	}
	sort.Strings(keys)
	assert.Equal(t, "doc-00", keys[0])
	assert.Equal(t, "doc-19", keys[19])

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after results closed")
	}
	assert.Equal(t, fx.fetcher.Opened(), fx.fetcher.Closed())
}

func TestSessionResultsInCompletionOrder(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	require.NoError(t, fx.stores.Fetchers.Save(context.Background(), pipes.ExtensionConfig{
		ID: "slow", PluginID: pipestest.FetcherID, Config: map[string]any{"delay": "200ms"},
	}))

	s := fx.handler.Open(context.Background(), SessionOptions{Concurrency: 2})
	require.NoError(t, s.Send(context.Background(), Request{FetcherID: "slow", FetchKey: "docs/a.txt"}))
	require.NoError(t, s.Send(context.Background(), Request{FetcherID: "fx", FetchKey: "docs/b.txt"}))
	s.CloseSend()

	responses := collect(t, s, 5*time.Second)
	require.Len(t, responses, 2)
	assert.Equal(t, "docs/b.txt", responses[0].Result.FetchKey, "the fast item is not held behind the slow one")
	assert.Equal(t, "docs/a.txt", responses[1].Result.FetchKey)
}

func TestSessionItemErrorsDoNotStopOthers(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	s := fx.handler.Open(context.Background(), SessionOptions{})

	reqs := []Request{
		{FetcherID: "fx", FetchKey: "docs/a.txt"},
		{FetcherID: "ghost", FetchKey: "docs/a.txt"},
		{FetcherID: "fx", FetchKey: "docs/refused.txt"},
		{FetcherID: "fx", FetchKey: ""},
		{FetcherID: "fx", FetchKey: "docs/b.txt"},
	}
	for _, r := range reqs {
		require.NoError(t, s.Send(context.Background(), r))
	}
	s.CloseSend()

	byKey := map[string][]Response{}
	for _, r := range collect(t, s, 5*time.Second) {
		byKey[r.Request.FetcherID+"/"+r.Request.FetchKey] = append(byKey[r.Request.FetcherID+"/"+r.Request.FetchKey], r)
	}

	require.Len(t, byKey["ghost/docs/a.txt"], 1)
	assert.True(t, errors.Is(byKey["ghost/docs/a.txt"][0].Err, errors.ErrConfigNotFound))
	assert.True(t, errors.IsInvalidRequestError(byKey["fx/"][0].Err))
	assert.Equal(t, pipes.StatusFetchException, byKey["fx/docs/refused.txt"][0].Result.Status)
	assert.Equal(t, pipes.StatusSuccess, byKey["fx/docs/a.txt"][0].Result.Status)
	assert.Equal(t, pipes.StatusSuccess, byKey["fx/docs/b.txt"][0].Result.Status)
}

func TestSessionSendAfterCloseSend(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	s := fx.handler.Open(context.Background(), SessionOptions{})
	s.CloseSend()
	s.CloseSend()

	err := s.Send(context.Background(), Request{FetcherID: "fx", FetchKey: "docs/a.txt"})
	assert.ErrorIs(t, err, ErrSessionClosed)

	assert.Empty(t, collect(t, s, time.Second))
	<-s.Done()
}

func TestSessionCancelStopsDispatch(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	require.NoError(t, fx.stores.Fetchers.Save(context.Background(), pipes.ExtensionConfig{
		ID: "slow", PluginID: pipestest.FetcherID, Config: map[string]any{"delay": "10s"},
	}))

	s := fx.handler.Open(context.Background(), SessionOptions{Concurrency: 1, Buffer: 10})
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Send(context.Background(), Request{FetcherID: "slow", FetchKey: "docs/a.txt"}))
	}

	// let the first item start
	require.Eventually(t, func() bool { return fx.fetcher.Calls() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	s.Cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled session did not finish")
	}
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(1), fx.fetcher.Calls(), "queued requests are not dispatched after cancel")

	err := s.Send(context.Background(), Request{FetcherID: "fx", FetchKey: "docs/a.txt"})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionRejectsEverySendAfterCancel(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	for i := 0; i < 200; i++ {
		s := fx.handler.Open(context.Background(), SessionOptions{Buffer: 8})
		s.Cancel()
		require.ErrorIs(t, s.Send(context.Background(), Request{FetcherID: "fx", FetchKey: "docs/a.txt"}), ErrSessionClosed)

		<-s.Done()
		require.ErrorIs(t, s.Send(context.Background(), Request{FetcherID: "fx", FetchKey: "docs/a.txt"}), ErrSessionClosed, "round %d", i)
	}
}

func TestSessionParentContextCancels(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	s := fx.handler.Open(ctx, SessionOptions{})
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session ignored parent cancellation")
	}
}

func TestSessionSendHonoursCallerContext(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	require.NoError(t, fx.stores.Fetchers.Save(context.Background(), pipes.ExtensionConfig{
		ID: "slow", PluginID: pipestest.FetcherID, Config: map[string]any{"delay": "10s"},
	}))
	s := fx.handler.Open(context.Background(), SessionOptions{Concurrency: 1, Buffer: 1})
	defer s.Cancel()

	// one in flight, one waiting for a slot, one buffered: the next Send blocks
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Send(context.Background(), Request{FetcherID: "slow", FetchKey: "docs/a.txt"}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, Request{FetcherID: "slow", FetchKey: "docs/a.txt"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionResolveReportsConfigErrors(t *testing.T) {
	fx := newFixture(t, nil, Options{})
	s := fx.handler.Open(context.Background(), SessionOptions{})
	defer s.Cancel()

	require.NoError(t, s.Resolve("fx"))
	err := s.Resolve("ghost")
	assert.True(t, errors.Is(err, errors.ErrConfigNotFound))
}
