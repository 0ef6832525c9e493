package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/internal/pipestest"
	"github.com/teranos/docpipe/internal/rpcerr"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/server/protocol"
)

func (fx *fixture) adminURL(path string) string {
	return "http://" + fx.srv.AdminAddr().String() + path
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	fx := newFixture(t, nil)

	var body struct {
		Status     string `json:"status"`
		Extensions int    `json:"extensions"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, fx.adminURL("/healthz"), &body))
	assert.Equal(t, "running", body.Status)
	assert.Equal(t, 3, body.Extensions)
}

func TestHealthzWhileDraining(t *testing.T) {
	fx := newFixture(t, nil)
	fx.srv.state.Store(int32(StateDraining))
	defer fx.srv.state.Store(int32(StateRunning))

	rec := httptest.NewRecorder()
	fx.srv.adminRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "draining")
}

func TestAdminJobs(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	var list struct {
		Jobs []pipes.JobStatus `json:"jobs"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, fx.adminURL("/api/jobs"), &list))
	assert.Empty(t, list.Jobs)

	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, fx.adminURL("/api/jobs/nope"), &errBody))
	assert.NotEmpty(t, errBody["error"])
	assert.Equal(t, rpcerr.ReasonJobNotFound, errBody["reason"])

	fx.save(t, pipes.KindFetcher, "fx", pipestest.FetcherID, `{}`)
	fx.save(t, pipes.KindEmitter, "rec", pipestest.EmitterID, `{}`)
	fx.save(t, pipes.KindIterator, "ab", pipestest.IteratorID, `{"keys":["a.txt","b.txt"]}`)
	id, err := fx.client.RunPipeJob(ctx, &protocol.RunPipeJobRequest{PipeIteratorID: "ab", FetcherID: "fx", EmitterID: "rec"})
	require.NoError(t, err)

	var st pipes.JobStatus
	require.Eventually(t, func() bool {
		return getJSON(t, fx.adminURL("/api/jobs/"+id), &st) == http.StatusOK && st.Completed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), st.Emitted)

	assert.Equal(t, http.StatusOK, getJSON(t, fx.adminURL("/api/jobs"), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, id, list.Jobs[0].JobID)
}

func TestAdminExtensionsAndSystem(t *testing.T) {
	fx := newFixture(t, nil)

	var exts struct {
		Extensions []protocol.ExtensionInfo `json:"extensions"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, fx.adminURL("/api/extensions"), &exts))
	assert.Len(t, exts.Extensions, 3)

	var sys map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, fx.adminURL("/api/system"), &sys))
	assert.EqualValues(t, 2, sys["workers_total"])
}

func TestAdminMetrics(t *testing.T) {
	fx := newFixture(t, nil)
	_, err := fx.client.ListExtensions(context.Background())
	require.NoError(t, err)

	resp, err := http.Get(fx.adminURL("/metrics"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "docpipe_")
}

func TestAdminCORS(t *testing.T) {
	fx := newFixture(t, nil)

	req, err := http.NewRequest(http.MethodGet, fx.adminURL("/api/extensions"), nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCheckOrigin(t *testing.T) {
	s := &Server{cfg: testConfig()}
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"https://localhost:8443", true},
		{"http://example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, s.checkOrigin(r), tt.origin)
	}

	s.cfg.Server.AllowedOrigins = []string{"https://app.example.com"}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	assert.False(t, s.checkOrigin(r), "configured origins replace the localhost default")
}

func TestWatchJob(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.save(t, pipes.KindFetcher, "fx", pipestest.FetcherID, `{"delay":"20ms"}`)
	fx.save(t, pipes.KindEmitter, "rec", pipestest.EmitterID, `{}`)
	fx.save(t, pipes.KindIterator, "abc", pipestest.IteratorID, `{"keys":["a.txt","b.txt","bundle.zip"]}`)

	id, err := fx.client.RunPipeJob(ctx, &protocol.RunPipeJobRequest{PipeIteratorID: "abc", FetcherID: "fx", EmitterID: "rec"})
	require.NoError(t, err)

	url := "ws://" + fx.srv.AdminAddr().String() + "/api/jobs/" + id + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var last pipes.JobStatus
	for {
		var st pipes.JobStatus
		err := conn.ReadJSON(&st)
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
		assert.Equal(t, id, st.JobID)
		assert.GreaterOrEqual(t, st.Processed, last.Processed, "progress never goes backwards")
		last = st
	}
	assert.True(t, last.Completed, "terminal snapshot is delivered")
	assert.Equal(t, int64(3), last.Processed)
}

func TestWatchUnknownJob(t *testing.T) {
	fx := newFixture(t, nil)

	url := "ws://" + fx.srv.AdminAddr().String() + "/api/jobs/nope/watch"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AdminAddress = ""
	fx := newFixture(t, cfg)

	assert.Nil(t, fx.srv.AdminAddr())
	assert.Nil(t, fx.srv.httpServer)
	_, err := fx.client.ListExtensions(context.Background())
	assert.NoError(t, err)
}

func TestWriteErrMatchesGRPCMapping(t *testing.T) {
	tests := []struct {
		err    error
		code   int
		reason string
	}{
		{errors.Wrap(errors.ErrJobNotFound, "job x"), http.StatusNotFound, rpcerr.ReasonJobNotFound},
		{errors.ErrInvalidConfig, http.StatusBadRequest, rpcerr.ReasonInvalidConfig},
		{errors.ErrServiceUnavailable, http.StatusServiceUnavailable, rpcerr.ReasonUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, rpcerr.ReasonTimeout},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeErr(rec, tt.err)
			assert.Equal(t, tt.code, rec.Code)

			var body errorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.reason, body.Reason)
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}
