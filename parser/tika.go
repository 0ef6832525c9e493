package parser

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/pipes"
	"github.com/teranos/docpipe/version"
)

const (
	rmetaPath       = "/rmeta/text"
	maxErrorBodyLen = 1024
)

var _ Engine = (*TikaEngine)(nil)

// TikaEngine sends documents to the recursive-metadata endpoint of a Tika
// server picked from a Pool. Connection errors and 5xx responses are retried
// with exponential backoff.
type TikaEngine struct {
	pool          *Pool
	client        *retryablehttp.Client
	cfg           config.TikaConfig
	maxFieldBytes int
	logger        *zap.SugaredLogger
}

// NewTikaEngine creates an engine over pool.
func NewTikaEngine(pool *Pool, cfg config.TikaConfig, maxFieldBytes int, logger *zap.SugaredLogger) *TikaEngine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.Named("tika")

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	if cfg.BackoffMinMS > 0 {
		client.RetryWaitMin = time.Duration(cfg.BackoffMinMS) * time.Millisecond
	}
	if cfg.BackoffMaxMS > 0 {
		client.RetryWaitMax = time.Duration(cfg.BackoffMaxMS) * time.Millisecond
	}
	client.Logger = leveledLogger{logger}
	// hand back the last response instead of a generic "giving up" error
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &TikaEngine{
		pool:          pool,
		client:        client,
		cfg:           cfg,
		maxFieldBytes: maxFieldBytes,
		logger:        logger,
	}
}

// Parse uploads the document and converts the JSON array of metadata
// objects Tika returns into records, preserving order.
func (e *TikaEngine) Parse(ctx context.Context, r io.Reader, hints pipes.Metadata) ([]pipes.Record, error) {
	endpoint := e.pool.Next()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, endpoint+rmetaPath, r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build tika request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if ct := contentTypeHint(hints); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	setLimitHeader(req.Header, "maxEmbeddedResources", e.cfg.MaxEmbeddedResources)
	setLimitHeader(req.Header, "writeLimit", e.cfg.WriteLimit)
	setLimitHeader(req.Header, "maxParseTime", e.cfg.MaxParseTimeMS)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "tika request to %s failed", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, errors.Newf("tika server %s returned %d: %s",
			endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	records, err := decodeRmeta(resp.Body, e.maxFieldBytes)
	if err != nil {
		return records, errors.Wrapf(err, "failed to decode tika response from %s", endpoint)
	}

	for _, rec := range records {
		if ex, ok := rec.First(pipes.FieldParseException); ok && ex != "" {
			return records, errors.Newf("tika parse exception: %s", firstLine(ex))
		}
	}
	return records, nil
}

// decodeRmeta streams the array so records decoded before a malformed
// element are still returned.
func decodeRmeta(r io.Reader, maxFieldBytes int) ([]pipes.Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return nil, errors.Newf("expected a JSON array, got %v", tok)
	}

	var records []pipes.Record
	for dec.More() {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return records, err
		}
		rec := make(pipes.Record, len(obj))
		for k, v := range obj {
			rec[k] = pipes.ToValues(v)
		}
		truncateRecord(rec, maxFieldBytes)
		records = append(records, rec)
	}
	return records, nil
}

func setLimitHeader(h http.Header, name string, v int) {
	if v < 0 {
		return
	}
	h.Set(name, strconv.Itoa(v))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// leveledLogger routes retryablehttp's logging through zap.
type leveledLogger struct {
	l *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.l.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.l.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.l.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.l.Warnw(msg, kv...) }

var _ retryablehttp.LeveledLogger = leveledLogger{}
