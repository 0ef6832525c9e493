// Package parser turns fetched byte streams into metadata records.
//
// Two engines are provided: DocconvEngine parses in-process, TikaEngine sends
// documents to a pool of separately running Tika servers.
package parser

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/pipes"
)

// Engine extracts metadata records from a document.
//
// Records come back in engine order: the main document first, then embedded
// parts. A non-nil error may come with the records extracted before the
// failure.
type Engine interface {
	Parse(ctx context.Context, r io.Reader, hints pipes.Metadata) ([]pipes.Record, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, r io.Reader, hints pipes.Metadata) ([]pipes.Record, error)

func (f EngineFunc) Parse(ctx context.Context, r io.Reader, hints pipes.Metadata) ([]pipes.Record, error) {
	return f(ctx, r, hints)
}

// New builds the engine selected by cfg.Engine.
func New(cfg config.ParserConfig, logger *zap.SugaredLogger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	switch cfg.Engine {
	case config.EngineDocconv, "":
		return NewDocconvEngine(cfg.Docconv.Readability, cfg.MaxMetadataFieldBytes), nil
	case config.EngineTika:
		policy, err := PolicyByName(cfg.Tika.Policy)
		if err != nil {
			return nil, err
		}
		pool, err := NewPool(cfg.Tika.Endpoints, policy)
		if err != nil {
			return nil, err
		}
		return NewTikaEngine(pool, cfg.Tika, cfg.MaxMetadataFieldBytes, logger), nil
	default:
		return nil, errors.NewInvalidRequestError("unknown parser engine %q", cfg.Engine)
	}
}

// contentTypeHint returns the media type the fetcher reported, without
// parameters, or "" when none is known.
func contentTypeHint(hints pipes.Metadata) string {
	ct, _ := hints.String(pipes.FieldContentType)
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.TrimSpace(ct)
	}
	return mediaType
}

// resourceName is the document's name as reported by the fetcher.
func resourceName(hints pipes.Metadata) string {
	name, _ := hints.String(pipes.FieldResourceName)
	return path.Base(name)
}

// truncate clips a value to limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if limit < 0 || len(s) <= limit {
		return s
	}
	s = s[:limit]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func truncateRecord(rec pipes.Record, limit int) {
	if limit < 0 {
		return
	}
	for k, vals := range rec {
		if k == pipes.FieldContent {
			continue
		}
		for i, v := range vals {
			if s, ok := v.(string); ok {
				vals[i] = truncate(s, limit)
			}
		}
	}
}
