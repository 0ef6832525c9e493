// Package pipes holds the data model shared by the registry, stores, handler
// and job orchestrator: extension configs, pipe inputs, parse results and job
// status.
package pipes

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/docpipe/errors"
)

// Kind names one of the three extension config families.
type Kind string

const (
	KindFetcher  Kind = "fetcher"
	KindEmitter  Kind = "emitter"
	KindIterator Kind = "iterator"
)

// Kinds lists every config kind in display order.
var Kinds = []Kind{KindFetcher, KindEmitter, KindIterator}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFetcher, KindEmitter, KindIterator:
		return true
	}
	return false
}

// Bucket is the store bucket holding configs of this kind.
func (k Kind) Bucket() string {
	return string(k) + "s"
}

// ParseKind accepts singular or plural names ("fetcher", "emitters", "pipe-iterator").
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "pipe-"), "pipe_")
	k := Kind(s)
	if !k.Valid() {
		return "", errors.NewInvalidRequestError("unknown config kind %q", s)
	}
	return k, nil
}

// ExtensionConfig is a named fetcher, emitter or iterator configuration.
// Config is the opaque, extension-defined bag; it only ever crosses into an
// extension's native type through the registry.
type ExtensionConfig struct {
	Kind      Kind           `json:"kind"`
	ID        string         `json:"id"`
	PluginID  string         `json:"plugin_id"`
	Config    map[string]any `json:"config"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Validate checks the fields every config needs regardless of plugin.
func (c ExtensionConfig) Validate() error {
	if !c.Kind.Valid() {
		return errors.NewInvalidRequestError("unknown config kind %q", c.Kind)
	}
	if strings.TrimSpace(c.ID) == "" {
		return errors.NewInvalidRequestError("%s id is required", c.Kind)
	}
	if strings.TrimSpace(c.PluginID) == "" {
		return errors.NewInvalidRequestError("%s %q: plugin id is required", c.Kind, c.ID)
	}
	return nil
}

// ConfigJSON renders Config as a JSON object ("{}" when empty).
func (c ExtensionConfig) ConfigJSON() (string, error) {
	if len(c.Config) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(c.Config)
	if err != nil {
		return "", errors.Wrapf(err, "encode %s %q config", c.Kind, c.ID)
	}
	return string(b), nil
}

// ParseObjectJSON decodes a JSON object. The empty string means an empty
// object; anything other than an object is an invalid request. Numbers are
// kept as json.Number so integers survive the round trip.
func ParseObjectJSON(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "malformed JSON"), errors.ErrInvalidRequest)
	}
	if dec.More() {
		return nil, errors.NewInvalidRequestError("trailing data after JSON object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.NewInvalidRequestError("expected a JSON object, got %T", v)
	}
	return obj, nil
}

// PipeInput is one unit of work produced by an iterator.
type PipeInput struct {
	FetchKey string   `json:"fetch_key"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Status is the outcome of one fetch-and-parse.
type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusFetchException Status = "FETCH_EXCEPTION"
	StatusParseException Status = "PARSE_EXCEPTION"
)

// FetchAndParseResult is the result of fetching and parsing one document.
// Records are in parse-engine order: main document first, then embedded parts.
type FetchAndParseResult struct {
	FetchKey string   `json:"fetch_key"`
	Status   Status   `json:"status"`
	Records  []Record `json:"metadata"`
	Error    string   `json:"error,omitempty"`
}

// Emittable reports whether the result should be handed to an emitter.
// Fetch exceptions carry no document and are not emitted.
func (r FetchAndParseResult) Emittable() bool {
	return r.Status != StatusFetchException
}

// EmitOutput projects the result onto what an emitter receives.
func (r FetchAndParseResult) EmitOutput() EmitOutput {
	return EmitOutput{FetchKey: r.FetchKey, Records: r.Records}
}

// EmitOutput is the emit-side projection of a FetchAndParseResult.
type EmitOutput struct {
	FetchKey string   `json:"fetch_key"`
	Records  []Record `json:"metadata"`
}
