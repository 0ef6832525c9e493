// Package plugin provides the extension registry for docpipe fetchers,
// emitters and pipe iterators.
//
// An extension is any value implementing one or more capability contracts
// (Fetcher, Emitter, PipeIterator) under a single plugin id. Extensions run
// either in-process or as separate processes reached over gRPC (see
// plugin/grpc); the registry treats both the same way.
//
// Configuration never crosses into an extension as a host-typed value. The
// registry keeps configs as map[string]any and hydrates them into the
// extension's own config type through that extension's ConfigFactory.
package plugin

import (
	"context"
	"io"

	"github.com/teranos/docpipe/pipes"
)

// Extension is implemented by every fetcher, emitter and iterator plugin.
type Extension interface {
	// Metadata returns information about this extension
	Metadata() Metadata
}

// Metadata describes an extension
type Metadata struct {
	// PluginID is the identifier configs use to select this extension (e.g., "file-system")
	PluginID string `json:"plugin_id"`

	// Version is the extension version (semver)
	Version string `json:"version"`

	// HostVersion is the required docpipe version (semver constraint)
	HostVersion string `json:"host_version,omitempty"`

	// Description is a human-readable description
	Description string `json:"description,omitempty"`

	// Author is the extension author/maintainer
	Author string `json:"author,omitempty"`

	// License is the extension license (e.g., "MIT", "Apache-2.0")
	License string `json:"license,omitempty"`
}

// ConfigFactory creates the extension's native config value.
type ConfigFactory interface {
	// NewConfig returns a pointer to a zero config of the extension's own type.
	// Returning *map[string]any keeps the config untyped.
	NewConfig() any
}

// Fetcher turns a fetch key into a byte stream.
//
// Implementations are shared across concurrent calls; anything opened for a
// call (connections, files) must be scoped to that call.
type Fetcher interface {
	Extension
	ConfigFactory

	// Fetch opens the document named by fetchKey. The returned metadata
	// describes the fetched bytes (content length, source attributes) and is
	// handed to the parser as hints. The caller always closes the stream.
	Fetch(ctx context.Context, cfg any, fetchKey string, fetchMetadata pipes.Metadata) (io.ReadCloser, pipes.Metadata, error)
}

// Emitter forwards parsed results elsewhere.
type Emitter interface {
	Extension
	ConfigFactory

	Emit(ctx context.Context, cfg any, outputs []pipes.EmitOutput) error
}

// PipeIterator lazily enumerates the inputs of a pipe job.
type PipeIterator interface {
	Extension
	ConfigFactory

	Open(ctx context.Context, cfg any) (Iterator, error)
}

// Iterator yields pipe inputs one at a time.
type Iterator interface {
	// Next returns the next input, or io.EOF when the enumeration is exhausted.
	Next(ctx context.Context) (pipes.PipeInput, error)
	Close() error
}

// SchemaProvider is implemented by extensions that publish a JSON Schema for
// their config. Configs are validated against it before hydration.
type SchemaProvider interface {
	ConfigSchema() string
}

// CapabilityAdvertiser reports which capabilities an extension really serves.
// Remote proxies implement every capability interface and use this to narrow
// what they advertise.
type CapabilityAdvertiser interface {
	Capabilities() []pipes.Kind
}

// Closer is implemented by extensions holding resources (processes, connections).
type Closer interface {
	Close() error
}

// Capabilities reports the capabilities ext serves, in pipes.Kinds order.
func Capabilities(ext Extension) []pipes.Kind {
	if adv, ok := ext.(CapabilityAdvertiser); ok {
		return adv.Capabilities()
	}
	var caps []pipes.Kind
	if _, ok := ext.(Fetcher); ok {
		caps = append(caps, pipes.KindFetcher)
	}
	if _, ok := ext.(Emitter); ok {
		caps = append(caps, pipes.KindEmitter)
	}
	if _, ok := ext.(PipeIterator); ok {
		caps = append(caps, pipes.KindIterator)
	}
	return caps
}

// HasCapability reports whether ext serves kind.
func HasCapability(ext Extension, kind pipes.Kind) bool {
	for _, c := range Capabilities(ext) {
		if c == kind {
			return true
		}
	}
	return false
}

// Schema returns the extension's config schema, or "" when it publishes none.
func Schema(ext Extension) string {
	if sp, ok := ext.(SchemaProvider); ok {
		return sp.ConfigSchema()
	}
	return ""
}

// ConfigType binds a plugin id to its native config constructor.
type ConfigType struct {
	PluginID string
	Kind     pipes.Kind
	Schema   string

	factory ConfigFactory
}

// New returns a fresh zero config of the extension's type.
func (t ConfigType) New() any {
	return t.factory.NewConfig()
}

// Info summarizes a registered extension for listings.
type Info struct {
	Metadata
	Capabilities []pipes.Kind `json:"capabilities"`
	HasSchema    bool         `json:"has_schema"`
}
