package protocol

import "github.com/teranos/docpipe/pipes"

// Empty is the request or response of calls that carry nothing.
type Empty struct{}

// MetadataResponse describes an extension.
type MetadataResponse struct {
	PluginID     string   `json:"plugin_id"`
	Version      string   `json:"version"`
	HostVersion  string   `json:"host_version,omitempty"`
	Description  string   `json:"description,omitempty"`
	Author       string   `json:"author,omitempty"`
	License      string   `json:"license,omitempty"`
	Capabilities []string `json:"capabilities"`
	ConfigSchema string   `json:"config_schema,omitempty"`
}

// FetchRequest asks a fetcher for one document.
type FetchRequest struct {
	ConfigJSON        string `json:"config_json"`
	FetchKey          string `json:"fetch_key"`
	FetchMetadataJSON string `json:"fetch_metadata_json,omitempty"`
}

// FetchChunk is one piece of a fetched document. The first chunk of a
// stream carries the fetcher's response metadata.
type FetchChunk struct {
	MetadataJSON string `json:"metadata_json,omitempty"`
	Data         []byte `json:"data,omitempty"`
}

// EmitRequest hands parsed outputs to an emitter.
type EmitRequest struct {
	ConfigJSON string             `json:"config_json"`
	Outputs    []pipes.EmitOutput `json:"outputs"`
}

// IterateRequest opens an iterator; the response streams its inputs.
type IterateRequest struct {
	ConfigJSON string `json:"config_json"`
}
