package protocol

import (
	"time"

	"github.com/teranos/docpipe/pipes"
)

// Empty is the argument and reply of calls that carry nothing.
type Empty struct{}

// SaveConfigRequest creates or replaces a named extension config.
// ConfigJSON must be a JSON object; the empty string means {}.
type SaveConfigRequest struct {
	ID         string `json:"id"`
	PluginID   string `json:"pluginId"`
	ConfigJSON string `json:"configJson"`
	// Validate checks the config against the loaded plugin's schema before
	// saving. Otherwise a bad config only fails when it is used.
	Validate bool `json:"validate,omitempty"`
}

type SaveConfigReply struct {
	ID string `json:"id"`
}

// ConfigIDRequest names one stored config.
type ConfigIDRequest struct {
	ID string `json:"id"`
}

// ConfigReply is one stored config.
type ConfigReply struct {
	ID         string `json:"id"`
	PluginID   string `json:"pluginId"`
	ConfigJSON string `json:"configJson"`
}

type ListConfigsReply struct {
	Configs []ConfigReply `json:"configs"`
}

// DeleteConfigReply reports whether the config existed.
type DeleteConfigReply struct {
	Success bool `json:"success"`
}

type SchemaRequest struct {
	PluginID string `json:"pluginId"`
}

// SchemaReply carries a JSON schema; empty when the plugin publishes none.
type SchemaReply struct {
	JSONSchema string `json:"jsonSchema"`
}

// FetchAndParseRequest asks for one document. Empty JSON strings mean {}.
type FetchAndParseRequest struct {
	FetcherID         string `json:"fetcherId"`
	FetchKey          string `json:"fetchKey"`
	FetchMetadataJSON string `json:"fetchMetadataJson,omitempty"`
	AddedMetadataJSON string `json:"addedMetadataJson,omitempty"`
}

// FetchAndParseReply is the outcome of one fetch and parse.
type FetchAndParseReply struct {
	FetchKey     string         `json:"fetchKey"`
	Status       pipes.Status   `json:"status"`
	Metadata     []pipes.Record `json:"metadata"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// NewFetchAndParseReply converts a handler result.
func NewFetchAndParseReply(r pipes.FetchAndParseResult) *FetchAndParseReply {
	records := r.Records
	if records == nil {
		records = []pipes.Record{}
	}
	return &FetchAndParseReply{
		FetchKey:     r.FetchKey,
		Status:       r.Status,
		Metadata:     records,
		ErrorMessage: r.Error,
	}
}

type RunPipeJobRequest struct {
	PipeIteratorID string `json:"pipeIteratorId"`
	FetcherID      string `json:"fetcherId"`
	EmitterID      string `json:"emitterId"`
	// JobCompletionTimeoutSeconds <= 0 uses the server default.
	JobCompletionTimeoutSeconds int64 `json:"jobCompletionTimeoutSeconds"`
}

type RunPipeJobReply struct {
	PipeJobID string `json:"pipeJobId"`
}

type GetPipeJobRequest struct {
	PipeJobID string `json:"pipeJobId"`
}

// PipeJobReply is a job status snapshot.
type PipeJobReply struct {
	PipeJobID   string     `json:"pipeJobId"`
	IsRunning   bool       `json:"isRunning"`
	IsCompleted bool       `json:"isCompleted"`
	HasError    bool       `json:"hasError"`
	IteratorID  string     `json:"pipeIteratorId,omitempty"`
	FetcherID   string     `json:"fetcherId,omitempty"`
	EmitterID   string     `json:"emitterId,omitempty"`
	Processed   int64      `json:"processed"`
	Emitted     int64      `json:"emitted"`
	Failed      int64      `json:"failed"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// NewPipeJobReply converts a stored job status.
func NewPipeJobReply(s *pipes.JobStatus) *PipeJobReply {
	return &PipeJobReply{
		PipeJobID:   s.JobID,
		IsRunning:   s.Running,
		IsCompleted: s.Completed,
		HasError:    s.HasError,
		IteratorID:  s.IteratorID,
		FetcherID:   s.FetcherID,
		EmitterID:   s.EmitterID,
		Processed:   s.Processed,
		Emitted:     s.Emitted,
		Failed:      s.Failed,
		Error:       s.Error,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		CompletedAt: s.CompletedAt,
	}
}

type ListPipeJobsReply struct {
	Jobs []PipeJobReply `json:"jobs"`
}

// ExtensionInfo describes one loaded extension.
type ExtensionInfo struct {
	PluginID     string   `json:"pluginId"`
	Version      string   `json:"version"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities"`
	HasSchema    bool     `json:"hasSchema"`
}

type ListExtensionsReply struct {
	Extensions []ExtensionInfo `json:"extensions"`
}
