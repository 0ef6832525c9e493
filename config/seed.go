package config

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/pipes"
)

// Seed is a declarative set of extension configs:
//
//	fetchers:
//	  - id: docs
//	    plugin_id: file-system
//	    config: {basePath: /srv/docs}
//	emitters: [...]
//	iterators: [...]
type Seed struct {
	Fetchers  []SeedEntry `yaml:"fetchers"`
	Emitters  []SeedEntry `yaml:"emitters"`
	Iterators []SeedEntry `yaml:"iterators"`
}

// SeedEntry is one config in a seed file
type SeedEntry struct {
	ID       string         `yaml:"id"`
	PluginID string         `yaml:"plugin_id"`
	Config   map[string]any `yaml:"config"`
}

// SaveFunc persists one extension config (a store or an RPC client).
type SaveFunc func(ctx context.Context, cfg pipes.ExtensionConfig) error

// LoadSeed reads and validates a seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read seed file %s", path)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a YAML seed document
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to parse seed"), errors.ErrInvalidRequest)
	}
	for _, c := range s.Configs() {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// Configs flattens the seed into extension configs, fetchers first
func (s *Seed) Configs() []pipes.ExtensionConfig {
	var out []pipes.ExtensionConfig
	add := func(kind pipes.Kind, entries []SeedEntry) {
		for _, e := range entries {
			cfg := e.Config
			if cfg == nil {
				cfg = map[string]any{}
			}
			out = append(out, pipes.ExtensionConfig{
				Kind:     kind,
				ID:       e.ID,
				PluginID: e.PluginID,
				Config:   cfg,
			})
		}
	}
	add(pipes.KindFetcher, s.Fetchers)
	add(pipes.KindEmitter, s.Emitters)
	add(pipes.KindIterator, s.Iterators)
	return out
}

// Apply upserts every config through save. Applying the same seed twice
// leaves the stores unchanged. Returns the number of configs written.
func (s *Seed) Apply(ctx context.Context, save SaveFunc) (int, error) {
	n := 0
	for _, c := range s.Configs() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := save(ctx, c); err != nil {
			return n, errors.Wrapf(err, "failed to apply %s %q", c.Kind, c.ID)
		}
		n++
	}
	return n, nil
}
