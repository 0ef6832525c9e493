package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/pipes"
)

// ConfigStore persists named configs of one kind (bucket fetchers, emitters or iterators).
// Concurrent saves of the same id are last-writer-wins.
type ConfigStore struct {
	kind    pipes.Kind
	backend Backend
}

// NewConfigStore creates the store for kind on top of backend
func NewConfigStore(kind pipes.Kind, backend Backend) *ConfigStore {
	return &ConfigStore{kind: kind, backend: backend}
}

// Kind returns the config kind this store holds
func (s *ConfigStore) Kind() pipes.Kind { return s.kind }

// storedConfig is the persisted shape; kind is implied by the bucket
type storedConfig struct {
	PluginID  string          `json:"plugin_id"`
	Config    json.RawMessage `json:"config"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Save upserts cfg, overwriting any record with the same id
func (s *ConfigStore) Save(ctx context.Context, cfg pipes.ExtensionConfig) error {
	cfg.Kind = s.kind
	if err := cfg.Validate(); err != nil {
		return err
	}
	raw, err := cfg.ConfigJSON()
	if err != nil {
		return err
	}
	value, err := json.Marshal(storedConfig{
		PluginID:  cfg.PluginID,
		Config:    json.RawMessage(raw),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrapf(err, "encode %s %q", s.kind, cfg.ID)
	}
	return s.backend.Put(ctx, s.kind.Bucket(), cfg.ID, value)
}

// Get returns the config stored under id, or an ErrConfigNotFound error
func (s *ConfigStore) Get(ctx context.Context, id string) (pipes.ExtensionConfig, error) {
	value, err := s.backend.Get(ctx, s.kind.Bucket(), id)
	if errors.IsNotFoundError(err) {
		return pipes.ExtensionConfig{}, errors.NewConfigNotFoundError(string(s.kind), id)
	}
	if err != nil {
		return pipes.ExtensionConfig{}, err
	}
	return s.decode(id, value)
}

// List returns every config of this kind sorted by id
func (s *ConfigStore) List(ctx context.Context) ([]pipes.ExtensionConfig, error) {
	entries, err := s.backend.List(ctx, s.kind.Bucket())
	if err != nil {
		return nil, err
	}
	out := make([]pipes.ExtensionConfig, 0, len(entries))
	for _, e := range entries {
		cfg, err := s.decode(e.Key, e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Delete reports whether a config existed and was removed
func (s *ConfigStore) Delete(ctx context.Context, id string) (bool, error) {
	return s.backend.Delete(ctx, s.kind.Bucket(), id)
}

// Exists reports whether a config is stored under id
func (s *ConfigStore) Exists(ctx context.Context, id string) (bool, error) {
	return s.backend.Exists(ctx, s.kind.Bucket(), id)
}

func (s *ConfigStore) decode(id string, value []byte) (pipes.ExtensionConfig, error) {
	var sc storedConfig
	if err := json.Unmarshal(value, &sc); err != nil {
		return pipes.ExtensionConfig{}, errors.Wrapf(err, "corrupt %s record %q", s.kind, id)
	}
	cfg, err := pipes.ParseObjectJSON(string(sc.Config))
	if err != nil {
		return pipes.ExtensionConfig{}, errors.Wrapf(err, "corrupt %s record %q", s.kind, id)
	}
	return pipes.ExtensionConfig{
		Kind:      s.kind,
		ID:        id,
		PluginID:  sc.PluginID,
		Config:    cfg,
		UpdatedAt: sc.UpdatedAt,
	}, nil
}

// ConfigStores groups the three per-kind stores sharing one backend
type ConfigStores struct {
	Fetchers  *ConfigStore
	Emitters  *ConfigStore
	Iterators *ConfigStore
}

// NewConfigStores creates the fetcher, emitter and iterator stores
func NewConfigStores(backend Backend) *ConfigStores {
	return &ConfigStores{
		Fetchers:  NewConfigStore(pipes.KindFetcher, backend),
		Emitters:  NewConfigStore(pipes.KindEmitter, backend),
		Iterators: NewConfigStore(pipes.KindIterator, backend),
	}
}

// For returns the store holding kind
func (c *ConfigStores) For(kind pipes.Kind) (*ConfigStore, error) {
	switch kind {
	case pipes.KindFetcher:
		return c.Fetchers, nil
	case pipes.KindEmitter:
		return c.Emitters, nil
	case pipes.KindIterator:
		return c.Iterators, nil
	}
	return nil, errors.NewInvalidRequestError("unknown config kind %q", kind)
}

// Save routes cfg to the store for its kind
func (c *ConfigStores) Save(ctx context.Context, cfg pipes.ExtensionConfig) error {
	s, err := c.For(cfg.Kind)
	if err != nil {
		return err
	}
	return s.Save(ctx, cfg)
}
