package store

import (
	"context"
	"sync"
	"time"

	"github.com/teranos/docpipe/errors"
)

// MemoryBackend keeps everything in process memory
type MemoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]map[string]Entry
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]map[string]Entry)}
}

func (m *MemoryBackend) Put(_ context.Context, bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string]Entry)
		m.buckets[bucket] = b
	}
	b[key] = Entry{Key: key, Value: append([]byte(nil), value...), UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.buckets[bucket][key]
	if !ok {
		return nil, errors.NewNotFoundError("%s/%s", bucket, key)
	}
	return append([]byte(nil), e.Value...), nil
}

func (m *MemoryBackend) List(_ context.Context, bucket string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.buckets[bucket]))
	for _, e := range m.buckets[bucket] {
		e.Value = append([]byte(nil), e.Value...)
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

func (m *MemoryBackend) Delete(_ context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buckets[bucket][key]; !ok {
		return false, nil
	}
	delete(m.buckets[bucket], key)
	return true, nil
}

func (m *MemoryBackend) Exists(_ context.Context, bucket, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buckets[bucket][key]
	return ok, nil
}

func (m *MemoryBackend) Close() error { return nil }
