// Package store persists extension configs and job status over a generic
// bucketed key-value Backend.
package store

import (
	"context"
	"sort"
	"time"
)

// Entry is one stored value
type Entry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// Backend is a bucketed key-value repository. Implementations must be safe
// for concurrent use; each call is atomic on its own.
type Backend interface {
	// Put upserts value under (bucket, key)
	Put(ctx context.Context, bucket, key string, value []byte) error
	// Get returns errors.ErrNotFound when the key is absent
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// List returns every entry of the bucket sorted by key
	List(ctx context.Context, bucket string) ([]Entry, error)
	// Delete reports whether a value existed and was removed
	Delete(ctx context.Context, bucket, key string) (bool, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Close() error
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}
