package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teranos/docpipe/errors"
)

const redisPingTimeout = 5 * time.Second

// RedisBackend keeps one hash per bucket at <prefix>:<bucket>
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedisBackend
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// NewRedisBackend connects and pings the server
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	if opts.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "redis ping failed at %s", opts.Address)
	}
	return NewRedisBackendWithClient(client, opts.Prefix), nil
}

// NewRedisBackendWithClient wraps an existing client
func NewRedisBackendWithClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "docpipe"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) hashKey(bucket string) string {
	return r.prefix + ":" + bucket
}

func (r *RedisBackend) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := r.client.HSet(ctx, r.hashKey(bucket), key, value).Err(); err != nil {
		return errors.Wrapf(err, "failed to put %s/%s", bucket, key)
	}
	return nil
}

func (r *RedisBackend) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	value, err := r.client.HGet(ctx, r.hashKey(bucket), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.NewNotFoundError("%s/%s", bucket, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s/%s", bucket, key)
	}
	return value, nil
}

// List reads the whole hash. Redis keeps no per-field timestamps, so
// UpdatedAt is left zero.
func (r *RedisBackend) List(ctx context.Context, bucket string) ([]Entry, error) {
	all, err := r.client.HGetAll(ctx, r.hashKey(bucket)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", bucket)
	}
	entries := make([]Entry, 0, len(all))
	for k, v := range all {
		entries = append(entries, Entry{Key: k, Value: []byte(v)})
	}
	sortEntries(entries)
	return entries, nil
}

func (r *RedisBackend) Delete(ctx context.Context, bucket, key string) (bool, error) {
	n, err := r.client.HDel(ctx, r.hashKey(bucket), key).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete %s/%s", bucket, key)
	}
	return n > 0, nil
}

func (r *RedisBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	ok, err := r.client.HExists(ctx, r.hashKey(bucket), key).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to check %s/%s", bucket, key)
	}
	return ok, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
