package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/db"
	"github.com/teranos/docpipe/errors"
)

// Open builds the backend selected by cfg.Backend. SQL backends are migrated.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.SugaredLogger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		if logger != nil {
			logger.Warnw("Using in-memory store; configs and jobs are lost on restart")
		}
		return NewMemoryBackend(), nil

	case config.BackendSQLite, "":
		database, err := db.OpenWithMigrations(config.ExpandHome(cfg.SQLitePath), logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open sqlite store")
		}
		return NewSQLBackend(database), nil

	case config.BackendPostgres:
		database, err := db.OpenPostgres(ctx, cfg.PostgresURL, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(database, logger); err != nil {
			database.Close()
			return nil, errors.Wrap(err, "failed to migrate postgres store")
		}
		return NewSQLBackend(database), nil

	case config.BackendRedis:
		return NewRedisBackend(ctx, RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	}
	return nil, errors.Newf("unknown store backend %q", cfg.Backend)
}
