package config

import (
	"github.com/teranos/docpipe/errors"
)

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path cannot be empty for the sqlite backend")
		}
	case BackendPostgres:
		if c.Store.PostgresURL == "" {
			return errors.WithHint(
				errors.New("store.postgres_url is required for the postgres backend"),
				"set DOCPIPE_STORE_POSTGRES_URL",
			)
		}
	case BackendRedis:
		if c.Store.Redis.Address == "" {
			return errors.New("store.redis.address is required for the redis backend")
		}
	case BackendMemory:
	default:
		return errors.Newf("store.backend must be one of sqlite, postgres, redis, memory; got %q", c.Store.Backend)
	}

	switch c.Parser.Engine {
	case EngineDocconv:
	case EngineTika:
		if len(c.Parser.Tika.Endpoints) == 0 {
			return errors.New("parser.tika.endpoints cannot be empty for the tika engine")
		}
		if p := c.Parser.Tika.Policy; p != "" && p != "round_robin" && p != "random" {
			return errors.Newf("parser.tika.policy must be round_robin or random, got %q", p)
		}
		if c.Parser.Tika.MaxRetries < 0 {
			return errors.Newf("parser.tika.max_retries must be >= 0, got %d", c.Parser.Tika.MaxRetries)
		}
	default:
		return errors.Newf("parser.engine must be docconv or tika, got %q", c.Parser.Engine)
	}

	if c.Parser.ReadTimeoutSeconds <= 0 {
		return errors.Newf("parser.read_timeout_seconds must be > 0, got %d", c.Parser.ReadTimeoutSeconds)
	}
	if c.Pipeline.SessionConcurrency <= 0 {
		return errors.Newf("pipeline.session_concurrency must be > 0, got %d", c.Pipeline.SessionConcurrency)
	}
	if c.Pipeline.SessionBuffer < 0 {
		return errors.Newf("pipeline.session_buffer must be >= 0, got %d", c.Pipeline.SessionBuffer)
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return errors.Newf("jobs.max_concurrent must be > 0, got %d", c.Jobs.MaxConcurrent)
	}
	if c.Jobs.DefaultCompletionTimeoutSeconds <= 0 {
		return errors.Newf("jobs.default_completion_timeout_seconds must be > 0, got %d", c.Jobs.DefaultCompletionTimeoutSeconds)
	}
	if c.Jobs.GracePeriodSeconds < 0 {
		return errors.Newf("jobs.grace_period_seconds must be >= 0, got %d", c.Jobs.GracePeriodSeconds)
	}
	if c.Server.MaxRecvMsgMB <= 0 {
		return errors.Newf("server.max_recv_msg_mb must be > 0, got %d", c.Server.MaxRecvMsgMB)
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst <= 0 {
		return errors.Newf("server.rate_limit.burst must be > 0 when rate limiting is on, got %d", c.Server.RateLimit.Burst)
	}
	if c.Plugin.BasePort <= 0 || c.Plugin.BasePort > 65535 {
		return errors.Newf("plugin.base_port out of range: %d", c.Plugin.BasePort)
	}

	return nil
}
