package config

import (
	"github.com/spf13/viper"
)

// DefaultDirPermissions for ~/.docpipe
const DefaultDirPermissions = 0750

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.grpc_address", ":50051")
	v.SetDefault("server.admin_address", ":8089")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.max_recv_msg_mb", 64)
	v.SetDefault("server.rate_limit.requests_per_second", 0) // disabled
	v.SetDefault("server.rate_limit.burst", 20)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("server.seed_file", "")
	v.SetDefault("server.watch_seed_file", true)

	// Store
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.sqlite_path", "docpipe.db")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.redis.address", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "docpipe")

	// Parser
	v.SetDefault("parser.engine", EngineDocconv)
	v.SetDefault("parser.read_timeout_seconds", 120)
	v.SetDefault("parser.max_metadata_field_bytes", -1)
	v.SetDefault("parser.docconv.readability", false)
	v.SetDefault("parser.tika.endpoints", []string{"http://localhost:9998"})
	v.SetDefault("parser.tika.max_embedded_resources", 1000)
	v.SetDefault("parser.tika.write_limit", -1)
	v.SetDefault("parser.tika.max_parse_time_ms", 120000)
	v.SetDefault("parser.tika.max_retries", 2)
	v.SetDefault("parser.tika.backoff_min_ms", 1000)
	v.SetDefault("parser.tika.backoff_max_ms", 60000)
	v.SetDefault("parser.tika.policy", "round_robin")

	// Pipeline sessions
	v.SetDefault("pipeline.session_concurrency", 8)
	v.SetDefault("pipeline.session_buffer", 64)

	// Jobs
	v.SetDefault("jobs.max_concurrent", 4)
	v.SetDefault("jobs.default_completion_timeout_seconds", 3600)
	v.SetDefault("jobs.grace_period_seconds", 5)

	// Plugins
	v.SetDefault("plugin.paths", []string{"~/.docpipe/plugins"})
	v.SetDefault("plugin.enabled", []string{})
	v.SetDefault("plugin.auth_token", "")
	v.SetDefault("plugin.base_port", 9300)
	v.SetDefault("plugin.start_timeout_seconds", 30)

	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds secrets to environment variables
// so they never need to live in a config file.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("store.postgres_url", "DOCPIPE_STORE_POSTGRES_URL")
	_ = v.BindEnv("store.redis.password", "DOCPIPE_STORE_REDIS_PASSWORD")
	_ = v.BindEnv("plugin.auth_token", "DOCPIPE_PLUGIN_AUTH_TOKEN")
}
