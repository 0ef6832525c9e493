// Package config loads docpipe configuration with Viper and applies
// declarative seed files of extension configs.
package config

import "time"

// Config represents the docpipe server and CLI configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Store    StoreConfig    `mapstructure:"store" toml:"store"`
	Parser   ParserConfig   `mapstructure:"parser" toml:"parser"`
	Pipeline PipelineConfig `mapstructure:"pipeline" toml:"pipeline"`
	Jobs     JobsConfig     `mapstructure:"jobs" toml:"jobs"`
	Plugin   PluginConfig   `mapstructure:"plugin" toml:"plugin"`
	Log      LogConfig      `mapstructure:"log" toml:"log"`
}

// ServerConfig configures the gRPC and admin HTTP listeners
type ServerConfig struct {
	GRPCAddress            string          `mapstructure:"grpc_address" toml:"grpc_address"`
	AdminAddress           string          `mapstructure:"admin_address" toml:"admin_address"` // empty disables the admin HTTP server
	AllowedOrigins         []string        `mapstructure:"allowed_origins" toml:"allowed_origins"`
	MaxRecvMsgMB           int             `mapstructure:"max_recv_msg_mb" toml:"max_recv_msg_mb"`
	RateLimit              RateLimitConfig `mapstructure:"rate_limit" toml:"rate_limit"`
	ShutdownTimeoutSeconds int             `mapstructure:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds"`
	SeedFile               string          `mapstructure:"seed_file" toml:"seed_file"`
	WatchSeedFile          bool            `mapstructure:"watch_seed_file" toml:"watch_seed_file"`
}

// RateLimitConfig configures the token bucket shared by all RPCs.
// RequestsPerSecond <= 0 disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" toml:"burst"`
}

// ShutdownTimeout returns the graceful shutdown bound
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// Store backends
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// StoreConfig selects and configures the config/job store backend
type StoreConfig struct {
	Backend     string      `mapstructure:"backend" toml:"backend"`
	SQLitePath  string      `mapstructure:"sqlite_path" toml:"sqlite_path"`
	PostgresURL string      `mapstructure:"postgres_url" toml:"postgres_url,omitempty"`
	Redis       RedisConfig `mapstructure:"redis" toml:"redis"`
}

// RedisConfig configures the redis backend
type RedisConfig struct {
	Address  string `mapstructure:"address" toml:"address"`
	Password string `mapstructure:"password" toml:"password,omitempty"`
	DB       int    `mapstructure:"db" toml:"db"`
	Prefix   string `mapstructure:"prefix" toml:"prefix"`
}

// Parser engines
const (
	EngineDocconv = "docconv"
	EngineTika    = "tika"
)

// ParserConfig configures the parsing engine collaborator
type ParserConfig struct {
	Engine                string        `mapstructure:"engine" toml:"engine"`
	ReadTimeoutSeconds    int           `mapstructure:"read_timeout_seconds" toml:"read_timeout_seconds"`
	MaxMetadataFieldBytes int           `mapstructure:"max_metadata_field_bytes" toml:"max_metadata_field_bytes"` // < 0 = unlimited
	Docconv               DocconvConfig `mapstructure:"docconv" toml:"docconv"`
	Tika                  TikaConfig    `mapstructure:"tika" toml:"tika"`
}

// ReadTimeout bounds one fetch-and-parse
func (p ParserConfig) ReadTimeout() time.Duration {
	return time.Duration(p.ReadTimeoutSeconds) * time.Second
}

// DocconvConfig configures the in-process engine
type DocconvConfig struct {
	Readability bool `mapstructure:"readability" toml:"readability"`
}

// TikaConfig configures the Tika server pool engine
type TikaConfig struct {
	Endpoints            []string `mapstructure:"endpoints" toml:"endpoints"`
	MaxEmbeddedResources int      `mapstructure:"max_embedded_resources" toml:"max_embedded_resources"`
	WriteLimit           int      `mapstructure:"write_limit" toml:"write_limit"`
	MaxParseTimeMS       int      `mapstructure:"max_parse_time_ms" toml:"max_parse_time_ms"`
	MaxRetries           int      `mapstructure:"max_retries" toml:"max_retries"`
	BackoffMinMS         int      `mapstructure:"backoff_min_ms" toml:"backoff_min_ms"`
	BackoffMaxMS         int      `mapstructure:"backoff_max_ms" toml:"backoff_max_ms"`
	Policy               string   `mapstructure:"policy" toml:"policy"` // round_robin | random
}

// PipelineConfig configures bidirectional sessions
type PipelineConfig struct {
	SessionConcurrency int `mapstructure:"session_concurrency" toml:"session_concurrency"`
	SessionBuffer      int `mapstructure:"session_buffer" toml:"session_buffer"`
}

// JobsConfig configures the pipe job orchestrator
type JobsConfig struct {
	MaxConcurrent                   int `mapstructure:"max_concurrent" toml:"max_concurrent"`
	DefaultCompletionTimeoutSeconds int `mapstructure:"default_completion_timeout_seconds" toml:"default_completion_timeout_seconds"`
	GracePeriodSeconds              int `mapstructure:"grace_period_seconds" toml:"grace_period_seconds"`
}

// DefaultCompletionTimeout applies when a job is submitted without one
func (j JobsConfig) DefaultCompletionTimeout() time.Duration {
	return time.Duration(j.DefaultCompletionTimeoutSeconds) * time.Second
}

// GracePeriod bounds how long a stuck extension call can delay a terminal status
func (j JobsConfig) GracePeriod() time.Duration {
	return time.Duration(j.GracePeriodSeconds) * time.Second
}

// PluginConfig configures out-of-process extensions
type PluginConfig struct {
	Paths               []string `mapstructure:"paths" toml:"paths"`
	Enabled             []string `mapstructure:"enabled" toml:"enabled"`
	AuthToken           string   `mapstructure:"auth_token" toml:"auth_token,omitempty"`
	BasePort            int      `mapstructure:"base_port" toml:"base_port"`
	StartTimeoutSeconds int      `mapstructure:"start_timeout_seconds" toml:"start_timeout_seconds"`
}

// StartTimeout bounds how long a launched plugin may take to listen
func (p PluginConfig) StartTimeout() time.Duration {
	return time.Duration(p.StartTimeoutSeconds) * time.Second
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}
