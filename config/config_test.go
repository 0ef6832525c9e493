package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the working directory at empty temp dirs
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":50051", cfg.Server.GRPCAddress)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "docpipe.db", cfg.Store.SQLitePath)
	assert.Equal(t, EngineDocconv, cfg.Parser.Engine)
	assert.Equal(t, -1, cfg.Parser.MaxMetadataFieldBytes)
	assert.Equal(t, []string{"http://localhost:9998"}, cfg.Parser.Tika.Endpoints)
	assert.Equal(t, 2, cfg.Parser.Tika.MaxRetries)
	assert.Equal(t, 8, cfg.Pipeline.SessionConcurrency)
	assert.Equal(t, 4, cfg.Jobs.MaxConcurrent)
	assert.Equal(t, time.Hour, cfg.Jobs.DefaultCompletionTimeout())
	assert.Equal(t, 5*time.Second, cfg.Jobs.GracePeriod())
	assert.Equal(t, 9300, cfg.Plugin.BasePort)
	assert.True(t, cfg.Server.WatchSeedFile)
}

func TestLoadMergesProjectFileBelowEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectConfigName), []byte(`
[store]
backend = "memory"

[jobs]
max_concurrent = 9
grace_period_seconds = 1
`), 0644))

	sub := filepath.Join(dir, "nested", "deeper")
	require.NoError(t, os.MkdirAll(sub, 0755))
	t.Chdir(sub)
	t.Setenv("DOCPIPE_JOBS_MAX_CONCURRENT", "2")
	t.Setenv("DOCPIPE_PLUGIN_AUTH_TOKEN", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Store.Backend, "project file found walking up")
	assert.Equal(t, 2, cfg.Jobs.MaxConcurrent, "env wins over file")
	assert.Equal(t, 1, cfg.Jobs.GracePeriodSeconds)
	assert.Equal(t, "s3cret", cfg.Plugin.AuthToken)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DOCPIPE_PARSER_ENGINE=tika\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("DOCPIPE_PARSER_ENGINE") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EngineTika, cfg.Parser.Engine)
}

func TestLoadFromFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[parser]
engine = "tika"
[parser.tika]
endpoints = ["http://tika-a:9998", "http://tika-b:9998"]
policy = "random"
`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://tika-a:9998", "http://tika-b:9998"}, cfg.Parser.Tika.Endpoints)
	assert.Equal(t, "random", cfg.Parser.Tika.Policy)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	isolate(t)
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, "store.backend"},
		{"postgres without url", func(c *Config) { c.Store.Backend = BackendPostgres }, "postgres_url"},
		{"unknown engine", func(c *Config) { c.Parser.Engine = "pdfbox" }, "parser.engine"},
		{"tika without endpoints", func(c *Config) { c.Parser.Engine = EngineTika; c.Parser.Tika.Endpoints = nil }, "endpoints"},
		{"bad policy", func(c *Config) { c.Parser.Engine = EngineTika; c.Parser.Tika.Policy = "least_busy" }, "policy"},
		{"zero workers", func(c *Config) { c.Jobs.MaxConcurrent = 0 }, "max_concurrent"},
		{"zero session concurrency", func(c *Config) { c.Pipeline.SessionConcurrency = 0 }, "session_concurrency"},
		{"negative grace", func(c *Config) { c.Jobs.GracePeriodSeconds = -1 }, "grace_period"},
		{"rate limit without burst", func(c *Config) { c.Server.RateLimit.RequestsPerSecond = 5; c.Server.RateLimit.Burst = 0 }, "burst"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.NoError(t, base.Validate())
}

func TestPersistRoundTrip(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Jobs.MaxConcurrent = 7
	cfg.Plugin.AuthToken = "never-written"

	path := filepath.Join(t.TempDir(), "conf", "config.toml")
	require.NoError(t, Persist(cfg, path))
	require.NoError(t, Persist(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "never-written")
	assert.FileExists(t, path+".back1")

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Jobs.MaxConcurrent)
	assert.Equal(t, cfg.Parser.Tika.Endpoints, loaded.Parser.Tika.Endpoints)
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, ".docpipe", "plugins"), ExpandHome("~/.docpipe/plugins"))
	assert.Equal(t, "/opt/plugins", ExpandHome("/opt/plugins"))
}
