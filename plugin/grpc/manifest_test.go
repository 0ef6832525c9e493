package grpc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverManifests(t *testing.T) {
	dir := t.TempDir()
	pluginsDir := filepath.Join(dir, "plugins")
	require.NoError(t, os.MkdirAll(pluginsDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugins.toml"), []byte(`
[plugins.s3]
enabled = true
address = "localhost:9400"

[plugins.tika-fetcher]
enabled = false
binary = "tika"
`), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "csv"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "csv.toml"), []byte(`
enabled = true
auto_start = true
args = ["--strict"]

[env]
CSV_DELIMITER = ";"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "bare"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "README.md"), []byte("docs"), 0o644))

	configs, err := DiscoverManifests(dir)
	require.NoError(t, err)

	names := make([]string, len(configs))
	for i, c := range configs {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"bare", "csv", "s3", "tika-fetcher"}, names)

	bare, csv, s3, tika := configs[0], configs[1], configs[2], configs[3]
	assert.True(t, bare.Enabled)
	assert.True(t, bare.AutoStart)
	assert.Equal(t, filepath.Join(pluginsDir, "bare"), bare.Binary)

	assert.Equal(t, filepath.Join(pluginsDir, "csv"), csv.Binary)
	assert.Equal(t, []string{"--strict"}, csv.Args)
	assert.Equal(t, ";", csv.Env["CSV_DELIMITER"])

	assert.Equal(t, "localhost:9400", s3.Address)
	assert.False(t, tika.Enabled)
	assert.Equal(t, filepath.Join(pluginsDir, "tika"), tika.Binary)
}

func TestDiscoverManifestsEmptyAndMalformed(t *testing.T) {
	configs, err := DiscoverManifests(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, configs)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugins.toml"), []byte("[plugins.s3\n"), 0o644))
	_, err = DiscoverManifests(dir)
	assert.Error(t, err)
}

func TestDiscoverManifestsOnlyBinaries(t *testing.T) {
	dir := t.TempDir()
	pluginsDir := filepath.Join(dir, "plugins")
	require.NoError(t, os.MkdirAll(filepath.Join(pluginsDir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "docpipe-s3"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginsDir, "docpipe-s3.toml"), []byte("name = \"s3\"\nenabled = false\n"), 0o644))

	configs, err := DiscoverManifests(dir)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "s3", configs[0].Name)
	assert.False(t, configs[0].Enabled)
	assert.Equal(t, filepath.Join(pluginsDir, "docpipe-s3"), configs[0].Binary)
}
