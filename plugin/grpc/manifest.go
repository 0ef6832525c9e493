package grpc

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/teranos/docpipe/errors"
)

// PluginConfig describes one external plugin: either an address to dial or
// something to launch.
type PluginConfig struct {
	Name    string `toml:"name"`
	Enabled bool   `toml:"enabled"`

	// Address of a plugin that is already running. Set, it wins over
	// Binary and Command.
	Address string `toml:"address"`

	// Binary to launch. Relative paths resolve against the plugins/
	// directory the manifest was found in.
	Binary string `toml:"binary"`

	// Command is a shell-quoted command line used instead of Binary,
	// e.g. "python3 -m docpipe_s3 --region eu-west-1".
	Command string `toml:"command"`

	Args      []string          `toml:"args"`
	Env       map[string]string `toml:"env"`
	AutoStart bool              `toml:"auto_start"`
}

func (c PluginConfig) launchable() bool {
	return c.Binary != "" || c.Command != ""
}

// DiscoverManifests reads the plugin manifests under dir, sorted by name:
//
//   - the [plugins.<name>] tables of dir/plugins.toml
//   - dir/plugins/<binary>.toml for each binary in dir/plugins
//
// A binary without a manifest is enabled with auto start.
func DiscoverManifests(dir string) ([]PluginConfig, error) {
	binDir := filepath.Join(dir, "plugins")

	configs, err := readPluginsFile(filepath.Join(dir, "plugins.toml"), binDir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(binDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to read %s", binDir)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".toml") || strings.HasSuffix(name, ".md") {
			continue
		}
		c, err := readBinaryManifest(binDir, name)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}

	slices.SortStableFunc(configs, func(a, b PluginConfig) int { return strings.Compare(a.Name, b.Name) })
	return configs, nil
}

func readPluginsFile(path, binDir string) ([]PluginConfig, error) {
	var file struct {
		Plugins map[string]PluginConfig `toml:"plugins"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	configs := make([]PluginConfig, 0, len(file.Plugins))
	for name, c := range file.Plugins {
		if c.Name == "" {
			c.Name = name
		}
		c.Binary = resolveBinary(binDir, c.Binary)
		configs = append(configs, c)
	}
	return configs, nil
}

func readBinaryManifest(binDir, name string) (PluginConfig, error) {
	path := filepath.Join(binDir, name+".toml")
	c := PluginConfig{Name: name, Enabled: true, AutoStart: true}
	if _, err := os.Stat(path); err == nil {
		c = PluginConfig{}
		if _, err := toml.DecodeFile(path, &c); err != nil {
			return PluginConfig{}, errors.Wrapf(err, "failed to parse %s", path)
		}
		if c.Name == "" {
			c.Name = name
		}
	}
	if c.Binary == "" {
		c.Binary = name
	}
	c.Binary = resolveBinary(binDir, c.Binary)
	return c, nil
}

func resolveBinary(binDir, binary string) string {
	if binary == "" || filepath.IsAbs(binary) {
		return binary
	}
	return filepath.Join(binDir, binary)
}
