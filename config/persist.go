package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/docpipe/errors"
)

// Persist writes cfg as TOML to path, rotating an existing file to path.back1.
// Secrets (postgres url, redis password, plugin token) are left out.
func Persist(cfg *Config, path string) error {
	out := *cfg
	out.Store.PostgresURL = ""
	out.Store.Redis.Password = ""
	out.Plugin.AuthToken = ""

	data, err := toml.Marshal(out)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func createBackup(path string) error {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	return os.WriteFile(path+".back1", content, 0644)
}

// DefaultUserConfigPath is ~/.docpipe/config.toml
func DefaultUserConfigPath() string {
	return ExpandHome("~/.docpipe/config.toml")
}
