package grpc

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/errors"
)

// LoadPluginsFromConfig starts or connects to every plugin in cfg.Enabled
// and returns the manager that owns them.
//
// For each name the manifests of the search paths are consulted first (see
// DiscoverManifests); a manifest may point at a running plugin or carry
// launch settings. Otherwise the first executable named docpipe-<name>-plugin,
// docpipe-<name> or <name> is launched. Names that resolve to nothing are
// logged and skipped, but a plugin that resolves and then fails to start
// fails the load.
func LoadPluginsFromConfig(ctx context.Context, cfg config.PluginConfig, logger *zap.SugaredLogger) (*PluginManager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	manager := NewPluginManager(ManagerOptions{
		BasePort:     cfg.BasePort,
		AuthToken:    cfg.AuthToken,
		StartTimeout: cfg.StartTimeout(),
		Logger:       logger,
	})

	names := slices.Compact(slices.Sorted(slices.Values(cfg.Enabled)))
	if len(names) == 0 {
		logger.Infow("No plugins enabled")
		return manager, nil
	}

	f := newFinder(cfg.Paths, logger)
	var (
		resolved []PluginConfig
		missing  []string
	)
	for _, name := range names {
		pc, ok := f.resolve(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		resolved = append(resolved, pc)
	}

	if len(resolved) > 0 {
		if err := manager.LoadPlugins(ctx, resolved); err != nil {
			if serr := manager.Shutdown(ctx); serr != nil {
				logger.Warnw("Failed to stop plugins after load error", "error", serr)
			}
			return nil, errors.Wrap(err, "failed to load plugins")
		}
	}

	if len(missing) > 0 {
		logger.Warnw("Enabled plugins not found", "missing", missing, "paths", f.dirs)
	}
	logger.Infow("Plugins loaded", "enabled", len(names), "loaded", len(resolved))
	return manager, nil
}

// finder resolves plugin names against the configured search paths.
type finder struct {
	dirs      []string
	manifests map[string]PluginConfig
	logger    *zap.SugaredLogger
}

func newFinder(paths []string, logger *zap.SugaredLogger) *finder {
	f := &finder{manifests: make(map[string]PluginConfig), logger: logger}
	for _, p := range paths {
		dir, err := localDir(p)
		if err != nil {
			logger.Warnw("Skipping plugin search path", "path", p, "error", err)
			continue
		}
		f.dirs = append(f.dirs, dir)
	}

	// earlier paths win
	for _, dir := range f.dirs {
		found, err := DiscoverManifests(dir)
		if err != nil {
			logger.Warnw("Skipping unreadable plugin manifests", "path", dir, "error", err)
			continue
		}
		for _, m := range found {
			if _, dup := f.manifests[m.Name]; !dup && m.Enabled {
				f.manifests[m.Name] = m
			}
		}
	}
	return f
}

func (f *finder) resolve(name string) (PluginConfig, bool) {
	if m, ok := f.manifests[name]; ok {
		f.logger.Infow("Plugin resolved from manifest", "plugin", name, "binary", m.Binary, "address", m.Address)
		return m, true
	}
	bin, ok := f.binary(name)
	if !ok {
		return PluginConfig{}, false
	}
	f.logger.Infow("Plugin resolved from binary", "plugin", name, "binary", bin)
	return PluginConfig{Name: name, Enabled: true, Binary: bin, AutoStart: true}, true
}

// binary returns the first executable candidate for name.
func (f *finder) binary(name string) (string, bool) {
	candidates := []string{"docpipe-" + name + "-plugin", "docpipe-" + name, name}
	for _, dir := range f.dirs {
		for _, c := range candidates {
			path := filepath.Join(dir, c)
			fi, err := os.Stat(path)
			if err != nil || fi.IsDir() {
				continue
			}
			if fi.Mode()&0o111 == 0 {
				f.logger.Debugw("Plugin binary is not executable", "plugin", name, "path", path)
				continue
			}
			return path, true
		}
	}
	return "", false
}

// localDir turns a search path into an absolute directory. go-getter's
// detectors normalise the input; anything that detects as a remote source
// is rejected, since plugins are only loaded from the local disk.
func localDir(path string) (string, error) {
	path = config.ExpandHome(path)
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	detected, err := getter.Detect(path, wd, getter.Detectors)
	if err != nil {
		return "", errors.Wrap(err, "invalid path")
	}
	u, err := url.Parse(detected)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse path")
	}
	switch u.Scheme {
	case "file":
		return u.Path, nil
	case "":
		return filepath.Abs(path)
	default:
		return "", errors.Newf("unsupported plugin path scheme %q", u.Scheme)
	}
}
