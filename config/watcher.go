package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/docpipe/errors"
)

// SeedCallback receives a freshly parsed seed after the file changed
type SeedCallback func(*Seed) error

// SeedWatcher re-reads a seed file whenever it is written or replaced
type SeedWatcher struct {
	path           string
	watcher        *fsnotify.Watcher
	callback       SeedCallback
	logger         *zap.SugaredLogger
	debouncePeriod time.Duration

	mu            sync.Mutex
	debounceTimer *time.Timer
	done          chan struct{}
	closeOnce     sync.Once
}

// NewSeedWatcher watches the directory holding path, so editors that replace
// the file through a rename are still picked up.
func NewSeedWatcher(path string, callback SeedCallback, logger *zap.SugaredLogger) (*SeedWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(abs))
	}

	return &SeedWatcher{
		path:           abs,
		watcher:        w,
		callback:       callback,
		logger:         logger,
		debouncePeriod: 500 * time.Millisecond,
		done:           make(chan struct{}),
	}, nil
}

// Run processes events until Stop is called
func (sw *SeedWatcher) Run() {
	for {
		select {
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != sw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			sw.logger.Debugw("Seed file changed", "file", event.Name, "op", event.Op.String())
			sw.scheduleReload()

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warnw("Seed watcher error", "error", err)

		case <-sw.done:
			return
		}
	}
}

func (sw *SeedWatcher) scheduleReload() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.debounceTimer != nil {
		sw.debounceTimer.Stop()
	}
	sw.debounceTimer = time.AfterFunc(sw.debouncePeriod, sw.reload)
}

func (sw *SeedWatcher) reload() {
	select {
	case <-sw.done:
		return
	default:
	}

	seed, err := LoadSeed(sw.path)
	if err != nil {
		sw.logger.Errorw("Seed reload failed", "file", sw.path, "error", err)
		return
	}
	if err := sw.callback(seed); err != nil {
		sw.logger.Errorw("Seed apply failed", "file", sw.path, "error", err)
		return
	}
	sw.logger.Infow("Seed reloaded", "file", sw.path, "configs", len(seed.Configs()))
}

// Stop stops watching. Safe to call more than once.
func (sw *SeedWatcher) Stop() error {
	var err error
	sw.closeOnce.Do(func() {
		close(sw.done)
		sw.mu.Lock()
		if sw.debounceTimer != nil {
			sw.debounceTimer.Stop()
		}
		sw.mu.Unlock()
		err = sw.watcher.Close()
	})
	return err
}
