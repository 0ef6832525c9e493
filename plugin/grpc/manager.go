package grpc

import (
	"context"
	"maps"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/logger"
	"github.com/teranos/docpipe/plugin"
)

// ManagerOptions configures a PluginManager.
type ManagerOptions struct {
	// BasePort is the first port handed to launched plugins.
	BasePort int
	// AuthToken is shared with every plugin; empty disables auth.
	AuthToken string
	// StartTimeout bounds how long a launched plugin may take to listen.
	StartTimeout time.Duration
	Logger       *zap.SugaredLogger
}

// PluginManager owns the connections to external plugins and the
// processes it launched for them.
type PluginManager struct {
	opts   ManagerOptions
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	plugins  map[string]*managedPlugin
	reserved map[int]bool
}

type managedPlugin struct {
	client *RemoteExtension
	proc   *process // nil for plugins we only dialled
}

// process is a launched plugin. exited closes when it terminates.
type process struct {
	*os.Process
	port   int
	exited chan struct{}
}

func NewPluginManager(opts ManagerOptions) *PluginManager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.BasePort <= 0 {
		opts.BasePort = 9300
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}
	return &PluginManager{
		opts:     opts,
		logger:   opts.Logger.Named("plugins"),
		plugins:  make(map[string]*managedPlugin),
		reserved: make(map[int]bool),
	}
}

// LoadPlugins connects to every enabled plugin, launching those that need
// it. Plugins load concurrently. The first failure is returned once all
// attempts finish; plugins that did load stay managed.
func (m *PluginManager) LoadPlugins(ctx context.Context, configs []PluginConfig) error {
	g, gctx := errgroup.WithContext(ctx)
	seen := make(map[string]bool)
	for _, c := range configs {
		switch {
		case !c.Enabled:
			m.logger.Infow("Skipping disabled plugin", "name", c.Name)
			continue
		case seen[c.Name]:
			m.logger.Warnw("Plugin configured twice, keeping the first", "name", c.Name)
			continue
		}
		seen[c.Name] = true

		g.Go(func() error {
			if err := m.load(gctx, c); err != nil {
				return errors.Wrapf(err, "failed to load plugin %s (binary=%s, address=%s)", c.Name, c.Binary, c.Address)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *PluginManager) load(ctx context.Context, c PluginConfig) error {
	m.mu.RLock()
	_, exists := m.plugins[c.Name]
	m.mu.RUnlock()
	if exists {
		return errors.Newf("plugin already loaded: %s", c.Name)
	}

	addr := c.Address
	var proc *process
	switch {
	case addr != "":
		m.logger.Infow("Connecting to running plugin", "name", c.Name, logger.FieldAddress, addr)
	case c.launchable() && !c.AutoStart:
		m.logger.Warnw("Plugin has a binary but auto_start is off, not starting it", "name", c.Name, logger.FieldBinary, c.Binary)
		return nil
	case c.launchable():
		var err error
		if proc, err = m.launch(ctx, c); err != nil {
			return err
		}
		addr = "localhost:" + strconv.Itoa(proc.port)
	default:
		return errors.Newf("plugin %s: one of address, binary or command must be specified", c.Name)
	}

	client, err := NewRemoteExtension(ctx, addr, m.opts.AuthToken, m.logger)
	if err != nil {
		m.kill(proc)
		return errors.Wrapf(err, "failed to connect to plugin %s at %s", c.Name, addr)
	}

	m.mu.Lock()
	m.plugins[c.Name] = &managedPlugin{client: client, proc: proc}
	m.mu.Unlock()

	md := client.Metadata()
	m.logger.Infow("Plugin loaded", "name", c.Name, logger.FieldPluginID, md.PluginID, "version", md.Version)
	return nil
}

// launch starts c on a fresh port and waits until it accepts connections.
func (m *PluginManager) launch(ctx context.Context, c PluginConfig) (*process, error) {
	port := m.allocatePort()
	argv, err := pluginArgv(c, port)
	if err != nil {
		m.releasePort(port)
		return nil, errors.Wrapf(err, "failed to launch plugin %s (port=%d)", c.Name, port)
	}

	// not tied to ctx: plugins live until Shutdown
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if m.opts.AuthToken != "" {
		cmd.Env = append(cmd.Env, TokenEnvVar+"="+m.opts.AuthToken)
	}
	cmd.Stdout = &outputLogger{logger: m.logger, name: c.Name, level: zapcore.DebugLevel}
	cmd.Stderr = &outputLogger{logger: m.logger, name: c.Name, level: zapcore.ErrorLevel}

	if err := cmd.Start(); err != nil {
		m.releasePort(port)
		return nil, errors.Wrapf(err, "failed to start plugin %s (argv=%v)", c.Name, argv)
	}
	proc := &process{Process: cmd.Process, port: port, exited: make(chan struct{})}
	go func() {
		defer close(proc.exited)
		if err := cmd.Wait(); err != nil {
			m.logger.Warnw("Plugin process exited", "name", c.Name, logger.FieldError, err)
			return
		}
		m.logger.Infow("Plugin process exited", "name", c.Name)
	}()
	m.logger.Infow("Launched plugin process", "name", c.Name, logger.FieldPort, port, "pid", proc.Pid)

	addr := "localhost:" + strconv.Itoa(port)
	if err := waitListening(ctx, addr, proc.exited, m.opts.StartTimeout); err != nil {
		m.kill(proc)
		return nil, errors.Wrapf(err, "plugin %s failed to start (addr=%s, pid=%d)", c.Name, addr, proc.Pid)
	}
	return proc, nil
}

func (m *PluginManager) kill(p *process) {
	if p == nil {
		return
	}
	_ = p.Kill()
	m.releasePort(p.port)
}

// allocatePort reserves the lowest free port at or above BasePort.
func (m *PluginManager) allocatePort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	port := m.opts.BasePort
	for m.reserved[port] {
		port++
	}
	m.reserved[port] = true
	return port
}

func (m *PluginManager) releasePort(port int) {
	m.mu.Lock()
	delete(m.reserved, port)
	m.mu.Unlock()
}

// pluginArgv is the split Command, or Binary, followed by Args and --port.
func pluginArgv(c PluginConfig, port int) ([]string, error) {
	var argv []string
	if c.Command != "" {
		words, err := shellquote.Split(c.Command)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid command for plugin %s", c.Name)
		}
		if len(words) == 0 {
			return nil, errors.Newf("empty command for plugin %s", c.Name)
		}
		argv = words
	} else {
		bin := c.Binary
		if !filepath.IsAbs(bin) {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, errors.Wrapf(err, "failed to get home directory for plugin %s", c.Name)
			}
			bin = filepath.Join(home, ".docpipe", "plugins", bin)
		}
		if _, err := os.Stat(bin); os.IsNotExist(err) {
			return nil, errors.Newf("plugin binary not found for %s: %s", c.Name, bin)
		}
		argv = []string{bin}
	}
	argv = append(argv, c.Args...)
	return append(argv, "--port", strconv.Itoa(port)), nil
}

// waitListening polls addr until it accepts a TCP connection.
func waitListening(ctx context.Context, addr string, exited <-chan struct{}, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if conn, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
			return conn.Close()
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "timeout waiting for plugin at %s", addr)
		case <-exited:
			return errors.Newf("plugin process exited before listening on %s", addr)
		case <-tick.C:
		}
	}
}

// Extensions returns the connected plugins sorted by name.
func (m *PluginManager) Extensions() []plugin.Extension {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exts := make([]plugin.Extension, 0, len(m.plugins))
	for _, name := range slices.Sorted(maps.Keys(m.plugins)) {
		exts = append(exts, m.plugins[name].client)
	}
	return exts
}

// Shutdown asks every plugin to stop, then interrupts launched processes.
// Processes still running when ctx ends are killed.
func (m *PluginManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	plugins := m.plugins
	m.plugins = make(map[string]*managedPlugin)
	m.reserved = make(map[int]bool)
	m.mu.Unlock()

	var errs error
	for name, p := range plugins {
		if err := p.client.Shutdown(ctx); err != nil {
			m.logger.Warnw("Plugin shutdown error", "name", name, logger.FieldError, err)
			errs = errors.CombineErrors(errs, err)
		}
		if p.proc == nil {
			continue
		}
		if err := p.proc.Signal(os.Interrupt); err != nil {
			m.logger.Warnw("Failed to signal plugin process", "name", name, logger.FieldError, err)
		}
		select {
		case <-p.proc.exited:
		case <-ctx.Done():
			m.logger.Warnw("Plugin process did not exit, killing it", "name", name)
			_ = p.proc.Kill()
		}
	}
	return errs
}

// outputLogger turns a plugin's stdout or stderr into log entries, one per
// non-blank line.
type outputLogger struct {
	logger *zap.SugaredLogger
	name   string
	level  zapcore.Level
	buf    strings.Builder
}

func (l *outputLogger) Write(p []byte) (int, error) {
	l.buf.Write(p)
	for {
		line, rest, ok := strings.Cut(l.buf.String(), "\n")
		if !ok {
			return len(p), nil
		}
		l.buf.Reset()
		l.buf.WriteString(rest)
		if line = strings.TrimSpace(line); line != "" {
			l.logger.Logw(l.level, "Plugin output", "plugin", l.name, "message", line)
		}
	}
}
