package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/docpipe/config"
	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/logger"
	grpcplugin "github.com/teranos/docpipe/plugin/grpc"
)

// State is the server lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (st State) String() string {
	switch st {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// seedApplyTimeout bounds one re-application of a changed seed file
const seedApplyTimeout = 30 * time.Second

// State returns the current lifecycle phase.
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Infow("Server state changed", logger.FieldStatus, st.String())
}

// Start listens on the configured gRPC and admin addresses and serves until
// ctx ends or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", s.cfg.Server.GRPCAddress)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.Server.GRPCAddress)
	}
	var adminLis net.Listener
	if s.httpServer != nil {
		adminLis, err = net.Listen("tcp", s.cfg.Server.AdminAddress)
		if err != nil {
			grpcLis.Close()
			return errors.Wrapf(err, "failed to listen on %s", s.cfg.Server.AdminAddress)
		}
	}
	return s.Serve(ctx, grpcLis, adminLis)
}

// Serve loads plugins, applies the seed file, recovers interrupted jobs and
// then serves on the given listeners. adminLis may be nil. It returns once
// the server has stopped; a nil error means a clean shutdown.
func (s *Server) Serve(ctx context.Context, grpcLis, adminLis net.Listener) error {
	if err := s.prepare(ctx); err != nil {
		grpcLis.Close()
		if adminLis != nil {
			adminLis.Close()
		}
		if serr := s.Stop(context.Background()); serr != nil {
			s.logger.Warnw("Cleanup after failed start", logger.FieldError, serr)
		}
		return err
	}

	s.mu.Lock()
	s.grpcAddr = grpcLis.Addr()
	if adminLis != nil && s.httpServer != nil {
		s.adminAddr = adminLis.Addr()
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Infow("gRPC server listening", logger.FieldAddress, grpcLis.Addr().String())
		if err := s.grpcServer.Serve(grpcLis); err != nil {
			return errors.Wrap(err, "gRPC server failed")
		}
		return nil
	})

	if adminLis != nil && s.httpServer != nil {
		g.Go(func() error {
			s.logger.Infow("Admin HTTP server listening", logger.FieldAddress, adminLis.Addr().String())
			if err := s.httpServer.Serve(adminLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "admin HTTP server failed")
			}
			return nil
		})
	} else if adminLis != nil {
		adminLis.Close()
	}

	if w := s.watcher(); w != nil {
		g.Go(func() error {
			w.Run()
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.stopping:
		}
		return s.Stop(context.Background())
	})

	s.setState(StateRunning)
	return g.Wait()
}

func (s *Server) prepare(ctx context.Context) error {
	if err := s.loadPlugins(ctx); err != nil {
		return err
	}
	if err := s.applySeed(ctx); err != nil {
		return err
	}
	if _, err := s.jobs.Recover(ctx); err != nil {
		return errors.Wrap(err, "failed to recover interrupted jobs")
	}
	return nil
}

// loadPlugins starts or connects to the configured out-of-process
// extensions and registers them. A plugin the registry rejects is skipped.
func (s *Server) loadPlugins(ctx context.Context) error {
	manager, err := grpcplugin.LoadPluginsFromConfig(ctx, s.cfg.Plugin, s.logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.plugins = manager
	s.mu.Unlock()

	for _, ext := range manager.Extensions() {
		if err := s.registry.Register(ext); err != nil {
			s.logger.Warnw("Skipping plugin",
				logger.FieldPluginID, ext.Metadata().PluginID,
				logger.FieldError, err,
			)
		}
	}
	s.metrics.SetExtensionsLoaded(len(s.registry.List()))
	return nil
}

// applySeed upserts the seed file's configs and, when enabled, prepares a
// watcher that re-applies it on change.
func (s *Server) applySeed(ctx context.Context) error {
	if s.cfg.Server.SeedFile == "" {
		return nil
	}
	path := config.ExpandHome(s.cfg.Server.SeedFile)

	seed, err := config.LoadSeed(path)
	if err != nil {
		return errors.Wrap(err, "failed to load seed file")
	}
	n, err := seed.Apply(ctx, s.configs.Save)
	if err != nil {
		return err
	}
	s.logger.Infow("Applied seed file", "file", path, logger.FieldCount, n)

	if !s.cfg.Server.WatchSeedFile {
		return nil
	}
	w, err := config.NewSeedWatcher(path, func(seed *config.Seed) error {
		ctx, cancel := context.WithTimeout(context.Background(), seedApplyTimeout)
		defer cancel()
		_, err := seed.Apply(ctx, s.configs.Save)
		return err
	}, s.logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.seedWatcher = w
	s.mu.Unlock()
	return nil
}

func (s *Server) watcher() *config.SeedWatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seedWatcher
}

func (s *Server) pluginManager() *grpcplugin.PluginManager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plugins
}

// Stop drains the server within server.shutdown_timeout_seconds: listeners
// stop accepting, in-flight RPCs finish (or are cut off at the deadline),
// running jobs are cancelled, plugins are shut down and the store closed.
// Safe to call more than once; later calls return the first result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.logger.Infow("Initiating server shutdown")
		s.setState(StateDraining)
		close(s.stopping)

		if t := s.cfg.Server.ShutdownTimeout(); t > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t)
			defer cancel()
		}

		var errs error
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrap(err, "admin HTTP shutdown"))
			}
		}
		s.stopGRPC(ctx)

		if w := s.watcher(); w != nil {
			if err := w.Stop(); err != nil {
				s.logger.Warnw("Failed to stop seed watcher", logger.FieldError, err)
			}
		}
		if err := s.jobs.Stop(ctx); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
		if m := s.pluginManager(); m != nil {
			if err := m.Shutdown(ctx); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrap(err, "plugin shutdown"))
			}
		}
		if err := s.registry.CloseAll(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
		if err := s.backend.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to close store"))
		}

		s.setState(StateStopped)
		s.stopErr = errs
		s.logger.Infow("Server shutdown complete")
	})
	return s.stopErr
}

// stopGRPC waits for in-flight calls until ctx ends, then closes whatever
// streams are still open.
func (s *Server) stopGRPC(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warnw("Graceful gRPC shutdown timed out, closing open streams")
		s.grpcServer.Stop()
		<-done
	}
}
