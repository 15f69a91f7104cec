// Package leased wires the lease daemon's components and manages their
// lifecycle.
package leased

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/chiquitav2/vpn-leased/internal/leased/api"
	"github.com/chiquitav2/vpn-leased/internal/leased/config"
	"github.com/chiquitav2/vpn-leased/internal/leased/events"
	"github.com/chiquitav2/vpn-leased/internal/leased/leasemanager"
	"github.com/chiquitav2/vpn-leased/internal/leased/metrics"
	"github.com/chiquitav2/vpn-leased/internal/leased/reconciler"
	"github.com/chiquitav2/vpn-leased/internal/leased/resolver"
	"github.com/chiquitav2/vpn-leased/internal/leased/revoker"
	"github.com/chiquitav2/vpn-leased/internal/leased/store"
	"github.com/chiquitav2/vpn-leased/internal/leased/watcher"
	"github.com/chiquitav2/vpn-leased/internal/leased/wgctl"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

// APIServerInterface defines the interface for API server operations
type APIServerInterface interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// LoopRunner is a background loop bound to the service context
type LoopRunner interface {
	Run(ctx context.Context) error
}

type reconcilerLoop struct{ r *reconciler.Reconciler }

func (l reconcilerLoop) Run(ctx context.Context) error {
	l.r.Start(ctx)
	return nil
}

// Service coordinates all lease daemon components and manages their lifecycle
type Service struct {
	config    *config.Config
	version   string
	manager   leasemanager.Manager
	store     *store.Store
	bus       *events.Bus
	apiServer APIServerInterface
	loops     map[string]LoopRunner
	logger    *logger.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopped  chan struct{}
	stopOnce sync.Once

	signalChan            chan os.Signal
	shutdownWg            sync.WaitGroup
	isRunning             bool
	mu                    sync.RWMutex
	disableSignalHandling bool // For testing
}

// NewService creates a new Service instance and initializes all components in dependency order
func NewService(cfg *config.Config, log *logger.Logger, version string) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	service := &Service{
		config:     cfg,
		version:    version,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		stopped:    make(chan struct{}),
		signalChan: make(chan os.Signal, 1),
		loops:      make(map[string]LoopRunner),
	}

	if err := service.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize service components: %w", err)
	}

	return service, nil
}

// initializeComponents creates and wires all service components
func (s *Service) initializeComponents() error {
	s.logger.Info("initializing service components")

	// 1. Lease store (foundational dependency). A corrupt leases.json is fatal.
	st, err := store.Open(s.config.State.LeasesFile(), s.config.State.PeersFile(), s.logger)
	if err != nil {
		return fmt.Errorf("failed to open lease store: %w", err)
	}
	s.store = st

	// 2. Interface control
	wg := wgctl.New(wgctl.Options{
		Interface:      s.config.Tunnel.Interface,
		CommandTimeout: s.config.Tunnel.CommandTimeout,
		RetryAttempts:  s.config.Tunnel.RetryAttempts,
		RetryBackoff:   s.config.Tunnel.RetryBackoff,
	}, s.logger)

	// 3. Key resolution and revocation
	res := resolver.New(s.config.Tunnel.ConfigPath, s.config.Tunnel.ProfilesDir, s.logger)
	rev := revoker.New(wg, s.config.Tunnel.ConfigPath, s.logger)

	// 4. Event bus
	s.bus = events.NewBus(s.logger)

	// 5. Lease manager
	s.manager = leasemanager.New(leasemanager.Deps{
		Store:       st,
		Resolver:    res,
		Revoker:     rev,
		Peers:       wg,
		Bus:         s.bus,
		Interface:   s.config.Tunnel.Interface,
		ProfilesDir: s.config.Tunnel.ProfilesDir,
	}, s.logger)

	// 6. Metrics, fed by events and by a status snapshot at scrape time
	m := metrics.New(snapshotFrom(s.manager))
	if err := m.Subscribe(s.bus); err != nil {
		return fmt.Errorf("failed to subscribe metrics: %w", err)
	}

	// 7. Background loops
	s.loops["reconciler"] = reconcilerLoop{reconciler.New(s.config.Reconciler.Interval, s.manager, s.logger)}
	if s.config.Tunnel.WatchConfig {
		s.loops["watcher"] = watcher.New(s.config.Tunnel.ConfigPath, s.manager, s.logger)
	}

	// 8. Control API
	s.apiServer = api.NewServer(
		api.ServerConfig{
			Address:     s.config.API.ListenAddr,
			CORSOrigins: s.config.API.CORSOrigins,
			Version:     s.version,
		},
		s.manager,
		m.Handler(),
		s.logger,
	)

	s.logger.Info("all service components initialized successfully",
		slog.String("interface", s.config.Tunnel.Interface),
		slog.String("state_dir", s.config.State.Dir))
	return nil
}

func snapshotFrom(mgr leasemanager.Manager) metrics.SnapshotFunc {
	return func(ctx context.Context) metrics.Snapshot {
		st := mgr.Status(ctx)
		return metrics.Snapshot{
			Active:     st.Active,
			Expired:    st.Expired,
			Overdue:    st.Overdue,
			Unresolved: st.Unresolved,
			LivePeers:  st.LivePeers,
		}
	}
}

// Start brings up the API server and the background loops
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("service is already running")
	}

	s.logger.Info("starting lease daemon", slog.String("version", s.version))

	if !s.disableSignalHandling {
		s.setupSignalHandling()
	}

	// A missing or unreadable peers.json is rebuilt from the interface config.
	if s.store != nil && s.store.NeedsPeerRebuild() {
		if n, err := s.manager.SyncPeerCache(ctx); err != nil {
			s.logger.WarnErr(ctx, "peer cache rebuild failed", err)
		} else {
			s.logger.Info("peer cache rebuilt", slog.Int("records", n))
		}
	}

	if err := s.apiServer.Start(s.ctx); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	s.logger.Info("API server started successfully")

	for name, loop := range s.loops {
		s.shutdownWg.Add(1)
		go func(name string, loop LoopRunner) {
			defer s.shutdownWg.Done()
			if err := loop.Run(s.ctx); err != nil && s.ctx.Err() == nil {
				s.logger.ErrorCtx(s.ctx, "background loop exited", err, slog.String("loop", name))
			}
		}(name, loop)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		s.logger.Warn("systemd notify failed", slog.String("error", err.Error()))
	} else if ok {
		s.logger.Debug("notified systemd of readiness")
	}

	s.isRunning = true
	s.logger.Info("lease daemon started successfully")
	return nil
}

// setupSignalHandling configures signal handling for graceful shutdown
func (s *Service) setupSignalHandling() {
	signal.Notify(s.signalChan, syscall.SIGINT, syscall.SIGTERM)

	s.shutdownWg.Add(1)
	go s.handleSignals()
}

// handleSignals processes shutdown signals and initiates graceful shutdown
func (s *Service) handleSignals() {
	defer s.shutdownWg.Done()

	select {
	case sig, ok := <-s.signalChan:
		if !ok {
			return
		}
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		// Stop waits on shutdownWg, which this goroutine belongs to.
		go func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
			defer cancel()
			if err := s.Stop(shutdownCtx); err != nil {
				s.logger.ErrorCtx(shutdownCtx, "error during graceful shutdown", err)
			}
		}()
		<-s.ctx.Done()

	case <-s.ctx.Done():
		s.logger.Debug("signal handler exiting due to service context cancellation")
	}
}

func (s *Service) shutdownTimeout() time.Duration {
	if s.config != nil && s.config.Service.ShutdownTimeout > 0 {
		return s.config.Service.ShutdownTimeout
	}
	return 30 * time.Second
}

// WaitForShutdown blocks until the service has stopped
func (s *Service) WaitForShutdown() {
	s.logger.Info("service running, waiting for shutdown signal")

	<-s.stopped
	s.shutdownWg.Wait()

	s.logger.Info("service shutdown complete")
}

// Stop drains the API, stops the loops, and closes the event bus. A lease
// mid-enforcement finishes before its loop exits.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		s.logger.Warn("service is not running")
		s.cancel()
		s.markStopped()
		return nil
	}

	s.logger.Info("stopping lease daemon")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		s.logger.Debug("systemd notify failed", slog.String("error", err.Error()))
	}

	shutdownCtx := ctx
	if ctx == nil || ctx == context.Background() {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
	}

	var lastErr error

	if !s.disableSignalHandling {
		signal.Stop(s.signalChan)
	}

	// 1. API server first so no new requests arrive
	if s.apiServer != nil {
		if err := s.apiServer.Stop(shutdownCtx); err != nil {
			s.logger.ErrorCtx(shutdownCtx, "failed to stop API server", err)
			lastErr = err
		} else {
			s.logger.Info("API server stopped successfully")
		}
	}

	// 2. Cancel the service context and wait for loops
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("all background goroutines finished")
	case <-shutdownCtx.Done():
		s.logger.Warn("timeout waiting for background goroutines to finish")
		if lastErr == nil {
			lastErr = shutdownCtx.Err()
		}
	}

	// 3. Event bus last; loops may publish while draining
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.logger.ErrorCtx(shutdownCtx, "failed to close event bus", err)
			lastErr = err
		}
	}

	s.isRunning = false
	s.markStopped()

	if lastErr != nil {
		return fmt.Errorf("service shutdown completed with errors: %w", lastErr)
	}

	s.logger.Info("lease daemon stopped successfully")
	return nil
}

func (s *Service) markStopped() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// IsRunning reports whether Start has completed and Stop has not
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
