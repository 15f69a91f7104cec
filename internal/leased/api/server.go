package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chiquitav2/vpn-leased/internal/leased/leasemanager"
	"github.com/chiquitav2/vpn-leased/internal/leased/store"
	applogger "github.com/chiquitav2/vpn-leased/pkg/logger"
)

// LeaseService defines the lease operations the API server depends on.
type LeaseService interface {
	Create(ctx context.Context, p leasemanager.CreateParams) (leasemanager.CreateResult, error)
	Get(ctx context.Context, leaseID string) (store.Lease, error)
	List(ctx context.Context, f leasemanager.ListFilter) ([]store.Lease, error)
	ForceExpire(ctx context.Context, leaseID string) (leasemanager.ExpireResult, error)
	Status(ctx context.Context) leasemanager.Status
}

// Server represents the HTTP control API with lifecycle management.
type Server struct {
	server      *http.Server
	leases      LeaseService
	metrics     http.Handler
	logger      *applogger.Logger
	corsOrigins []string
	version     string
	now         func() time.Time
}

// ServerConfig contains configuration for the API server.
type ServerConfig struct {
	Address     string
	CORSOrigins []string
	Version     string
}

// NewServer creates a new API server instance. metrics may be nil.
func NewServer(config ServerConfig, leases LeaseService, metrics http.Handler, logger *applogger.Logger) *Server {
	s := &Server{
		leases:      leases,
		metrics:     metrics,
		logger:      logger.WithComponent("api"),
		corsOrigins: config.CORSOrigins,
		version:     config.Version,
		now:         time.Now,
		server: &http.Server{
			Addr:         config.Address,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
	s.server.Handler = s.Handler()
	return s
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	return s.registerRoutes(mux)
}

// Start starts the HTTP server and begins serving requests.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithContext(ctx).Info("starting API server", "address", s.server.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("api server failed to start: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		s.logger.WithContext(ctx).Info("API server started successfully", "address", s.server.Addr)
		return nil
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.WithContext(ctx).Info("shutting down API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}

	s.logger.WithContext(ctx).Info("API server shut down successfully")
	return nil
}

// registerRoutes registers API routes with middleware.
func (s *Server) registerRoutes(mux *http.ServeMux) http.Handler {
	mux.HandleFunc("GET /health", s.healthHandler())

	mux.HandleFunc("POST /api/v1/leases", s.createLeaseHandler())
	mux.HandleFunc("GET /api/v1/leases", s.listLeasesHandler())
	mux.HandleFunc("GET /api/v1/leases/{leaseID}", s.getLeaseHandler())
	mux.HandleFunc("POST /api/v1/leases/{leaseID}/expire", s.expireLeaseHandler())
	mux.HandleFunc("GET /api/v1/status", s.statusHandler())

	// storefront routes
	mux.HandleFunc("POST /api/start-timer", s.startTimerHandler())
	mux.HandleFunc("GET /api/check-timer/{orderNumber}", s.checkTimerHandler())
	mux.HandleFunc("POST /api/force-expire/{orderNumber}", s.forceExpireHandler())
	mux.HandleFunc("GET /api/list-timers", s.listTimersHandler())
	mux.HandleFunc("GET /api/health", s.legacyHealthHandler())
	mux.HandleFunc("GET /api/status", s.legacyStatusHandler())

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return Chain(
		RequestID(s.logger),
		Recovery(),
		Logging(),
		CORS(s.corsOrigins),
	)(mux)
}
