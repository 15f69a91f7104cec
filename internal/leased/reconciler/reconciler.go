// Package reconciler runs the periodic pass that enforces expired leases.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chiquitav2/vpn-leased/internal/leased/leasemanager"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

// Enforcer is the part of the lease manager the loop drives.
type Enforcer interface {
	ExpireDue(ctx context.Context) (leasemanager.CycleReport, error)
}

// Reconciler runs ExpireDue on a fixed interval.
type Reconciler struct {
	interval time.Duration
	enforcer Enforcer
	logger   *logger.Logger

	mu      sync.Mutex
	running bool
	passes  int
}

// New creates a reconciler.
func New(interval time.Duration, enforcer Enforcer, log *logger.Logger) *Reconciler {
	return &Reconciler{
		interval: interval,
		enforcer: enforcer,
		logger:   log.WithComponent("reconciler"),
	}
}

// Start runs a pass immediately and then once per interval. Blocks until
// ctx is canceled. An in-flight pass finishes its current lease first.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("reconciler already running")
		return
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", slog.Duration("interval", r.interval))

	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass.
func (r *Reconciler) RunOnce(ctx context.Context) leasemanager.CycleReport {
	report, err := r.enforcer.ExpireDue(ctx)

	r.mu.Lock()
	r.passes++
	r.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			r.logger.ErrorCtx(ctx, "reconcile pass failed", err)
		}
		return report
	}
	if report.Failed > 0 {
		r.logger.Warn("leases past expiry still hold access",
			slog.Int("overdue", report.Failed))
	}
	return report
}

// Passes returns how many passes have run.
func (r *Reconciler) Passes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.passes
}
