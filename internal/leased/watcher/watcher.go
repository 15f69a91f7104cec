// Package watcher re-scrapes the interface config into the peer cache when
// an operator edits it.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

const defaultDebounce = 500 * time.Millisecond

// Syncer refreshes the peer cache from the interface config.
type Syncer interface {
	SyncPeerCache(ctx context.Context) (int, error)
}

// Watcher observes the directory holding the interface config. Editors and
// atomic writers replace the file by rename, so the directory is watched
// rather than the file itself.
type Watcher struct {
	path     string
	syncer   Syncer
	debounce time.Duration
	logger   *logger.Logger
}

// New creates a watcher for configPath.
func New(configPath string, syncer Syncer, log *logger.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(configPath),
		syncer:   syncer,
		debounce: defaultDebounce,
		logger:   log.WithComponent("watcher"),
	}
}

// WithDebounce sets how long to wait for a burst of events to settle.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Run blocks until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.NewSystemError(apperrors.ErrCodeInternal, "cannot create file watcher", false, err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return apperrors.NewTunnelError(apperrors.ErrCodeConfigFileError,
			"cannot watch interface config directory", false, err).WithMetadata("dir", dir)
	}

	w.logger.Info("watching interface config", slog.String("path", w.path))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("interface config changed", slog.String("op", ev.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnErr(ctx, "file watcher error", err)

		case <-timer.C:
			if _, err := w.syncer.SyncPeerCache(ctx); err != nil {
				w.logger.WarnErr(ctx, "peer cache refresh failed", err)
			}
		}
	}
}
