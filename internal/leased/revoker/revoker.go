// Package revoker takes a peer off the interface in two phases: live
// removal through wg, then removal of its block from the interface config
// followed by a reload. Both phases are idempotent.
package revoker

import (
	"context"
	"log/slog"

	"github.com/chiquitav2/vpn-leased/internal/leased/wgconf"
	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

// Tunnel is the subset of wgctl.Client the revoker drives.
type Tunnel interface {
	RemovePeer(ctx context.Context, publicKey string) error
	Reload(ctx context.Context, configPath string) error
}

// Target identifies the peer to revoke.
type Target struct {
	LeaseID   string
	PublicKey string
	// Aliases are extra comment tokens that may mark the block, e.g. the
	// client profile id.
	Aliases []string
}

// Outcome describes what a successful revocation actually changed.
type Outcome struct {
	BlockRemoved bool
	Reloaded     bool
}

// Revoker performs peer revocations. Callers serialize calls.
type Revoker struct {
	tunnel     Tunnel
	configPath string
	logger     *logger.Logger
}

// New creates a Revoker editing the config at configPath.
func New(tunnel Tunnel, configPath string, log *logger.Logger) *Revoker {
	return &Revoker{
		tunnel:     tunnel,
		configPath: configPath,
		logger:     log.WithComponent("revoker"),
	}
}

// Revoke removes the peer from the live interface and from the config file.
// A failure in the live phase aborts before the file is touched.
func (r *Revoker) Revoke(ctx context.Context, t Target) (Outcome, error) {
	var out Outcome

	if t.PublicKey == "" {
		return out, apperrors.NewRevocationError(t.LeaseID, apperrors.PhaseResolve, apperrors.DomainErrKeyNotFound)
	}

	ctx = logger.WithLeaseID(ctx, t.LeaseID)
	op := r.logger.StartOp(ctx, "revoke_peer", slog.String("public_key", logger.KeyPrefix(t.PublicKey)))

	if err := r.tunnel.RemovePeer(ctx, t.PublicKey); err != nil {
		op.Fail(err, "live peer removal failed")
		return out, apperrors.NewRevocationError(t.LeaseID, apperrors.PhaseLive, err)
	}
	op.Progress("peer removed from interface")

	f, err := wgconf.Load(r.configPath)
	if err != nil {
		op.Fail(err, "cannot load interface config")
		return out, apperrors.NewRevocationError(t.LeaseID, apperrors.PhaseConfig, err)
	}

	// An absent block still gets a reload so a pass after a failed reload
	// completes it.
	ids := append([]string{t.LeaseID}, t.Aliases...)
	if f.Config.RemovePeer(t.PublicKey, ids...) {
		if err := f.Save(); err != nil {
			op.Fail(err, "cannot rewrite interface config")
			return out, apperrors.NewRevocationError(t.LeaseID, apperrors.PhaseConfig, err)
		}
		out.BlockRemoved = true
	}

	if err := r.tunnel.Reload(ctx, r.configPath); err != nil {
		op.Fail(err, "interface reload failed")
		return out, apperrors.NewRevocationError(t.LeaseID, apperrors.PhaseReload, err)
	}
	out.Reloaded = true

	op.Complete("peer revoked", slog.Bool("config_block_found", out.BlockRemoved))
	return out, nil
}
