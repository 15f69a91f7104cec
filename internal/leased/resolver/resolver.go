// Package resolver maps a lease to the public key of its peer. Strategies
// are tried in order and the first success wins: the peer cache, a lease
// comment in the interface config, then the client profile's private key.
package resolver

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chiquitav2/vpn-leased/internal/leased/store"
	"github.com/chiquitav2/vpn-leased/internal/leased/wgconf"
	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
	"github.com/chiquitav2/vpn-leased/pkg/crypto"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

// Strategy names, reported in logs and metrics.
const (
	StrategyCache   = "cache"
	StrategyConfig  = "interface_config"
	StrategyProfile = "client_profile"
)

// Cache is the read side of the peer record cache.
type Cache interface {
	Peer(id string) (store.PeerRecord, bool)
}

// Result is a resolved key and the strategy that produced it.
type Result struct {
	PeerKey  string
	Strategy string
}

// Resolver resolves lease ids to peer public keys.
type Resolver struct {
	configPath  string
	profilesDir string
	logger      *logger.Logger
}

// New creates a Resolver reading the interface config at configPath and
// client profiles under profilesDir.
func New(configPath, profilesDir string, log *logger.Logger) *Resolver {
	return &Resolver{
		configPath:  configPath,
		profilesDir: profilesDir,
		logger:      log.WithComponent("resolver"),
	}
}

// Resolve runs the strategy chain for a lease. cache may be nil. A lease
// nobody can resolve yields a retryable key_not_found error.
func (r *Resolver) Resolve(ctx context.Context, cache Cache, lease store.Lease) (Result, error) {
	if lease.PeerKey != "" {
		return Result{PeerKey: lease.PeerKey, Strategy: StrategyCache}, nil
	}

	if cache != nil {
		if rec, ok := cache.Peer(lease.LeaseID); ok && rec.PeerKey != "" {
			return Result{PeerKey: rec.PeerKey, Strategy: StrategyCache}, nil
		}
	}

	ids := lease.ProfileIDs()

	if key, err := r.fromConfig(ids); err == nil && key != "" {
		return Result{PeerKey: key, Strategy: StrategyConfig}, nil
	} else if err != nil {
		r.logger.Debug("interface config lookup failed",
			slog.String("lease_id", lease.LeaseID),
			slog.String("error", err.Error()))
	}

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	if key, err := r.fromProfile(lease.Tier, ids); err == nil && key != "" {
		return Result{PeerKey: key, Strategy: StrategyProfile}, nil
	} else if err != nil {
		r.logger.Debug("client profile lookup failed",
			slog.String("lease_id", lease.LeaseID),
			slog.String("error", err.Error()))
	}

	return Result{}, apperrors.DomainErrKeyNotFound.
		WithMetadata("lease_id", lease.LeaseID).
		WithMetadata("tried", []string{StrategyCache, StrategyConfig, StrategyProfile})
}

// Scrape parses the interface config once and returns its index, for
// callers that resolve many leases at a time.
func (r *Resolver) Scrape() (*wgconf.Config, error) {
	f, err := wgconf.Load(r.configPath)
	if err != nil {
		return nil, err
	}
	return f.Config, nil
}

func (r *Resolver) fromConfig(ids []string) (string, error) {
	cfg, err := r.Scrape()
	if err != nil {
		return "", err
	}
	return LookupConfig(cfg, ids), nil
}

// LookupConfig finds the key of the first peer block annotated with one of ids.
func LookupConfig(cfg *wgconf.Config, ids []string) string {
	for _, id := range ids {
		if s, ok := cfg.PeerByLease(id); ok {
			if key := s.PublicKey(); crypto.IsValidWireGuardKey(key) {
				return key
			}
		}
	}
	return ""
}

func (r *Resolver) fromProfile(tier string, ids []string) (string, error) {
	if r.profilesDir == "" {
		return "", nil
	}

	var lastErr error
	for _, path := range r.profileCandidates(tier, ids) {
		key, err := publicKeyFromProfile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			lastErr = err
			continue
		}
		return key, nil
	}
	return "", lastErr
}

func (r *Resolver) profileCandidates(tier string, ids []string) []string {
	var paths []string
	for _, id := range ids {
		if !safeName(id) {
			continue
		}
		if tier != "" && safeName(tier) {
			paths = append(paths, filepath.Join(r.profilesDir, tier, id+".conf"))
		}
		paths = append(paths, filepath.Join(r.profilesDir, id+".conf"))
	}
	return paths
}

// publicKeyFromProfile reads a client profile and derives the public key
// from its [Interface] PrivateKey.
func publicKeyFromProfile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	cfg := wgconf.Parse(data)
	for _, s := range cfg.Sections {
		if !strings.EqualFold(s.Name(), "Interface") {
			continue
		}
		if priv := s.Get("PrivateKey"); priv != "" {
			return crypto.DerivePublicKey(priv)
		}
	}
	return "", apperrors.NewTunnelError(apperrors.ErrCodeProfileError,
		"client profile has no PrivateKey", false, nil).WithMetadata("path", path)
}

// safeName rejects ids that would escape the profiles directory.
func safeName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`) && !strings.Contains(s, "\x00")
}
