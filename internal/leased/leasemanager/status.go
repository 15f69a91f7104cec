package leasemanager

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chiquitav2/vpn-leased/internal/leased/store"
)

// Status summarizes lease and interface state. Overdue counts active
// leases past expiry, i.e. access that is not being enforced.
func (m *manager) Status(ctx context.Context) Status {
	now := m.now()
	st := Status{
		Interface:       m.iface,
		LastReconcileAt: m.lastReconciled(),
	}

	for _, l := range m.store.List() {
		st.Total++
		if !l.IsActive() {
			st.Expired++
			continue
		}
		st.Active++
		if l.IsDue(now) {
			st.Overdue++
		}
		if l.PeerKey == "" {
			if _, ok := m.store.Peer(l.LeaseID); !ok {
				st.Unresolved++
			}
		}
	}
	st.PeerRecords = m.store.PeerCount()

	st.LivePeers = -1
	if m.peers != nil {
		n, err := m.peers.PeerCount(ctx)
		if err != nil {
			m.logger.WarnErr(ctx, "cannot count live peers", err)
		} else {
			st.LivePeers = n
		}
	}

	st.ProfilesByTier = m.countProfiles()
	return st
}

// countProfiles counts *.conf client profiles per tier directory.
func (m *manager) countProfiles() map[string]int {
	counts := make(map[string]int, len(store.KnownTiers()))
	for _, tier := range store.KnownTiers() {
		counts[tier] = 0
		if m.profilesDir == "" {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(m.profilesDir, tier))
		if err != nil {
			if !os.IsNotExist(err) {
				m.logger.Debug("cannot read profile directory",
					slog.String("tier", tier),
					slog.String("error", err.Error()))
			}
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".conf") {
				counts[tier]++
			}
		}
	}
	return counts
}
