// Package store keeps every lease and the peer key cache in memory behind a
// single mutex and mirrors both to JSON files on each mutation.
package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

// Store is the single owner of lease state. Callers share it by handle.
type Store struct {
	mu sync.Mutex

	leasesPath string
	peersPath  string

	leases map[string]*Lease
	peers  map[string]PeerRecord

	peersNeedRebuild bool

	logger *logger.Logger
}

// Open loads state from disk. A missing leases file means an empty store; a
// corrupt one is an error because dropping leases would stop enforcing them.
// A missing or corrupt peers file is tolerated and flagged for rebuild.
func Open(leasesPath, peersPath string, log *logger.Logger) (*Store, error) {
	log = log.WithComponent("store")

	if err := os.MkdirAll(filepath.Dir(leasesPath), 0o750); err != nil {
		return nil, apperrors.NewStoreError(apperrors.ErrCodePersistence,
			"cannot create state directory", false, err).WithMetadata("path", filepath.Dir(leasesPath))
	}

	leases, err := readLeases(leasesPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		leasesPath: leasesPath,
		peersPath:  peersPath,
		leases:     leases,
		logger:     log,
	}

	peers, err := readPeers(peersPath)
	if err != nil {
		log.Warn("peer cache unreadable, will rebuild from interface config",
			slog.String("path", peersPath),
			slog.String("error", err.Error()))
		peers = make(map[string]PeerRecord)
		s.peersNeedRebuild = true
	} else if peers == nil {
		log.Info("peer cache missing, will rebuild from interface config", slog.String("path", peersPath))
		peers = make(map[string]PeerRecord)
		s.peersNeedRebuild = true
	}
	s.peers = peers

	log.Info("state loaded",
		slog.Int("leases", len(s.leases)),
		slog.Int("peer_records", len(s.peers)))

	return s, nil
}

// NeedsPeerRebuild reports whether the peer cache was missing at load.
func (s *Store) NeedsPeerRebuild() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peersNeedRebuild
}

// Update runs fn under the store lock. Changes staged through tx are
// written to disk before the lock is released; if fn fails nothing is
// applied, and if the write fails memory is left as it was.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s)
	fnErr := fn(tx)
	if fnErr != nil && !tx.keepOnError {
		return fnErr
	}

	if err := s.commit(tx); err != nil {
		return err
	}
	return fnErr
}

// View runs fn under the store lock without allowing writes to persist.
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(newTx(s))
}

func (s *Store) commit(tx *Tx) error {
	if len(tx.leases) == 0 && len(tx.peers) == 0 && !tx.rewritePeers {
		return nil
	}

	leases := s.leases
	if len(tx.leases) > 0 {
		leases = make(map[string]*Lease, len(s.leases)+len(tx.leases))
		for id, l := range s.leases {
			leases[id] = l
		}
		for id, l := range tx.leases {
			leases[id] = l
		}
		if err := writeLeases(s.leasesPath, leases); err != nil {
			return err
		}
	}

	peers := s.peers
	if len(tx.peers) > 0 || tx.rewritePeers {
		peers = make(map[string]PeerRecord, len(s.peers)+len(tx.peers))
		for id, p := range s.peers {
			peers[id] = p
		}
		for id, p := range tx.peers {
			peers[id] = p
		}
		if err := writePeers(s.peersPath, peers); err != nil {
			if len(tx.leases) > 0 {
				// leases.json already holds the new state; keep memory in step
				s.leases = leases
			}
			return err
		}
		s.peersNeedRebuild = false
	}

	s.leases = leases
	s.peers = peers
	return nil
}

// Create inserts a new lease. If the id exists the stored record is
// returned unchanged with existing=true.
func (s *Store) Create(l Lease, peer *PeerRecord) (Lease, bool, error) {
	var (
		result   Lease
		existing bool
	)
	err := s.Update(func(tx *Tx) error {
		if cur, ok := tx.Get(l.LeaseID); ok {
			result, existing = cur, true
			return nil
		}
		tx.Put(l)
		if peer != nil && peer.PeerKey != "" {
			tx.PutPeer(l.LeaseID, *peer)
		}
		result = l
		return nil
	})
	if err != nil {
		return Lease{}, false, err
	}
	return result, existing, nil
}

// Get returns a copy of the lease with the given id.
func (s *Store) Get(id string) (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[id]
	if !ok {
		return Lease{}, false
	}
	return *l.clone(), true
}

// List returns every lease sorted by expiry.
func (s *Store) List() []Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newTx(s).List()
}

// ListActive returns active leases sorted by expiry.
func (s *Store) ListActive() []Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newTx(s).ListActive()
}

// MarkExpired moves a lease to expired. Expiring an expired lease is a no-op
// that returns the stored record.
func (s *Store) MarkExpired(id string, at time.Time) (Lease, error) {
	var out Lease
	err := s.Update(func(tx *Tx) error {
		l, ok := tx.Get(id)
		if !ok {
			return apperrors.NewLeaseError(apperrors.ErrCodeLeaseNotFound, "lease not found", false, nil).
				WithMetadata("lease_id", id)
		}
		out = tx.MarkExpired(l, at)
		return nil
	})
	return out, err
}

// Peer returns the cached peer record for a lease.
func (s *Store) Peer(id string) (PeerRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	return p, ok
}

// PutPeer stores a peer record.
func (s *Store) PutPeer(id string, rec PeerRecord) error {
	return s.Update(func(tx *Tx) error {
		tx.PutPeer(id, rec)
		return nil
	})
}

// PeerCount returns the number of cached peer records.
func (s *Store) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Tx is a staged view of the store valid only inside Update or View.
type Tx struct {
	s            *Store
	leases       map[string]*Lease
	peers        map[string]PeerRecord
	keepOnError  bool
	rewritePeers bool
}

func newTx(s *Store) *Tx {
	return &Tx{
		s:      s,
		leases: make(map[string]*Lease),
		peers:  make(map[string]PeerRecord),
	}
}

// KeepOnError makes Update persist staged changes even when the closure
// returns an error. Used to record a failed revocation attempt.
func (tx *Tx) KeepOnError() {
	tx.keepOnError = true
}

// RewritePeers forces peers.json to be written on commit even when no
// record changed, which clears the rebuild flag.
func (tx *Tx) RewritePeers() {
	tx.rewritePeers = true
}

// Get returns a copy of a lease, seeing staged writes.
func (tx *Tx) Get(id string) (Lease, bool) {
	if l, ok := tx.leases[id]; ok {
		return *l.clone(), true
	}
	if l, ok := tx.s.leases[id]; ok {
		return *l.clone(), true
	}
	return Lease{}, false
}

// Put stages a lease write.
func (tx *Tx) Put(l Lease) {
	tx.leases[l.LeaseID] = l.clone()
}

// MarkExpired stages the active → expired transition and returns the result.
func (tx *Tx) MarkExpired(l Lease, at time.Time) Lease {
	if !l.IsActive() {
		return l
	}
	t := at
	l.Status = StatusExpired
	l.ExpiredAt = &t
	l.LastError = ""
	tx.Put(l)
	return l
}

// List returns all leases sorted by expiry, then id.
func (tx *Tx) List() []Lease {
	out := make([]Lease, 0, len(tx.s.leases)+len(tx.leases))
	for id, l := range tx.s.leases {
		if _, staged := tx.leases[id]; staged {
			continue
		}
		out = append(out, *l.clone())
	}
	for _, l := range tx.leases {
		out = append(out, *l.clone())
	}
	sortByExpiry(out)
	return out
}

// ListActive returns active leases sorted by expiry.
func (tx *Tx) ListActive() []Lease {
	all := tx.List()
	out := all[:0]
	for _, l := range all {
		if l.IsActive() {
			out = append(out, l)
		}
	}
	return out
}

// Peer returns a peer record, seeing staged writes.
func (tx *Tx) Peer(id string) (PeerRecord, bool) {
	if p, ok := tx.peers[id]; ok {
		return p, true
	}
	p, ok := tx.s.peers[id]
	return p, ok
}

// PutPeer stages a peer record write.
func (tx *Tx) PutPeer(id string, rec PeerRecord) {
	tx.peers[id] = rec
}

func sortByExpiry(ls []Lease) {
	sort.Slice(ls, func(i, j int) bool {
		if !ls[i].ExpiresAt.Equal(ls[j].ExpiresAt) {
			return ls[i].ExpiresAt.Before(ls[j].ExpiresAt)
		}
		return ls[i].LeaseID < ls[j].LeaseID
	})
}
