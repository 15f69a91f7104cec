package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/facebookgo/atomicfile"

	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
)

// storedLease is the on-disk record of one lease. Files written by the
// storefront's timer tracker use added_at, public_key, and naive local
// timestamps; those are accepted on read.
type storedLease struct {
	LeaseID         string `json:"lease_id"`
	Tier            string `json:"tier"`
	DurationMinutes int    `json:"duration_minutes"`
	CreatedAt       string `json:"created_at"`
	AddedAt         string `json:"added_at"`
	ExpiresAt       string `json:"expires_at"`
	Hint            string `json:"hint"`
	PeerKey         string `json:"peer_key"`
	PublicKey       string `json:"public_key"`
	Status          Status `json:"status"`
	ExpiredAt       string `json:"expired_at"`
	LastError       string `json:"last_error"`
	Attempts        int    `json:"attempts"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseStamp(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func decodeLease(id string, raw json.RawMessage) (*Lease, error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("lease %q is not an object", id)
	}

	var r storedLease
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("lease %q: %w", id, err)
	}
	if r.LeaseID != "" && r.LeaseID != id {
		return nil, fmt.Errorf("lease %q is stored under key %q", r.LeaseID, id)
	}
	if strings.TrimSpace(r.ExpiresAt) == "" {
		return nil, fmt.Errorf("lease %q has no expires_at", id)
	}

	l := &Lease{
		LeaseID:         id,
		Tier:            r.Tier,
		DurationMinutes: r.DurationMinutes,
		Hint:            r.Hint,
		PeerKey:         r.PeerKey,
		Status:          r.Status,
		LastError:       r.LastError,
		Attempts:        r.Attempts,
	}
	if l.PeerKey == "" {
		l.PeerKey = r.PublicKey
	}
	switch l.Status {
	case "":
		l.Status = StatusActive
	case StatusActive, StatusExpired:
	default:
		return nil, fmt.Errorf("lease %q has unknown status %q", id, l.Status)
	}

	var err error
	if l.ExpiresAt, err = parseStamp(r.ExpiresAt); err != nil {
		return nil, fmt.Errorf("lease %q expires_at: %w", id, err)
	}
	created := r.CreatedAt
	if created == "" {
		created = r.AddedAt
	}
	if created != "" {
		if l.CreatedAt, err = parseStamp(created); err != nil {
			return nil, fmt.Errorf("lease %q created_at: %w", id, err)
		}
	}
	if r.ExpiredAt != "" {
		t, err := parseStamp(r.ExpiredAt)
		if err != nil {
			return nil, fmt.Errorf("lease %q expired_at: %w", id, err)
		}
		l.ExpiredAt = &t
	}
	return l, nil
}

// decodeObject decodes a top-level JSON object into its members. Anything
// else, null included, is an error.
func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("top level is not a JSON object")
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// readLeases loads the leaseId → Lease table. A missing file is an empty
// table; any other shape is ErrCodeStateCorrupt.
func readLeases(path string) (map[string]*Lease, error) {
	leases := make(map[string]*Lease)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return leases, nil
	}
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.ErrCodePersistence,
			"cannot read lease state", false, err).WithMetadata("path", path)
	}

	members, err := decodeObject(data)
	if err != nil {
		return nil, apperrors.NewStoreError(apperrors.ErrCodeStateCorrupt,
			"lease state is not a lease table", false, err).WithMetadata("path", path)
	}
	for id, raw := range members {
		if strings.TrimSpace(id) == "" {
			return nil, apperrors.NewStoreError(apperrors.ErrCodeStateCorrupt,
				"lease state has an empty lease id", false, nil).WithMetadata("path", path)
		}
		l, err := decodeLease(id, raw)
		if err != nil {
			return nil, apperrors.NewStoreError(apperrors.ErrCodeStateCorrupt,
				"lease state is not a lease table", false, err).WithMetadata("path", path)
		}
		leases[id] = l
	}
	return leases, nil
}

// readPeers returns nil, nil when the file does not exist.
func readPeers(path string) (map[string]PeerRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	members, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	peers := make(map[string]PeerRecord, len(members))
	for id, raw := range members {
		if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
			return nil, fmt.Errorf("decode %s: peer %q is not an object", path, id)
		}
		var rec PeerRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: peer %q: %w", path, id, err)
		}
		peers[id] = rec
	}
	return peers, nil
}

func writeLeases(path string, leases map[string]*Lease) error {
	table := make(map[string]Lease, len(leases))
	for id, l := range leases {
		table[id] = *l
	}
	return writeJSON(path, table)
}

func writePeers(path string, peers map[string]PeerRecord) error {
	if peers == nil {
		peers = map[string]PeerRecord{}
	}
	return writeJSON(path, peers)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperrors.NewStoreError(apperrors.ErrCodePersistence, "cannot encode state", false, err).
			WithMetadata("path", path)
	}
	data = append(data, '\n')

	af, err := atomicfile.New(path, 0o600)
	if err != nil {
		return apperrors.NewStoreError(apperrors.ErrCodePersistence, "cannot open state file", true, err).
			WithMetadata("path", path)
	}
	if _, err := af.Write(data); err != nil {
		af.Abort()
		return apperrors.NewStoreError(apperrors.ErrCodePersistence, "cannot write state file", true, err).
			WithMetadata("path", path)
	}
	if err := af.Sync(); err != nil {
		af.Abort()
		return apperrors.NewStoreError(apperrors.ErrCodePersistence, "cannot sync state file", true, err).
			WithMetadata("path", path)
	}
	if err := af.Close(); err != nil {
		return apperrors.NewStoreError(apperrors.ErrCodePersistence, "cannot replace state file", true, err).
			WithMetadata("path", path)
	}
	return nil
}
