package store

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a lease. It only moves active → expired.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Lease is a permission for one peer to stay on the interface until ExpiresAt.
type Lease struct {
	LeaseID         string     `json:"lease_id"`
	Tier            string     `json:"tier"`
	DurationMinutes int        `json:"duration_minutes"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	Hint            string     `json:"hint,omitempty"`
	PeerKey         string     `json:"peer_key,omitempty"`
	Status          Status     `json:"status"`
	ExpiredAt       *time.Time `json:"expired_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	Attempts        int        `json:"attempts,omitempty"`
}

// NewLease builds an active lease starting at now.
func NewLease(id, tier string, durationMinutes int, hint string, now time.Time) Lease {
	return Lease{
		LeaseID:         id,
		Tier:            tier,
		DurationMinutes: durationMinutes,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(durationMinutes) * time.Minute),
		Hint:            hint,
		Status:          StatusActive,
	}
}

// IsActive reports whether the lease is still being honored.
func (l Lease) IsActive() bool {
	return l.Status == StatusActive
}

// IsDue reports whether an active lease has reached its expiry.
func (l Lease) IsDue(now time.Time) bool {
	return l.IsActive() && !now.Before(l.ExpiresAt)
}

// Remaining returns the time left before expiry, clamped to zero.
func (l Lease) Remaining(now time.Time) time.Duration {
	if !l.IsActive() {
		return 0
	}
	d := l.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ProfileIDs returns the identifiers a peer may be filed under: the hint
// first when present, then the lease id.
func (l Lease) ProfileIDs() []string {
	if l.Hint != "" && l.Hint != l.LeaseID {
		return []string{l.Hint, l.LeaseID}
	}
	return []string{l.LeaseID}
}

func (l Lease) clone() *Lease {
	c := l
	if l.ExpiredAt != nil {
		t := *l.ExpiredAt
		c.ExpiredAt = &t
	}
	return &c
}

// PeerRecord caches the resolved key of a lease's peer.
type PeerRecord struct {
	PeerKey string `json:"peer_key"`
	Tier    string `json:"tier,omitempty"`
}

const day = 24 * 60

var tierDefaults = map[string]int{
	"trial":     15,
	"test":      15,
	"monthly":   30 * day,
	"quarterly": 90 * day,
	"biannual":  180 * day,
	"annual":    365 * day,
	"lifetime":  36500 * day,
}

// DefaultDuration returns the default duration in minutes for a tier.
func DefaultDuration(tier string) (int, bool) {
	m, ok := tierDefaults[strings.ToLower(strings.TrimSpace(tier))]
	return m, ok
}

// KnownTiers lists the tiers that carry a default duration.
func KnownTiers() []string {
	return []string{"trial", "test", "monthly", "quarterly", "biannual", "annual", "lifetime"}
}
