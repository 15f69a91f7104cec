package leasemanager

import (
	"context"
	"time"

	"github.com/chiquitav2/vpn-leased/internal/leased/store"
)

// LivePeers counts peers on the running interface
type LivePeers interface {
	PeerCount(ctx context.Context) (int, error)
}

// CreateParams describes a lease creation request
type CreateParams struct {
	LeaseID string
	Tier    string
	// DurationMinutes overrides the tier default when non-nil.
	DurationMinutes *int
	// Hint is an alternative identifier the peer may be filed under.
	Hint string
}

// CreateResult is the outcome of Create
type CreateResult struct {
	Lease    store.Lease
	Existing bool
}

// ListFilter narrows List results; empty fields match everything
type ListFilter struct {
	Status string
	Tier   string
}

// ExpireResult is the outcome of ForceExpire
type ExpireResult struct {
	Lease          store.Lease
	AlreadyExpired bool
}

// Status is the daemon's operational summary
type Status struct {
	Interface  string
	Active     int
	Expired    int
	Total      int
	Overdue    int
	Unresolved int
	// LivePeers is -1 when the interface could not be queried.
	LivePeers       int
	PeerRecords     int
	LastReconcileAt *time.Time
	ProfilesByTier  map[string]int
}

// CycleReport summarizes one ExpireDue pass
type CycleReport struct {
	Due      int
	Expired  int
	Failed   int
	Skipped  int
	Duration time.Duration
}
