package api

import "time"

// LeaseInfo is the external view of a lease
type LeaseInfo struct {
	LeaseID          string     `json:"lease_id"`
	Tier             string     `json:"tier"`
	Status           string     `json:"status"`
	DurationMinutes  int        `json:"duration_minutes"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	ExpiredAt        *time.Time `json:"expired_at,omitempty"`
	PeerKey          string     `json:"peer_key,omitempty"` // truncated
	KeyResolved      bool       `json:"key_resolved"`
	Hint             string     `json:"hint,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	Overdue          bool       `json:"overdue"`
	Attempts         int        `json:"attempts,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// CreateLeaseResponse wraps a created (or pre-existing) lease
type CreateLeaseResponse struct {
	Lease    LeaseInfo `json:"lease"`
	Existing bool      `json:"existing"`
}

// LeaseListResponse represents the response for listing leases
type LeaseListResponse struct {
	Leases      []LeaseInfo `json:"leases"`
	TotalCount  int         `json:"total_count"`
	ActiveCount int         `json:"active_count"`
}

// ExpireResponse represents the outcome of a forced expiry
type ExpireResponse struct {
	Lease          LeaseInfo `json:"lease"`
	AlreadyExpired bool      `json:"already_expired"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Active    int    `json:"active"`
	Overdue   int    `json:"overdue"`
	LivePeers int    `json:"live_peers"`
}

// StatusResponse carries the daemon counters
type StatusResponse struct {
	Version         string         `json:"version,omitempty"`
	Interface       string         `json:"interface"`
	Active          int            `json:"active"`
	Expired         int            `json:"expired"`
	Total           int            `json:"total"`
	Overdue         int            `json:"overdue"`
	Unresolved      int            `json:"unresolved"`
	LivePeers       int            `json:"live_peers"`
	LastReconcileAt *time.Time     `json:"last_reconcile_at,omitempty"`
	ProfilesByTier  map[string]int `json:"profiles_by_tier"`
	Timestamp       time.Time      `json:"timestamp"`
}
