package api

import "time"

// The storefront predates the envelope format; these payloads are flat.

// LegacyError is the flat error body used by the legacy routes
type LegacyError struct {
	Error string `json:"error"`
}

type StartTimerResponse struct {
	Success         bool   `json:"success"`
	Existing        bool   `json:"existing"`
	OrderNumber     string `json:"order_number"`
	Tier            string `json:"tier"`
	ConfigID        string `json:"config_id,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	Message         string `json:"message"`
}

type CheckTimerResponse struct {
	OrderNumber          string    `json:"order_number"`
	Tier                 string    `json:"tier"`
	ConfigID             string    `json:"config_id,omitempty"`
	Status               string    `json:"status"`
	ExpiresAt            time.Time `json:"expires_at"`
	TimeRemainingSeconds float64   `json:"time_remaining_seconds"`
	TimeRemainingMinutes float64   `json:"time_remaining_minutes"`
	PublicKey            string    `json:"public_key"`
}

type ForceExpireResponse struct {
	Success     bool   `json:"success"`
	OrderNumber string `json:"order_number"`
	Message     string `json:"message"`
}

type TimerSummary struct {
	OrderNumber          string    `json:"order_number"`
	Tier                 string    `json:"tier"`
	ConfigID             string    `json:"config_id,omitempty"`
	Status               string    `json:"status"`
	ExpiresAt            time.Time `json:"expires_at"`
	TimeRemainingMinutes float64   `json:"time_remaining_minutes"`
	AddedAt              time.Time `json:"added_at"`
}

type ListTimersResponse struct {
	Timers      []TimerSummary `json:"timers"`
	TotalCount  int            `json:"total_count"`
	ActiveCount int            `json:"active_count"`
}

type LegacyHealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

type LegacyWireGuardStatus struct {
	Status      string `json:"status"`
	ActivePeers int    `json:"active_peers"`
}

type LegacyStatusResponse struct {
	Daemon    string                `json:"daemon"`
	Version   string                `json:"version"`
	Timestamp time.Time             `json:"timestamp"`
	Timers    StatusResponse        `json:"timers"`
	Configs   map[string]int        `json:"configs"`
	WireGuard LegacyWireGuardStatus `json:"wireguard"`
}
