package api

// CreateLeaseRequest asks the daemon to start enforcing a lease.
// DurationMinutes is optional; when absent the tier default applies.
type CreateLeaseRequest struct {
	LeaseID         string   `json:"lease_id"`
	Tier            string   `json:"tier"`
	DurationMinutes *FlexInt `json:"duration_minutes,omitempty"`
	Hint            string   `json:"hint,omitempty"`
}

// StartTimerRequest is the storefront's legacy create payload
type StartTimerRequest struct {
	OrderNumber     string   `json:"order_number"`
	Tier            string   `json:"tier"`
	DurationMinutes *FlexInt `json:"duration_minutes,omitempty"`
	ConfigID        string   `json:"config_id,omitempty"`
}

// ToCreateLease maps the legacy payload onto the current one
func (r StartTimerRequest) ToCreateLease() CreateLeaseRequest {
	return CreateLeaseRequest{
		LeaseID:         r.OrderNumber,
		Tier:            r.Tier,
		DurationMinutes: r.DurationMinutes,
		Hint:            r.ConfigID,
	}
}

// LeaseListParams represents query parameters for listing leases
type LeaseListParams struct {
	Status string `json:"status,omitempty"`
	Tier   string `json:"tier,omitempty"`
}
