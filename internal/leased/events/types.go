package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types published by the daemon
const (
	TypeLeaseCreated       = "lease.created"
	TypeLeaseExpired       = "lease.expired"
	TypeRevocationFailed   = "lease.revocation_failed"
	TypeKeyResolved        = "lease.key_resolved"
	TypeReconcileCompleted = "reconcile.completed"
	TypeConfigRescanned    = "config.rescanned"
)

// Event represents a lifecycle event
type Event interface {
	Type() string
	ID() string
	Timestamp() time.Time
}

// Handler processes events of a specific type
type Handler func(ctx context.Context, event Event) error

// BaseEvent provides the common Event fields
type BaseEvent struct {
	id        string
	eventType string
	timestamp time.Time
}

func newBase(eventType string) BaseEvent {
	return BaseEvent{
		id:        uuid.New().String(),
		eventType: eventType,
		timestamp: time.Now(),
	}
}

func (e BaseEvent) Type() string         { return e.eventType }
func (e BaseEvent) ID() string           { return e.id }
func (e BaseEvent) Timestamp() time.Time { return e.timestamp }

// LeaseEvent describes a change to a single lease
type LeaseEvent struct {
	BaseEvent
	LeaseID  string
	Tier     string
	Existing bool
	Strategy string
	Phase    string
	Err      string
	// Lateness is how long after expiresAt the lease was enforced.
	Lateness time.Duration
}

// NewLeaseEvent creates a lease event of the given type
func NewLeaseEvent(eventType, leaseID, tier string) *LeaseEvent {
	return &LeaseEvent{
		BaseEvent: newBase(eventType),
		LeaseID:   leaseID,
		Tier:      tier,
	}
}

// ReconcileEvent summarizes one reconciliation pass
type ReconcileEvent struct {
	BaseEvent
	Due      int
	Expired  int
	Failed   int
	Overdue  int
	Duration time.Duration
}

// NewReconcileEvent creates a reconcile.completed event
func NewReconcileEvent(due, expired, failed, overdue int, d time.Duration) *ReconcileEvent {
	return &ReconcileEvent{
		BaseEvent: newBase(TypeReconcileCompleted),
		Due:       due,
		Expired:   expired,
		Failed:    failed,
		Overdue:   overdue,
		Duration:  d,
	}
}

// RescanEvent reports a re-scrape of the interface config
type RescanEvent struct {
	BaseEvent
	Annotated int
	Added     int
}

// NewRescanEvent creates a config.rescanned event
func NewRescanEvent(annotated, added int) *RescanEvent {
	return &RescanEvent{
		BaseEvent: newBase(TypeConfigRescanned),
		Annotated: annotated,
		Added:     added,
	}
}
