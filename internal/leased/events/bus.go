// Package events carries lease lifecycle events from the lease manager to
// observers such as metrics. Delivery is synchronous and best effort: a
// failing handler is logged and never fails the publisher.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gookitEvent "github.com/gookit/event"

	applogger "github.com/chiquitav2/vpn-leased/pkg/logger"
)

const payloadKey = "payload"

// Bus is a gookit/event backed publisher
type Bus struct {
	manager *gookitEvent.Manager
	logger  *applogger.Logger

	mu          sync.RWMutex
	subscribers int
	lastError   string
	closed      bool
}

// NewBus creates an event bus
func NewBus(logger *applogger.Logger) *Bus {
	return &Bus{
		manager: gookitEvent.NewManager("vpn-leased"),
		logger:  logger.WithComponent("events"),
	}
}

// Publish fires an event to every subscriber of its type
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	b.logger.TraceCtx(ctx, "publishing event",
		slog.String("type", event.Type()),
		slog.String("id", event.ID()))

	err, _ := b.manager.Fire(event.Type(), gookitEvent.M{payloadKey: event})
	if err != nil {
		b.mu.Lock()
		b.lastError = err.Error()
		b.mu.Unlock()

		b.logger.ErrorCtx(ctx, "event handler failed", err,
			slog.String("type", event.Type()),
			slog.String("id", event.ID()))
	}
}

// Subscribe registers a handler for an event type
func (b *Bus) Subscribe(eventType string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	listener := gookitEvent.ListenerFunc(func(e gookitEvent.Event) error {
		ev, ok := e.Get(payloadKey).(Event)
		if !ok {
			return fmt.Errorf("invalid event payload: %T", e.Get(payloadKey))
		}
		return handler(context.Background(), ev)
	})

	b.manager.On(eventType, listener, gookitEvent.Normal)
	b.subscribers++
	return nil
}

// Close drops every subscriber
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.manager.Clear()
	b.closed = true
	return nil
}

// Health reports whether the bus is usable
type Health struct {
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
	LastError   string `json:"last_error,omitempty"`
}

// Health returns the bus status
func (b *Bus) Health() Health {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := "healthy"
	if b.closed {
		status = "closed"
	} else if b.lastError != "" {
		status = "degraded"
	}
	return Health{Status: status, Subscribers: b.subscribers, LastError: b.lastError}
}
