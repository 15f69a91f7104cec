package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(logger.NewDiscard())

	var got []*LeaseEvent
	require.NoError(t, bus.Subscribe(TypeLeaseExpired, func(_ context.Context, e Event) error {
		got = append(got, e.(*LeaseEvent))
		return nil
	}))

	ev := NewLeaseEvent(TypeLeaseExpired, "42ABCDEF", "monthly")
	ev.Lateness = 3 * time.Second
	bus.Publish(context.Background(), ev)
	bus.Publish(context.Background(), NewLeaseEvent(TypeLeaseCreated, "other", "test"))

	require.Len(t, got, 1)
	assert.Equal(t, "42ABCDEF", got[0].LeaseID)
	assert.Equal(t, 3*time.Second, got[0].Lateness)
	assert.NotEmpty(t, got[0].ID())
	assert.Equal(t, "healthy", bus.Health().Status)
}

func TestBus_HandlerErrorDegradesHealth(t *testing.T) {
	bus := NewBus(logger.NewDiscard())
	require.NoError(t, bus.Subscribe(TypeReconcileCompleted, func(context.Context, Event) error {
		return errors.New("sink down")
	}))

	bus.Publish(context.Background(), NewReconcileEvent(1, 1, 0, 0, time.Millisecond))

	h := bus.Health()
	assert.Equal(t, "degraded", h.Status)
	assert.Contains(t, h.LastError, "sink down")
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(logger.NewDiscard())
	calls := 0
	require.NoError(t, bus.Subscribe(TypeLeaseCreated, func(context.Context, Event) error {
		calls++
		return nil
	}))

	require.NoError(t, bus.Close())
	bus.Publish(context.Background(), NewLeaseEvent(TypeLeaseCreated, "A1", "test"))

	assert.Equal(t, 0, calls)
	assert.Error(t, bus.Subscribe(TypeLeaseCreated, func(context.Context, Event) error { return nil }))
	assert.Equal(t, "closed", bus.Health().Status)
}
