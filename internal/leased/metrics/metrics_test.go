package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiquitav2/vpn-leased/internal/leased/events"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

func TestMetrics_EventCounters(t *testing.T) {
	m := New(nil)
	bus := events.NewBus(logger.NewDiscard())
	require.NoError(t, m.Subscribe(bus))

	ctx := context.Background()

	created := events.NewLeaseEvent(events.TypeLeaseCreated, "A1", "monthly")
	bus.Publish(ctx, created)

	resolved := events.NewLeaseEvent(events.TypeKeyResolved, "A1", "monthly")
	resolved.Strategy = "interface_config"
	bus.Publish(ctx, resolved)

	failed := events.NewLeaseEvent(events.TypeRevocationFailed, "A1", "monthly")
	failed.Phase = "live_remove"
	bus.Publish(ctx, failed)

	expired := events.NewLeaseEvent(events.TypeLeaseExpired, "A1", "monthly")
	expired.Lateness = 30 * time.Second
	bus.Publish(ctx, expired)

	bus.Publish(ctx, events.NewReconcileEvent(1, 1, 0, 0, 5*time.Millisecond))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LeasesCreated.WithLabelValues("monthly", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeyResolutions.WithLabelValues("interface_config")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Revocations.WithLabelValues("failure", "live_remove")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Revocations.WithLabelValues("success", "")))
	assert.Greater(t, testutil.ToFloat64(m.LastReconcile), 0.0)
}

func TestMetrics_SnapshotGauges(t *testing.T) {
	m := New(func(context.Context) Snapshot {
		return Snapshot{Active: 3, Expired: 2, Overdue: 1, Unresolved: 1, LivePeers: -1}
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, 200, rec.Code)
	for _, want := range []string{
		`leased_leases{status="active"} 3`,
		`leased_leases{status="expired"} 2`,
		`leased_leases_overdue 1`,
		`leased_leases_unresolved 1`,
		`leased_live_peers -1`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %q", want)
	}
}
