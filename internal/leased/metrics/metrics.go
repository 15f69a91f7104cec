// Package metrics exposes lease enforcement state to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chiquitav2/vpn-leased/internal/leased/events"
)

const namespace = "leased"

// Snapshot is the point-in-time lease state read at scrape time
type Snapshot struct {
	Active     int
	Expired    int
	Overdue    int
	Unresolved int
	// LivePeers is -1 when the interface could not be queried.
	LivePeers int
}

// SnapshotFunc returns the current lease state
type SnapshotFunc func(ctx context.Context) Snapshot

// Metrics manages Prometheus metrics for the daemon.
type Metrics struct {
	registry *prometheus.Registry

	Revocations       *prometheus.CounterVec
	KeyResolutions    *prometheus.CounterVec
	LeasesCreated     *prometheus.CounterVec
	ReconcileDuration prometheus.Histogram
	ExpiryLateness    prometheus.Histogram
	LastReconcile     prometheus.Gauge
	ConfigRescans     prometheus.Counter
}

// New creates the metric set. The snapshot function, when non-nil, backs
// the lease gauges and is evaluated on every scrape.
func New(snapshot SnapshotFunc) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		Revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Revocation attempts by result and failing phase",
		}, []string{"result", "phase"}),

		KeyResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_resolutions_total",
			Help:      "Resolved peer keys by strategy",
		}, []string{"strategy"}),

		LeasesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_created_total",
			Help:      "Create requests by tier and whether the lease already existed",
		}, []string{"tier", "existing"}),

		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Reconciliation pass duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}),

		ExpiryLateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "expiry_lateness_seconds",
			Help:      "Delay between a lease's expiry time and confirmed revocation",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
		}),

		LastReconcile: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reconcile_timestamp_seconds",
			Help:      "Unix time of the last completed reconciliation pass",
		}),

		ConfigRescans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_rescans_total",
			Help:      "Re-scrapes of the interface config into the peer cache",
		}),
	}

	registry.MustRegister(
		m.Revocations,
		m.KeyResolutions,
		m.LeasesCreated,
		m.ReconcileDuration,
		m.ExpiryLateness,
		m.LastReconcile,
		m.ConfigRescans,
	)
	if snapshot != nil {
		registry.MustRegister(newLeaseCollector(snapshot))
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Subscribe wires the counters to lifecycle events
func (m *Metrics) Subscribe(bus *events.Bus) error {
	subs := map[string]events.Handler{
		events.TypeLeaseCreated:       m.onLeaseCreated,
		events.TypeLeaseExpired:       m.onLeaseExpired,
		events.TypeRevocationFailed:   m.onRevocationFailed,
		events.TypeKeyResolved:        m.onKeyResolved,
		events.TypeReconcileCompleted: m.onReconcileCompleted,
		events.TypeConfigRescanned:    m.onConfigRescanned,
	}
	for eventType, handler := range subs {
		if err := bus.Subscribe(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) onLeaseCreated(_ context.Context, e events.Event) error {
	if le, ok := e.(*events.LeaseEvent); ok {
		existing := "false"
		if le.Existing {
			existing = "true"
		}
		m.LeasesCreated.WithLabelValues(le.Tier, existing).Inc()
	}
	return nil
}

func (m *Metrics) onLeaseExpired(_ context.Context, e events.Event) error {
	m.Revocations.WithLabelValues("success", "").Inc()
	if le, ok := e.(*events.LeaseEvent); ok && le.Lateness > 0 {
		m.ExpiryLateness.Observe(le.Lateness.Seconds())
	}
	return nil
}

func (m *Metrics) onRevocationFailed(_ context.Context, e events.Event) error {
	phase := ""
	if le, ok := e.(*events.LeaseEvent); ok {
		phase = le.Phase
	}
	m.Revocations.WithLabelValues("failure", phase).Inc()
	return nil
}

func (m *Metrics) onKeyResolved(_ context.Context, e events.Event) error {
	if le, ok := e.(*events.LeaseEvent); ok {
		m.KeyResolutions.WithLabelValues(le.Strategy).Inc()
	}
	return nil
}

func (m *Metrics) onReconcileCompleted(_ context.Context, e events.Event) error {
	if re, ok := e.(*events.ReconcileEvent); ok {
		m.ReconcileDuration.Observe(re.Duration.Seconds())
		m.LastReconcile.Set(float64(re.Timestamp().Unix()))
	}
	return nil
}

func (m *Metrics) onConfigRescanned(context.Context, events.Event) error {
	m.ConfigRescans.Inc()
	return nil
}

// leaseCollector reads one snapshot per scrape so the live peer query
// runs once rather than per gauge.
type leaseCollector struct {
	snapshot SnapshotFunc

	leases     *prometheus.Desc
	overdue    *prometheus.Desc
	unresolved *prometheus.Desc
	livePeers  *prometheus.Desc
}

func newLeaseCollector(snapshot SnapshotFunc) *leaseCollector {
	return &leaseCollector{
		snapshot: snapshot,
		leases: prometheus.NewDesc(namespace+"_leases",
			"Leases by status", []string{"status"}, nil),
		overdue: prometheus.NewDesc(namespace+"_leases_overdue",
			"Active leases past expiry that are not yet enforced", nil, nil),
		unresolved: prometheus.NewDesc(namespace+"_leases_unresolved",
			"Active leases without a resolved peer key", nil, nil),
		livePeers: prometheus.NewDesc(namespace+"_live_peers",
			"Peers on the interface, -1 when it cannot be queried", nil, nil),
	}
}

func (c *leaseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.leases
	ch <- c.overdue
	ch <- c.unresolved
	ch <- c.livePeers
}

func (c *leaseCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := c.snapshot(ctx)
	ch <- prometheus.MustNewConstMetric(c.leases, prometheus.GaugeValue, float64(s.Active), "active")
	ch <- prometheus.MustNewConstMetric(c.leases, prometheus.GaugeValue, float64(s.Expired), "expired")
	ch <- prometheus.MustNewConstMetric(c.overdue, prometheus.GaugeValue, float64(s.Overdue))
	ch <- prometheus.MustNewConstMetric(c.unresolved, prometheus.GaugeValue, float64(s.Unresolved))
	ch <- prometheus.MustNewConstMetric(c.livePeers, prometheus.GaugeValue, float64(s.LivePeers))
}
