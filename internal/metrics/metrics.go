package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	reads          *prometheus.CounterVec
	originAttempts *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	entries        prometheus.Gauge
	clears         prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wpcache_reads_total",
			Help: "Content reads by cache state (HIT, STALE, MISS, BYPASS, DEGRADED, ERROR).",
		}, []string{"state"}),
		originAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wpcache_origin_attempts_total",
			Help: "Upstream attempts by candidate role and result.",
		}, []string{"source", "result"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wpcache_refresh_total",
			Help: "Background refreshes by result.",
		}, []string{"result"}),
		entries: f.NewGauge(prometheus.GaugeOpts{
			Name: "wpcache_cache_entries",
			Help: "Entries currently held in the in-memory store.",
		}),
		clears: f.NewCounter(prometheus.CounterOpts{
			Name: "wpcache_cleared_entries_total",
			Help: "Entries removed by administrative clears.",
		}),
	}
}

func (m *Metrics) RecordRead(state string) {
	if m == nil {
		return
	}
	m.reads.WithLabelValues(state).Inc()
}

// RecordAttempt result is one of ok, unreachable, timeout, rejected.
func (m *Metrics) RecordAttempt(source, result string) {
	if m == nil {
		return
	}
	m.originAttempts.WithLabelValues(source, result).Inc()
}

// RecordRefresh result is one of ok, error, skipped.
func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) SetEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}

func (m *Metrics) RecordCleared(n int) {
	if m == nil {
		return
	}
	m.clears.Add(float64(n))
}
