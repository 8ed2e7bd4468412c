package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRead("HIT")
	m.RecordRead("HIT")
	m.RecordAttempt("primary", "timeout")
	m.RecordRefresh("error")
	m.SetEntries(7)
	m.RecordCleared(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reads.WithLabelValues("HIT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.originAttempts.WithLabelValues("primary", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.entries))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.clears))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRead("MISS")
		m.RecordAttempt("fallback", "ok")
		m.RecordRefresh("ok")
		m.SetEntries(1)
		m.RecordCleared(1)
	})
}
