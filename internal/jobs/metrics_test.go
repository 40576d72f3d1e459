package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("payment:reconcile").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("payment:reconcile").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("payment:reconcile", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("payment:reconcile", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("payment:reconcile")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Track("x").End(nil))
	m.Reconciled("confirmed")
}

func TestReconciledCountsByOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.Reconciled("retry")
	m.Reconciled("retry")
	m.Reconciled("confirmed")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("confirmed")))
}
