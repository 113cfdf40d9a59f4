package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulingMetrics_NilSafe(t *testing.T) {
	var m *SchedulingMetrics
	m.ObserveTransition("accept", "ok")
	m.ObserveRecurringDates(1, 2)
	m.ObserveExpiry("timer", true)
	m.ObserveAvailability(time.Second)
	m.ObserveNotifyFailure()
}

func TestSchedulingMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveTransition("create", "ok")
	m.ObserveTransition("create", "ok")
	m.ObserveTransition("create", "conflict")
	m.ObserveRecurringDates(10, 1)
	m.ObserveExpiry("sweep", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("create", "conflict")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.recurringDatesTotal.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recurringDatesTotal.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.expiriesTotal.WithLabelValues("sweep", "false")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
