package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics exposes counters/histograms for the scheduling core.
type SchedulingMetrics struct {
	transitionsTotal    *prometheus.CounterVec
	recurringDatesTotal *prometheus.CounterVec
	expiriesTotal       *prometheus.CounterVec
	availabilityLatency prometheus.Histogram
	notifyFailures      prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "scheduling",
			Name:      "transitions_total",
			Help:      "Appointment state machine events by outcome",
		}, []string{"event", "outcome"}),
		recurringDatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "scheduling",
			Name:      "recurring_dates_total",
			Help:      "Dates produced by recurring expansions",
		}, []string{"result"}),
		expiriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "scheduling",
			Name:      "expiries_total",
			Help:      "Expire calls by source and whether they changed state",
		}, []string{"source", "applied"}),
		availabilityLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "therapy",
			Subsystem: "scheduling",
			Name:      "availability_seconds",
			Help:      "Latency of availability slot computation",
			Buckets:   prometheus.DefBuckets,
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "therapy",
			Subsystem: "scheduling",
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.recurringDatesTotal, m.expiriesTotal, m.availabilityLatency, m.notifyFailures)
	return m
}

func (m *SchedulingMetrics) ObserveTransition(event, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(event, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveRecurringDates(created, skipped int) {
	if m == nil {
		return
	}
	m.recurringDatesTotal.WithLabelValues("created").Add(float64(created))
	m.recurringDatesTotal.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *SchedulingMetrics) ObserveExpiry(source string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.expiriesTotal.WithLabelValues(source, label).Inc()
}

func (m *SchedulingMetrics) ObserveAvailability(d time.Duration) {
	if m == nil {
		return
	}
	m.availabilityLatency.Observe(d.Seconds())
}

func (m *SchedulingMetrics) ObserveNotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}
