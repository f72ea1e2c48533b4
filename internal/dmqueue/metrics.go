package dmqueue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the queue counters exported on /metrics. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	Enqueued     *prometheus.CounterVec
	Skipped      *prometheus.CounterVec
	Attempts     *prometheus.CounterVec
	RateLimited  prometheus.Counter
	WorkerActive prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmqueue_enqueued_total",
				Help: "Total number of DM jobs admitted",
			},
			[]string{"trigger"},
		),
		Skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmqueue_skipped_total",
				Help: "Total number of triggers dropped at admission",
			},
			[]string{"reason"},
		),
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmqueue_attempts_total",
				Help: "Total number of delivery attempts by outcome (sent, retry, failed)",
			},
			[]string{"outcome"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dmqueue_rate_limited_ticks_total",
				Help: "Total number of dispatch ticks refused by the rate limit ledger",
			},
		),
		WorkerActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dmqueue_worker_active",
				Help: "1 while this process is draining the queue",
			},
		),
	}

	reg.MustRegister(m.Enqueued, m.Skipped, m.Attempts, m.RateLimited, m.WorkerActive)
	return m
}

func (m *Metrics) enqueued(trigger TriggerType) {
	if m == nil {
		return
	}
	m.Enqueued.WithLabelValues(string(trigger)).Inc()
}

func (m *Metrics) skipped(reason string) {
	if m == nil {
		return
	}
	m.Skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) attempt(outcome string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) rateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) draining(active bool) {
	if m == nil {
		return
	}
	if active {
		m.WorkerActive.Set(1)
	} else {
		m.WorkerActive.Set(0)
	}
}
