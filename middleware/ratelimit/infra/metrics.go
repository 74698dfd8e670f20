package infra

import (
	"context"
	"errors"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implementa domain.Observer com coletores Prometheus.
type Metrics struct {
	decisions    *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	casConflicts prometheus.Counter

	admitDuration *prometheus.HistogramVec
	storeDuration *prometheus.HistogramVec
}

// NewMetrics registra os coletores em reg (nil usa o registry padrão).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_decisions_total",
				Help: "Admission decisions by operation class, result and source",
			},
			[]string{"class", "result", "source"},
		),
		fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_fallbacks_total",
				Help: "Decisions made by the local fallback store",
			},
			[]string{"class", "reason"},
		),
		casConflicts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "admission_cas_conflicts_total",
				Help: "Lost compare-and-swap attempts on the shared state store",
			},
		),
		admitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admission_decision_duration_seconds",
				Help:    "Time spent deciding a request",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14), // 50µs a ~400ms
			},
			[]string{"source"},
		),
		storeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admission_store_roundtrip_seconds",
				Help:    "Shared state store round-trip latency",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
			},
			[]string{"op"},
		),
	}
}

func (m *Metrics) ObserveDecision(dec domain.Decision, elapsed time.Duration) {
	result := "admitted"
	switch {
	case dec.Contended:
		result = "contended"
	case !dec.Admitted:
		result = "denied"
	}
	m.decisions.WithLabelValues(dec.OperationClass, result, string(dec.Source)).Inc()
	m.admitDuration.WithLabelValues(string(dec.Source)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveFallback(class string, err error) {
	reason := "store_error"
	switch {
	case errors.Is(err, domain.ErrCircuitOpen):
		reason = "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	}
	m.fallbacks.WithLabelValues(class, reason).Inc()
}

// CASConflict serve como hook de WithConflictHook.
func (m *Metrics) CASConflict(domain.Key) { m.casConflicts.Inc() }

// StoreLatency serve como hook de WithLatencyHook.
func (m *Metrics) StoreLatency(op string, d time.Duration) {
	m.storeDuration.WithLabelValues(op).Observe(d.Seconds())
}
