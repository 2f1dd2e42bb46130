package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"crmcore/pkg/domain"
)

const metricsNamespace = "crmcore"

// Metrics holds the service collectors. Each service owns its registry so
// several services can coexist in one process.
type Metrics struct {
	registry     *prometheus.Registry
	mutations    *prometheus.CounterVec
	conversions  *prometheus.CounterVec
	syncOps      *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	pending      prometheus.Gauge
	deadLetters  prometheus.Gauge
}

// NewMetrics registers the collectors on reg, creating a registry when reg
// is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "mutations_total",
				Help:      "Committed record mutations by entity and action.",
			},
			[]string{"entity", "action"},
		),
		conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "conversions_total",
				Help:      "Lifecycle conversions by kind and result.",
			},
			[]string{"kind", "result"},
		),
		syncOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sync_ops_total",
				Help:      "Remote sync operations by operation and result.",
			},
			[]string{"op", "result"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "sync_duration_seconds",
				Help:      "Latency of remote sync calls.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"op"},
		),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "outbox_pending",
			Help:      "Sync operations waiting in the outbox.",
		}),
		deadLetters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "outbox_dead_letters",
			Help:      "Sync operations that exhausted their retries.",
		}),
	}
	reg.MustRegister(m.mutations, m.conversions, m.syncOps, m.syncDuration, m.pending, m.deadLetters)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) mutation(table string, action domain.Action) {
	m.mutations.WithLabelValues(table, string(action)).Inc()
}

func (m *Metrics) conversion(kind string, ok bool) {
	m.conversions.WithLabelValues(kind, resultLabel(ok)).Inc()
}

func (m *Metrics) syncOp(op domain.Action, ok bool, took time.Duration) {
	m.syncOps.WithLabelValues(string(op), resultLabel(ok)).Inc()
	m.syncDuration.WithLabelValues(string(op)).Observe(took.Seconds())
}

func (m *Metrics) outboxSize(pending, dead int) {
	m.pending.Set(float64(pending))
	m.deadLetters.Set(float64(dead))
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
