package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

type Metrics struct {
	// Latency: сколько заняла оценка интента (включая чтение счётчиков)
	EvaluateDuration *prometheus.HistogramVec

	// Traffic: решения по исходу
	Decisions *prometheus.CounterVec

	// Errors: причины отказов, по одному инкременту на код
	DenyReasons *prometheus.CounterVec

	Executions prometheus.Counter

	// Загрузки политики: ok / invalid
	PolicyLoads *prometheus.CounterVec

	// 1 — политика на паузе
	Paused prometheus.Gauge

	// Saturation: состояние Circuit Breaker аудита (0 - ок, 1 - выбило)
	AuditBreakerState prometheus.Gauge

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		EvaluateDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policy_evaluate_duration_seconds",
			Help:    "Histogram of intent evaluation latencies.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"action"}),

		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "policy_decisions_total",
			Help: "Total number of decisions by action.",
		}, []string{"action"}),

		DenyReasons: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "policy_deny_reasons_total",
			Help: "Deny reason codes, one increment per code.",
		}, []string{"reason"}),

		Executions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "policy_executions_recorded_total",
			Help: "Total number of recorded executions.",
		}),

		PolicyLoads: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "policy_loads_total",
			Help: "Policy load attempts by result.",
		}, []string{"result"}),

		Paused: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "policy_paused",
			Help: "1 if the active policy is paused.",
		}),

		AuditBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "policy_audit_circuit_breaker_state",
			Help: "Current state of the audit sink circuit breaker (0=closed, 1=open).",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "policy_audit_buffer_utilization",
			Help: "Current number of entries in audit buffer.",
		}),
	}
}

func (m *Metrics) ObserveDecision(d domain.Decision, elapsed time.Duration) {
	action := string(d.Action)
	m.EvaluateDuration.WithLabelValues(action).Observe(elapsed.Seconds())
	m.Decisions.WithLabelValues(action).Inc()
	for _, r := range d.Reasons {
		m.DenyReasons.WithLabelValues(r).Inc()
	}
}

func (m *Metrics) ObserveExecution() { m.Executions.Inc() }

func (m *Metrics) ObservePolicyLoad(_ string, err error) {
	if err != nil {
		m.PolicyLoads.WithLabelValues("invalid").Inc()
		return
	}
	m.PolicyLoads.WithLabelValues("ok").Inc()
}

func (m *Metrics) ObservePause(paused bool) {
	if paused {
		m.Paused.Set(1)
		return
	}
	m.Paused.Set(0)
}
