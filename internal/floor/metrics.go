package floor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

type Metrics struct {
	// Latency: длительность одного цикла стратегии
	CycleDuration *prometheus.HistogramVec

	// Errors: исходы циклов (completed / skipped / failed)
	CycleOutcomes *prometheus.CounterVec

	// Рестарты и эскалации супервизора
	RestartsTotal    *prometheus.CounterVec
	EscalationsTotal *prometheus.CounterVec

	// Health: сколько агентов протухло на последнем sweep
	UnhealthyAgents prometheus.Gauge

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Чекпоинты: уходы на fallback
	CheckpointDegradedTotal prometheus.Counter

	// Решения Floor Boss по типам действий
	DecisionsTotal *prometheus.CounterVec

	// Журнал: заполненность буфера (backpressure)
	JournalBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		CycleDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "floor_cycle_duration_seconds",
			Help:    "Histogram of strategy cycle durations.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"agent_name", "kind"}),

		CycleOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "floor_cycle_outcomes_total",
			Help: "Total strategy cycles by outcome.",
		}, []string{"agent_name", "outcome"}), // outcome: completed, skipped, failed

		RestartsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "floor_agent_restarts_total",
			Help: "Total supervised agent restarts.",
		}, []string{"agent_name", "cause"}), // cause: crash, unhealthy, stop_timeout

		EscalationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "floor_escalations_total",
			Help: "Critical escalations to the operator.",
		}, []string{"type"}), // типы: restart_ceiling, hard_risk_limit

		UnhealthyAgents: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "floor_unhealthy_agents",
			Help: "Agents flagged stale at the last health sweep.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "floor_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"dependency"}),

		CheckpointDegradedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "floor_checkpoint_degraded_total",
			Help: "Checkpoint writes that fell back to the secondary store.",
		}),

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "floor_decisions_total",
			Help: "Lifecycle actions issued by the decision engine.",
		}, []string{"action"}),

		JournalBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "floor_journal_buffer_utilization",
			Help: "Current number of events in the lifecycle journal buffer.",
		}),
	}
}

// ObserveBreaker — адаптер для BreakerGroup.SetStateHook.
func (m *Metrics) ObserveBreaker(dep string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 0.5
	}
	m.CircuitBreakerState.WithLabelValues(dep).Set(v)
}
