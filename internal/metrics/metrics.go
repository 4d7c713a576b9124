package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds the Prometheus collectors of the trading controller.
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	// Pipeline step timing
	StepDuration *prometheus.HistogramVec

	// Decisions and admission
	Decisions        *prometheus.CounterVec
	Admissions       *prometheus.CounterVec
	AnalyzerFailures *prometheus.CounterVec

	// Execution
	Orders        *prometheus.CounterVec
	LivePositions prometheus.Gauge
	RealizedPnL   prometheus.Counter

	// Exchange port
	ExchangeCalls *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec

	// Loop
	Cycles       prometheus.Counter
	TradesToday  prometheus.Gauge
	PacingDefers prometheus.Counter
}

// NewRegistry creates collectors on a dedicated Prometheus registry.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptotrader_step_duration_seconds",
				Help:    "Duration of each pipeline step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"step", "result"},
		),

		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptotrader_decisions_total",
				Help: "Decisions produced by kind",
			},
			[]string{"kind"},
		),

		Admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptotrader_admissions_total",
				Help: "Admission gate outcomes by result and failed check",
			},
			[]string{"result", "check"},
		),

		AnalyzerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptotrader_analyzer_failures_total",
				Help: "Analyzer calls that did not contribute a score",
			},
			[]string{"analyzer", "reason"},
		),

		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptotrader_orders_total",
				Help: "Order state transitions by resulting status",
			},
			[]string{"status"},
		),

		LivePositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptotrader_live_positions",
				Help: "Symbols holding a live order or position",
			},
		),

		RealizedPnL: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cryptotrader_realized_pnl_abs_total",
				Help: "Sum of absolute realized PnL of closed positions",
			},
		),

		ExchangeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptotrader_exchange_calls_total",
				Help: "Exchange port calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cryptotrader_circuit_breaker_state",
				Help: "Circuit breaker state per operation (0=closed, 1=half-open, 2=open)",
			},
			[]string{"operation"},
		),

		Cycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cryptotrader_cycles_total",
				Help: "Orchestration cycles completed",
			},
		),

		TradesToday: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptotrader_trades_today",
				Help: "Entries executed since the last UTC day boundary",
			},
		),

		PacingDefers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cryptotrader_pacing_deferrals_total",
				Help: "Approved entries deferred by daily pacing",
			},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.StepDuration,
		r.Decisions,
		r.Admissions,
		r.AnalyzerFailures,
		r.Orders,
		r.LivePositions,
		r.RealizedPnL,
		r.ExchangeCalls,
		r.BreakerState,
		r.Cycles,
		r.TradesToday,
		r.PacingDefers,
	)

	return r
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// StepTimer tracks execution time for pipeline steps
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a pipeline step
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: r, step: step, start: time.Now()}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	if st.metrics != nil {
		st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	}

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Pipeline step completed")
}

// RecordDecision counts a decision by kind.
func (r *Registry) RecordDecision(kind string) {
	if r == nil {
		return
	}
	r.Decisions.WithLabelValues(kind).Inc()
}

// RecordAdmission counts a gate outcome. check is the failed check name,
// empty when approved.
func (r *Registry) RecordAdmission(approved bool, check string) {
	if r == nil {
		return
	}
	result := "rejected"
	if approved {
		result, check = "approved", "none"
	}
	r.Admissions.WithLabelValues(result, check).Inc()
}

// RecordAnalyzerFailure counts an analyzer that did not contribute.
func (r *Registry) RecordAnalyzerFailure(analyzer, reason string) {
	if r == nil {
		return
	}
	r.AnalyzerFailures.WithLabelValues(analyzer, reason).Inc()
}

// RecordOrder counts an order transition into status.
func (r *Registry) RecordOrder(status string) {
	if r == nil {
		return
	}
	r.Orders.WithLabelValues(status).Inc()
}

// SetLivePositions sets the live position gauge.
func (r *Registry) SetLivePositions(n int) {
	if r == nil {
		return
	}
	r.LivePositions.Set(float64(n))
}

// RecordRealizedPnL adds the magnitude of a closed position's PnL.
func (r *Registry) RecordRealizedPnL(pnl float64) {
	if r == nil {
		return
	}
	if pnl < 0 {
		pnl = -pnl
	}
	r.RealizedPnL.Add(pnl)
}

// RecordExchangeCall counts an exchange call outcome.
func (r *Registry) RecordExchangeCall(operation, outcome string) {
	if r == nil {
		return
	}
	r.ExchangeCalls.WithLabelValues(operation, outcome).Inc()
}

// SetBreakerState records the numeric breaker state of an operation.
func (r *Registry) SetBreakerState(operation string, state float64) {
	if r == nil {
		return
	}
	r.BreakerState.WithLabelValues(operation).Set(state)
}

// RecordCycle counts a completed orchestration cycle.
func (r *Registry) RecordCycle() {
	if r == nil {
		return
	}
	r.Cycles.Inc()
}

// SetTradesToday sets the daily trade gauge.
func (r *Registry) SetTradesToday(n int) {
	if r == nil {
		return
	}
	r.TradesToday.Set(float64(n))
}

// RecordPacingDeferral counts an entry deferred by pacing.
func (r *Registry) RecordPacingDeferral() {
	if r == nil {
		return
	}
	r.PacingDefers.Inc()
}
