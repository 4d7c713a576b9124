package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptotrader/internal/analyzers"
	"github.com/sawpanic/cryptotrader/internal/domain/trading"
	"github.com/sawpanic/cryptotrader/internal/events"
	"github.com/sawpanic/cryptotrader/internal/gates"
	"github.com/sawpanic/cryptotrader/internal/metrics"
)

// Runner produces analyzer outputs for a symbol.
type Runner interface {
	Run(ctx context.Context, symbol string, candles []trading.Candle) analyzers.Results
}

// Sizer computes risk sizing from analyzer outputs.
type Sizer interface {
	Assess(symbol string, scores trading.Scores, currentPrice float64) (*trading.RiskAssessment, error)
}

// Gate evaluates a sized entry.
type Gate interface {
	Evaluate(symbol string, direction trading.Direction, sizing *trading.RiskAssessment, scores trading.Scores) *trading.AdmissionAssessment
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithPublisher sets the event sink.
func WithPublisher(p events.Publisher) Option {
	return func(a *Aggregator) { a.publisher = p }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithCache shares an existing decision cache.
func WithCache(c *Cache) Option {
	return func(a *Aggregator) { a.cache = c }
}

// Aggregator turns analyzer outputs into trading decisions.
type Aggregator struct {
	config    Config
	runner    Runner
	sizer     Sizer
	gate      Gate
	cache     *Cache
	publisher events.Publisher
	metrics   *metrics.Registry
	now       func() time.Time

	exitMu       sync.Mutex
	exitRequests map[string]string
}

// NewAggregator wires an aggregator over the analyzer runner, sizing
// engine, and admission gate.
func NewAggregator(config Config, runner Runner, sizer Sizer, gate Gate, opts ...Option) *Aggregator {
	a := &Aggregator{
		config:       config,
		runner:       runner,
		sizer:        sizer,
		gate:         gate,
		cache:        NewCache(),
		publisher:    events.Nop,
		now:          time.Now,
		exitRequests: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Cache returns the decision cache for readers.
func (a *Aggregator) Cache() *Cache {
	return a.cache
}

// GetCachedDecision returns the last decision computed for symbol.
func (a *Aggregator) GetCachedDecision(symbol string) (*trading.TradingDecision, bool) {
	return a.cache.Get(symbol)
}

// RequestExit asks the next exit check for symbol to liquidate.
func (a *Aggregator) RequestExit(symbol, reason string) {
	a.exitMu.Lock()
	defer a.exitMu.Unlock()
	a.exitRequests[symbol] = reason
}

func (a *Aggregator) takeExitRequest(symbol string) (string, bool) {
	a.exitMu.Lock()
	defer a.exitMu.Unlock()
	reason, ok := a.exitRequests[symbol]
	delete(a.exitRequests, symbol)
	return reason, ok
}

// Decide runs the entry decision for symbol over the candle window. It
// never fails: missing inputs degrade the decision instead.
func (a *Aggregator) Decide(ctx context.Context, symbol string, candles []trading.Candle) *trading.TradingDecision {
	timer := a.metrics.StartStepTimer("decide")

	d, scores, ok := a.gather(ctx, symbol, candles)
	if !ok {
		timer.Stop(d.Kind.String())
		return a.finish(d)
	}

	m := scores.Market()
	if m.Opportunity < a.config.MinOpportunityScore {
		d.Kind = trading.Hold
		d.Confidence = a.config.HoldConfidence
		d.Trail.Add("HOLD: opportunity %.1f < min_opportunity_score %.1f", m.Opportunity, a.config.MinOpportunityScore)
		timer.Stop(d.Kind.String())
		return a.finish(d)
	}
	d.Trail.Add("opportunity %.1f >= min_opportunity_score %.1f", m.Opportunity, a.config.MinOpportunityScore)

	sizing, err := a.sizer.Assess(symbol, scores, d.Price)
	if err != nil {
		a.insufficient(d, fmt.Sprintf("risk sizing: %v", err))
		timer.Stop(d.Kind.String())
		return a.finish(d)
	}
	d.Risk = sizing

	sides := a.directionalScores(scores, d.Price, &d.Trail)
	a.applyConfluence(&sides, &d.Trail)
	a.applyDamping(&sides, sizing.RiskScore, &d.Trail)
	d.LongScore = clamp(sides.long, 0, 100)
	d.ShortScore = clamp(sides.short, 0, 100)
	d.Kind, d.Confidence = a.choose(sides, &d.Trail)

	if dir, enter := d.Kind.Direction(); enter {
		d.Admission = a.gate.Evaluate(symbol, dir, sizing, scores)
		d.Trail = append(d.Trail, d.Admission.Trail...)
		a.publishAdmission(d)
	}
	d.QualityScore = a.qualityScore(scores, d.Admission)

	timer.Stop(d.Kind.String())
	return a.finish(d)
}

// EvaluateExit re-checks a live position held in direction live. The
// result is Exit when liquidation was requested, when the signal flipped
// to the opposite entry, or when win probability for the held side fell
// below the admission floor.
func (a *Aggregator) EvaluateExit(ctx context.Context, symbol string, candles []trading.Candle, live trading.Direction) *trading.TradingDecision {
	if reason, requested := a.takeExitRequest(symbol); requested {
		d := &trading.TradingDecision{
			Symbol:     symbol,
			Timestamp:  a.now(),
			Kind:       trading.Exit,
			Confidence: 100,
		}
		d.Trail.Add("EXIT: liquidation requested: %s", reason)
		return a.finish(d)
	}

	d, scores, ok := a.gather(ctx, symbol, candles)
	if !ok {
		return a.finish(d)
	}

	sizing, err := a.sizer.Assess(symbol, scores, d.Price)
	if err != nil {
		a.insufficient(d, fmt.Sprintf("risk sizing: %v", err))
		return a.finish(d)
	}
	d.Risk = sizing

	sides := a.directionalScores(scores, d.Price, &d.Trail)
	a.applyConfluence(&sides, &d.Trail)
	a.applyDamping(&sides, sizing.RiskScore, &d.Trail)
	d.LongScore = clamp(sides.long, 0, 100)
	d.ShortScore = clamp(sides.short, 0, 100)
	kind, confidence := a.choose(sides, &d.Trail)

	if dir, enter := kind.Direction(); enter && dir == live.Opposite() {
		d.Kind = trading.Exit
		d.Confidence = confidence
		d.Trail.Add("EXIT: %s signal against live %s position", dir, live)
		return a.finish(d)
	}

	admission := a.gate.Evaluate(symbol, live, sizing, scores)
	for _, check := range admission.Checks {
		if check.Name == gates.CheckWinProbability && !check.Passed {
			d.Kind = trading.Exit
			d.Confidence = 100 - check.Value
			d.Trail.Add("EXIT: live %s position %s", live, check.Description)
			return a.finish(d)
		}
	}

	d.Kind = trading.Hold
	d.Confidence = admission.WinProbability
	d.Trail.Add("HOLD: live %s position win probability %.1f", live, admission.WinProbability)
	return a.finish(d)
}

// gather runs the analyzers and checks mandatory inputs. ok is false when
// the decision is already final as InsufficientData.
func (a *Aggregator) gather(ctx context.Context, symbol string, candles []trading.Candle) (*trading.TradingDecision, trading.Scores, bool) {
	d := &trading.TradingDecision{
		Symbol:    symbol,
		Timestamp: a.now(),
	}

	res := a.runner.Run(ctx, symbol, candles)
	d.Scores = res.Scores
	for _, f := range res.Failures {
		reason := "error"
		switch {
		case f.NoSignal():
			reason = "no_signal"
		case errors.Is(f.Err, context.DeadlineExceeded):
			reason = "timeout"
		}
		a.metrics.RecordAnalyzerFailure(f.Name, reason)
		if !a.config.isMandatory(f.Kind) {
			d.Trail.Add("optional %s omitted: %v", f.Kind, f.Err)
		}
	}

	var missing []string
	for _, kind := range a.config.MandatoryAnalyzers {
		if !res.Scores.Has(kind) {
			missing = append(missing, string(kind))
		}
	}
	if len(missing) > 0 {
		a.insufficient(d, fmt.Sprintf("missing mandatory %s", strings.Join(missing, ", ")))
		return d, res.Scores, false
	}

	d.Price = res.Scores.Market().CurrentPrice
	if d.Price <= 0 && len(candles) > 0 {
		d.Price = candles[len(candles)-1].Close
	}
	return d, res.Scores, true
}

func (a *Aggregator) insufficient(d *trading.TradingDecision, reason string) {
	d.Kind = trading.InsufficientData
	d.Confidence = 0
	d.Risk = nil
	d.Admission = nil
	d.Trail.Add("INSUFFICIENT DATA: %s", reason)
}

// finish caches and announces a decision.
func (a *Aggregator) finish(d *trading.TradingDecision) *trading.TradingDecision {
	a.cache.put(d)
	a.metrics.RecordDecision(d.Kind.String())

	log.Debug().
		Str("symbol", d.Symbol).
		Str("decision", d.Kind.String()).
		Float64("confidence", d.Confidence).
		Float64("quality", d.QualityScore).
		Msg("Decision made")

	a.publisher.Publish(events.New(events.DecisionMade, d.Symbol, d.Reasoning(), map[string]any{
		"kind":       d.Kind.String(),
		"confidence": d.Confidence,
	}).WithPayload(d))
	return d
}

func (a *Aggregator) publishAdmission(d *trading.TradingDecision) {
	adm := d.Admission
	data := map[string]any{
		"direction":       adm.Direction.String(),
		"win_probability": adm.WinProbability,
		"expected_value":  adm.ExpectedValue,
		"risk_reward":     adm.RiskRewardRatio,
	}
	if adm.Approved {
		a.metrics.RecordAdmission(true, "")
		a.publisher.Publish(events.New(events.TradeAdmitted, d.Symbol, adm.Trail.String(), data).WithPayload(adm))
		return
	}
	failed := "unknown"
	if n := len(adm.Checks); n > 0 {
		failed = adm.Checks[n-1].Name
	}
	data["failed_check"] = failed
	a.metrics.RecordAdmission(false, failed)
	a.publisher.Publish(events.New(events.TradeRejected, d.Symbol, adm.Trail.String(), data).WithPayload(adm))
}
