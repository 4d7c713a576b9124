// Package orchestrator drives the periodic trading cycle: status refresh,
// capital ledger, exit checks, scanning, decisions and execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
	"github.com/sawpanic/cryptotrader/internal/exchange"
	"github.com/sawpanic/cryptotrader/internal/execution"
	"github.com/sawpanic/cryptotrader/internal/metrics"
	"github.com/sawpanic/cryptotrader/internal/risk"
	"github.com/sawpanic/cryptotrader/internal/scan"
)

// Config controls the cycle cadence and the entry policies the loop owns.
type Config struct {
	Interval         time.Duration `yaml:"interval"`
	BatchSize        int           `yaml:"batch_size"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	Cooldown         time.Duration `yaml:"cooldown"`
	DailyTradeTarget int           `yaml:"daily_trade_target"`
	MaxPacingDelay   time.Duration `yaml:"max_pacing_delay"`
	Coin             string        `yaml:"coin"`
}

// DefaultConfig returns the production loop settings.
func DefaultConfig() Config {
	return Config{
		Interval:         time.Minute,
		BatchSize:        5,
		MaxConcurrent:    3,
		Cooldown:         4 * time.Hour,
		DailyTradeTarget: 6,
		MaxPacingDelay:   2 * time.Hour,
		Coin:             "USDT",
	}
}

// Validate checks the loop settings.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.Cooldown < 0 || c.MaxPacingDelay < 0 {
		return fmt.Errorf("cooldown and max_pacing_delay must be >= 0, got %s and %s", c.Cooldown, c.MaxPacingDelay)
	}
	if c.DailyTradeTarget < 0 {
		return fmt.Errorf("daily_trade_target must be >= 0, got %d", c.DailyTradeTarget)
	}
	if c.Coin == "" {
		return errors.New("coin is required")
	}
	return nil
}

// Scanner yields ranked candidates and analysis windows.
type Scanner interface {
	ScanCandidates(ctx context.Context) ([]scan.Candidate, error)
	Window(ctx context.Context, symbol string) ([]trading.Candle, error)
}

// Decider is the signal aggregator.
type Decider interface {
	Decide(ctx context.Context, symbol string, candles []trading.Candle) *trading.TradingDecision
	EvaluateExit(ctx context.Context, symbol string, candles []trading.Candle, live trading.Direction) *trading.TradingDecision
	RequestExit(symbol, reason string)
}

// Executor is the execution state machine.
type Executor interface {
	ExecuteTrade(ctx context.Context, symbol string, direction trading.Direction, sizing *trading.RiskAssessment, price float64) (execution.OrderState, error)
	UpdateStatus(ctx context.Context, symbol string) (execution.OrderState, error)
	ClosePosition(ctx context.Context, symbol string) error
	CancelOrder(ctx context.Context, symbol string) error
	Active() []execution.OrderState
	IsLive(symbol string) bool
	Committed() map[string]float64
}

// Wallet reports account balances.
type Wallet interface {
	GetWalletBalance(ctx context.Context, coin string) (*exchange.Balance, error)
}

// Action is what the loop did with one symbol in a cycle.
type Action string

const (
	ActionExecuted Action = "executed"
	ActionSkipped  Action = "skipped"
	ActionFailed   Action = "failed"
	ActionDeferred Action = "deferred"
	ActionHeld     Action = "held"
	ActionClosed   Action = "closed"
)

// Outcome records the handling of one symbol.
type Outcome struct {
	Symbol   string               `json:"symbol"`
	Decision trading.DecisionKind `json:"decision"`
	Action   Action               `json:"action"`
	Reason   string               `json:"reason,omitempty"`
}

// CycleReport summarises one cycle.
type CycleReport struct {
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Available  float64       `json:"available"`
	Candidates int           `json:"candidates"`
	Outcomes   []Outcome     `json:"outcomes"`
}

// Count returns how many outcomes took action a.
func (r CycleReport) Count(a Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == a {
			n++
		}
	}
	return n
}

// Orchestrator is the periodic driver. It is the single writer of the
// cooldown and pacing state and of the capital ledger.
type Orchestrator struct {
	config   Config
	scanner  Scanner
	decider  Decider
	executor Executor
	wallet   Wallet
	ledger   *risk.Ledger
	pacer    *Pacer
	metrics  *metrics.Registry
	now      func() time.Time

	mu   sync.Mutex
	last *CycleReport
}

// New wires the loop. ledger must be the capital source of the sizing
// engine used by decider.
func New(config Config, scanner Scanner, decider Decider, executor Executor, wallet Wallet, ledger *risk.Ledger, m *metrics.Registry) *Orchestrator {
	return &Orchestrator{
		config:   config,
		scanner:  scanner,
		decider:  decider,
		executor: executor,
		wallet:   wallet,
		ledger:   ledger,
		pacer:    NewPacer(config.Cooldown, config.DailyTradeTarget, config.MaxPacingDelay),
		metrics:  m,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Pacer exposes cooldown and pacing state for readers.
func (o *Orchestrator) Pacer() *Pacer {
	return o.pacer
}

// LastReport returns the most recent cycle report.
func (o *Orchestrator) LastReport() (CycleReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return CycleReport{}, false
	}
	return *o.last, true
}

// RequestLiquidation asks the next cycle to close the live position on
// symbol.
func (o *Orchestrator) RequestLiquidation(symbol, reason string) error {
	if !o.executor.IsLive(symbol) {
		return fmt.Errorf("liquidate %s: %w", symbol, execution.ErrNoActiveOrder)
	}
	o.decider.RequestExit(symbol, reason)
	log.Info().Str("symbol", symbol).Str("reason", reason).Msg("Liquidation requested")
	return nil
}

// Run drives cycles until ctx is cancelled. Cycle errors are logged and
// never stop the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().Dur("interval", o.config.Interval).Int("batch", o.config.BatchSize).Msg("Orchestrator starting")

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := o.RunCycle(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Cycle failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Orchestrator stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle performs one pass. A single symbol's failure is recorded in the
// report and never aborts the cycle; the error return is reserved for
// failures that leave no candidates to consider.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	timer := o.metrics.StartStepTimer("cycle")
	report := CycleReport{Started: o.now()}
	defer func() {
		report.Duration = o.now().Sub(report.Started)
		o.metrics.RecordCycle()
		o.metrics.SetTradesToday(o.pacer.TradesToday(o.now()))
		o.mu.Lock()
		snap := report
		o.last = &snap
		o.mu.Unlock()
	}()

	o.refresh(ctx, &report)
	report.Available = o.syncLedger(ctx)
	o.checkExits(ctx, &report)

	candidates, err := o.scanner.ScanCandidates(ctx)
	if err != nil {
		timer.Stop("scan_error")
		return report, fmt.Errorf("scan: %w", err)
	}
	if len(candidates) > o.config.BatchSize {
		candidates = candidates[:o.config.BatchSize]
	}
	report.Candidates = len(candidates)

	decisions := o.decideBatch(ctx, candidates)
	for i, d := range decisions {
		report.Outcomes = append(report.Outcomes, o.enter(ctx, candidates[i].Symbol, d, report.Available))
	}

	timer.Stop("ok")
	log.Info().
		Int("candidates", report.Candidates).
		Int("executed", report.Count(ActionExecuted)).
		Int("deferred", report.Count(ActionDeferred)).
		Int("failed", report.Count(ActionFailed)).
		Float64("available", report.Available).
		Msg("Cycle complete")
	return report, nil
}

// refresh polls every live record. Records that turn terminal start the
// symbol's cooldown.
func (o *Orchestrator) refresh(ctx context.Context, report *CycleReport) {
	for _, rec := range o.executor.Active() {
		next, err := o.executor.UpdateStatus(ctx, rec.Symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", rec.Symbol).Msg("Status refresh failed")
		}
		if next.Symbol == "" || next.Live() {
			continue
		}
		o.pacer.MarkTrade(rec.Symbol, o.now())
		o.ledger.Release(rec.Symbol)
		report.Outcomes = append(report.Outcomes, Outcome{
			Symbol: rec.Symbol,
			Action: ActionClosed,
			Reason: fmt.Sprintf("order %s, pnl %s", next.Status, next.PnL.StringFixed(4)),
		})
	}
}

// SyncCapital refreshes the ledger outside a cycle and returns available
// capital.
func (o *Orchestrator) SyncCapital(ctx context.Context) float64 {
	return o.syncLedger(ctx)
}

// syncLedger re-derives available capital from the wallet and the live
// records. A wallet failure keeps the previous total.
func (o *Orchestrator) syncLedger(ctx context.Context) float64 {
	bal, err := o.wallet.GetWalletBalance(ctx, o.config.Coin)
	if err != nil {
		log.Warn().Err(err).Str("coin", o.config.Coin).Msg("Wallet balance unavailable, keeping last total")
	} else {
		equity, _ := bal.Equity.Float64()
		o.ledger.SetTotal(equity)
	}
	o.ledger.Reset(o.executor.Committed())
	return o.ledger.Available()
}

// checkExits runs the exit check for every live record. Exit closes a
// filled position or cancels a working order, then flattens whatever the
// order had already filled.
func (o *Orchestrator) checkExits(ctx context.Context, report *CycleReport) {
	for _, rec := range o.executor.Active() {
		if rec.Status == exchange.StatusCreated {
			continue
		}
		candles, err := o.scanner.Window(ctx, rec.Symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", rec.Symbol).Msg("Exit check skipped")
			continue
		}
		d := o.decider.EvaluateExit(ctx, rec.Symbol, candles, rec.Direction)
		if d.Kind != trading.Exit {
			continue
		}

		switch {
		case rec.HoldsPosition():
			err = o.executor.ClosePosition(ctx, rec.Symbol)
		case rec.Status == exchange.StatusPartiallyFilled || rec.FilledQty.IsPositive():
			if err = o.executor.CancelOrder(ctx, rec.Symbol); err == nil {
				err = o.executor.ClosePosition(ctx, rec.Symbol)
			}
		default:
			err = o.executor.CancelOrder(ctx, rec.Symbol)
		}
		out := Outcome{Symbol: rec.Symbol, Decision: d.Kind, Action: ActionClosed, Reason: d.Reasoning()}
		if err != nil {
			out.Action = ActionFailed
			out.Reason = err.Error()
			log.Warn().Err(err).Str("symbol", rec.Symbol).Msg("Exit failed")
		}
		report.Outcomes = append(report.Outcomes, out)
	}
}

// decideBatch runs the aggregator for every candidate with bounded
// concurrency. Results keep candidate order.
func (o *Orchestrator) decideBatch(ctx context.Context, candidates []scan.Candidate) []*trading.TradingDecision {
	out := make([]*trading.TradingDecision, len(candidates))
	semaphore := make(chan struct{}, o.config.MaxConcurrent)

	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c scan.Candidate) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			out[i] = o.decider.Decide(ctx, c.Symbol, c.Candles)
		}(i, c)
	}
	wg.Wait()
	return out
}

// enter applies the loop's entry policies to one decision and executes it.
// Entries run one at a time in rank order. decided is the available capital
// the decision was sized against; the size is scaled down to what earlier
// entries of the cycle left over.
func (o *Orchestrator) enter(ctx context.Context, symbol string, d *trading.TradingDecision, decided float64) Outcome {
	out := Outcome{Symbol: symbol, Decision: d.Kind}
	if !d.Admitted() {
		out.Action = ActionHeld
		return out
	}
	direction, _ := d.Kind.Direction()
	now := o.now()

	if left := o.pacer.Cooldown(symbol, now); left > 0 {
		out.Action = ActionSkipped
		out.Reason = fmt.Sprintf("cooldown %s remaining", left.Round(time.Second))
		return out
	}
	if deferred, until := o.pacer.Deferred(now); deferred {
		o.metrics.RecordPacingDeferral()
		out.Action = ActionDeferred
		out.Reason = fmt.Sprintf("pacing until %s", until.Format(time.RFC3339))
		log.Debug().Str("symbol", symbol).Time("until", until).Msg("Entry deferred by pacing")
		return out
	}

	sizing := d.Risk
	avail := o.ledger.Available()
	if avail <= 0 {
		out.Action = ActionSkipped
		out.Reason = "no capital available"
		return out
	}
	if decided > 0 && avail < decided {
		scaled := *d.Risk
		scaled.PositionSize *= avail / decided
		sizing = &scaled
		log.Debug().Str("symbol", symbol).Float64("size", scaled.PositionSize).Float64("available", avail).Msg("Entry resized to remaining capital")
	}

	rec, err := o.executor.ExecuteTrade(ctx, symbol, direction, sizing, d.Price)
	switch {
	case err == nil:
		o.pacer.RecordEntry(symbol, now)
		o.ledger.Commit(symbol, rec.Margin)
		out.Action = ActionExecuted
		return out
	case errors.Is(err, execution.ErrActiveOrderExists),
		errors.Is(err, execution.ErrConcurrencyCap),
		errors.Is(err, execution.ErrInvalidQuantity):
		out.Action = ActionSkipped
	case errors.Is(err, exchange.ErrTimeout):
		// outcome unknown; the record holds the symbol until resolved
		o.pacer.MarkTrade(symbol, now)
		o.ledger.Commit(symbol, rec.Margin)
		out.Action = ActionFailed
	default:
		o.pacer.MarkTrade(symbol, now)
		out.Action = ActionFailed
	}
	out.Reason = err.Error()
	log.Warn().Err(err).Str("symbol", symbol).Str("action", string(out.Action)).Msg("Entry not executed")
	return out
}
