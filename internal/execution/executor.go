// Package execution owns order placement, status tracking and position
// closing for admitted trades.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
	"github.com/sawpanic/cryptotrader/internal/events"
	"github.com/sawpanic/cryptotrader/internal/exchange"
	"github.com/sawpanic/cryptotrader/internal/metrics"
)

var (
	ErrActiveOrderExists = errors.New("symbol already has a live order")
	ErrConcurrencyCap    = errors.New("live position cap reached")
	ErrNoActiveOrder     = errors.New("no live order for symbol")
	ErrInvalidQuantity   = errors.New("computed quantity is not positive")
)

// Config controls order construction.
type Config struct {
	MaxActive         int     `yaml:"max_active"`
	QuantityPrecision int32   `yaml:"quantity_precision"`
	PricePrecision    int32   `yaml:"price_precision"`
	MinNotional       float64 `yaml:"min_notional"`
}

// DefaultConfig returns the production order settings.
func DefaultConfig() Config {
	return Config{
		MaxActive:         3,
		QuantityPrecision: 3,
		PricePrecision:    4,
		MinNotional:       5,
	}
}

// Validate checks the order settings.
func (c Config) Validate() error {
	if c.MaxActive < 1 {
		return fmt.Errorf("max_active must be >= 1, got %d", c.MaxActive)
	}
	if c.QuantityPrecision < 0 || c.PricePrecision < 0 {
		return fmt.Errorf("precisions must be >= 0, got quantity %d price %d", c.QuantityPrecision, c.PricePrecision)
	}
	if c.MinNotional < 0 {
		return fmt.Errorf("min_notional must be >= 0, got %.2f", c.MinNotional)
	}
	return nil
}

// Journal persists order records. Failures are logged and never block
// trading.
type Journal interface {
	Record(ctx context.Context, o OrderState) error
}

// Option configures an Executor.
type Option func(*Executor)

// WithPublisher sets the sink for order and position events.
func WithPublisher(p events.Publisher) Option {
	return func(e *Executor) { e.publisher = p }
}

// WithMetrics sets the registry that counts orders and realised PnL.
func WithMetrics(m *metrics.Registry) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithJournal sets the store that persists every record transition.
func WithJournal(j Journal) Option {
	return func(e *Executor) { e.journal = j }
}

// Executor is the execution state machine. It is the only writer of the
// live order map.
type Executor struct {
	config    Config
	exchange  exchange.Exchange
	publisher events.Publisher
	metrics   *metrics.Registry
	journal   Journal
	now       func() time.Time

	mu      sync.RWMutex
	active  map[string]*OrderState
	records map[string]*OrderState
}

// NewExecutor creates an executor over the exchange port.
func NewExecutor(config Config, ex exchange.Exchange, opts ...Option) *Executor {
	e := &Executor{
		config:    config,
		exchange:  ex,
		publisher: events.Nop,
		now:       time.Now,
		active:    make(map[string]*OrderState),
		records:   make(map[string]*OrderState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteTrade places an entry for symbol. Sizing gives the margin, leverage
// and exit distances; price is the reference entry price. Invariant
// violations are rejected before any exchange call.
func (e *Executor) ExecuteTrade(ctx context.Context, symbol string, direction trading.Direction, sizing *trading.RiskAssessment, price float64) (OrderState, error) {
	if sizing == nil || price <= 0 || direction.Sign() == 0 {
		return OrderState{}, fmt.Errorf("execute %s: %w: sizing, price and direction are required", symbol, ErrInvalidQuantity)
	}

	leverage := decimal.NewFromFloat(sizing.Leverage)
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}
	entry := decimal.NewFromFloat(price)
	notional := decimal.NewFromFloat(sizing.PositionSize).Mul(leverage)
	qty := notional.Div(entry).Truncate(e.config.QuantityPrecision)
	if !qty.IsPositive() || qty.Mul(entry).LessThan(decimal.NewFromFloat(e.config.MinNotional)) {
		return OrderState{}, fmt.Errorf("execute %s: %w: %s at %s with notional %s", symbol, ErrInvalidQuantity,
			qty, entry, notional.StringFixed(2))
	}

	sign := direction.Sign()
	side := exchange.Buy
	if direction == trading.Short {
		side = exchange.Sell
	}
	now := e.now()
	rec := &OrderState{
		Symbol:        symbol,
		ClientOrderID: uuid.New().String(),
		Direction:     direction,
		Side:          side,
		Status:        exchange.StatusCreated,
		EntryPrice:    entry,
		Quantity:      qty,
		FilledQty:     decimal.Zero,
		Leverage:      leverage,
		StopLoss:      decimal.NewFromFloat(price * (1 - sign*sizing.StopLossPct/100)).Round(e.config.PricePrecision),
		TakeProfit:    decimal.NewFromFloat(price * (1 + sign*sizing.TakeProfitPct/100)).Round(e.config.PricePrecision),
		Margin:        sizing.PositionSize,
		PnL:           decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.reserve(rec); err != nil {
		return OrderState{}, err
	}

	if err := e.exchange.SetLeverage(ctx, symbol, leverage); err != nil && !errors.Is(err, exchange.ErrLeverageNotModified) {
		return e.reject(ctx, rec, fmt.Errorf("set leverage %s: %w", symbol, err))
	}

	ack, err := e.exchange.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          exchange.Market,
		Quantity:      qty,
		TakeProfit:    rec.TakeProfit,
		StopLoss:      rec.StopLoss,
		ClientOrderID: rec.ClientOrderID,
	})
	if err != nil {
		if errors.Is(err, exchange.ErrTimeout) {
			// The venue may have accepted it; keep the symbol held until a
			// status poll resolves the client order id.
			snap := e.update(rec, func(o *OrderState) { o.Error = err.Error() })
			log.Warn().Err(err).Str("symbol", symbol).Str("client_order_id", rec.ClientOrderID).
				Msg("Order placement outcome unknown")
			e.record(ctx, snap)
			return snap, fmt.Errorf("place order %s: %w", symbol, err)
		}
		return e.reject(ctx, rec, fmt.Errorf("place order %s: %w", symbol, err))
	}

	snap := e.update(rec, func(o *OrderState) {
		o.OrderID = ack.OrderID
		o.Status = exchange.StatusNew
	})
	e.metrics.RecordOrder(string(snap.Status))
	e.record(ctx, snap)
	log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("qty", qty.String()).
		Str("leverage", leverage.String()).
		Str("order_id", ack.OrderID).
		Msg("Order placed")
	e.publisher.Publish(events.New(events.OrderPlaced, symbol,
		fmt.Sprintf("%s %s %s x%s", side, qty, symbol, leverage), map[string]any{
			"order_id":        ack.OrderID,
			"client_order_id": rec.ClientOrderID,
			"side":            string(side),
			"quantity":        qty.String(),
		}).WithPayload(snap))
	return snap, nil
}

func (e *Executor) reserve(rec *OrderState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.active[rec.Symbol]; ok {
		return fmt.Errorf("execute %s: %w (status %s)", rec.Symbol, ErrActiveOrderExists, cur.Status)
	}
	if len(e.active) >= e.config.MaxActive {
		return fmt.Errorf("execute %s: %w (%d/%d)", rec.Symbol, ErrConcurrencyCap, len(e.active), e.config.MaxActive)
	}
	e.active[rec.Symbol] = rec
	e.records[rec.Symbol] = rec
	e.metrics.SetLivePositions(len(e.active))
	return nil
}

// reject marks a placement failure. The record leaves the live set so no
// phantom order holds the symbol.
func (e *Executor) reject(ctx context.Context, rec *OrderState, cause error) (OrderState, error) {
	snap, _ := e.finalize(rec, func(o *OrderState) {
		o.Status = exchange.StatusRejected
		o.Error = cause.Error()
	})
	e.metrics.RecordOrder(string(snap.Status))
	e.record(ctx, snap)
	log.Warn().Err(cause).Str("symbol", rec.Symbol).Msg("Order rejected")
	e.publisher.Publish(events.New(events.OrderFailed, rec.Symbol, cause.Error(), map[string]any{
		"client_order_id": rec.ClientOrderID,
	}).WithPayload(snap))
	return snap, cause
}

// update mutates rec under the lock and returns a copy.
func (e *Executor) update(rec *OrderState, fn func(*OrderState)) OrderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(rec)
	rec.UpdatedAt = e.now()
	return *rec
}

// finalize applies fn and evicts rec from the live set if it is no longer
// live. removed is true only for the call that evicted it.
func (e *Executor) finalize(rec *OrderState, fn func(*OrderState)) (OrderState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(rec)
	rec.UpdatedAt = e.now()
	removed := false
	if !rec.Live() && e.active[rec.Symbol] == rec {
		delete(e.active, rec.Symbol)
		removed = true
	}
	e.metrics.SetLivePositions(len(e.active))
	return *rec, removed
}

func (e *Executor) live(symbol string) (*OrderState, OrderState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.active[symbol]
	if !ok {
		return nil, OrderState{}, false
	}
	return rec, *rec, true
}

// UpdateStatus polls the venue for the live record of symbol and applies
// the transition. A record leaves the live set when its order ends
// unfilled or its position is flat.
func (e *Executor) UpdateStatus(ctx context.Context, symbol string) (OrderState, error) {
	rec, snap, ok := e.live(symbol)
	if !ok {
		return OrderState{}, fmt.Errorf("update %s: %w", symbol, ErrNoActiveOrder)
	}

	if snap.HoldsPosition() {
		return e.syncPosition(ctx, rec)
	}

	q := exchange.OrderQuery{Symbol: symbol, OrderID: snap.OrderID}
	if snap.OrderID == "" {
		q.ClientOrderID = snap.ClientOrderID
	}
	order, err := e.exchange.GetOrder(ctx, q)
	if err != nil {
		if snap.Status == exchange.StatusCreated && errors.Is(err, exchange.ErrOrderNotFound) {
			return e.reject(ctx, rec, fmt.Errorf("placement of %s not found on venue: %w", snap.ClientOrderID, err))
		}
		return snap, fmt.Errorf("update %s: %w", symbol, err)
	}

	prev := snap.Status
	next, removed := e.finalize(rec, func(o *OrderState) {
		o.OrderID = order.OrderID
		o.Status = order.Status
		o.FilledQty = order.FilledQty
		if order.AvgFillPrice.IsPositive() {
			o.EntryPrice = order.AvgFillPrice
		}
		if order.RejectReason != "" {
			o.Error = order.RejectReason
		}
	})
	if next.Status != prev {
		e.metrics.RecordOrder(string(next.Status))
		e.record(ctx, next)
		log.Info().Str("symbol", symbol).Str("from", string(prev)).Str("to", string(next.Status)).Msg("Order status changed")
	}

	switch {
	case next.Status == exchange.StatusFilled:
		if next.Status != prev {
			e.publisher.Publish(events.New(events.OrderFilled, symbol,
				fmt.Sprintf("%s %s %s at %s", next.Side, next.FilledQty, symbol, next.EntryPrice), map[string]any{
					"order_id":  next.OrderID,
					"avg_price": next.EntryPrice.String(),
				}).WithPayload(next))
		}
		return e.syncPosition(ctx, rec)
	case next.HoldsPosition():
		// Partial fill left on the venue; the record lives until the
		// position is flat.
		if next.Status != prev {
			e.publisher.Publish(events.New(events.OrderCancelled, symbol,
				fmt.Sprintf("ended %s with %s filled", next.Status, next.FilledQty), nil).WithPayload(next))
		}
		return e.syncPosition(ctx, rec)
	case removed && next.Status == exchange.StatusCancelled:
		e.publisher.Publish(events.New(events.OrderCancelled, symbol, "cancelled on venue", nil).WithPayload(next))
	case removed:
		e.publisher.Publish(events.New(events.OrderFailed, symbol, next.Error, nil).WithPayload(next))
	}
	return next, nil
}

// syncPosition reads the venue position behind a filled record. A flat
// position closes the record and captures its realised PnL.
func (e *Executor) syncPosition(ctx context.Context, rec *OrderState) (OrderState, error) {
	positions, err := e.exchange.GetPositions(ctx, rec.Symbol)
	if err != nil {
		e.mu.RLock()
		snap := *rec
		e.mu.RUnlock()
		return snap, fmt.Errorf("positions %s: %w", rec.Symbol, err)
	}

	if _, open := exchange.OpenPosition(positions); open {
		return e.update(rec, func(o *OrderState) { o.PositionOpen = true }), nil
	}

	pnl := decimal.Zero
	for _, p := range positions {
		pnl = pnl.Add(p.RealisedPnL)
	}
	snap, removed := e.finalize(rec, func(o *OrderState) {
		o.PositionOpen = false
		o.Closed = true
		o.PnL = pnl
	})
	if !removed {
		return snap, nil
	}

	pnlf, _ := pnl.Float64()
	e.metrics.RecordRealizedPnL(pnlf)
	e.record(ctx, snap)
	log.Info().Str("symbol", rec.Symbol).Str("pnl", pnl.StringFixed(4)).Msg("Position closed")
	e.publisher.Publish(events.New(events.PositionClosed, rec.Symbol,
		fmt.Sprintf("%s %s closed pnl %s", rec.Symbol, snap.Direction, pnl.StringFixed(4)), map[string]any{
			"pnl":       pnlf,
			"direction": snap.Direction.String(),
		}).WithPayload(snap))
	return snap, nil
}

// ClosePosition flattens whatever position the venue reports for symbol
// with a reduce-only market order. No position is a no-op. The live record
// is left for UpdateStatus to close once the venue shows it flat.
func (e *Executor) ClosePosition(ctx context.Context, symbol string) error {
	positions, err := e.exchange.GetPositions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("close %s: positions: %w", symbol, err)
	}
	pos, open := exchange.OpenPosition(positions)
	if !open {
		log.Debug().Str("symbol", symbol).Msg("No position to close")
		return nil
	}

	side := pos.Side.Opposite()
	if pos.Side == "" {
		if _, snap, ok := e.live(symbol); ok {
			side = snap.Side.Opposite()
		}
	}
	_, err = e.exchange.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          exchange.Market,
		Quantity:      pos.Size.Abs(),
		ReduceOnly:    true,
		ClientOrderID: uuid.New().String(),
	})
	if err != nil {
		return fmt.Errorf("close %s: %w", symbol, err)
	}
	log.Info().Str("symbol", symbol).Str("side", string(side)).Str("qty", pos.Size.String()).Msg("Close order placed")
	return nil
}

// CancelOrder cancels the working order of symbol. An order with no fills
// is evicted; a partially filled one keeps its record until the venue
// position is flat. A failed cancel keeps the record.
func (e *Executor) CancelOrder(ctx context.Context, symbol string) error {
	rec, snap, ok := e.live(symbol)
	if !ok {
		return fmt.Errorf("cancel %s: %w", symbol, ErrNoActiveOrder)
	}
	if snap.OrderID == "" {
		return fmt.Errorf("cancel %s: placement %s not acknowledged yet", symbol, snap.ClientOrderID)
	}
	if snap.HoldsPosition() {
		return fmt.Errorf("cancel %s: order already %s, close the position instead", symbol, snap.Status)
	}
	if err := e.exchange.CancelOrder(ctx, symbol, snap.OrderID); err != nil {
		return fmt.Errorf("cancel %s: %w", symbol, err)
	}

	prev := snap.Status
	next, removed := e.finalize(rec, func(o *OrderState) { o.Status = exchange.StatusCancelled })
	if !removed && next.Status == prev {
		return nil
	}
	e.metrics.RecordOrder(string(next.Status))
	e.record(ctx, next)
	e.publisher.Publish(events.New(events.OrderCancelled, symbol, "cancelled", nil).WithPayload(next))
	if next.HoldsPosition() {
		if _, err := e.syncPosition(ctx, rec); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Position check after partial cancel failed")
		}
	}
	return nil
}

func (e *Executor) record(ctx context.Context, o OrderState) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(ctx, o); err != nil {
		log.Warn().Err(err).Str("symbol", o.Symbol).Str("status", string(o.Status)).Msg("Order journal write failed")
	}
}

// Get returns the latest record for symbol, live or terminal.
func (e *Executor) Get(symbol string) (OrderState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[symbol]
	if !ok {
		return OrderState{}, false
	}
	return *rec, true
}

// Active returns copies of the live records ordered by symbol.
func (e *Executor) Active() []OrderState {
	e.mu.RLock()
	out := make([]OrderState, 0, len(e.active))
	for _, rec := range e.active {
		out = append(out, *rec)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ActiveCount returns the number of live records.
func (e *Executor) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// IsLive reports whether symbol holds a live record.
func (e *Executor) IsLive(symbol string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.active[symbol]
	return ok
}

// Committed returns the margin held by each live record.
func (e *Executor) Committed() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.active))
	for symbol, rec := range e.active {
		out[symbol] = rec.Margin
	}
	return out
}
