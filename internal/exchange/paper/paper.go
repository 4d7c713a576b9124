// Package paper is a deterministic in-memory venue for dry runs and tests.
// Klines follow a seeded random walk per symbol; market orders fill at the
// last close and attached take-profit and stop-loss prices trigger as new
// bars arrive.
package paper

import (
	"context"
	"crypto/md5"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
	"github.com/sawpanic/cryptotrader/internal/exchange"
)

// Config sets the simulated market.
type Config struct {
	Coin           string             `yaml:"coin"`
	InitialBalance float64            `yaml:"initial_balance"`
	Interval       time.Duration      `yaml:"interval"`
	HistoryBars    int                `yaml:"history_bars"`
	Volatility     float64            `yaml:"volatility"` // per-bar, 0.01 = 1%
	BasePrices     map[string]float64 `yaml:"base_prices"`
	Seed           int64              `yaml:"seed"`
}

// DefaultConfig returns a paper account with 1000 USDT.
func DefaultConfig() Config {
	return Config{
		Coin:           "USDT",
		InitialBalance: 1000,
		Interval:       time.Hour,
		HistoryBars:    500,
		Volatility:     0.01,
		BasePrices: map[string]float64{
			"BTCUSDT":  64000,
			"ETHUSDT":  3200,
			"SOLUSDT":  150,
			"BNBUSDT":  580,
			"XRPUSDT":  0.52,
			"ADAUSDT":  0.45,
			"DOGEUSDT": 0.12,
		},
	}
}

// Validate checks the simulation parameters.
func (c Config) Validate() error {
	if c.Coin == "" {
		return fmt.Errorf("paper coin is required")
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("paper initial_balance must be positive, got %.2f", c.InitialBalance)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("paper interval must be positive, got %s", c.Interval)
	}
	if c.HistoryBars < 1 {
		return fmt.Errorf("paper history_bars must be >= 1, got %d", c.HistoryBars)
	}
	if c.Volatility < 0 || c.Volatility > 0.5 {
		return fmt.Errorf("paper volatility must be in [0,0.5], got %.4f", c.Volatility)
	}
	return nil
}

type series struct {
	rng     *rand.Rand
	bias    float64
	candles []trading.Candle
}

// Exchange implements exchange.Exchange in memory.
type Exchange struct {
	mu     sync.Mutex
	config Config
	now    func() time.Time

	cash      decimal.Decimal
	series    map[string]*series
	orders    map[string]*exchange.Order
	byClient  map[string]string
	positions map[string]*exchange.Position
	leverage  map[string]decimal.Decimal
}

// New creates a paper venue.
func New(config Config) *Exchange {
	return &Exchange{
		config:    config,
		now:       time.Now,
		cash:      decimal.NewFromFloat(config.InitialBalance),
		series:    make(map[string]*series),
		orders:    make(map[string]*exchange.Order),
		byClient:  make(map[string]string),
		positions: make(map[string]*exchange.Position),
		leverage:  make(map[string]decimal.Decimal),
	}
}

// SetClock replaces the time source. Bars are appended as the clock
// advances past the next interval boundary.
func (e *Exchange) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func symbolSeed(symbol string, seed int64) int64 {
	hash := md5.Sum([]byte(symbol))
	var s int64
	for i := 0; i < 8; i++ {
		s = s<<8 | int64(hash[i])
	}
	return s ^ seed
}

// load returns the symbol series, generating history on first use and
// appending bars up to now. Caller holds e.mu.
func (e *Exchange) load(symbol string) *series {
	s, ok := e.series[symbol]
	if !ok {
		rng := rand.New(rand.NewSource(symbolSeed(symbol, e.config.Seed)))
		s = &series{rng: rng, bias: (rng.Float64() - 0.5) * 0.002}
		base := e.config.BasePrices[symbol]
		if base <= 0 {
			base = 10 + rng.Float64()*90
		}
		end := e.now().Truncate(e.config.Interval)
		start := end.Add(-time.Duration(e.config.HistoryBars-1) * e.config.Interval)
		price := base
		for t := start; !t.After(end); t = t.Add(e.config.Interval) {
			c := e.bar(s, t, price)
			s.candles = append(s.candles, c)
			price = c.Close
		}
		e.series[symbol] = s
		log.Debug().Str("symbol", symbol).Int("bars", len(s.candles)).Msg("Generated paper history")
		return s
	}

	end := e.now().Truncate(e.config.Interval)
	for last := s.candles[len(s.candles)-1]; last.OpenTime.Before(end); last = s.candles[len(s.candles)-1] {
		c := e.bar(s, last.OpenTime.Add(e.config.Interval), last.Close)
		s.candles = append(s.candles, c)
		e.trigger(symbol, c)
	}
	return s
}

func (e *Exchange) bar(s *series, openTime time.Time, open float64) trading.Candle {
	vol := e.config.Volatility
	move := s.bias + s.rng.NormFloat64()*vol
	closePrice := math.Max(open*(1+move), open*0.5)
	wick := math.Abs(s.rng.NormFloat64()) * vol * 0.5
	high := math.Max(open, closePrice) * (1 + wick)
	low := math.Min(open, closePrice) * (1 - wick)
	volume := 100 + math.Abs(move)*10000 + s.rng.Float64()*200
	return trading.Candle{
		OpenTime: openTime,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    closePrice,
		Volume:   volume,
	}
}

func (e *Exchange) mark(symbol string) float64 {
	s := e.load(symbol)
	return s.candles[len(s.candles)-1].Close
}

// SetPrice appends a bar that moves symbol to price, triggering attached
// exits. Tests use it to force fills.
func (e *Exchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.load(symbol)
	last := s.candles[len(s.candles)-1]
	c := trading.Candle{
		OpenTime: last.OpenTime.Add(e.config.Interval),
		Open:     last.Close,
		High:     math.Max(last.Close, price),
		Low:      math.Min(last.Close, price),
		Close:    price,
		Volume:   last.Volume,
	}
	s.candles = append(s.candles, c)
	e.trigger(symbol, c)
}

// trigger closes a position whose stop or target lies inside the bar. The
// stop is checked first. Caller holds e.mu.
func (e *Exchange) trigger(symbol string, c trading.Candle) {
	p, ok := e.positions[symbol]
	if !ok || p.Size.IsZero() {
		return
	}
	sl, _ := p.StopLoss.Float64()
	tp, _ := p.TakeProfit.Float64()
	var exit float64
	var reason string
	switch p.Side {
	case exchange.Buy:
		switch {
		case sl > 0 && c.Low <= sl:
			exit, reason = sl, "stop_loss"
		case tp > 0 && c.High >= tp:
			exit, reason = tp, "take_profit"
		}
	case exchange.Sell:
		switch {
		case sl > 0 && c.High >= sl:
			exit, reason = sl, "stop_loss"
		case tp > 0 && c.Low <= tp:
			exit, reason = tp, "take_profit"
		}
	}
	if reason == "" {
		return
	}
	pnl := e.reduce(symbol, p.Size, decimal.NewFromFloat(exit))
	log.Info().Str("symbol", symbol).Str("reason", reason).Float64("exit", exit).
		Str("pnl", pnl.StringFixed(4)).Msg("Paper position closed by attached exit")
}

// reduce closes qty of the position at price and books the PnL. Caller
// holds e.mu.
func (e *Exchange) reduce(symbol string, qty, price decimal.Decimal) decimal.Decimal {
	p := e.positions[symbol]
	if qty.GreaterThan(p.Size) {
		qty = p.Size
	}
	pnl := price.Sub(p.EntryPrice).Mul(qty)
	if p.Side == exchange.Sell {
		pnl = pnl.Neg()
	}
	e.cash = e.cash.Add(pnl)
	p.RealisedPnL = p.RealisedPnL.Add(pnl)
	p.Size = p.Size.Sub(qty)
	if p.Size.IsZero() {
		p.UnrealisedPnL = decimal.Zero
		p.TakeProfit = decimal.Zero
		p.StopLoss = decimal.Zero
	}
	return pnl
}

func (e *Exchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]trading.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := parseInterval(interval)
	if err != nil {
		return nil, err
	}
	if d != e.config.Interval {
		return nil, fmt.Errorf("paper: interval %s not served, configured %s", interval, e.config.Interval)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.load(symbol)
	from := 0
	if limit > 0 && limit < len(s.candles) {
		from = len(s.candles) - limit
	}
	out := make([]trading.Candle, len(s.candles)-from)
	copy(out, s.candles[from:])
	return out, nil
}

func (e *Exchange) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	if !leverage.IsPositive() {
		return fmt.Errorf("paper: leverage must be positive, got %s", leverage)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.leverage[symbol]; ok && cur.Equal(leverage) {
		return exchange.ErrLeverageNotModified
	}
	e.leverage[symbol] = leverage
	return nil
}

func (e *Exchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Type != exchange.Market {
		return nil, fmt.Errorf("paper: %s orders are not supported", req.Type)
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("paper: quantity must be positive, got %s", req.Quantity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.ClientOrderID != "" {
		if _, dup := e.byClient[req.ClientOrderID]; dup {
			return nil, fmt.Errorf("paper: duplicate client order id %s", req.ClientOrderID)
		}
	}

	now := e.now()
	price := decimal.NewFromFloat(e.mark(req.Symbol))
	order := &exchange.Order{
		OrderID:       uuid.New().String(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		ReduceOnly:    req.ReduceOnly,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.fill(order, req, price); err != nil {
		return nil, err
	}

	e.orders[order.OrderID] = order
	if req.ClientOrderID != "" {
		e.byClient[req.ClientOrderID] = order.OrderID
	}

	ack := *order
	ack.Status = exchange.StatusNew
	ack.FilledQty = decimal.Zero
	ack.AvgFillPrice = decimal.Zero
	return &ack, nil
}

// fill executes a market order at price. Caller holds e.mu.
func (e *Exchange) fill(order *exchange.Order, req exchange.OrderRequest, price decimal.Decimal) error {
	p, open := e.positions[req.Symbol]
	if open && p.Size.IsZero() {
		open = false
	}

	if req.ReduceOnly {
		if !open || p.Side == req.Side {
			return fmt.Errorf("paper: reduce-only order for %s would open a position", req.Symbol)
		}
		qty := decimal.Min(req.Quantity, p.Size)
		e.reduce(req.Symbol, qty, price)
		order.Status = exchange.StatusFilled
		order.FilledQty = qty
		order.AvgFillPrice = price
		return nil
	}

	if open && p.Side != req.Side {
		return fmt.Errorf("paper: %s already holds a %s position", req.Symbol, p.Side)
	}

	lev, ok := e.leverage[req.Symbol]
	if !ok {
		lev = decimal.NewFromInt(1)
	}
	margin := req.Quantity.Mul(price).Div(lev)
	if margin.GreaterThan(e.availableLocked()) {
		return fmt.Errorf("paper: insufficient margin for %s: need %s, available %s",
			req.Symbol, margin.StringFixed(2), e.availableLocked().StringFixed(2))
	}

	if open {
		total := p.Size.Add(req.Quantity)
		p.EntryPrice = p.EntryPrice.Mul(p.Size).Add(price.Mul(req.Quantity)).Div(total)
		p.Size = total
	} else {
		p = &exchange.Position{
			Symbol:      req.Symbol,
			Side:        req.Side,
			Size:        req.Quantity,
			EntryPrice:  price,
			RealisedPnL: decimal.Zero,
		}
		e.positions[req.Symbol] = p
	}
	p.Leverage = lev
	if !req.TakeProfit.IsZero() {
		p.TakeProfit = req.TakeProfit
	}
	if !req.StopLoss.IsZero() {
		p.StopLoss = req.StopLoss
	}
	order.Status = exchange.StatusFilled
	order.FilledQty = req.Quantity
	order.AvgFillPrice = price
	return nil
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok || o.Symbol != symbol || o.Status.IsTerminal() {
		return fmt.Errorf("paper: cancel %s %s: %w", symbol, orderID, exchange.ErrOrderNotFound)
	}
	o.Status = exchange.StatusCancelled
	o.UpdatedAt = e.now()
	return nil
}

func (e *Exchange) GetOrder(ctx context.Context, q exchange.OrderQuery) (*exchange.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := q.OrderID
	if id == "" {
		id = e.byClient[q.ClientOrderID]
	}
	o, ok := e.orders[id]
	if !ok || (q.Symbol != "" && o.Symbol != q.Symbol) {
		return nil, exchange.ErrOrderNotFound
	}
	out := *o
	return &out, nil
}

func (e *Exchange) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mark := decimal.NewFromFloat(e.mark(symbol))
	p, ok := e.positions[symbol]
	if !ok {
		return []exchange.Position{{Symbol: symbol, MarkPrice: mark}}, nil
	}
	out := *p
	out.MarkPrice = mark
	out.UnrealisedPnL = unrealised(p, mark)
	return []exchange.Position{out}, nil
}

func (e *Exchange) GetWalletBalance(ctx context.Context, coin string) (*exchange.Balance, error) {
	if coin != e.config.Coin {
		return nil, fmt.Errorf("paper: no %s wallet", coin)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	equity := e.cash
	for symbol, p := range e.positions {
		if p.Size.IsZero() {
			continue
		}
		equity = equity.Add(unrealised(p, decimal.NewFromFloat(e.mark(symbol))))
	}
	return &exchange.Balance{Coin: coin, Equity: equity, Available: e.availableLocked()}, nil
}

// availableLocked is cash minus margin held by open positions.
func (e *Exchange) availableLocked() decimal.Decimal {
	used := decimal.Zero
	for _, p := range e.positions {
		if p.Size.IsZero() || !p.Leverage.IsPositive() {
			continue
		}
		used = used.Add(p.Size.Mul(p.EntryPrice).Div(p.Leverage))
	}
	avail := e.cash.Sub(used)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

func unrealised(p *exchange.Position, mark decimal.Decimal) decimal.Decimal {
	if p.Size.IsZero() {
		return decimal.Zero
	}
	pnl := mark.Sub(p.EntryPrice).Mul(p.Size)
	if p.Side == exchange.Sell {
		return pnl.Neg()
	}
	return pnl
}

// parseInterval accepts venue style intervals ("1", "60", "D") and Go
// durations ("1h").
func parseInterval(interval string) (time.Duration, error) {
	switch strings.ToUpper(interval) {
	case "D", "1D":
		return 24 * time.Hour, nil
	case "W", "1W":
		return 7 * 24 * time.Hour, nil
	}
	if n, err := strconv.Atoi(interval); err == nil && n > 0 {
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("paper: unknown interval %q", interval)
	}
	return d, nil
}
