package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
	"github.com/sawpanic/cryptotrader/internal/metrics"
)

// scriptedExchange returns queued errors per operation, then succeeds.
type scriptedExchange struct {
	mu     sync.Mutex
	errs   map[string][]error
	calls  map[string]int
	blocks bool
}

func newScripted() *scriptedExchange {
	return &scriptedExchange{errs: map[string][]error{}, calls: map[string]int{}}
}

func (s *scriptedExchange) next(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	var err error
	if q := s.errs[op]; len(q) > 0 {
		err, s.errs[op] = q[0], q[1:]
	}
	blocks := s.blocks
	s.mu.Unlock()

	if blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *scriptedExchange) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *scriptedExchange) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := s.next(ctx, "place_order"); err != nil {
		return nil, err
	}
	return &Order{OrderID: "1", ClientOrderID: req.ClientOrderID, Status: StatusNew}, nil
}

func (s *scriptedExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return s.next(ctx, "cancel_order")
}

func (s *scriptedExchange) GetOrder(ctx context.Context, q OrderQuery) (*Order, error) {
	if err := s.next(ctx, "get_order"); err != nil {
		return nil, err
	}
	return &Order{OrderID: q.OrderID, Status: StatusFilled}, nil
}

func (s *scriptedExchange) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	return nil, s.next(ctx, "get_positions")
}

func (s *scriptedExchange) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	return s.next(ctx, "set_leverage")
}

func (s *scriptedExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]trading.Candle, error) {
	return nil, s.next(ctx, "get_klines")
}

func (s *scriptedExchange) GetWalletBalance(ctx context.Context, coin string) (*Balance, error) {
	if err := s.next(ctx, "get_wallet_balance"); err != nil {
		return nil, err
	}
	return &Balance{Coin: coin, Equity: decimal.NewFromInt(1000)}, nil
}

func testResilient(inner Exchange, m *metrics.Registry) *Resilient {
	cfg := DefaultResilienceConfig()
	cfg.RPS = 1000
	cfg.Burst = 1000
	cfg.CallTimeout = 20 * time.Millisecond
	cfg.Circuit.FailureThreshold = 3
	r := NewResilient(inner, cfg, m)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

var errTransient = errors.New("502 bad gateway")

func TestResilient_PlaceOrderIsNeverRetried(t *testing.T) {
	inner := newScripted()
	inner.errs["place_order"] = []error{errTransient}
	r := testResilient(inner, nil)

	_, err := r.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT"})

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, inner.count("place_order"))
}

func TestResilient_ReadsRetryTransientErrors(t *testing.T) {
	inner := newScripted()
	inner.errs["get_order"] = []error{errTransient, errTransient}
	m := metrics.NewRegistry()
	r := testResilient(inner, m)

	o, err := r.GetOrder(context.Background(), OrderQuery{Symbol: "BTCUSDT", OrderID: "7"})

	require.NoError(t, err)
	assert.Equal(t, StatusFilled, o.Status)
	assert.Equal(t, 3, inner.count("get_order"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExchangeCalls.WithLabelValues("get_order", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExchangeCalls.WithLabelValues("get_order", "success")))
}

func TestResilient_ReadsGiveUpAfterMaxRetries(t *testing.T) {
	inner := newScripted()
	inner.errs["get_positions"] = []error{errTransient, errTransient, errTransient, errTransient, errTransient}
	r := testResilient(inner, nil)
	r.config.Circuit.FailureThreshold = 100

	_, err := r.GetPositions(context.Background(), "BTCUSDT")

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, inner.count("get_positions"))
}

func TestResilient_NotFoundIsNotRetriedNorCounted(t *testing.T) {
	inner := newScripted()
	inner.errs["get_order"] = []error{ErrOrderNotFound, ErrOrderNotFound, ErrOrderNotFound, ErrOrderNotFound}
	r := testResilient(inner, nil)

	for i := 0; i < 4; i++ {
		_, err := r.GetOrder(context.Background(), OrderQuery{ClientOrderID: "abc"})
		require.ErrorIs(t, err, ErrOrderNotFound)
	}
	assert.Equal(t, 4, inner.count("get_order"))
	assert.Equal(t, gobreaker.StateClosed, r.BreakerState("get_order"))
}

func TestResilient_TimeoutIsClassified(t *testing.T) {
	inner := newScripted()
	inner.blocks = true
	r := testResilient(inner, nil)

	_, err := r.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT"})

	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, inner.count("place_order"))
}

func TestResilient_BreakerOpensPerOperation(t *testing.T) {
	inner := newScripted()
	inner.errs["place_order"] = []error{errTransient, errTransient, errTransient}
	m := metrics.NewRegistry()
	r := testResilient(inner, m)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT"})
		require.ErrorIs(t, err, errTransient)
	}

	_, err := r.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT"})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, inner.count("place_order"))
	assert.Equal(t, gobreaker.StateOpen, r.BreakerState("place_order"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("place_order")))

	// other operations keep their own breaker
	_, err = r.GetWalletBalance(ctx, "USDT")
	assert.NoError(t, err)
}

func TestResilient_LeverageNotModifiedPassesThrough(t *testing.T) {
	inner := newScripted()
	inner.errs["set_leverage"] = []error{ErrLeverageNotModified}
	r := testResilient(inner, nil)

	err := r.SetLeverage(context.Background(), "BTCUSDT", decimal.NewFromInt(10))

	assert.ErrorIs(t, err, ErrLeverageNotModified)
	assert.Equal(t, 1, inner.count("set_leverage"))
}

func TestResilient_Backoff(t *testing.T) {
	r := testResilient(newScripted(), nil)
	assert.Equal(t, 200*time.Millisecond, r.backoff(1))
	assert.Equal(t, 400*time.Millisecond, r.backoff(2))
	assert.Equal(t, 800*time.Millisecond, r.backoff(3))
	assert.Equal(t, 2*time.Second, r.backoff(6))
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	for _, s := range []OrderStatus{StatusFilled, StatusCancelled, StatusRejected} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []OrderStatus{StatusCreated, StatusNew, StatusPartiallyFilled, StatusPendingCancel} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestOpenPosition(t *testing.T) {
	_, ok := OpenPosition([]Position{{Symbol: "BTCUSDT"}})
	assert.False(t, ok)

	p, ok := OpenPosition([]Position{{Symbol: "BTCUSDT"}, {Symbol: "BTCUSDT", Size: decimal.NewFromFloat(0.5)}})
	require.True(t, ok)
	assert.Equal(t, "0.5", p.Size.String())
}
