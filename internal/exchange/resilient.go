package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
	"github.com/sawpanic/cryptotrader/internal/metrics"
)

// ResilienceConfig bounds every call made through Resilient.
type ResilienceConfig struct {
	RPS         float64       `yaml:"rps"`
	Burst       int           `yaml:"burst"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	Backoff     BackoffConfig `yaml:"backoff"`
	Circuit     CircuitConfig `yaml:"circuit"`
}

// BackoffConfig is the exponential backoff for idempotent calls.
type BackoffConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Base       time.Duration `yaml:"base"`
	Max        time.Duration `yaml:"max"`
}

// CircuitConfig configures the per-operation breakers.
type CircuitConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"` // consecutive failures to open
	HalfOpenRequests uint32        `yaml:"half_open_requests"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	Interval         time.Duration `yaml:"interval"`
}

// DefaultResilienceConfig returns limits suited to a retail venue account.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		RPS:         10,
		Burst:       20,
		CallTimeout: 5 * time.Second,
		Backoff: BackoffConfig{
			MaxRetries: 3,
			Base:       200 * time.Millisecond,
			Max:        2 * time.Second,
		},
		Circuit: CircuitConfig{
			FailureThreshold: 5,
			HalfOpenRequests: 1,
			OpenTimeout:      30 * time.Second,
			Interval:         time.Minute,
		},
	}
}

// Validate checks the resilience limits.
func (c ResilienceConfig) Validate() error {
	if c.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %.2f", c.RPS)
	}
	if c.Burst < 1 {
		return fmt.Errorf("burst must be >= 1, got %d", c.Burst)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %s", c.CallTimeout)
	}
	if c.Backoff.MaxRetries < 0 {
		return fmt.Errorf("backoff.max_retries must be >= 0, got %d", c.Backoff.MaxRetries)
	}
	if c.Circuit.FailureThreshold == 0 {
		return fmt.Errorf("circuit.failure_threshold must be >= 1")
	}
	return nil
}

// Resilient wraps an Exchange with rate limiting, per-operation circuit
// breakers and call timeouts. Idempotent calls are retried with backoff;
// PlaceOrder and CancelOrder are attempted exactly once.
type Resilient struct {
	inner   Exchange
	config  ResilienceConfig
	limiter *rate.Limiter
	metrics *metrics.Registry
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewResilient wraps inner. m may be nil.
func NewResilient(inner Exchange, config ResilienceConfig, m *metrics.Registry) *Resilient {
	return &Resilient{
		inner:    inner,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.RPS), config.Burst),
		metrics:  m,
		sleep:    sleepContext,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (r *Resilient) breaker(op string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[op]; ok {
		return cb
	}
	threshold := r.config.Circuit.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        op,
		MaxRequests: r.config.Circuit.HalfOpenRequests,
		Interval:    r.config.Circuit.Interval,
		Timeout:     r.config.Circuit.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("operation", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Exchange circuit breaker state changed")
			r.metrics.SetBreakerState(name, float64(to))
		},
		// Venue answers about order or leverage state are not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrLeverageNotModified)
		},
	})
	r.breakers[op] = cb
	return cb
}

// BreakerState returns the current state of the breaker for op.
func (r *Resilient) BreakerState(op string) gobreaker.State {
	return r.breaker(op).State()
}

func (r *Resilient) call(ctx context.Context, op string, idempotent bool, fn func(ctx context.Context) error) error {
	attempts := 1
	if idempotent {
		attempts += r.config.Backoff.MaxRetries
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if werr := r.sleep(ctx, r.backoff(attempt)); werr != nil {
				return err
			}
			log.Debug().Str("operation", op).Int("attempt", attempt+1).Err(err).Msg("Retrying exchange call")
		}
		err = r.once(ctx, op, fn)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return err
}

func (r *Resilient) once(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		r.metrics.RecordExchangeCall(op, "rate_limited")
		return fmt.Errorf("%s: %w: %v", op, ErrRateLimited, err)
	}

	_, err := r.breaker(op).Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
		defer cancel()
		err := fn(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%s after %s: %w", op, r.config.CallTimeout, ErrTimeout)
		}
		return nil, err
	})

	switch {
	case err == nil:
		r.metrics.RecordExchangeCall(op, "success")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		r.metrics.RecordExchangeCall(op, "circuit_open")
		return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
	case errors.Is(err, ErrTimeout):
		r.metrics.RecordExchangeCall(op, "timeout")
	default:
		r.metrics.RecordExchangeCall(op, "error")
	}
	return err
}

func (r *Resilient) backoff(attempt int) time.Duration {
	d := r.config.Backoff.Base << (attempt - 1)
	if limit := r.config.Backoff.Max; limit > 0 && (d > limit || d <= 0) {
		d = limit
	}
	return d
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrLeverageNotModified),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Resilient) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var out *Order
	err := r.call(ctx, "place_order", false, func(ctx context.Context) error {
		var err error
		out, err = r.inner.PlaceOrder(ctx, req)
		return err
	})
	return out, err
}

func (r *Resilient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return r.call(ctx, "cancel_order", false, func(ctx context.Context) error {
		return r.inner.CancelOrder(ctx, symbol, orderID)
	})
}

func (r *Resilient) GetOrder(ctx context.Context, q OrderQuery) (*Order, error) {
	var out *Order
	err := r.call(ctx, "get_order", true, func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetOrder(ctx, q)
		return err
	})
	return out, err
}

func (r *Resilient) GetPositions(ctx context.Context, symbol string) ([]Position, error) {
	var out []Position
	err := r.call(ctx, "get_positions", true, func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetPositions(ctx, symbol)
		return err
	})
	return out, err
}

func (r *Resilient) SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error {
	return r.call(ctx, "set_leverage", true, func(ctx context.Context) error {
		return r.inner.SetLeverage(ctx, symbol, leverage)
	})
}

func (r *Resilient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]trading.Candle, error) {
	var out []trading.Candle
	err := r.call(ctx, "get_klines", true, func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetKlines(ctx, symbol, interval, limit)
		return err
	})
	return out, err
}

func (r *Resilient) GetWalletBalance(ctx context.Context, coin string) (*Balance, error) {
	var out *Balance
	err := r.call(ctx, "get_wallet_balance", true, func(ctx context.Context) error {
		var err error
		out, err = r.inner.GetWalletBalance(ctx, coin)
		return err
	})
	return out, err
}
