// Package exchange defines the venue port used by execution and the
// orchestration loop, and a resilience wrapper around it.
package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrTimeout             = errors.New("exchange call timed out")
	ErrCircuitOpen         = errors.New("exchange circuit open")
	ErrRateLimited         = errors.New("exchange rate limited")
	ErrLeverageNotModified = errors.New("leverage not modified")
)

// Exchange is the venue port. Implementations must be safe for concurrent
// use.
type Exchange interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, q OrderQuery) (*Order, error)
	GetPositions(ctx context.Context, symbol string) ([]Position, error)
	SetLeverage(ctx context.Context, symbol string, leverage decimal.Decimal) error
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]trading.Candle, error)
	GetWalletBalance(ctx context.Context, coin string) (*Balance, error)
}

// OpenPosition returns the first non-zero position in positions.
func OpenPosition(positions []Position) (Position, bool) {
	for _, p := range positions {
		if !p.Size.IsZero() {
			return p, true
		}
	}
	return Position{}, false
}
