package execution

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
	"github.com/sawpanic/cryptotrader/internal/exchange"
)

// OrderState is the lifecycle record of one entry order and the position it
// opened. At most one live record exists per symbol.
type OrderState struct {
	Symbol        string               `json:"symbol"`
	OrderID       string               `json:"order_id,omitempty"`
	ClientOrderID string               `json:"client_order_id"`
	Direction     trading.Direction    `json:"direction"`
	Side          exchange.Side        `json:"side"`
	Status        exchange.OrderStatus `json:"status"`
	EntryPrice    decimal.Decimal      `json:"entry_price"`
	Quantity      decimal.Decimal      `json:"quantity"`
	FilledQty     decimal.Decimal      `json:"filled_qty"`
	Leverage      decimal.Decimal      `json:"leverage"`
	StopLoss      decimal.Decimal      `json:"stop_loss"`
	TakeProfit    decimal.Decimal      `json:"take_profit"`
	Margin        float64              `json:"margin"`
	PositionOpen  bool                 `json:"position_open"`
	Closed        bool                 `json:"closed"`
	PnL           decimal.Decimal      `json:"pnl"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// HoldsPosition reports whether the order put quantity on the venue: it
// filled, or it ended with a partial fill.
func (o OrderState) HoldsPosition() bool {
	if o.Status == exchange.StatusFilled {
		return true
	}
	return o.Status.IsTerminal() && o.FilledQty.IsPositive()
}

// Live reports whether the record still holds its symbol: the order is
// working, or it put quantity on the venue and the position has not closed
// yet.
func (o OrderState) Live() bool {
	if o.HoldsPosition() {
		return !o.Closed
	}
	return !o.Status.IsTerminal()
}
