package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order side as the venue names it.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// Opposite returns the side that reduces a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType selects market or limit execution.
type OrderType string

const (
	Market OrderType = "Market"
	Limit  OrderType = "Limit"
)

// OrderStatus is the lifecycle state of an order record.
type OrderStatus string

const (
	// StatusCreated marks a record whose placement has not been
	// acknowledged by the venue yet.
	StatusCreated         OrderStatus = "Created"
	StatusNew             OrderStatus = "New"
	StatusPartiallyFilled OrderStatus = "PartiallyFilled"
	StatusFilled          OrderStatus = "Filled"
	StatusCancelled       OrderStatus = "Cancelled"
	StatusRejected        OrderStatus = "Rejected"
	StatusPendingCancel   OrderStatus = "PendingCancel"
)

// IsTerminal reports whether no further transition is possible for the
// order itself.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// OrderRequest is a placement. TakeProfit and StopLoss are attached to the
// resulting position when non-zero.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	TakeProfit    decimal.Decimal
	StopLoss      decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// Order is the venue view of an order.
type Order struct {
	OrderID       string          `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	Status        OrderStatus     `json:"status"`
	Quantity      decimal.Decimal `json:"quantity"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	Price         decimal.Decimal `json:"price"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	ReduceOnly    bool            `json:"reduce_only"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	RejectReason  string          `json:"reject_reason,omitempty"`
}

// OrderQuery identifies an order by venue id or, when the placement
// outcome is unknown, by client order id.
type OrderQuery struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
}

// Position is an open position. Size is zero when flat.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	Leverage      decimal.Decimal `json:"leverage"`
	TakeProfit    decimal.Decimal `json:"take_profit"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	UnrealisedPnL decimal.Decimal `json:"unrealised_pnl"`
	RealisedPnL   decimal.Decimal `json:"realised_pnl"`
}

// Balance is the wallet balance for one coin.
type Balance struct {
	Coin      string          `json:"coin"`
	Equity    decimal.Decimal `json:"equity"`
	Available decimal.Decimal `json:"available"`
}
