// Package postgres persists order lifecycle records.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/cryptotrader/internal/domain/trading"
	"github.com/sawpanic/cryptotrader/internal/exchange"
	"github.com/sawpanic/cryptotrader/internal/execution"
)

//go:embed schema.sql
var schema string

// Config holds database connection configuration
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultConfig returns pool defaults with the journal disabled.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    5 * time.Second,
	}
}

// Validate checks the connection settings when the journal is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.DSN == "" {
		return errors.New("dsn is required when the journal is enabled")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("max_open_conns must be >= 1, got %d", c.MaxOpenConns)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive, got %s", c.QueryTimeout)
	}
	return nil
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

type orderRow struct {
	ClientOrderID string          `db:"client_order_id"`
	OrderID       string          `db:"order_id"`
	Symbol        string          `db:"symbol"`
	Direction     string          `db:"direction"`
	Side          string          `db:"side"`
	Status        string          `db:"status"`
	EntryPrice    decimal.Decimal `db:"entry_price"`
	Quantity      decimal.Decimal `db:"quantity"`
	FilledQty     decimal.Decimal `db:"filled_qty"`
	Leverage      decimal.Decimal `db:"leverage"`
	StopLoss      decimal.Decimal `db:"stop_loss"`
	TakeProfit    decimal.Decimal `db:"take_profit"`
	Margin        float64         `db:"margin"`
	Closed        bool            `db:"closed"`
	PnL           decimal.Decimal `db:"pnl"`
	Error         string          `db:"error"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func toRow(o execution.OrderState) orderRow {
	return orderRow{
		ClientOrderID: o.ClientOrderID,
		OrderID:       o.OrderID,
		Symbol:        o.Symbol,
		Direction:     o.Direction.String(),
		Side:          string(o.Side),
		Status:        string(o.Status),
		EntryPrice:    o.EntryPrice,
		Quantity:      o.Quantity,
		FilledQty:     o.FilledQty,
		Leverage:      o.Leverage,
		StopLoss:      o.StopLoss,
		TakeProfit:    o.TakeProfit,
		Margin:        o.Margin,
		Closed:        o.Closed,
		PnL:           o.PnL,
		Error:         o.Error,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func (r orderRow) state() (execution.OrderState, error) {
	var dir trading.Direction
	if err := dir.UnmarshalText([]byte(r.Direction)); err != nil {
		return execution.OrderState{}, err
	}
	return execution.OrderState{
		Symbol:        r.Symbol,
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Direction:     dir,
		Side:          exchange.Side(r.Side),
		Status:        exchange.OrderStatus(r.Status),
		EntryPrice:    r.EntryPrice,
		Quantity:      r.Quantity,
		FilledQty:     r.FilledQty,
		Leverage:      r.Leverage,
		StopLoss:      r.StopLoss,
		TakeProfit:    r.TakeProfit,
		Margin:        r.Margin,
		Closed:        r.Closed,
		PnL:           r.PnL,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}

const upsertOrder = `
	INSERT INTO orders (client_order_id, order_id, symbol, direction, side, status,
		entry_price, quantity, filled_qty, leverage, stop_loss, take_profit,
		margin, closed, pnl, error, created_at, updated_at)
	VALUES (:client_order_id, :order_id, :symbol, :direction, :side, :status,
		:entry_price, :quantity, :filled_qty, :leverage, :stop_loss, :take_profit,
		:margin, :closed, :pnl, :error, :created_at, :updated_at)
	ON CONFLICT (client_order_id) DO UPDATE SET
		order_id = EXCLUDED.order_id,
		status = EXCLUDED.status,
		entry_price = EXCLUDED.entry_price,
		filled_qty = EXCLUDED.filled_qty,
		closed = EXCLUDED.closed,
		pnl = EXCLUDED.pnl,
		error = EXCLUDED.error,
		updated_at = EXCLUDED.updated_at`

const insertEvent = `
	INSERT INTO order_events (client_order_id, status, pnl, error, ts)
	VALUES ($1, $2, $3, $4, $5)`

// OrderJournal records every order state transition. It satisfies
// execution.Journal.
type OrderJournal struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOrderJournal creates a journal over db.
func NewOrderJournal(db *sqlx.DB, timeout time.Duration) *OrderJournal {
	return &OrderJournal{db: db, timeout: timeout}
}

// Migrate creates the journal tables if they do not exist.
func (j *OrderJournal) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Record upserts the current state of o and appends a status event in one
// transaction.
func (j *OrderJournal) Record(ctx context.Context, o execution.OrderState) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, upsertOrder, toRow(o)); err != nil {
		return classify(fmt.Sprintf("upsert order %s", o.ClientOrderID), err)
	}
	if _, err := tx.ExecContext(ctx, insertEvent, o.ClientOrderID, string(o.Status), o.PnL, o.Error, o.UpdatedAt); err != nil {
		return classify(fmt.Sprintf("insert event %s", o.ClientOrderID), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order %s: %w", o.ClientOrderID, err)
	}
	return nil
}

// Recent returns the latest order records, newest first.
func (j *OrderJournal) Recent(ctx context.Context, limit int) ([]execution.OrderState, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	var rows []orderRow
	err := j.db.SelectContext(ctx, &rows, `
		SELECT client_order_id, order_id, symbol, direction, side, status,
			entry_price, quantity, filled_qty, leverage, stop_loss, take_profit,
			margin, closed, pnl, error, created_at, updated_at
		FROM orders
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent orders: %w", err)
	}

	out := make([]execution.OrderState, 0, len(rows))
	for _, r := range rows {
		s, err := r.state()
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", r.ClientOrderID, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("failed to %s: postgres %s (%s): %w", op, pqErr.Code, pqErr.Code.Name(), err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
