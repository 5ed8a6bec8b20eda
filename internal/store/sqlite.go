// Package store persists terminal orders and closed positions to SQLite so
// history survives restarts and feeds reporting.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tradebot/internal/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	exchange_order_id TEXT,
	idempotency_key TEXT,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	quantity TEXT NOT NULL,
	filled_quantity TEXT NOT NULL,
	price TEXT,
	avg_fill_price TEXT,
	strategy_id TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
CREATE INDEX IF NOT EXISTS idx_orders_strategy ON orders(strategy_id);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	avg_entry_price TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	strategy_id TEXT,
	opened_at TIMESTAMP,
	closed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol);
`

// SQLiteArchive implements core.IArchive on a local SQLite database
type SQLiteArchive struct {
	db     *sql.DB
	logger core.ILogger
}

// NewSQLiteArchive opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for tests.
func NewSQLiteArchive(path string, logger core.ILogger) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &SQLiteArchive{
		db:     db,
		logger: logger.WithField("component", "archive"),
	}, nil
}

// SaveOrder upserts a terminal order
func (a *SQLiteArchive) SaveOrder(ctx context.Context, order *core.Order) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO orders
		(id, exchange_order_id, idempotency_key, symbol, side, type, status,
		 quantity, filled_quantity, price, avg_fill_price, strategy_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			filled_quantity = excluded.filled_quantity,
			avg_fill_price = excluded.avg_fill_price,
			updated_at = excluded.updated_at`,
		order.ID, order.ExchangeOrderID, order.IdempotencyKey, order.Symbol,
		string(order.Side), string(order.Type), string(order.Status),
		order.Quantity.String(), order.FilledQuantity.String(),
		order.Price.String(), order.AvgFillPrice.String(),
		order.StrategyID, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	return nil
}

// SavePosition upserts a position record
func (a *SQLiteArchive) SavePosition(ctx context.Context, pos *core.Position) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO positions
		(id, symbol, side, quantity, avg_entry_price, realized_pnl, strategy_id, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quantity = excluded.quantity,
			avg_entry_price = excluded.avg_entry_price,
			realized_pnl = excluded.realized_pnl,
			closed_at = excluded.closed_at`,
		pos.ID, pos.Symbol, string(pos.Side), pos.Quantity.String(),
		pos.AvgEntryPrice.String(), pos.RealizedPnL.String(),
		pos.StrategyID, pos.OpenedAt, nullableTime(pos.ClosedAt))
	if err != nil {
		return fmt.Errorf("save position %s: %w", pos.ID, err)
	}
	return nil
}

// RecentOrders returns the most recently updated orders, newest first
func (a *SQLiteArchive) RecentOrders(ctx context.Context, limit int) ([]*core.Order, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, exchange_order_id, idempotency_key, symbol, side, type, status,
		       quantity, filled_quantity, price, avg_fill_price, strategy_id, created_at, updated_at
		FROM orders ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*core.Order
	for rows.Next() {
		var o core.Order
		var side, typ, status, qty, filled, price, avg string
		if err := rows.Scan(&o.ID, &o.ExchangeOrderID, &o.IdempotencyKey, &o.Symbol,
			&side, &typ, &status, &qty, &filled, &price, &avg,
			&o.StrategyID, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Side = core.Side(side)
		o.Type = core.OrderType(typ)
		o.Status = core.OrderStatus(status)
		if o.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if o.FilledQuantity, err = decimal.NewFromString(filled); err != nil {
			return nil, err
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if o.AvgFillPrice, err = decimal.NewFromString(avg); err != nil {
			return nil, err
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

// ClosedPositions returns archived positions with a close time, oldest first
func (a *SQLiteArchive) ClosedPositions(ctx context.Context) ([]core.Position, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, avg_entry_price, realized_pnl, strategy_id, opened_at, closed_at
		FROM positions WHERE closed_at IS NOT NULL ORDER BY closed_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []core.Position
	for rows.Next() {
		var p core.Position
		var side, qty, entry, pnl string
		var closedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.Symbol, &side, &qty, &entry, &pnl,
			&p.StrategyID, &p.OpenedAt, &closedAt); err != nil {
			return nil, err
		}
		p.Side = core.Side(side)
		if p.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if p.AvgEntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, err
		}
		if p.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			p.ClosedAt = closedAt.Time
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// PruneOrders deletes orders last updated before the cutoff and returns the
// number removed
func (a *SQLiteArchive) PruneOrders(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM orders WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
