package db

import (
	"context"
	"time"
)

// NotificationRecord is one accepted alert as journaled at admission.
type NotificationRecord struct {
	ID           string
	Type         int
	SignalTypeID int
	Symbol       string
	Signal       int
	SignalPrice  float64
	StopLoss     float64
}

// TradeRecord is one finished position lifecycle.
type TradeRecord struct {
	ID         string
	Symbol     string
	Strategy   string
	IsShort    bool
	EntryPrice float64
	ExitPrice  float64
	Quantity   float64
	PnL        float64
	Reason     string
	ClosedAt   time.Time
}

// InsertNotification journals an accepted alert.
func (d *Database) InsertNotification(ctx context.Context, rec NotificationRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO notifications (id, type, signal_type_id, symbol, signal, signal_price, stop_loss)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Type, rec.SignalTypeID, rec.Symbol, rec.Signal, rec.SignalPrice, rec.StopLoss)
	return err
}

// InsertTrade journals a finished position lifecycle.
func (d *Database) InsertTrade(ctx context.Context, rec TradeRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, strategy, is_short, entry_price, exit_price, quantity, pnl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, rec.Strategy, boolToInt(rec.IsShort), rec.EntryPrice, rec.ExitPrice,
		rec.Quantity, rec.PnL, rec.Reason)
	return err
}

// RecentTrades returns the latest closed trades, newest first.
func (d *Database) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, strategy, is_short, entry_price, exit_price, quantity, pnl, reason, closed_at
		FROM trades ORDER BY closed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var rec TradeRecord
		var short int
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Strategy, &short, &rec.EntryPrice,
			&rec.ExitPrice, &rec.Quantity, &rec.PnL, &rec.Reason, &rec.ClosedAt); err != nil {
			return nil, err
		}
		rec.IsShort = short != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
