package db

import (
	"context"
	"testing"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	return d
}

func TestInsertAndListTrades(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	trades := []TradeRecord{
		{ID: "t1", Symbol: "BTCUSDT", Strategy: "FixedTakeProfit", IsShort: false, EntryPrice: 50000, ExitPrice: 52500, Quantity: 0.01, PnL: 25, Reason: "Sold"},
		{ID: "t2", Symbol: "ETHUSDT", Strategy: "TrailingStopLoss", IsShort: true, EntryPrice: 3000, ExitPrice: 2900, Quantity: 0.5, PnL: 50, Reason: "Sold"},
		{ID: "t3", Symbol: "XRPUSDT", Strategy: "FixedTakeProfit", IsShort: false, EntryPrice: 0, ExitPrice: 0, Quantity: 0, PnL: 0, Reason: "Cancelled"},
	}
	for _, tr := range trades {
		if err := d.InsertTrade(ctx, tr); err != nil {
			t.Fatalf("InsertTrade(%s): %v", tr.ID, err)
		}
	}

	got, err := d.RecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d trades, expected 3", len(got))
	}
	byID := map[string]TradeRecord{}
	for _, tr := range got {
		byID[tr.ID] = tr
	}
	if !byID["t2"].IsShort {
		t.Fatal("t2 should be short")
	}
	if byID["t3"].Reason != "Cancelled" {
		t.Fatalf("t3 reason=%q", byID["t3"].Reason)
	}
}

func TestInsertNotification(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	rec := NotificationRecord{ID: "n1", Type: 1, SignalTypeID: 2, Symbol: "BTCUSDT", Signal: 1, SignalPrice: 50000, StopLoss: 49000}
	if err := d.InsertNotification(ctx, rec); err != nil {
		t.Fatalf("InsertNotification: %v", err)
	}

	var count int
	if err := d.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count=%d, expected 1", count)
	}
}
