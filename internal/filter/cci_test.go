package filter

import (
	"context"
	"strings"
	"testing"
	"time"

	"signal-trader/internal/model"
	"signal-trader/pkg/exchange"
)

// klineExchange serves canned candles; everything else is unused by filters.
type klineExchange struct {
	candles []exchange.Candle
	calls   int
}

func (k *klineExchange) Name() string { return "FakeFutures" }
func (k *klineExchange) PlaceOrder(context.Context, exchange.OrderRequest) (bool, error) {
	return false, nil
}
func (k *klineExchange) SymbolExists(context.Context, string) (bool, error)       { return true, nil }
func (k *klineExchange) SymbolDigits(context.Context, string) (int, error)        { return 2, nil }
func (k *klineExchange) LastPrice(context.Context, string) (float64, error)       { return 0, nil }
func (k *klineExchange) SetStopLoss(context.Context, string, bool, float64) error { return nil }
func (k *klineExchange) PositionInfo(context.Context, string) (exchange.PositionSnapshot, error) {
	return exchange.PositionSnapshot{}, nil
}
func (k *klineExchange) Events() *exchange.Hub { return nil }

func (k *klineExchange) Klines(context.Context, string, exchange.KlinePeriod, time.Time, time.Time) ([]exchange.Candle, error) {
	k.calls++
	return k.candles, nil
}

// trendCandles builds a steady series: rising for positive step, falling for
// negative.
func trendCandles(n int, start, step float64) []exchange.Candle {
	out := make([]exchange.Candle, n)
	price := start
	for i := range out {
		out[i] = exchange.Candle{
			High:  price + 1,
			Low:   price - 1,
			Close: price,
		}
		price += step
	}
	return out
}

func TestCciFilterPassesLongInUptrend(t *testing.T) {
	ex := &klineExchange{candles: trendCandles(60, 100, 1)}
	f := NewCciFilter("BTCUSD", 20, 0)
	n := &model.Notification{SymbolName: "ETHUSDT", Signal: 1}

	pass, err := f.Pass(context.Background(), nil, n, ex)
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if !pass {
		t.Fatalf("long vetoed in uptrend: %s", f.Message())
	}
}

func TestCciFilterVetoesLongInDowntrend(t *testing.T) {
	ex := &klineExchange{candles: trendCandles(60, 200, -1)}
	f := NewCciFilter("BTCUSD", 20, 0)
	n := &model.Notification{SymbolName: "ETHUSDT", Signal: 1}

	pass, err := f.Pass(context.Background(), nil, n, ex)
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if pass {
		t.Fatal("long passed in downtrend")
	}
	if !strings.Contains(f.Message(), "Could not pass filter CciFilter for ETHUSDT") {
		t.Fatalf("veto message wrong: %q", f.Message())
	}
}

func TestCciFilterPassesShortInDowntrend(t *testing.T) {
	ex := &klineExchange{candles: trendCandles(60, 200, -1)}
	f := NewCciFilter("BTCUSD", 20, 0)
	n := &model.Notification{SymbolName: "ETHUSDT", Signal: -1}

	pass, err := f.Pass(context.Background(), nil, n, ex)
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if !pass {
		t.Fatalf("short vetoed in downtrend: %s", f.Message())
	}
}

func TestCciFilterCachesDailyValues(t *testing.T) {
	ex := &klineExchange{candles: trendCandles(60, 100, 1)}
	f := NewCciFilter("BTCUSD", 20, 0)
	n := &model.Notification{SymbolName: "ETHUSDT", Signal: 1}

	for i := 0; i < 3; i++ {
		if _, err := f.Pass(context.Background(), nil, n, ex); err != nil {
			t.Fatalf("Pass %d: %v", i, err)
		}
	}
	if ex.calls != 1 {
		t.Fatalf("kline fetches: %d, expected 1 (cached per UTC day)", ex.calls)
	}
}

func TestCciFilterRejectsTooFewCandles(t *testing.T) {
	ex := &klineExchange{candles: trendCandles(5, 100, 1)}
	f := NewCciFilter("BTCUSD", 20, 0)
	n := &model.Notification{SymbolName: "ETHUSDT", Signal: 1}

	if _, err := f.Pass(context.Background(), nil, n, ex); err == nil {
		t.Fatal("expected error for insufficient history")
	}
}

func TestNewResolvesConfiguredFilters(t *testing.T) {
	f, err := New(&model.FilterConfig{Name: CciFilterName, Symbol: "BTCUSD", Period: 20})
	if err != nil || f == nil {
		t.Fatalf("New: f=%v err=%v", f, err)
	}
	if _, err := New(&model.FilterConfig{Name: "Bogus"}); err == nil {
		t.Fatal("unknown filter accepted")
	}
	if f, err := New(nil); err != nil || f != nil {
		t.Fatalf("nil config: f=%v err=%v", f, err)
	}
}
