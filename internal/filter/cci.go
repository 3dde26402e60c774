package filter

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"signal-trader/internal/model"
	"signal-trader/pkg/calc"
	"signal-trader/pkg/exchange"
)

// CciFilterName identifies the CCI trend-confirmation filter in config.
const CciFilterName = "CciFilter"

// CciFilter gates executions on the Commodity Channel Index of a reference
// symbol: longs pass while CCI > 0, shorts while CCI < 0. Daily values are
// cached and refreshed once the cached data is stale relative to the UTC
// date rollover.
type CciFilter struct {
	symbol string
	period int
	offset int

	mu          sync.Mutex
	values      []float64
	lastRefresh time.Time
	message     string
}

// NewCciFilter builds the filter for a reference symbol. offset selects how
// many days back the evaluated value lies (0 = latest candle).
func NewCciFilter(symbol string, period, offset int) *CciFilter {
	if period <= 0 {
		period = 20
	}
	if offset < 0 {
		offset = 0
	}
	return &CciFilter{symbol: symbol, period: period, offset: offset}
}

// Name implements Filter.
func (f *CciFilter) Name() string { return CciFilterName }

// Message implements Filter.
func (f *CciFilter) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

// Pass implements Filter.
func (f *CciFilter) Pass(ctx context.Context, _ *model.Signal, n *model.Notification, ex exchange.Exchange) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.message = ""
	if err := f.refresh(ctx, ex); err != nil {
		return false, fmt.Errorf("cci filter refresh: %w", err)
	}

	idx := len(f.values) - 1 - f.offset
	if idx < 0 {
		return false, fmt.Errorf("cci filter: only %d values for offset %d", len(f.values), f.offset)
	}
	cci := f.values[idx]

	if n.Signal > 0 && cci > 0 {
		return true, nil
	}
	if n.Signal < 0 && cci < 0 {
		return true, nil
	}

	f.message = fmt.Sprintf("Could not pass filter %s for %s. CCI is %.2f", CciFilterName, n.SymbolName, calc.Round(cci, 2))
	log.Printf("filter: %s", f.message)
	return false, nil
}

// refresh reloads the daily candles when the cache is empty or the UTC day
// has rolled over since the last load.
func (f *CciFilter) refresh(ctx context.Context, ex exchange.Exchange) error {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if len(f.values) > 0 && f.lastRefresh.Equal(today) {
		return nil
	}

	lookback := time.Duration(f.period*2+f.offset+1) * 24 * time.Hour
	candles, err := ex.Klines(ctx, f.symbol, exchange.PeriodDay, now.Add(-lookback), now)
	if err != nil {
		return err
	}
	if len(candles) < f.period+1 {
		return fmt.Errorf("need at least %d candles, got %d", f.period+1, len(candles))
	}

	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
	}

	f.values = talib.Cci(high, low, closes, f.period)
	f.lastRefresh = today
	return nil
}
