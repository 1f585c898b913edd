package marketdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// CandleBuilder aggregates ticks into M1 bars, one in-progress bar per
// symbol (spec.md §4.1). It processes ticks for a given symbol strictly in
// arrival order; ticks across symbols are independent (spec.md §5).
type CandleBuilder struct {
	mu      sync.Mutex
	logger  *zap.Logger
	store   *CandleStore
	current map[string]*types.Candle
}

// NewCandleBuilder builds a CandleBuilder writing finalized bars into store.
func NewCandleBuilder(logger *zap.Logger, store *CandleStore) *CandleBuilder {
	return &CandleBuilder{
		logger:  logger.Named("candle-builder"),
		store:   store,
		current: make(map[string]*types.Candle),
	}
}

func minuteBucket(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), 0, 0, time.UTC)
}

// OnTick folds one tick into the current M1 bar for its symbol, finalizing
// and emitting the previous bar into CandleStore when the minute boundary
// rolls over (spec.md §4.1). Volume is tick count.
func (b *CandleBuilder) OnTick(tick types.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := minuteBucket(tick.Time)
	mid := tick.Mid()
	cur := b.current[tick.Symbol]

	if cur == nil || !cur.StartTime.Equal(bucket) {
		if cur != nil {
			b.store.AddCandle(tick.Symbol, *cur)
		}
		b.current[tick.Symbol] = &types.Candle{
			Symbol:    tick.Symbol,
			TF:        types.TF_M1,
			Open:      mid,
			High:      mid,
			Low:       mid,
			Close:     mid,
			Volume:    decimal.NewFromInt(1),
			StartTime: bucket,
			EndTime:   bucket.Add(time.Minute),
		}
		return
	}

	if mid.GreaterThan(cur.High) {
		cur.High = mid
	}
	if mid.LessThan(cur.Low) {
		cur.Low = mid
	}
	cur.Close = mid
	cur.Volume = cur.Volume.Add(decimal.NewFromInt(1))
}

// Flush finalizes and stores the in-progress bar for symbol without
// waiting for the next tick's minute rollover. Used on shutdown so the
// final partial bar is not lost.
func (b *CandleBuilder) Flush(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur := b.current[symbol]; cur != nil {
		b.store.AddCandle(symbol, *cur)
		delete(b.current, symbol)
	}
}
