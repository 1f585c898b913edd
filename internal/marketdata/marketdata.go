// Package marketdata implements tick ingestion, M1 candle aggregation,
// historical backfill, and multi-timeframe aggregation on demand
// (spec.md §4.1). CandleStore is the sole owner of candle state; Strategy
// (internal/smc) holds only a read-only handle to MarketData (spec.md §9).
package marketdata

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/broker"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// MarketData aggregates M1 candles into M5/M15/H1/H4 on demand
// (spec.md §4.1 contract).
type MarketData struct {
	logger *zap.Logger
	store  *CandleStore
}

// NewMarketData builds a MarketData facade over store.
func NewMarketData(logger *zap.Logger, store *CandleStore) *MarketData {
	return &MarketData{logger: logger.Named("marketdata"), store: store}
}

// GetRecentCandles returns up to `limit` most-recent candles for symbol at
// tf, ascending. excludeInProgress drops a still-forming final bar — the
// strategy path excludes it; order-flow callers may include it
// (spec.md §4.1).
func (m *MarketData) GetRecentCandles(symbol string, tf types.Timeframe, limit int, excludeInProgress bool) []types.Candle {
	// Pull extra M1 bars so the aggregation has full buckets to work with.
	fetch := limit * tf.Minutes()
	if fetch < limit {
		fetch = limit
	}
	fetch += tf.Minutes() // pad for a possibly-partial leading bucket
	m1 := m.store.Recent(symbol, fetch)

	bars := Aggregate(m1, tf)

	if excludeInProgress && len(bars) > 0 {
		last := bars[len(bars)-1]
		if time.Now().UTC().Before(last.EndTime) {
			bars = bars[:len(bars)-1]
		}
	}

	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars
}

// Ready reports whether symbol has at least minM1 bars of M1 history,
// the backfill warm-up invariant strategies check before evaluating.
func (m *MarketData) Ready(symbol string, minM1 int) bool {
	return m.store.Len(symbol) >= minM1
}

// Store exposes the underlying CandleStore for components (CandleBuilder,
// HistoricalBackfill) that must write to it.
func (m *MarketData) Store() *CandleStore { return m.store }

// HistoricalBackfill is the one-shot loader that populates CandleStore on
// boot (spec.md §4.1). It never fails the boot sequence: broker errors are
// logged and skipped per-symbol, leaving partial data, which is acceptable.
type HistoricalBackfill struct {
	logger *zap.Logger
	broker *broker.Client
	store  *CandleStore
	days   int
}

// NewHistoricalBackfill builds a backfill loader for the given broker
// client and target store, requesting `days` days of M1 history per
// symbol (default 90, spec.md §6 config).
func NewHistoricalBackfill(logger *zap.Logger, brokerClient *broker.Client, store *CandleStore, days int) *HistoricalBackfill {
	if days <= 0 {
		days = 90
	}
	return &HistoricalBackfill{
		logger: logger.Named("backfill"),
		broker: brokerClient,
		store:  store,
		days:   days,
	}
}

// Run backfills every symbol. Runs concurrently with PriceFeed start is
// safe: CandleStore inserts are order-tolerant by construction
// (spec.md §4.1).
func (h *HistoricalBackfill) Run(ctx context.Context, symbols []string) {
	for _, sym := range symbols {
		bars, err := h.broker.History(ctx, sym, h.days)
		if err != nil {
			h.logger.Warn("backfill failed, continuing with partial data",
				zap.String("symbol", sym), zap.Error(err))
			continue
		}
		candles := make([]types.Candle, 0, len(bars))
		for _, b := range bars {
			candles = append(candles, types.Candle{
				Symbol:    sym,
				TF:        types.TF_M1,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				Volume:    b.Volume,
				StartTime: b.Time,
				EndTime:   b.Time.Add(time.Minute),
			})
		}
		h.store.AddBackfill(sym, candles)
		h.logger.Info("backfilled symbol", zap.String("symbol", sym), zap.Int("bars", len(candles)))
	}
}

// RunOne backfills a single symbol, for callers that add symbols at runtime.
func (h *HistoricalBackfill) RunOne(ctx context.Context, symbol string) error {
	bars, err := h.broker.History(ctx, symbol, h.days)
	if err != nil {
		return fmt.Errorf("backfill %s: %w", symbol, err)
	}
	candles := make([]types.Candle, 0, len(bars))
	for _, b := range bars {
		candles = append(candles, types.Candle{
			Symbol: symbol, TF: types.TF_M1,
			Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
			StartTime: b.Time, EndTime: b.Time.Add(time.Minute),
		})
	}
	h.store.AddBackfill(symbol, candles)
	return nil
}
