package marketdata_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/marketdata"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func tick(symbol string, bid, ask float64, at time.Time) types.Tick {
	return types.Tick{
		Symbol: symbol,
		Bid:    decimal.NewFromFloat(bid),
		Ask:    decimal.NewFromFloat(ask),
		Time:   at,
	}
}

func TestCandleBuilderFinalizesOnMinuteRollover(t *testing.T) {
	store := marketdata.NewCandleStore(zap.NewNop(), 100)
	builder := marketdata.NewCandleBuilder(zap.NewNop(), store)

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	builder.OnTick(tick("X", 99.9, 100.1, base))
	builder.OnTick(tick("X", 100.4, 100.6, base.Add(20*time.Second)))
	builder.OnTick(tick("X", 99.4, 99.6, base.Add(40*time.Second)))

	if store.Len("X") != 0 {
		t.Fatalf("no bar should be finalized until the minute rolls over, got %d", store.Len("X"))
	}

	builder.OnTick(tick("X", 100.0, 100.2, base.Add(time.Minute)))

	if store.Len("X") != 1 {
		t.Fatalf("expected 1 finalized bar, got %d", store.Len("X"))
	}
	bar := store.Recent("X", 1)[0]
	if !bar.Open.Equal(decimal.NewFromFloat(100.0)) {
		t.Errorf("open = %s, want 100.0", bar.Open)
	}
	if !bar.High.Equal(decimal.NewFromFloat(100.5)) {
		t.Errorf("high = %s, want 100.5", bar.High)
	}
	if !bar.Low.Equal(decimal.NewFromFloat(99.5)) {
		t.Errorf("low = %s, want 99.5", bar.Low)
	}
	if !bar.Volume.Equal(decimal.NewFromInt(3)) {
		t.Errorf("volume = %s, want 3 (tick count)", bar.Volume)
	}
	if !bar.Valid() {
		t.Errorf("finalized bar violates OHLC invariant: %+v", bar)
	}
}

func TestCandleBuilderFlushPersistsPartialBar(t *testing.T) {
	store := marketdata.NewCandleStore(zap.NewNop(), 100)
	builder := marketdata.NewCandleBuilder(zap.NewNop(), store)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	builder.OnTick(tick("X", 99.9, 100.1, base))

	builder.Flush("X")
	if store.Len("X") != 1 {
		t.Fatalf("Flush should persist the in-progress bar, got %d bars", store.Len("X"))
	}
}
