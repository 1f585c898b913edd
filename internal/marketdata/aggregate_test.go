// Package marketdata_test provides tests for candle aggregation.
package marketdata_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/marketdata"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func m1(symbol string, start time.Time, o, h, l, c, v int64) types.Candle {
	return types.Candle{
		Symbol: symbol, TF: types.TF_M1,
		Open: decimal.NewFromInt(o), High: decimal.NewFromInt(h),
		Low: decimal.NewFromInt(l), Close: decimal.NewFromInt(c),
		Volume: decimal.NewFromInt(v), StartTime: start, EndTime: start.Add(time.Minute),
	}
}

func TestAggregateM5Basic(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	bars := []types.Candle{
		m1("X", base, 100, 105, 99, 102, 10),
		m1("X", base.Add(time.Minute), 102, 108, 101, 103, 20),
		m1("X", base.Add(2*time.Minute), 103, 104, 90, 95, 5),
	}
	out := marketdata.Aggregate(bars, types.TF_M5)
	if len(out) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(out))
	}
	c := out[0]
	if !c.Open.Equal(decimal.NewFromInt(100)) {
		t.Errorf("open = %s, want 100", c.Open)
	}
	if !c.Close.Equal(decimal.NewFromInt(95)) {
		t.Errorf("close = %s, want 95", c.Close)
	}
	if !c.High.Equal(decimal.NewFromInt(108)) {
		t.Errorf("high = %s, want 108", c.High)
	}
	if !c.Low.Equal(decimal.NewFromInt(90)) {
		t.Errorf("low = %s, want 90", c.Low)
	}
	if !c.Volume.Equal(decimal.NewFromInt(35)) {
		t.Errorf("volume = %s, want 35", c.Volume)
	}
}

func TestAggregateSkipsEmptyBuckets(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	bars := []types.Candle{
		m1("X", base, 100, 101, 99, 100, 1),
		// gap of several minutes — no M1 bars for the next bucket
		m1("X", base.Add(10*time.Minute), 110, 111, 109, 110, 1),
	}
	out := marketdata.Aggregate(bars, types.TF_M5)
	if len(out) != 2 {
		t.Fatalf("expected 2 non-empty buckets, got %d", len(out))
	}
}

func TestAggregateTransitivity(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []types.Candle
	for i := 0; i < 30; i++ {
		bars = append(bars, m1("X", base.Add(time.Duration(i)*time.Minute),
			int64(100+i), int64(101+i), int64(99+i), int64(100+i), 1))
	}
	direct := marketdata.Aggregate(bars, types.TF_M15)
	viaM5 := marketdata.Aggregate(marketdata.Aggregate(bars, types.TF_M5), types.TF_M15)

	if len(direct) != len(viaM5) {
		t.Fatalf("bucket count mismatch: direct=%d viaM5=%d", len(direct), len(viaM5))
	}
	for i := range direct {
		if !direct[i].Open.Equal(viaM5[i].Open) || !direct[i].Close.Equal(viaM5[i].Close) ||
			!direct[i].High.Equal(viaM5[i].High) || !direct[i].Low.Equal(viaM5[i].Low) ||
			!direct[i].Volume.Equal(viaM5[i].Volume) {
			t.Fatalf("bucket %d differs: direct=%+v viaM5=%+v", i, direct[i], viaM5[i])
		}
	}
}

func TestCandleStoreRingOverflow(t *testing.T) {
	store := marketdata.NewCandleStore(zap.NewNop(), 3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.AddCandle("X", m1("X", base.Add(time.Duration(i)*time.Minute), 1, 1, 1, 1, 1))
	}
	if got := store.Len("X"); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	recent := store.Recent("X", 10)
	if len(recent) != 3 {
		t.Fatalf("Recent() returned %d, want 3", len(recent))
	}
	if !recent[0].StartTime.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("oldest retained bar should be index 2, got start=%v", recent[0].StartTime)
	}
}
