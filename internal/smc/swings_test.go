package smc_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/internal/smc"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func bar(o, h, l, c int64, at time.Time) types.Candle {
	return types.Candle{
		TF: types.TF_H1,
		Open: decimal.NewFromInt(o), High: decimal.NewFromInt(h),
		Low: decimal.NewFromInt(l), Close: decimal.NewFromInt(c),
		Volume: decimal.NewFromInt(1), StartTime: at, EndTime: at.Add(time.Hour),
	}
}

func TestSwingsConfirmsPivotWithSymmetricWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []types.Candle{
		bar(100, 105, 99, 102, base),
		bar(102, 108, 101, 103, base.Add(time.Hour)),
		bar(103, 112, 102, 110, base.Add(2*time.Hour)), // pivot high candidate
		bar(110, 108, 104, 105, base.Add(3*time.Hour)),
		bar(105, 106, 100, 101, base.Add(4*time.Hour)),
	}
	swings := smc.Swings(bars, 2)
	if len(swings) != 1 {
		t.Fatalf("expected 1 confirmed swing, got %d: %+v", len(swings), swings)
	}
	if swings[0].Kind != types.SwingHigh || swings[0].Index != 2 {
		t.Errorf("expected swing high at index 2, got %+v", swings[0])
	}
}

func TestSwingsReturnsNilBelowMinimumBars(t *testing.T) {
	bars := []types.Candle{bar(1, 2, 0, 1, time.Now())}
	if got := smc.Swings(bars, 2); got != nil {
		t.Fatalf("expected nil for insufficient bars, got %v", got)
	}
}

func TestPDPositionClampsAndHandlesZeroWidth(t *testing.T) {
	pd := smc.PDPosition(decimal.NewFromInt(150), decimal.NewFromInt(100), decimal.NewFromInt(200))
	if pd == nil || !pd.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("expected pd=0.5, got %v", pd)
	}

	below := smc.PDPosition(decimal.NewFromInt(50), decimal.NewFromInt(100), decimal.NewFromInt(200))
	if below == nil || !below.IsZero() {
		t.Fatalf("expected clamp to 0, got %v", below)
	}

	zeroWidth := smc.PDPosition(decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(100))
	if zeroWidth != nil {
		t.Fatalf("expected nil for zero-width range, got %v", zeroWidth)
	}
}
