package smc_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/internal/smc"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func TestFVGsDetectsBullishGap(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []types.Candle{
		bar(100, 105, 99, 104, base),
		bar(104, 112, 103, 110, base.Add(time.Hour)),
		bar(110, 115, 108, 112, base.Add(2*time.Hour)), // low 108 > candle0 high 105
	}
	gaps := smc.FVGs(bars, types.TF_H1)
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d: %+v", len(gaps), gaps)
	}
	if gaps[0].Direction != types.OrderSideBuy {
		t.Errorf("expected bullish gap, got %s", gaps[0].Direction)
	}
	if !gaps[0].Lower.Equal(decimal.NewFromInt(105)) || !gaps[0].Upper.Equal(decimal.NewFromInt(108)) {
		t.Errorf("unexpected gap bounds: %+v", gaps[0])
	}
}

func TestFVGAlignedRequiresPriceInsideGap(t *testing.T) {
	gaps := []types.FairValueGap{
		{Direction: types.OrderSideBuy, Lower: decimal.NewFromInt(100), Upper: decimal.NewFromInt(105)},
	}
	if !smc.FVGAligned(gaps, types.OrderSideBuy, decimal.NewFromInt(102)) {
		t.Fatalf("expected alignment for price inside gap")
	}
	if smc.FVGAligned(gaps, types.OrderSideBuy, decimal.NewFromInt(110)) {
		t.Fatalf("expected no alignment for price outside gap")
	}
	if smc.FVGAligned(gaps, types.OrderSideSell, decimal.NewFromInt(102)) {
		t.Fatalf("expected no alignment for opposite direction")
	}
}
