package smc_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/internal/smc"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func TestLiquiditySweptBullishWicksBelowThenCloses(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	swings := []types.SwingPoint{
		{Index: 0, Kind: types.SwingLow, Price: decimal.NewFromInt(100), Time: base},
	}
	bars := []types.Candle{
		bar(102, 103, 99, 100, base),
		bar(100, 104, 97, 102, base.Add(time.Hour)), // wicks below 100, closes above
	}

	if !smc.LiquiditySwept(bars, swings, types.OrderSideBuy, 1, 5) {
		t.Fatalf("expected liquidity sweep detected")
	}
	if smc.LiquiditySwept(bars, swings, types.OrderSideSell, 1, 5) {
		t.Fatalf("expected no bearish sweep for this data")
	}
}

func TestLiquiditySweptNoSwingReturnsFalse(t *testing.T) {
	bars := []types.Candle{bar(100, 101, 99, 100, time.Now())}
	if smc.LiquiditySwept(bars, nil, types.OrderSideBuy, 0, 5) {
		t.Fatalf("expected false with no swing history")
	}
}
