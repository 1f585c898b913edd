package smc_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/internal/smc"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func TestBOSDetectsCloseBeyondPriorSwing(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := func(offset int) time.Time { return base.Add(time.Duration(offset) * time.Hour) }

	swings := []types.SwingPoint{
		{Index: 1, Kind: types.SwingHigh, Price: decimal.NewFromInt(110), Time: h(1)},
	}
	bars := []types.Candle{
		bar(100, 101, 99, 100, h(0)),
		bar(100, 111, 99, 109, h(1)),
		bar(109, 115, 108, 112, h(2)), // closes above swing high 110
	}

	events := smc.BOS(bars, swings, 10)
	if len(events) != 1 {
		t.Fatalf("expected 1 BOS event, got %d", len(events))
	}
	if events[0].Direction != types.OrderSideBuy || events[0].Index != 2 {
		t.Errorf("unexpected BOS event: %+v", events[0])
	}
}

func TestComputeTrendBiasBullishRequiresMonotoneSwingsAndBos(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	swings := []types.SwingPoint{
		{Index: 0, Kind: types.SwingLow, Price: decimal.NewFromInt(100), Time: base},
		{Index: 1, Kind: types.SwingHigh, Price: decimal.NewFromInt(110), Time: base},
		{Index: 2, Kind: types.SwingLow, Price: decimal.NewFromInt(105), Time: base},
		{Index: 3, Kind: types.SwingHigh, Price: decimal.NewFromInt(120), Time: base},
	}
	bos := []types.BosEvent{
		{Index: 3, Direction: types.OrderSideBuy, Level: decimal.NewFromInt(110)},
	}
	bars := make([]types.Candle, 4)
	for i := range bars {
		bars[i] = bar(100, 100, 100, 100, base.Add(time.Duration(i)*time.Hour))
	}

	bias := smc.ComputeTrendBiasAt(bars, swings, bos, 3)
	if bias.Trend != types.TrendBullish {
		t.Fatalf("expected bullish trend, got %s", bias.Trend)
	}
}

func TestComputeTrendBiasSidewaysWithoutAlignedBos(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	swings := []types.SwingPoint{
		{Index: 0, Kind: types.SwingLow, Price: decimal.NewFromInt(100), Time: base},
		{Index: 1, Kind: types.SwingHigh, Price: decimal.NewFromInt(110), Time: base},
	}
	bars := []types.Candle{bar(100, 100, 100, 100, base), bar(100, 100, 100, 100, base.Add(time.Hour))}

	bias := smc.ComputeTrendBiasAt(bars, swings, nil, 1)
	if bias.Trend != types.TrendSideways {
		t.Fatalf("expected sideways with no BOS, got %s", bias.Trend)
	}
}

func TestCHoCHDetectsCounterTrendBos(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	swings := []types.SwingPoint{
		{Index: 0, Kind: types.SwingLow, Price: decimal.NewFromInt(100), Time: base},
		{Index: 1, Kind: types.SwingHigh, Price: decimal.NewFromInt(110), Time: base},
		{Index: 2, Kind: types.SwingLow, Price: decimal.NewFromInt(105), Time: base},
		{Index: 3, Kind: types.SwingHigh, Price: decimal.NewFromInt(120), Time: base},
	}
	bosUp := types.BosEvent{Index: 3, Direction: types.OrderSideBuy, Level: decimal.NewFromInt(110)}
	bosDown := types.BosEvent{Index: 5, Direction: types.OrderSideSell, Level: decimal.NewFromInt(105)}
	bars := make([]types.Candle, 6)
	for i := range bars {
		bars[i] = bar(100, 100, 100, 100, base.Add(time.Duration(i)*time.Hour))
	}

	events := smc.CHoCH(bars, swings, []types.BosEvent{bosUp, bosDown})
	if len(events) != 1 {
		t.Fatalf("expected 1 CHoCH event, got %d: %+v", len(events), events)
	}
	if events[0].FromTrend != types.TrendBullish || events[0].ToTrend != types.TrendBearish {
		t.Errorf("unexpected CHoCH transition: %+v", events[0])
	}
}
