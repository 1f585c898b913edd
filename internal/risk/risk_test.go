package risk_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func newTestRisk() *risk.Risk {
	tiers := map[types.RiskTier]types.StrategyTierConfig{
		types.RiskTierLow: {
			Tier: types.RiskTierLow, MaxDailyLossPct: decimal.NewFromInt(3),
			MaxTradesPerDay: 5, DefaultRiskPct: decimal.NewFromInt(1),
		},
	}
	symbols := map[string]types.SymbolExecutionConfig{
		"XAUUSD": {
			Symbol: "XAUUSD", PipSize: decimal.NewFromFloat(0.1), PipValuePerLot: decimal.NewFromInt(1),
			VolumeStep: decimal.NewFromFloat(0.01), MaxLotSize: decimal.NewFromInt(5),
		},
	}
	return risk.New(zap.NewNop(), tiers, symbols)
}

func TestCanTakeNewTradeAllowsWithinCaps(t *testing.T) {
	r := newTestRisk()
	d := r.CanTakeNewTrade(risk.Inputs{
		Tier: types.RiskTierLow, Symbol: "XAUUSD", Equity: decimal.NewFromInt(10000),
		ClosedPnLToday: decimal.NewFromInt(-50), TradesToday: 1, GuardrailMode: types.GuardrailNormal,
	})
	if !d.Allowed {
		t.Fatalf("expected allowed, got %+v", d)
	}
	if !d.AdjustedRiskPct.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected unadjusted 1%% risk, got %s", d.AdjustedRiskPct)
	}
}

func TestCanTakeNewTradeBlocksOnDailyLossCap(t *testing.T) {
	r := newTestRisk()
	d := r.CanTakeNewTrade(risk.Inputs{
		Tier: types.RiskTierLow, Symbol: "XAUUSD", Equity: decimal.NewFromInt(10000),
		ClosedPnLToday: decimal.NewFromInt(-300), TradesToday: 1, GuardrailMode: types.GuardrailNormal,
	})
	if d.Allowed || d.Reason != risk.ReasonDailyLossLimitReached {
		t.Fatalf("expected daily loss limit rejection, got %+v", d)
	}
}

func TestCanTakeNewTradeBlocksOnMaxTrades(t *testing.T) {
	r := newTestRisk()
	d := r.CanTakeNewTrade(risk.Inputs{
		Tier: types.RiskTierLow, Symbol: "XAUUSD", Equity: decimal.NewFromInt(10000),
		TradesToday: 5, GuardrailMode: types.GuardrailNormal,
	})
	if d.Allowed || d.Reason != risk.ReasonMaxTradesReached {
		t.Fatalf("expected max trades rejection, got %+v", d)
	}
}

func TestCanTakeNewTradeBlocksOnGuardrail(t *testing.T) {
	r := newTestRisk()
	d := r.CanTakeNewTrade(risk.Inputs{
		Tier: types.RiskTierLow, Symbol: "XAUUSD", Equity: decimal.NewFromInt(10000),
		GuardrailMode: types.GuardrailBlocked,
	})
	if d.Allowed || d.Reason != risk.ReasonGuardrailBlocked {
		t.Fatalf("expected guardrail rejection, got %+v", d)
	}
}

func TestCanTakeNewTradeHalvesRiskOnGuardrailReduced(t *testing.T) {
	r := newTestRisk()
	d := r.CanTakeNewTrade(risk.Inputs{
		Tier: types.RiskTierLow, Symbol: "XAUUSD", Equity: decimal.NewFromInt(10000),
		GuardrailMode: types.GuardrailReduced,
	})
	if !d.Allowed {
		t.Fatalf("expected allowed under reduced mode, got %+v", d)
	}
	if !d.AdjustedRiskPct.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("expected halved risk pct 0.5, got %s", d.AdjustedRiskPct)
	}
}

func TestPositionSizeClampsToMinLot(t *testing.T) {
	r := newTestRisk()
	lot, err := r.PositionSize("XAUUSD", decimal.NewFromFloat(10), decimal.NewFromInt(100), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lot.Equal(decimal.NewFromFloat(0.01)) {
		t.Errorf("expected clamp to min lot 0.01, got %s", lot)
	}
}

func TestPositionSizeClampsToMaxLotAndSnapsToStep(t *testing.T) {
	r := newTestRisk()
	// riskAmount = 100000*1/100 = 1000; slPips = 0.8/0.1 = 8; lot = 1000/(8*1) = 125 -> clamped to 5.
	lot, err := r.PositionSize("XAUUSD", decimal.NewFromFloat(0.8), decimal.NewFromInt(100000), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lot.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected clamp to max lot 5, got %s", lot)
	}
}

func TestPositionSizeRejectsUnknownSymbol(t *testing.T) {
	r := newTestRisk()
	if _, err := r.PositionSize("UNKNOWN", decimal.NewFromFloat(1), decimal.NewFromInt(1000), decimal.NewFromInt(1)); err == nil {
		t.Fatalf("expected error for unconfigured symbol")
	}
}
