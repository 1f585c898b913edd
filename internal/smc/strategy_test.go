package smc_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/marketdata"
	"github.com/atlas-desktop/trading-backend/internal/smc"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func flatBars(n int, base time.Time) []types.Candle {
	bars := make([]types.Candle, n)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		bars[i] = types.Candle{
			Symbol: "EURUSD", TF: types.TF_M1,
			Open: decimal.NewFromInt(100), High: decimal.NewFromInt(101),
			Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(100),
			Volume: decimal.NewFromInt(1), StartTime: at, EndTime: at.Add(time.Minute),
		}
	}
	return bars
}

func newTestEngine(t *testing.T, minCandles int) (*smc.Engine, *marketdata.CandleStore) {
	t.Helper()
	logger := zap.NewNop()
	store := marketdata.NewCandleStore(logger, 0)
	data := marketdata.NewMarketData(logger, store)
	cfg := types.SMCConfig{
		HTFTimeframe: types.TF_M1, ITFTimeframe: types.TF_M1, LTFTimeframe: types.TF_M1,
		HTFPivotWindow: 1, ITFPivotWindow: 1, LTFPivotWindow: 1,
		HTFMinCandles: minCandles, ITFMinCandles: minCandles, LTFMinCandles: minCandles,
		BosLookback: 20, TargetR: decimal.NewFromInt(2),
	}
	return smc.NewEngine(logger, data, cfg), store
}

func TestEvaluateRejectsInsufficientHistory(t *testing.T) {
	engine, store := newTestEngine(t, 10)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.AddBackfill("EURUSD", flatBars(3, base))

	result := engine.Evaluate(smc.EvalInput{
		Symbol: "EURUSD", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(100),
		Now: base, SessionOK: true,
	})
	if result.Reason != smc.ReasonInsufficientHistory {
		t.Fatalf("expected insufficient history, got %+v", result)
	}
}

func TestEvaluateRejectsWhenSessionClosed(t *testing.T) {
	engine, store := newTestEngine(t, 5)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.AddBackfill("EURUSD", flatBars(10, base))

	result := engine.Evaluate(smc.EvalInput{
		Symbol: "EURUSD", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(100),
		Now: base, SessionOK: false,
	})
	if result.Reason != smc.ReasonSessionClosed {
		t.Fatalf("expected session closed, got %+v", result)
	}
}

func TestEvaluateRejectsSidewaysTrendWithNoStructure(t *testing.T) {
	engine, store := newTestEngine(t, 5)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.AddBackfill("EURUSD", flatBars(10, base))

	result := engine.Evaluate(smc.EvalInput{
		Symbol: "EURUSD", Bid: decimal.NewFromInt(100), Ask: decimal.NewFromInt(100),
		Now: base, SessionOK: true,
	})
	if result.Reason != smc.ReasonSidewaysTrend {
		t.Fatalf("expected sideways trend rejection, got %+v", result)
	}
}
