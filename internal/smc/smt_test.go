package smc_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/smc"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func TestSMTDivergenceDetectsNonConfirmation(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	primary := []types.Candle{
		bar(100, 105, 95, 100, base),
		bar(100, 103, 90, 100, base.Add(time.Hour)), // new low (90)
	}
	correlated := []types.Candle{
		bar(100, 105, 98, 100, base),
		bar(100, 103, 99, 100, base.Add(time.Hour)), // does not make a new low
	}

	if !smc.SMTDivergence(primary, correlated, types.OrderSideBuy, 2) {
		t.Fatalf("expected SMT divergence for a long setup")
	}
}

func TestSMTDivergenceFalseWhenBothConfirm(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	primary := []types.Candle{
		bar(100, 105, 95, 100, base),
		bar(100, 103, 90, 100, base.Add(time.Hour)),
	}
	correlated := []types.Candle{
		bar(100, 105, 92, 100, base),
		bar(100, 103, 88, 100, base.Add(time.Hour)), // also makes a new low
	}

	if smc.SMTDivergence(primary, correlated, types.OrderSideBuy, 2) {
		t.Fatalf("expected no divergence when both confirm")
	}
}

func TestSMTDivergenceFalseOnInsufficientData(t *testing.T) {
	if smc.SMTDivergence(nil, nil, types.OrderSideBuy, 5) {
		t.Fatalf("expected false with no data")
	}
}
