package killswitch_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/killswitch"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func cfg() types.KillSwitchConfig {
	return types.KillSwitchConfig{
		DailyMaxLossCurrency: decimal.NewFromInt(500),
		MaxLosingStreak:      4,
		MaxDailyTrades:       10,
		MaxSpreadPoints:      decimal.NewFromInt(30),
		AutoResumeNextDay:    true,
		Timezone:             "UTC",
	}
}

func TestEvaluateActivatesOnDailyLossCap(t *testing.T) {
	ks := killswitch.New(zap.NewNop(), cfg())
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	state := ks.Evaluate(killswitch.Inputs{Now: now, ClosedPnLToday: decimal.NewFromInt(-600)})
	if !state.Active {
		t.Fatalf("expected kill switch active after exceeding daily loss cap")
	}
	if len(state.Reasons) == 0 {
		t.Fatalf("expected at least one reason recorded")
	}
}

func TestEvaluateStaysInactiveBelowCaps(t *testing.T) {
	ks := killswitch.New(zap.NewNop(), cfg())
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	state := ks.Evaluate(killswitch.Inputs{Now: now, ClosedPnLToday: decimal.NewFromInt(-100)})
	if state.Active {
		t.Fatalf("expected kill switch inactive below caps")
	}
}

func TestEvaluateAutoResumesOnNewDay(t *testing.T) {
	ks := killswitch.New(zap.NewNop(), cfg())
	day1 := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)

	state := ks.Evaluate(killswitch.Inputs{Now: day1, ClosedPnLToday: decimal.NewFromInt(-600)})
	if !state.Active {
		t.Fatalf("expected active on day1")
	}

	state = ks.Evaluate(killswitch.Inputs{Now: day2, ClosedPnLToday: decimal.Zero})
	if state.Active {
		t.Fatalf("expected kill switch to auto-resume on new calendar day")
	}
}

func TestEvaluateDailyLossTriggerDoesNotResumeIntraDayOnceLossRecedes(t *testing.T) {
	ks := killswitch.New(zap.NewNop(), cfg())
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	state := ks.Evaluate(killswitch.Inputs{Now: now, ClosedPnLToday: decimal.NewFromInt(-600)})
	if !state.Active {
		t.Fatalf("expected active after exceeding daily loss cap")
	}

	// A later winning close shrinks ClosedPnLToday back under the cap; the
	// switch must stay active until a calendar-day boundary (spec.md §4.8).
	state = ks.Evaluate(killswitch.Inputs{Now: now.Add(time.Minute), ClosedPnLToday: decimal.NewFromInt(-100)})
	if !state.Active {
		t.Fatalf("expected kill switch to remain active intra-day after a loss-triggered activation, even once the loss recedes")
	}

	day2 := now.Add(24 * time.Hour)
	state = ks.Evaluate(killswitch.Inputs{Now: day2, ClosedPnLToday: decimal.NewFromInt(-100)})
	if state.Active {
		t.Fatalf("expected kill switch to auto-resume on the next calendar day")
	}
}

func TestEvaluateSpreadCapSelfHeals(t *testing.T) {
	ks := killswitch.New(zap.NewNop(), cfg())
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	state := ks.Evaluate(killswitch.Inputs{Now: now, CurrentSpread: decimal.NewFromInt(50)})
	if !state.Active {
		t.Fatalf("expected active above spread cap")
	}

	state = ks.Evaluate(killswitch.Inputs{Now: now.Add(time.Second), CurrentSpread: decimal.NewFromInt(5)})
	if state.Active {
		t.Fatalf("expected kill switch to self-heal once spread narrows")
	}
}
