package exitengine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/broker"
	"github.com/atlas-desktop/trading-backend/internal/killswitch"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

type fakeBroker struct {
	positions []broker.PositionDTO
	price     broker.PriceQuote
	closed    []string
	closedReasons []string
	modified  []modifyCall
	partials  []partialCall
}

type modifyCall struct {
	ticket string
	sl, tp *decimal.Decimal
}

type partialCall struct {
	ticket string
	pct    decimal.Decimal
}

func (f *fakeBroker) OpenPositions(ctx context.Context) ([]broker.PositionDTO, error) {
	return f.positions, nil
}
func (f *fakeBroker) Price(ctx context.Context, symbol string) (broker.PriceQuote, error) {
	return f.price, nil
}
func (f *fakeBroker) CloseTrade(ctx context.Context, ticket, reason string) (broker.TradeResponse, error) {
	f.closed = append(f.closed, ticket)
	f.closedReasons = append(f.closedReasons, reason)
	return broker.TradeResponse{Success: true}, nil
}
func (f *fakeBroker) ModifyTrade(ctx context.Context, ticket string, sl, tp *decimal.Decimal) (broker.TradeResponse, error) {
	f.modified = append(f.modified, modifyCall{ticket, sl, tp})
	return broker.TradeResponse{Success: true}, nil
}
func (f *fakeBroker) PartialClose(ctx context.Context, ticket string, pct decimal.Decimal) (broker.TradeResponse, error) {
	f.partials = append(f.partials, partialCall{ticket, pct})
	return broker.TradeResponse{Success: true}, nil
}

type fakeStore struct {
	plans map[string]types.ExitPlan
}

func (f *fakeStore) Load(ctx context.Context, ticket string) (*types.ExitPlan, bool, error) {
	p, ok := f.plans[ticket]
	if !ok {
		return nil, false, nil
	}
	cp := p
	return &cp, true, nil
}
func (f *fakeStore) Save(ctx context.Context, plan types.ExitPlan) error {
	f.plans[plan.Ticket] = plan
	return nil
}

func symConfig() map[string]types.SymbolExecutionConfig {
	return map[string]types.SymbolExecutionConfig{
		"XAUUSD": {Symbol: "XAUUSD", PipSize: decimal.NewFromFloat(0.1), PipValuePerLot: decimal.NewFromInt(1)},
	}
}

func exitConfig() types.ExitConfig {
	return types.ExitConfig{
		EnableBE: true, EnablePartial: true, EnableTrail: true, EnableTimeExit: true, EnableCommission: true,
		DefaultTrailPips: decimal.NewFromInt(20),
		TrailMinInterval: 30 * time.Second,
	}
}

func TestTickForceClosesOnKillSwitchActive(t *testing.T) {
	ks := killswitch.New(zap.NewNop(), types.KillSwitchConfig{DailyMaxLossCurrency: decimal.NewFromInt(100), Timezone: "UTC"})
	ks.Evaluate(killswitch.Inputs{Now: time.Now(), ClosedPnLToday: decimal.NewFromInt(-500)})

	fb := &fakeBroker{positions: []broker.PositionDTO{{Ticket: "t1", Symbol: "XAUUSD", Direction: types.OrderSideBuy}}}
	store := &fakeStore{plans: map[string]types.ExitPlan{}}
	e := New(zap.NewNop(), fb, store, ks, symConfig(), exitConfig())

	e.Tick(context.Background())

	if len(fb.closed) != 1 || fb.closed[0] != "t1" || fb.closedReasons[0] != ReasonKillSwitch {
		t.Fatalf("expected forced close on kill switch, got closed=%v reasons=%v", fb.closed, fb.closedReasons)
	}
}

func TestEvaluateSkipsManagedExitsWhenPlanAbsent(t *testing.T) {
	ks := killswitch.New(zap.NewNop(), types.KillSwitchConfig{Timezone: "UTC"})
	fb := &fakeBroker{
		positions: []broker.PositionDTO{{Ticket: "t1", Symbol: "XAUUSD", Direction: types.OrderSideBuy, OpenPrice: decimal.NewFromInt(2000)}},
		price:     broker.PriceQuote{Bid: decimal.NewFromInt(2100), Ask: decimal.NewFromInt(2100)},
	}
	store := &fakeStore{plans: map[string]types.ExitPlan{}}
	e := New(zap.NewNop(), fb, store, ks, symConfig(), exitConfig())

	e.Tick(context.Background())

	if len(fb.modified) != 0 || len(fb.closed) != 0 || len(fb.partials) != 0 {
		t.Fatalf("expected no managed exits without a stored plan, got modified=%d closed=%d partials=%d",
			len(fb.modified), len(fb.closed), len(fb.partials))
	}
}

func TestApplyBreakEvenMovesSLOnceAtTriggerR(t *testing.T) {
	ks := killswitch.New(zap.NewNop(), types.KillSwitchConfig{Timezone: "UTC"})
	entry := decimal.NewFromInt(2000)
	fb := &fakeBroker{
		positions: []broker.PositionDTO{{Ticket: "t1", Symbol: "XAUUSD", Direction: types.OrderSideBuy, OpenPrice: entry}},
		price:     broker.PriceQuote{Bid: decimal.NewFromInt(2010), Ask: decimal.NewFromInt(2010)}, // +10, 1R reached
	}
	store := &fakeStore{plans: map[string]types.ExitPlan{
		"t1": {Ticket: "t1", Entry: entry, SLInitial: decimal.NewFromInt(1990), BETriggerR: decimal.NewFromInt(1), OpenedAt: time.Now()},
	}}
	e := New(zap.NewNop(), fb, store, ks, symConfig(), exitConfig())

	e.Tick(context.Background())

	if len(fb.modified) != 1 {
		t.Fatalf("expected one SL modification, got %d", len(fb.modified))
	}
	if !fb.modified[0].sl.Equal(entry) {
		t.Fatalf("expected SL moved to entry %s, got %s", entry, fb.modified[0].sl)
	}
	if !store.plans["t1"].BEDone {
		t.Fatalf("expected plan marked BEDone")
	}

	// Second tick: already done, should not modify again.
	e.Tick(context.Background())
	if len(fb.modified) != 1 {
		t.Fatalf("expected break-even to apply only once, got %d modifications", len(fb.modified))
	}
}

func TestApplyPartialClosesOnceAtTP1(t *testing.T) {
	ks := killswitch.New(zap.NewNop(), types.KillSwitchConfig{Timezone: "UTC"})
	entry := decimal.NewFromInt(2000)
	tp1 := decimal.NewFromInt(2020)
	fb := &fakeBroker{
		positions: []broker.PositionDTO{{Ticket: "t1", Symbol: "XAUUSD", Direction: types.OrderSideBuy, OpenPrice: entry}},
		price:     broker.PriceQuote{Bid: decimal.NewFromInt(2020), Ask: decimal.NewFromInt(2020)},
	}
	store := &fakeStore{plans: map[string]types.ExitPlan{
		"t1": {Ticket: "t1", Entry: entry, SLInitial: decimal.NewFromInt(1990), TP1: &tp1, BEDone: true, OpenedAt: time.Now()},
	}}
	e := New(zap.NewNop(), fb, store, ks, symConfig(), exitConfig())

	e.Tick(context.Background())

	if len(fb.partials) != 1 || fb.partials[0].ticket != "t1" {
		t.Fatalf("expected one partial close, got %v", fb.partials)
	}
	if !store.plans["t1"].PartialDone {
		t.Fatalf("expected plan marked PartialDone")
	}
}

func TestApplyTrailAdvancesOnlyFavorablyAndThrottled(t *testing.T) {
	ks := killswitch.New(zap.NewNop(), types.KillSwitchConfig{Timezone: "UTC"})
	entry := decimal.NewFromInt(2000)
	fb := &fakeBroker{
		positions: []broker.PositionDTO{{Ticket: "t1", Symbol: "XAUUSD", Direction: types.OrderSideBuy, OpenPrice: entry}},
		price:     broker.PriceQuote{Bid: decimal.NewFromInt(2050), Ask: decimal.NewFromInt(2050)},
	}
	store := &fakeStore{plans: map[string]types.ExitPlan{
		"t1": {
			Ticket: "t1", Entry: entry, SLInitial: decimal.NewFromInt(1990),
			BEDone: true, PartialDone: true, TrailMode: types.TrailModeFixedPips,
			TrailValue: decimal.NewFromInt(20), OpenedAt: time.Now(),
		},
	}}
	e := New(zap.NewNop(), fb, store, ks, symConfig(), exitConfig())

	e.Tick(context.Background())
	if len(fb.modified) != 1 {
		t.Fatalf("expected one trail SL move, got %d", len(fb.modified))
	}
	// newSL = 2050 - 20*0.1 = 2048, which is above initial 1990: favorable.
	if !fb.modified[0].sl.Equal(decimal.NewFromInt(2048)) {
		t.Fatalf("expected trailed SL 2048, got %s", fb.modified[0].sl)
	}

	// Second tick immediately after: throttled, no new move.
	e.Tick(context.Background())
	if len(fb.modified) != 1 {
		t.Fatalf("expected trail to be throttled on immediate re-tick, got %d modifications", len(fb.modified))
	}
}

func TestTimeExitClosesAfterLimit(t *testing.T) {
	ks := killswitch.New(zap.NewNop(), types.KillSwitchConfig{Timezone: "UTC"})
	entry := decimal.NewFromInt(2000)
	fb := &fakeBroker{
		positions: []broker.PositionDTO{{Ticket: "t1", Symbol: "XAUUSD", Direction: types.OrderSideBuy, OpenPrice: entry}},
		price:     broker.PriceQuote{Bid: entry, Ask: entry},
	}
	store := &fakeStore{plans: map[string]types.ExitPlan{
		"t1": {
			Ticket: "t1", Entry: entry, SLInitial: decimal.NewFromInt(1990),
			BEDone: true, PartialDone: true, TimeLimit: time.Hour,
			OpenedAt: time.Now().Add(-2 * time.Hour),
		},
	}}
	e := New(zap.NewNop(), fb, store, ks, symConfig(), exitConfig())

	e.Tick(context.Background())

	if len(fb.closed) != 1 || fb.closedReasons[0] != ReasonTimeExit {
		t.Fatalf("expected time exit close, got closed=%v reasons=%v", fb.closed, fb.closedReasons)
	}
}
