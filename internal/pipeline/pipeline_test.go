package pipeline

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/decisionlog"
	"github.com/atlas-desktop/trading-backend/internal/orderflow"
	"github.com/atlas-desktop/trading-backend/internal/pnl"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func TestWithinAnySessionEmptyMeansAlwaysOpen(t *testing.T) {
	if !withinAnySession(nil, time.Now()) {
		t.Fatal("expected no sessions configured to mean always tradeable")
	}
}

func TestWithinAnySessionMatchesOneWindow(t *testing.T) {
	windows := []types.SessionWindow{
		{Name: "london", Start: "08:00", End: "16:00"},
		{Name: "ny", Start: "13:00", End: "21:00"},
	}
	inside := time.Date(2026, 7, 31, 14, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)

	if !withinAnySession(windows, inside) {
		t.Fatal("expected 14:00 UTC to fall inside the NY window")
	}
	if withinAnySession(windows, outside) {
		t.Fatal("expected 03:00 UTC to fall outside both windows")
	}
}

func TestAccountTradesSymbol(t *testing.T) {
	a := types.Account{Symbols: []string{"XAUUSD", "EURUSD"}}
	if !accountTradesSymbol(a, "EURUSD") {
		t.Fatal("expected account to trade EURUSD")
	}
	if accountTradesSymbol(a, "GBPUSD") {
		t.Fatal("did not expect account to trade GBPUSD")
	}
}

func TestSnapshotOpposingCluster(t *testing.T) {
	buyOpposed := orderflow.Snapshot{LargeBuyOrders: 1, LargeSellOrders: 5}
	if !snapshotOpposingCluster(buyOpposed, types.OrderSideBuy) {
		t.Fatal("expected a buy signal opposed by a large sell cluster to report true")
	}
	if snapshotOpposingCluster(buyOpposed, types.OrderSideSell) {
		t.Fatal("did not expect a sell signal to be opposed by its own side's cluster")
	}
}

func newTestAccountWorkers(id string, symbols []string) *accountWorkers {
	logger := zap.NewNop()
	return &accountWorkers{
		account: types.Account{ID: id, Symbols: symbols},
		livePnL: pnl.NewLivePnL(logger, time.UTC),
		dlog:    decisionlog.New(logger, time.UTC, nil),
	}
}

func TestTierAggregatesCollapsesOnlyAccountsTradingSymbol(t *testing.T) {
	s := &Supervisor{logger: zap.NewNop()}

	a1 := newTestAccountWorkers("a1", []string{"XAUUSD"})
	a1.livePnL.Snapshot(time.Now(), decimal.NewFromInt(10000), decimal.NewFromInt(10500), decimal.Zero)
	a1.livePnL.RecordClose(types.LiveTrade{Symbol: "XAUUSD", ExitTime: time.Now(), ProfitGross: decimal.NewFromInt(-200)})
	a1.dlog.Append(types.DecisionRecord{TS: time.Now(), Symbol: "XAUUSD", Decision: types.DecisionTrade})

	a2 := newTestAccountWorkers("a2", []string{"XAUUSD"})
	a2.livePnL.Snapshot(time.Now(), decimal.NewFromInt(5000), decimal.NewFromInt(4800), decimal.Zero)
	a2.livePnL.RecordClose(types.LiveTrade{Symbol: "XAUUSD", ExitTime: time.Now(), ProfitGross: decimal.NewFromInt(-50)})

	a3 := newTestAccountWorkers("a3", []string{"EURUSD"})
	a3.livePnL.Snapshot(time.Now(), decimal.NewFromInt(999999), decimal.NewFromInt(999999), decimal.Zero)

	s.accounts = []*accountWorkers{a1, a2, a3}

	equity, closedToday, tradesToday := s.tierAggregates("XAUUSD", time.Now())

	wantEquity := decimal.NewFromInt(10500).Add(decimal.NewFromInt(4800))
	if !equity.Equal(wantEquity) {
		t.Fatalf("expected summed equity %s across accounts trading XAUUSD, got %s", wantEquity, equity)
	}
	if !closedToday.Equal(decimal.NewFromInt(-200)) {
		t.Fatalf("expected the most negative closedToday (-200), got %s", closedToday)
	}
	if tradesToday != 1 {
		t.Fatalf("expected tradesToday 1 (only a1 logged a trade), got %d", tradesToday)
	}
}

func TestLoadLocationDefaultsToNewYork(t *testing.T) {
	loc := loadLocation("")
	if loc.String() != "America/New_York" {
		t.Fatalf("expected default location America/New_York, got %s", loc.String())
	}
}

func TestLoadLocationFallsBackToUTCOnUnknownName(t *testing.T) {
	loc := loadLocation("Not/AZone")
	if loc != time.UTC {
		t.Fatalf("expected fallback to UTC for an unresolvable zone, got %s", loc.String())
	}
}
