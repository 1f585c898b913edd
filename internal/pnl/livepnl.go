// Package pnl tracks realized and floating profit/loss: LivePnL consumes
// validated close events and periodic equity samples; OrderEventSink is the
// broker-facing webhook front door that feeds it (spec.md §2 items 8-9, §4.7).
package pnl

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// LivePnL owns realized-trade history and periodic equity snapshots. It is
// the single writer of closed-trade state (spec.md §3).
type LivePnL struct {
	logger   *zap.Logger
	location *time.Location

	mu              sync.RWMutex
	trades          []types.LiveTrade
	equity          []types.EquitySnapshot
	peakEquity      decimal.Decimal
	maxDrawdownAbs  decimal.Decimal
	maxDrawdownPct  decimal.Decimal
	closedToday     decimal.Decimal
	closedWeek      decimal.Decimal
	todayKey        string
	weekKey         string
}

// NewLivePnL builds a LivePnL tracker. location is the display/day-boundary
// timezone (spec.md default: America/New_York).
func NewLivePnL(logger *zap.Logger, location *time.Location) *LivePnL {
	if location == nil {
		location = time.UTC
	}
	return &LivePnL{
		logger:     logger.Named("live-pnl"),
		location:   location,
		peakEquity: decimal.Zero,
	}
}

// RecordClose appends a realized trade derived from a validated
// position_closed event and rolls it into the daily/weekly realized totals.
func (l *LivePnL) RecordClose(trade types.LiveTrade) {
	trade.ProfitNet = types.ComputeProfitNet(trade.ProfitGross, trade.Commission, trade.Swap)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollBoundaries(trade.ExitTime)
	l.trades = append(l.trades, trade)
	l.closedToday = l.closedToday.Add(trade.ProfitNet)
	l.closedWeek = l.closedWeek.Add(trade.ProfitNet)
}

// rollBoundaries resets the daily/weekly realized accumulators when ts
// crosses into a new local day or ISO week (spec.md §4.7).
func (l *LivePnL) rollBoundaries(ts time.Time) {
	local := ts.In(l.location)
	dayKey := local.Format("2006-01-02")
	isoYear, isoWeek := local.ISOWeek()
	weekKey := isoWeekKey(isoYear, isoWeek)

	if l.todayKey == "" {
		l.todayKey = dayKey
	}
	if l.weekKey == "" {
		l.weekKey = weekKey
	}
	if dayKey != l.todayKey {
		l.closedToday = decimal.Zero
		l.todayKey = dayKey
	}
	if weekKey != l.weekKey {
		l.closedWeek = decimal.Zero
		l.weekKey = weekKey
	}
}

func isoWeekKey(year, week int) string {
	return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, (week-1)*7).Format("2006-W") + itoaPadded(week)
}

func itoaPadded(n int) string {
	if n < 10 {
		return "0" + string(rune('0'+n))
	}
	return string(rune('0'+n/10)) + string(rune('0'+n%10))
}

// Snapshot records a periodic equity sample (balance/equity from the
// broker, floating PnL from OpenTrades) and updates the running drawdown.
func (l *LivePnL) Snapshot(ts time.Time, balance, equity, floating decimal.Decimal) types.EquitySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollBoundaries(ts)
	if equity.GreaterThan(l.peakEquity) {
		l.peakEquity = equity
	}
	ddAbs := l.peakEquity.Sub(equity)
	if ddAbs.IsNegative() {
		ddAbs = decimal.Zero
	}
	ddPct := decimal.Zero
	if l.peakEquity.IsPositive() {
		ddPct = ddAbs.Div(l.peakEquity).Mul(decimal.NewFromInt(100))
	}

	// MaxDrawdown{Abs,Pct} track the maximum over the whole series, not the
	// instantaneous dip, so a recovery (e.g. 10000 -> 9500 -> 9800) keeps
	// reporting the 5% high-water mark instead of falling back to ~2%
	// (spec.md §4.7, §8: drawdownPct is monotone non-decreasing).
	if ddAbs.GreaterThan(l.maxDrawdownAbs) {
		l.maxDrawdownAbs = ddAbs
	}
	if ddPct.GreaterThan(l.maxDrawdownPct) {
		l.maxDrawdownPct = ddPct
	}

	snap := types.EquitySnapshot{
		TS:             ts,
		Balance:        balance,
		Equity:         equity,
		FloatingPnL:    floating,
		ClosedPnLToday: l.closedToday,
		ClosedPnLWeek:  l.closedWeek,
		MaxDrawdownAbs: l.maxDrawdownAbs,
		MaxDrawdownPct: l.maxDrawdownPct,
	}
	l.equity = append(l.equity, snap)
	return snap
}

// ClosedToday returns the running realized PnL for the current local day.
func (l *LivePnL) ClosedToday() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closedToday
}

// ClosedWeek returns the running realized PnL for the current ISO week.
func (l *LivePnL) ClosedWeek() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closedWeek
}

// LatestEquity returns the most recent equity snapshot, or false if none
// has been recorded yet.
func (l *LivePnL) LatestEquity() (types.EquitySnapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.equity) == 0 {
		return types.EquitySnapshot{}, false
	}
	return l.equity[len(l.equity)-1], true
}

// Trades returns a defensive copy of all realized trades recorded so far.
func (l *LivePnL) Trades() []types.LiveTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.LiveTrade, len(l.trades))
	copy(out, l.trades)
	return out
}

// LosingStreak returns the number of consecutive losing closed trades for
// symbol, most recent first, used by the loss-streak killswitch/filter
// conditions (spec.md §4.8, §4.11).
func (l *LivePnL) LosingStreak(symbol string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	streak := 0
	for i := len(l.trades) - 1; i >= 0; i-- {
		t := l.trades[i]
		if t.Symbol != symbol {
			continue
		}
		if t.ProfitNet.IsNegative() {
			streak++
			continue
		}
		break
	}
	return streak
}
