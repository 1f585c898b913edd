// Package killswitch maintains the global trading-halt posture: active or
// inactive, with the reasons that triggered it, and the conditions that
// auto-resume it (spec.md §2 item 10, §4.8).
package killswitch

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Inputs is the per-evaluation snapshot KillSwitch reasons over. Callers
// (the pipeline supervisor) assemble this from LivePnL, OpenTrades and the
// strategy's decision history each tick.
type Inputs struct {
	Now              time.Time
	ClosedPnLToday   decimal.Decimal
	ClosedPnLWeek    decimal.Decimal
	AccountBalance   decimal.Decimal
	TradesToday      int
	TradesWeek       int
	WorstLosingStreak int
	MaxSpreadPoints  decimal.Decimal
	CurrentSpread    decimal.Decimal
	TotalExposureRisk decimal.Decimal
}

// KillSwitch is the single authority on whether new trades may be opened.
// Its state is owned exclusively here; other components only read it
// (spec.md §3).
type KillSwitch struct {
	logger *zap.Logger
	config types.KillSwitchConfig
	loc    *time.Location

	mu                    sync.RWMutex
	state                 types.KillSwitchState
	lastDayKey            string
	lastWeekKey           string
	transitions           []types.KillSwitchState
	nonTransientTriggered bool
}

// New builds a KillSwitch starting in the inactive state.
func New(logger *zap.Logger, config types.KillSwitchConfig) *KillSwitch {
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil || config.Timezone == "" {
		loc = time.UTC
	}
	return &KillSwitch{
		logger: logger.Named("kill-switch"),
		config: config,
		loc:    loc,
		state:  types.KillSwitchState{Active: false, Scope: "global"},
	}
}

// Evaluate checks every configured condition against in and flips state as
// needed. It also applies the auto-resume rules on a new local day/week
// boundary (spec.md §4.8).
func (k *KillSwitch) Evaluate(in Inputs) types.KillSwitchState {
	k.mu.Lock()
	defer k.mu.Unlock()

	local := in.Now.In(k.loc)
	dayKey := local.Format("2006-01-02")
	_, isoWeek := local.ISOWeek()
	weekKey := fmt.Sprintf("%d-W%02d", local.Year(), isoWeek)

	newDay := k.lastDayKey != "" && dayKey != k.lastDayKey
	newWeek := k.lastWeekKey != "" && weekKey != k.lastWeekKey
	k.lastDayKey = dayKey
	k.lastWeekKey = weekKey

	if k.state.Active && ((newDay && k.config.AutoResumeNextDay) || (newWeek && k.config.AutoResumeNextWeek)) {
		k.logger.Info("kill switch auto-resumed on calendar boundary",
			zap.Bool("new_day", newDay), zap.Bool("new_week", newWeek))
		k.resumeLocked()
	}

	reasons := k.reasonsLocked(in)
	if len(reasons) > 0 && !k.state.Active {
		k.activateLocked(reasons)
		k.nonTransientTriggered = k.hasNonTransientConditionLocked(in)
	} else if len(reasons) == 0 && k.state.Active {
		// Spread/exposure conditions self-heal intra-day. Loss/trade-count
		// triggers must not: once one has fired for this activation, only
		// the calendar-boundary auto-resume above may clear it, even after
		// the underlying reasons list goes empty (e.g. a winning close
		// shrinks ClosedPnLToday back under the cap) (spec.md §4.8).
		if !k.nonTransientTriggered {
			k.resumeLocked()
		}
	} else if len(reasons) > 0 && k.state.Active {
		k.state.Reasons = reasons
		if k.hasNonTransientConditionLocked(in) {
			k.nonTransientTriggered = true
		}
	}

	return k.state
}

func (k *KillSwitch) reasonsLocked(in Inputs) []string {
	var reasons []string

	if k.config.DailyMaxLossCurrency.IsPositive() && in.ClosedPnLToday.Neg().GreaterThanOrEqual(k.config.DailyMaxLossCurrency) {
		reasons = append(reasons, fmt.Sprintf("daily loss %s exceeds cap %s", in.ClosedPnLToday, k.config.DailyMaxLossCurrency.Neg()))
	}
	if k.config.DailyMaxLossPct.IsPositive() && in.AccountBalance.IsPositive() {
		pct := in.ClosedPnLToday.Neg().Div(in.AccountBalance).Mul(decimal.NewFromInt(100))
		if pct.GreaterThanOrEqual(k.config.DailyMaxLossPct) {
			reasons = append(reasons, fmt.Sprintf("daily loss %.2f%% exceeds cap %.2f%%", pct.InexactFloat64(), k.config.DailyMaxLossPct.InexactFloat64()))
		}
	}
	if k.config.WeeklyMaxLossCurrency.IsPositive() && in.ClosedPnLWeek.Neg().GreaterThanOrEqual(k.config.WeeklyMaxLossCurrency) {
		reasons = append(reasons, fmt.Sprintf("weekly loss %s exceeds cap %s", in.ClosedPnLWeek, k.config.WeeklyMaxLossCurrency.Neg()))
	}
	if k.config.WeeklyMaxLossPct.IsPositive() && in.AccountBalance.IsPositive() {
		pct := in.ClosedPnLWeek.Neg().Div(in.AccountBalance).Mul(decimal.NewFromInt(100))
		if pct.GreaterThanOrEqual(k.config.WeeklyMaxLossPct) {
			reasons = append(reasons, fmt.Sprintf("weekly loss %.2f%% exceeds cap %.2f%%", pct.InexactFloat64(), k.config.WeeklyMaxLossPct.InexactFloat64()))
		}
	}
	if k.config.MaxLosingStreak > 0 && in.WorstLosingStreak >= k.config.MaxLosingStreak {
		reasons = append(reasons, fmt.Sprintf("losing streak %d reached cap %d", in.WorstLosingStreak, k.config.MaxLosingStreak))
	}
	if k.config.MaxDailyTrades > 0 && in.TradesToday >= k.config.MaxDailyTrades {
		reasons = append(reasons, fmt.Sprintf("daily trade count %d reached cap %d", in.TradesToday, k.config.MaxDailyTrades))
	}
	if k.config.MaxWeeklyTrades > 0 && in.TradesWeek >= k.config.MaxWeeklyTrades {
		reasons = append(reasons, fmt.Sprintf("weekly trade count %d reached cap %d", in.TradesWeek, k.config.MaxWeeklyTrades))
	}
	if k.config.MaxSpreadPoints.IsPositive() && in.CurrentSpread.GreaterThan(k.config.MaxSpreadPoints) {
		reasons = append(reasons, fmt.Sprintf("spread %s exceeds cap %s", in.CurrentSpread, k.config.MaxSpreadPoints))
	}
	if k.config.MaxExposureRiskCurrency.IsPositive() && in.TotalExposureRisk.GreaterThan(k.config.MaxExposureRiskCurrency) {
		reasons = append(reasons, fmt.Sprintf("exposure risk %s exceeds cap %s", in.TotalExposureRisk, k.config.MaxExposureRiskCurrency))
	}

	return reasons
}

// hasNonTransientConditionLocked reports whether any of the non-self-healing
// conditions (daily/weekly loss, losing streak, daily/weekly trade count)
// is currently true. Spread and exposure-risk are the only conditions that
// may clear intra-day; these must wait for a calendar-day/week boundary.
func (k *KillSwitch) hasNonTransientConditionLocked(in Inputs) bool {
	if k.config.DailyMaxLossCurrency.IsPositive() && in.ClosedPnLToday.Neg().GreaterThanOrEqual(k.config.DailyMaxLossCurrency) {
		return true
	}
	if k.config.DailyMaxLossPct.IsPositive() && in.AccountBalance.IsPositive() {
		pct := in.ClosedPnLToday.Neg().Div(in.AccountBalance).Mul(decimal.NewFromInt(100))
		if pct.GreaterThanOrEqual(k.config.DailyMaxLossPct) {
			return true
		}
	}
	if k.config.WeeklyMaxLossCurrency.IsPositive() && in.ClosedPnLWeek.Neg().GreaterThanOrEqual(k.config.WeeklyMaxLossCurrency) {
		return true
	}
	if k.config.WeeklyMaxLossPct.IsPositive() && in.AccountBalance.IsPositive() {
		pct := in.ClosedPnLWeek.Neg().Div(in.AccountBalance).Mul(decimal.NewFromInt(100))
		if pct.GreaterThanOrEqual(k.config.WeeklyMaxLossPct) {
			return true
		}
	}
	if k.config.MaxLosingStreak > 0 && in.WorstLosingStreak >= k.config.MaxLosingStreak {
		return true
	}
	if k.config.MaxDailyTrades > 0 && in.TradesToday >= k.config.MaxDailyTrades {
		return true
	}
	if k.config.MaxWeeklyTrades > 0 && in.TradesWeek >= k.config.MaxWeeklyTrades {
		return true
	}
	return false
}

func (k *KillSwitch) activateLocked(reasons []string) {
	now := time.Now()
	k.state = types.KillSwitchState{Active: true, Reasons: reasons, ActivatedAt: &now, Scope: "global"}
	k.transitions = append(k.transitions, k.state)
	k.logger.Warn("kill switch activated", zap.Strings("reasons", reasons))
	metrics.RecordKillSwitchActivation(k.state.Scope)
	metrics.SetKillSwitchActive(k.state.Scope, true)
}

func (k *KillSwitch) resumeLocked() {
	scope := k.state.Scope
	k.state = types.KillSwitchState{Active: false, Scope: scope}
	k.transitions = append(k.transitions, k.state)
	k.nonTransientTriggered = false
	k.logger.Info("kill switch resumed")
	metrics.SetKillSwitchActive(scope, false)
}

// State returns the current kill-switch posture.
func (k *KillSwitch) State() types.KillSwitchState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// Transitions returns a defensive copy of every state transition recorded,
// used by DecisionLog/persistence.
func (k *KillSwitch) Transitions() []types.KillSwitchState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]types.KillSwitchState, len(k.transitions))
	copy(out, k.transitions)
	return out
}
