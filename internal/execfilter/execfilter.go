// Package execfilter applies the final gate of the decision pipeline:
// session, spread, cooldown, daily trade count, SMC confluence, exposure,
// loss-streak, and order-flow checks (spec.md §2 item 13, §4.4). Every
// check runs independently of the others' outcome so a rejected signal
// carries the full reason vector, not just the first failure.
package execfilter

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

const (
	ReasonSessionClosed          = "session_closed"
	ReasonSpreadTooWide          = "spread_too_wide"
	ReasonCooldownActive         = "cooldown_active"
	ReasonMaxDailyTradesSymbol   = "max_daily_trades_symbol"
	ReasonNoSMCConfluence        = "no_smc_confluence"
	ReasonMaxConcurrentPerSymbol = "max_concurrent_per_symbol"
	ReasonMaxConcurrentPerDir    = "max_concurrent_per_direction"
	ReasonMaxConcurrentGlobal    = "max_concurrent_global"
	ReasonMaxDailyRiskSymbol     = "max_daily_risk_symbol"
	ReasonMaxDailyRiskGlobal     = "max_daily_risk_global"
	ReasonLossStreakPaused       = "loss_streak_paused"
	ReasonOrderFlowOpposes       = "order_flow_opposes"
	ReasonOrderFlowAbsorption    = "order_flow_absorption"
	ReasonOrderFlowLargeCluster  = "order_flow_large_opposing_cluster"
	ReasonOrderFlowExhaustion    = "order_flow_exhaustion"
)

// OrderFlowInputs carries the precomputed order-flow read relevant to one
// candidate signal (spec.md §4.4 step 8, §4.5).
type OrderFlowInputs struct {
	Available                  bool
	Delta15s                   decimal.Decimal
	MinDeltaTrendConfirm       decimal.Decimal
	AbsorptionAgainstDirection bool
	LargeOpposingCluster       bool
	ExhaustionCollapse         bool
}

// Inputs carries everything ExecutionFilter needs for one candidate signal.
type Inputs struct {
	Symbol               string
	Direction            types.OrderSide
	Now                  time.Time
	Bid, Ask             decimal.Decimal
	LastTradeTime        *time.Time
	TradesTodaySymbol    int
	SignalMeta           types.SignalMeta
	SymbolExposure       types.ExposureSnapshot
	GlobalExposure       types.GlobalSnapshot
	NewTradeRiskEstimate decimal.Decimal
	ConsecutiveLosses    int
	OrderFlow            OrderFlowInputs
	Config               types.SymbolExecutionConfig
	Global               types.GlobalExecutionConfig
	LossStreak           types.LossStreakConfig
}

// Verdict is the outcome of one Evaluate call.
type Verdict struct {
	Allowed bool
	Reasons []string
}

type pauseState struct {
	until time.Time
}

// Filter is the stateful ExecutionFilter service: every rule but the
// loss-streak pause is a pure function of Inputs; the loss-streak pause
// tracks, per symbol, the wall-clock time a pause was triggered so repeated
// evaluations see a consistent "still paused" answer even after the
// triggering streak resets (spec.md §4.4 step 7).
type Filter struct {
	logger *zap.Logger
	loc    *time.Location
	mu     sync.Mutex
	pauses map[string]pauseState
}

// New builds an ExecutionFilter.
func New(logger *zap.Logger, loc *time.Location) *Filter {
	if loc == nil {
		loc = time.UTC
	}
	return &Filter{logger: logger.Named("execfilter"), loc: loc, pauses: make(map[string]pauseState)}
}

// Evaluate runs every check and returns the full reason vector
// (spec.md §4.4).
func (f *Filter) Evaluate(in Inputs) Verdict {
	var reasons []string

	if !withinAnySession(in.Config.Sessions, in.Now) {
		reasons = append(reasons, ReasonSessionClosed)
	}

	if in.Config.PipSize.IsPositive() && in.Config.MaxSpread.IsPositive() {
		spreadPips := in.Ask.Sub(in.Bid).Div(in.Config.PipSize)
		if spreadPips.GreaterThan(in.Config.MaxSpread) {
			reasons = append(reasons, ReasonSpreadTooWide)
		}
	}

	if in.LastTradeTime != nil && in.Config.MinCooldownMinutes > 0 {
		elapsed := in.Now.Sub(*in.LastTradeTime)
		if elapsed < time.Duration(in.Config.MinCooldownMinutes)*time.Minute {
			reasons = append(reasons, ReasonCooldownActive)
		}
	}

	if in.Config.MaxDailyTradesPerSymbol > 0 && in.TradesTodaySymbol >= in.Config.MaxDailyTradesPerSymbol {
		reasons = append(reasons, ReasonMaxDailyTradesSymbol)
	}

	if !in.SignalMeta.LiquiditySwept || in.SignalMeta.OrderBlock == nil || in.SignalMeta.OrderBlock.Mitigated {
		reasons = append(reasons, ReasonNoSMCConfluence)
	}

	if in.Config.MaxConcurrentTradesPerSymbol > 0 && in.SymbolExposure.TotalCount >= in.Config.MaxConcurrentTradesPerSymbol {
		reasons = append(reasons, ReasonMaxConcurrentPerSymbol)
	}
	if in.Config.MaxConcurrentTradesPerDirection > 0 && in.SymbolExposure.DirectionalCount(in.Direction) >= in.Config.MaxConcurrentTradesPerDirection {
		reasons = append(reasons, ReasonMaxConcurrentPerDir)
	}
	if in.Global.MaxConcurrentTradesGlobal > 0 && in.GlobalExposure.TotalOpenTrades >= in.Global.MaxConcurrentTradesGlobal {
		reasons = append(reasons, ReasonMaxConcurrentGlobal)
	}
	if in.Config.MaxDailyRiskPerSymbol != nil && in.SymbolExposure.EstimatedRisk.Add(in.NewTradeRiskEstimate).GreaterThan(*in.Config.MaxDailyRiskPerSymbol) {
		reasons = append(reasons, ReasonMaxDailyRiskSymbol)
	}
	if in.Global.MaxDailyRiskGlobal.IsPositive() && in.GlobalExposure.TotalRisk.Add(in.NewTradeRiskEstimate).GreaterThan(in.Global.MaxDailyRiskGlobal) {
		reasons = append(reasons, ReasonMaxDailyRiskGlobal)
	}

	if f.lossStreakPaused(in.Symbol, in.Now, in.ConsecutiveLosses, in.LossStreak) {
		reasons = append(reasons, ReasonLossStreakPaused)
	}

	if in.OrderFlow.Available {
		opposesUp := in.Direction == types.OrderSideBuy && in.OrderFlow.Delta15s.Neg().GreaterThan(in.OrderFlow.MinDeltaTrendConfirm)
		opposesDown := in.Direction == types.OrderSideSell && in.OrderFlow.Delta15s.GreaterThan(in.OrderFlow.MinDeltaTrendConfirm)
		if opposesUp || opposesDown {
			reasons = append(reasons, ReasonOrderFlowOpposes)
		}
		if in.OrderFlow.AbsorptionAgainstDirection {
			reasons = append(reasons, ReasonOrderFlowAbsorption)
		}
		if in.OrderFlow.LargeOpposingCluster {
			reasons = append(reasons, ReasonOrderFlowLargeCluster)
		}
		if in.OrderFlow.ExhaustionCollapse {
			reasons = append(reasons, ReasonOrderFlowExhaustion)
		}
	}

	if len(reasons) > 0 {
		metrics.RecordExecutionFilterSkip(in.Symbol, reasons)
	}
	return Verdict{Allowed: len(reasons) == 0, Reasons: reasons}
}

// lossStreakPaused applies and remembers a loss-streak pause: >= the daily
// threshold pauses until end of the local calendar day; >= the consecutive
// threshold pauses for a fixed duration (default 6h). Once triggered, the
// pause holds until its deadline regardless of later streak resets.
func (f *Filter) lossStreakPaused(symbol string, now time.Time, consecutiveLosses int, cfg types.LossStreakConfig) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.pauses[symbol]; ok {
		if now.Before(p.until) {
			return true
		}
		delete(f.pauses, symbol)
	}

	switch {
	case cfg.PauseAfterDailyLosses > 0 && consecutiveLosses >= cfg.PauseAfterDailyLosses:
		f.pauses[symbol] = pauseState{until: endOfDay(now, f.loc)}
		return true
	case cfg.PauseAfterConsecutiveLosses > 0 && consecutiveLosses >= cfg.PauseAfterConsecutiveLosses:
		dur := cfg.PauseDuration
		if dur <= 0 {
			dur = 6 * time.Hour
		}
		f.pauses[symbol] = pauseState{until: now.Add(dur)}
		return true
	}
	return false
}

func endOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

func withinAnySession(windows []types.SessionWindow, now time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}
