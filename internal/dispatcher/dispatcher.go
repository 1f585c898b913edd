// Package dispatcher fans one strategy Signal out to every account that
// trades its symbol, re-evaluating kill-switch, risk, and execution-filter
// posture independently per account before routing to that account's own
// broker instance (spec.md §2 item 15, §4.10).
package dispatcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/broker"
	"github.com/atlas-desktop/trading-backend/internal/decisionlog"
	"github.com/atlas-desktop/trading-backend/internal/execfilter"
	"github.com/atlas-desktop/trading-backend/internal/exposure"
	"github.com/atlas-desktop/trading-backend/internal/killswitch"
	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/internal/pnl"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// AccountRuntime bundles the per-account component instances the isolation
// invariant requires: one KillSwitch, one exposure tracker, one PnL ledger,
// one ExecutionFilter, one broker client, one DecisionLog mirror — all
// scoped to a single account so one account's kill-switch activation can
// never affect another's (spec.md §4.10 invariant).
type AccountRuntime struct {
	Account    types.Account
	Broker     *broker.Client
	Exposure   *exposure.OpenTrades
	PnL        *pnl.LivePnL
	KillSwitch *killswitch.KillSwitch
	Filter     *execfilter.Filter
	Log        *decisionlog.DecisionLog
}

// Proto is the part of one signal's evaluation context that Strategy and
// OrderFlow compute once per tick, shared across every account the signal
// is dispatched to. Dispatcher fills in the account-scoped fields
// (exposure, trades-today, loss streak) before evaluating per account.
type Proto struct {
	Signal       types.Signal
	Now          time.Time
	Bid, Ask     decimal.Decimal
	Lot          decimal.Decimal // position size computed upstream by internal/risk
	RiskEstimate decimal.Decimal // currency risk estimate, for exposure-cap checks
	SymbolConfig types.SymbolExecutionConfig
	GlobalConfig types.GlobalExecutionConfig
	LossStreak   types.LossStreakConfig
	OrderFlow    execfilter.OrderFlowInputs
	Guardrail    types.GuardrailResult
}

// Dispatcher owns the registered accounts and performs the fan-out.
type Dispatcher struct {
	logger   *zap.Logger
	accounts map[string]*AccountRuntime
}

// New builds an empty Dispatcher.
func New(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{logger: logger.Named("dispatcher"), accounts: make(map[string]*AccountRuntime)}
}

// Register adds or replaces an account's runtime.
func (d *Dispatcher) Register(rt *AccountRuntime) {
	d.accounts[rt.Account.ID] = rt
}

// Dispatch evaluates p against every registered account whose symbol list
// contains the signal's symbol, returning one DecisionRecord per account.
func (d *Dispatcher) Dispatch(ctx context.Context, p Proto) []types.DecisionRecord {
	var records []types.DecisionRecord
	for _, rt := range d.accounts {
		if !tradesSymbol(rt.Account, p.Signal.Symbol) {
			continue
		}
		records = append(records, d.dispatchOne(ctx, rt, p))
	}
	return records
}

func tradesSymbol(a types.Account, symbol string) bool {
	for _, s := range a.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func (d *Dispatcher) dispatchOne(ctx context.Context, rt *AccountRuntime, p Proto) types.DecisionRecord {
	rec := types.DecisionRecord{
		TS:       p.Now,
		Symbol:   p.Signal.Symbol,
		Strategy: p.Signal.Reason,
		Account:  rt.Account.ID,
		Guardrail: p.Guardrail,
	}

	equity := decimal.Zero
	if snap, ok := rt.PnL.LatestEquity(); ok {
		equity = snap.Equity
	}

	ksState := rt.KillSwitch.Evaluate(killswitch.Inputs{
		Now:               p.Now,
		ClosedPnLToday:    rt.PnL.ClosedToday(),
		ClosedPnLWeek:     rt.PnL.ClosedWeek(),
		AccountBalance:    equity,
		WorstLosingStreak: rt.PnL.LosingStreak(p.Signal.Symbol),
	})
	rec.KillSwitch = ksState
	if ksState.Active {
		rec.Decision = types.DecisionSkip
		rec.RiskReason = "kill_switch_active"
		d.logRecord(rt, rec)
		return rec
	}

	if rt.Account.Risk.MaxDailyLoss.IsPositive() && rt.PnL.ClosedToday().Neg().GreaterThan(rt.Account.Risk.MaxDailyLoss) {
		rec.Decision = types.DecisionSkip
		rec.RiskReason = "account_daily_loss_cap"
		d.logRecord(rt, rec)
		return rec
	}
	if rt.Account.Risk.MaxWeeklyLoss.IsPositive() && rt.PnL.ClosedWeek().Neg().GreaterThan(rt.Account.Risk.MaxWeeklyLoss) {
		rec.Decision = types.DecisionSkip
		rec.RiskReason = "account_weekly_loss_cap"
		d.logRecord(rt, rec)
		return rec
	}

	verdict := rt.Filter.Evaluate(execfilter.Inputs{
		Symbol:               p.Signal.Symbol,
		Direction:            p.Signal.Direction,
		Now:                  p.Now,
		Bid:                  p.Bid,
		Ask:                  p.Ask,
		TradesTodaySymbol:    rt.Log.TradesToday(p.Signal.Symbol, p.Now),
		SignalMeta:           p.Signal.Meta,
		SymbolExposure:       rt.Exposure.Symbol(p.Signal.Symbol),
		GlobalExposure:       rt.Exposure.Global(),
		NewTradeRiskEstimate: p.RiskEstimate,
		ConsecutiveLosses:    rt.PnL.LosingStreak(p.Signal.Symbol),
		OrderFlow:            p.OrderFlow,
		Config:               p.SymbolConfig,
		Global:               p.GlobalConfig,
		LossStreak:           p.LossStreak,
	})
	if !verdict.Allowed {
		rec.Decision = types.DecisionSkip
		rec.ExecutionFilterAction = "blocked"
		rec.ExecutionFilterReasons = verdict.Reasons
		d.logRecord(rt, rec)
		return rec
	}

	req := types.TradeRequest{
		Symbol:    p.Signal.Symbol,
		Direction: p.Signal.Direction,
		Kind:      types.OrderKindFor(p.Signal.Direction, p.Signal.Entry, p.Bid, p.Ask),
		Entry:     p.Signal.Entry,
		SL:        p.Signal.SL,
		TP:        p.Signal.TP,
		Lot:       p.Lot,
		Strategy:  p.Signal.Reason,
	}
	rec.TradeRequest = &req

	result := types.ExecutionResult{}
	resp, err := rt.Broker.OpenTrade(ctx, broker.OpenTradeRequest{
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		OrderKind:  req.Kind,
		EntryPrice: req.Entry,
		LotSize:    req.Lot,
		StopLoss:   req.SL,
		TakeProfit: req.TP,
		Strategy:   req.Strategy,
	})
	if err != nil {
		result.Success = false
		result.Error = err.Error()
	} else {
		result.Success = resp.Success
		result.Ticket = resp.Ticket
		result.Error = resp.Error
		result.Context = resp.Context
	}
	rec.ExecutionResult = &result
	rec.Decision = types.DecisionTrade
	d.logRecord(rt, rec)
	return rec
}

func (d *Dispatcher) logRecord(rt *AccountRuntime, rec types.DecisionRecord) {
	rt.Log.Append(rec)
	metrics.RecordDecision(rt.Account.ID, rec.Symbol, string(rec.Decision))
}
