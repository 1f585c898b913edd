package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpenTrade is a broker-reported open position.
type OpenTrade struct {
	Ticket     string
	Symbol     string
	Direction  OrderSide
	Volume     decimal.Decimal
	OpenPrice  decimal.Decimal
	SL         *decimal.Decimal
	TP         *decimal.Decimal
	OpenTime   time.Time
	FloatPnL   *decimal.Decimal
}

// ExposureSnapshot is the per-symbol view OpenTrades maintains.
type ExposureSnapshot struct {
	Symbol          string
	LongCount       int
	ShortCount      int
	TotalCount      int
	EstimatedRisk   decimal.Decimal
	LastUpdated     time.Time
}

// DirectionalCount returns the open count in the given direction.
func (e ExposureSnapshot) DirectionalCount(side OrderSide) int {
	if side == OrderSideBuy {
		return e.LongCount
	}
	return e.ShortCount
}

// GlobalSnapshot aggregates exposure across all symbols.
type GlobalSnapshot struct {
	TotalOpenTrades int
	TotalRisk       decimal.Decimal
	LastUpdated     time.Time
}

// TrailMode selects how ExitEngine advances the stop loss.
type TrailMode string

const (
	TrailModeNone       TrailMode = "none"
	TrailModeFixedPips  TrailMode = "fixed_pips"
	TrailModeStructure  TrailMode = "structure"
)

// ExitPlan is the per-position lifecycle plan owned exclusively by
// ExitEngine, keyed by ticket.
type ExitPlan struct {
	Ticket        string
	Entry         decimal.Decimal
	SLInitial     decimal.Decimal
	TP1           *decimal.Decimal
	TP2           *decimal.Decimal
	TP3           *decimal.Decimal
	BETriggerR    decimal.Decimal
	BEDone        bool
	PartialPct    *decimal.Decimal
	PartialDone   bool
	TrailMode     TrailMode
	TrailValue    decimal.Decimal
	CurrentSL     *decimal.Decimal // last SL ExitEngine moved the position to; nil until the first trail/BE move
	LastTrailMove time.Time
	TimeLimit     time.Duration
	OpenedAt      time.Time
}

// R returns the initial risk unit: |entry - slInitial|.
func (p ExitPlan) R() decimal.Decimal {
	return p.Entry.Sub(p.SLInitial).Abs()
}

// LiveTrade is a realized (closed) position, written once on closure.
type LiveTrade struct {
	Ticket       string
	PositionID   string
	Symbol       string
	Strategy     string
	Direction    OrderSide
	Volume       decimal.Decimal
	EntryTime    time.Time
	ExitTime     time.Time
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	SL           *decimal.Decimal
	TP           *decimal.Decimal
	Commission   decimal.Decimal
	Swap         decimal.Decimal
	ProfitGross  decimal.Decimal
	ProfitNet    decimal.Decimal
	ClosedReason string
}

// ComputeProfitNet applies spec.md §4.7: profitNet = profitGross - |commission| - |swap|.
func ComputeProfitNet(profitGross, commission, swap decimal.Decimal) decimal.Decimal {
	return profitGross.Sub(commission.Abs()).Sub(swap.Abs())
}

// EquitySnapshot is a periodic account-state sample.
type EquitySnapshot struct {
	TS               time.Time
	Balance          decimal.Decimal
	Equity           decimal.Decimal
	FloatingPnL      decimal.Decimal
	ClosedPnLToday   decimal.Decimal
	ClosedPnLWeek    decimal.Decimal
	MaxDrawdownAbs   decimal.Decimal
	MaxDrawdownPct   decimal.Decimal
}

// KillSwitchState is the current global kill-switch posture.
type KillSwitchState struct {
	Active      bool
	Reasons     []string
	ActivatedAt *time.Time
	Scope       string // "global" or an account id
}

// RiskTier selects the strategy's risk/behavior profile.
type RiskTier string

const (
	RiskTierLow  RiskTier = "low"
	RiskTierHigh RiskTier = "high"
)

// GuardrailMode is the news-avoidance posture returned by Guardrail.
type GuardrailMode string

const (
	GuardrailNormal  GuardrailMode = "normal"
	GuardrailReduced GuardrailMode = "reduced"
	GuardrailBlocked GuardrailMode = "blocked"
)

// GuardrailResult is what Guardrail returns for a strategy tier evaluation.
type GuardrailResult struct {
	Mode         GuardrailMode
	Reason       string
	ActiveWindow *AvoidWindow
}

// AvoidWindow is a scheduled news-risk window.
type AvoidWindow struct {
	StartTime time.Time
	EndTime   time.Time
	Currency  string
	Event     string
	RiskScore int
	Critical  bool
}

// TradeRequest is what Risk/ExecutionFilter hand to the Dispatcher.
type TradeRequest struct {
	Symbol     string
	Direction  OrderSide
	Kind       OrderKind
	Entry      decimal.Decimal
	SL         decimal.Decimal
	TP         decimal.Decimal
	Lot        decimal.Decimal
	Strategy   string
	Metadata   map[string]any
}

// ExecutionResult records what happened when a TradeRequest was sent.
type ExecutionResult struct {
	Success bool
	Ticket  string
	Error   string
	Context map[string]any
}

// DecisionOutcome is trade vs skip.
type DecisionOutcome string

const (
	DecisionTrade DecisionOutcome = "trade"
	DecisionSkip  DecisionOutcome = "skip"
)

// PerformanceSummary carries the trade-outcome metrics DecisionLog's
// PerformanceReport aggregates (spec.md §4.12), named after the teacher's
// performance-metrics vocabulary (winRate, profitFactor) plus avgR in place
// of a bespoke win/loss-ratio field.
type PerformanceSummary struct {
	Wins         int
	Losses       int
	BreakEvens   int
	WinRate      decimal.Decimal
	ProfitFactor decimal.Decimal
	AvgR         decimal.Decimal
}

// DecisionRecord is one append-only row in DecisionLog: either a trade or a
// skip, with the full reason vector that produced it.
type DecisionRecord struct {
	TS                     time.Time
	Symbol                 string
	Strategy               string
	Account                string
	Decision               DecisionOutcome
	Guardrail              GuardrailResult
	RiskReason             string
	ExecutionFilterAction  string
	ExecutionFilterReasons []string
	KillSwitch             KillSwitchState
	TradeRequest           *TradeRequest
	ExecutionResult        *ExecutionResult
	StrategyError          string
}
