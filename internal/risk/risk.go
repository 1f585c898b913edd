// Package risk sizes lots and caps daily drawdown/trade count per strategy
// tier (spec.md §2 item 12, §4.3). It holds no mutable state of its own:
// every call receives the aggregates it needs (equity, closed PnL, trade
// counts) from the caller, the same per-evaluation context pattern used by
// internal/killswitch and internal/smc (spec.md §9).
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
)

const (
	ReasonDailyLossLimitReached = "daily_loss_limit_reached"
	ReasonMaxTradesReached      = "max_trades_reached"
	ReasonGuardrailBlocked      = "guardrail_blocked"
)

// DefaultMinLot is the broker-wide minimum lot floor (spec.md §4.3).
const DefaultMinLot = "0.01"

// Decision is the result of CanTakeNewTrade.
type Decision struct {
	Allowed         bool
	Reason          string
	AdjustedRiskPct decimal.Decimal
}

// Inputs carries the per-evaluation context Risk reads.
type Inputs struct {
	Tier            types.RiskTier
	Symbol          string
	Equity          decimal.Decimal
	ClosedPnLToday  decimal.Decimal // negative on a losing day
	TradesToday     int
	GuardrailMode   types.GuardrailMode
}

// Risk evaluates position sizing and per-tier daily caps.
type Risk struct {
	logger          *zap.Logger
	tiers           map[types.RiskTier]types.StrategyTierConfig
	symbolExecution map[string]types.SymbolExecutionConfig
}

// New builds a Risk service over the configured strategy tiers and
// per-symbol execution rules.
func New(logger *zap.Logger, tiers map[types.RiskTier]types.StrategyTierConfig, symbolExecution map[string]types.SymbolExecutionConfig) *Risk {
	return &Risk{logger: logger.Named("risk"), tiers: tiers, symbolExecution: symbolExecution}
}

// CanTakeNewTrade reports whether a new trade is allowed under the tier's
// daily loss cap and trade-count cap, and the risk percent to size it with
// after any guardrail reduction (spec.md §4.3).
func (r *Risk) CanTakeNewTrade(in Inputs) Decision {
	tier, ok := r.tiers[in.Tier]
	if !ok {
		r.logger.Warn("no tier config, defaulting to blocked", zap.String("tier", string(in.Tier)))
		return Decision{Allowed: false, Reason: ReasonMaxTradesReached}
	}

	if in.GuardrailMode == types.GuardrailBlocked {
		return Decision{Allowed: false, Reason: ReasonGuardrailBlocked}
	}

	if tier.MaxTradesPerDay > 0 && in.TradesToday >= tier.MaxTradesPerDay {
		return Decision{Allowed: false, Reason: ReasonMaxTradesReached}
	}

	if !in.Equity.IsZero() && tier.MaxDailyLossPct.IsPositive() {
		lossPct := in.ClosedPnLToday.Neg().Div(in.Equity).Mul(decimal.NewFromInt(100))
		if lossPct.GreaterThanOrEqual(tier.MaxDailyLossPct) {
			return Decision{Allowed: false, Reason: ReasonDailyLossLimitReached}
		}
	}

	adjusted := r.adjustedRiskPct(tier, in.GuardrailMode)
	return Decision{Allowed: true, AdjustedRiskPct: adjusted}
}

// adjustedRiskPct halves the tier default under a `reduced` guardrail mode
// (spec.md §4.3).
func (r *Risk) adjustedRiskPct(tier types.StrategyTierConfig, mode types.GuardrailMode) decimal.Decimal {
	pct := tier.DefaultRiskPct
	if mode == types.GuardrailReduced {
		pct = pct.Div(decimal.NewFromInt(2))
	}
	return pct
}

// PositionSize computes the lot size for a trade with the given stop
// distance, clamped to [0.01, symbol max] and snapped down to the broker's
// volumeStep (spec.md §4.3).
func (r *Risk) PositionSize(symbol string, slDistance, equity, adjustedPct decimal.Decimal) (decimal.Decimal, error) {
	sym, ok := r.symbolExecution[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("risk: no execution config for symbol %s", symbol)
	}
	if slDistance.LessThanOrEqual(decimal.Zero) || sym.PipSize.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("risk: invalid sl distance or pip size for %s", symbol)
	}

	riskAmount := equity.Mul(adjustedPct).Div(decimal.NewFromInt(100))
	slPips := slDistance.Div(sym.PipSize)
	denom := slPips.Mul(sym.PipValuePerLot)
	if denom.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("risk: non-positive pip value denominator for %s", symbol)
	}

	lot := riskAmount.Div(denom)

	minLot := decimal.RequireFromString(DefaultMinLot)
	maxLot := sym.MaxLotSize
	if !maxLot.IsPositive() {
		maxLot = lot
	}
	lot = utils.ClampDecimal(lot, minLot, utils.MaxDecimal(minLot, maxLot))
	return utils.RoundToStepSize(lot, sym.VolumeStep), nil
}
