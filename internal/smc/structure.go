package smc

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// BOS scans bars for breaks of structure against the swing stream: for each
// candle i, compares its close against the most recent opposite-directional
// swing level within lookback bars (strict close policy — the close, not
// the wick, must clear the level) (spec.md §4.2 step 3).
func BOS(bars []types.Candle, swings []types.SwingPoint, lookback int) []types.BosEvent {
	var events []types.BosEvent
	for i := range bars {
		lo := i - lookback
		if lo < 0 {
			lo = 0
		}

		if lastHigh, ok := LastOfKind(swings, types.SwingHigh, i-1); ok && lastHigh.Index >= lo {
			if bars[i].Close.GreaterThan(lastHigh.Price) {
				events = append(events, types.BosEvent{
					Index: i, Direction: types.OrderSideBuy, BrokenSwingIdx: lastHigh.Index,
					Level: lastHigh.Price, Time: bars[i].EndTime,
				})
			}
		}
		if lastLow, ok := LastOfKind(swings, types.SwingLow, i-1); ok && lastLow.Index >= lo {
			if bars[i].Close.LessThan(lastLow.Price) {
				events = append(events, types.BosEvent{
					Index: i, Direction: types.OrderSideSell, BrokenSwingIdx: lastLow.Index,
					Level: lastLow.Price, Time: bars[i].EndTime,
				})
			}
		}
	}
	return events
}

// ComputeTrendBiasAt derives the directional bias as of bars[uptoIndex]:
// bullish iff the last 2 swing highs and last 2 swing lows are both
// strictly increasing and the last BOS is bullish; bearish symmetric;
// sideways otherwise. PDPosition uses bars[uptoIndex].Close as the
// reference price (spec.md §4.2 steps 4-5, §9 open question resolved to
// ≥2-point strict monotonicity).
func ComputeTrendBiasAt(bars []types.Candle, swings []types.SwingPoint, bosEvents []types.BosEvent, uptoIndex int) types.TrendBias {
	highs := LastNOfKind(swings, types.SwingHigh, uptoIndex, 2)
	lows := LastNOfKind(swings, types.SwingLow, uptoIndex, 2)

	var lastBos *types.BosEvent
	for i := len(bosEvents) - 1; i >= 0; i-- {
		if bosEvents[i].Index <= uptoIndex {
			lastBos = &bosEvents[i]
			break
		}
	}

	bias := types.TrendBias{Trend: types.TrendSideways}
	if len(highs) > 0 {
		h := highs[len(highs)-1]
		bias.LastSwingHi = &h
	}
	if len(lows) > 0 {
		l := lows[len(lows)-1]
		bias.LastSwingLo = &l
	}
	if lastBos != nil {
		bias.LastBosDir = lastBos.Direction
	}

	switch {
	case monotoneIncreasing(highs) && monotoneIncreasing(lows) && lastBos != nil && lastBos.Direction == types.OrderSideBuy:
		bias.Trend = types.TrendBullish
	case monotoneDecreasing(highs) && monotoneDecreasing(lows) && lastBos != nil && lastBos.Direction == types.OrderSideSell:
		bias.Trend = types.TrendBearish
	}

	if bias.LastSwingHi != nil && bias.LastSwingLo != nil && uptoIndex >= 0 && uptoIndex < len(bars) {
		bias.PDPosition = PDPosition(bars[uptoIndex].Close, bias.LastSwingLo.Price, bias.LastSwingHi.Price)
	}

	return bias
}

// PDPosition computes the premium/discount position of price within
// [low, high], clamped to [0,1]. Returns nil for a zero-width range
// (spec.md §4.2 step 5, §8 boundary case).
func PDPosition(price, low, high decimal.Decimal) *decimal.Decimal {
	rangeWidth := high.Sub(low)
	if rangeWidth.IsZero() {
		return nil
	}
	pd := price.Sub(low).Div(rangeWidth)
	if pd.LessThan(decimal.Zero) {
		pd = decimal.Zero
	}
	if pd.GreaterThan(decimal.NewFromInt(1)) {
		pd = decimal.NewFromInt(1)
	}
	return &pd
}

// IsDiscount reports pd <= 0.5.
func IsDiscount(pd *decimal.Decimal) bool {
	return pd != nil && pd.LessThanOrEqual(decimal.NewFromFloat(0.5))
}

// IsPremium reports pd >= 0.5.
func IsPremium(pd *decimal.Decimal) bool {
	return pd != nil && pd.GreaterThanOrEqual(decimal.NewFromFloat(0.5))
}

// CHoCH identifies change-of-character events: a BOS at index i whose
// direction opposes the trend computed immediately before i, and whose
// level breaches the protected swing (the last swing-low for a bullish
// trend being broken down, the last swing-high for a bearish trend being
// broken up) (spec.md §3, §4.2 step 6).
func CHoCH(bars []types.Candle, swings []types.SwingPoint, bosEvents []types.BosEvent) []types.ChochEvent {
	var events []types.ChochEvent
	for _, bos := range bosEvents {
		priorTrend := ComputeTrendBiasAt(bars, swings, bosEvents, clampIndex(bos.Index-1, len(bars))).Trend

		switch {
		case priorTrend == types.TrendBullish && bos.Direction == types.OrderSideSell:
			events = append(events, types.ChochEvent{BosEvent: bos, FromTrend: types.TrendBullish, ToTrend: types.TrendBearish})
		case priorTrend == types.TrendBearish && bos.Direction == types.OrderSideBuy:
			events = append(events, types.ChochEvent{BosEvent: bos, FromTrend: types.TrendBearish, ToTrend: types.TrendBullish})
		}
	}
	return events
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
