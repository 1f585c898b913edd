package smc

import (
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// LiquiditySwept reports whether, within the window of bars preceding and
// including uptoIndex, price wicked beyond a prior swing and closed back
// inside the range: bullish sweep wicks below a prior swing low then
// closes above it; bearish sweep wicks above a prior swing high then
// closes below it (spec.md §4.2 step 8).
func LiquiditySwept(bars []types.Candle, swings []types.SwingPoint, direction types.OrderSide, uptoIndex, window int) bool {
	lo := uptoIndex - window
	if lo < 0 {
		lo = 0
	}

	for i := lo; i <= uptoIndex && i < len(bars); i++ {
		if direction == types.OrderSideBuy {
			swingLow, ok := LastOfKind(swings, types.SwingLow, i)
			if !ok {
				continue
			}
			if bars[i].Low.LessThan(swingLow.Price) && bars[i].Close.GreaterThan(swingLow.Price) {
				return true
			}
		} else {
			swingHigh, ok := LastOfKind(swings, types.SwingHigh, i)
			if !ok {
				continue
			}
			if bars[i].High.GreaterThan(swingHigh.Price) && bars[i].Close.LessThan(swingHigh.Price) {
				return true
			}
		}
	}
	return false
}
