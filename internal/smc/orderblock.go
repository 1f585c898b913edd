package smc

import (
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// isBullish reports a green candle (close >= open).
func isBullish(c types.Candle) bool {
	return c.Close.GreaterThanOrEqual(c.Open)
}

// OrderBlockFor locates the order block behind a BOS: scanning backward
// from the impulse candle, the last candle colored opposite to the impulse
// direction (spec.md §4.2 step 7). A bullish BOS impulses on bullish
// (green) candles, so its order block is the last red candle before the
// run; bearish symmetric.
func OrderBlockFor(bars []types.Candle, tf types.Timeframe, bos types.BosEvent) (types.OrderBlock, bool) {
	impulseBullish := bos.Direction == types.OrderSideBuy

	for i := bos.Index - 1; i >= 0; i-- {
		if isBullish(bars[i]) != impulseBullish {
			return types.OrderBlock{
				TF: tf, Side: bos.Direction, High: bars[i].High, Low: bars[i].Low,
				CreatedAt: bars[i].EndTime, Mitigated: false,
			}, true
		}
	}
	return types.OrderBlock{}, false
}

// Mitigate marks ob mitigated if any bar at or after ob.CreatedAt closes
// beyond its far edge (spec.md §4.2 step 7): for a bullish (demand) block
// the far edge is its low; for a bearish (supply) block, its high.
func Mitigate(ob *types.OrderBlock, bars []types.Candle) {
	if ob.Mitigated {
		return
	}
	for _, c := range bars {
		if !c.EndTime.After(ob.CreatedAt) {
			continue
		}
		if ob.Side == types.OrderSideBuy && c.Close.LessThan(ob.Low) {
			ob.Mitigated = true
			return
		}
		if ob.Side == types.OrderSideSell && c.Close.GreaterThan(ob.High) {
			ob.Mitigated = true
			return
		}
	}
}
