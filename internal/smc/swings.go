// Package smc implements the Smart Money Concepts structure analysis and
// decision rule that produces candidate signals for the trading core
// (spec.md §4.2).
package smc

import (
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Swings returns confirmed pivot highs/lows over bars using a symmetric
// left/right confirmation window: a bar at index i is a swing high iff its
// high is strictly greater than every bar's high within [i-window, i+window]
// on both sides, and a swing is only emitted once `window` bars to its
// right exist (spec.md §4.2 step 2).
func Swings(bars []types.Candle, window int) []types.SwingPoint {
	if window <= 0 || len(bars) < 2*window+1 {
		return nil
	}

	var swings []types.SwingPoint
	for i := window; i < len(bars)-window; i++ {
		if isPivotHigh(bars, i, window) {
			swings = append(swings, types.SwingPoint{
				Index: i, Kind: types.SwingHigh, Price: bars[i].High, Time: bars[i].EndTime,
			})
		}
		if isPivotLow(bars, i, window) {
			swings = append(swings, types.SwingPoint{
				Index: i, Kind: types.SwingLow, Price: bars[i].Low, Time: bars[i].EndTime,
			})
		}
	}
	return swings
}

func isPivotHigh(bars []types.Candle, i, window int) bool {
	for j := i - window; j <= i+window; j++ {
		if j == i {
			continue
		}
		if bars[j].High.GreaterThanOrEqual(bars[i].High) {
			return false
		}
	}
	return true
}

func isPivotLow(bars []types.Candle, i, window int) bool {
	for j := i - window; j <= i+window; j++ {
		if j == i {
			continue
		}
		if bars[j].Low.LessThanOrEqual(bars[i].Low) {
			return false
		}
	}
	return true
}

// LastOfKind returns the most recent swing of kind at or before index,
// or false if none exists.
func LastOfKind(swings []types.SwingPoint, kind types.SwingKind, beforeIndex int) (types.SwingPoint, bool) {
	for i := len(swings) - 1; i >= 0; i-- {
		if swings[i].Kind == kind && swings[i].Index <= beforeIndex {
			return swings[i], true
		}
	}
	return types.SwingPoint{}, false
}

// LastNOfKind returns up to n most recent swings of kind at or before
// beforeIndex, oldest first.
func LastNOfKind(swings []types.SwingPoint, kind types.SwingKind, beforeIndex, n int) []types.SwingPoint {
	var out []types.SwingPoint
	for i := len(swings) - 1; i >= 0 && len(out) < n; i-- {
		if swings[i].Kind == kind && swings[i].Index <= beforeIndex {
			out = append(out, swings[i])
		}
	}
	// reverse to oldest-first
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

// monotoneIncreasing reports whether prices are strictly increasing.
func monotoneIncreasing(points []types.SwingPoint) bool {
	if len(points) < 2 {
		return false
	}
	for i := 1; i < len(points); i++ {
		if !points[i].Price.GreaterThan(points[i-1].Price) {
			return false
		}
	}
	return true
}

// monotoneDecreasing reports whether prices are strictly decreasing.
func monotoneDecreasing(points []types.SwingPoint) bool {
	if len(points) < 2 {
		return false
	}
	for i := 1; i < len(points); i++ {
		if !points[i].Price.LessThan(points[i-1].Price) {
			return false
		}
	}
	return true
}
