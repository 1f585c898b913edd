package smc

import (
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// SMTDivergence reports non-confirmation between a symbol and its
// configured correlated pair at a structural extreme: one instrument
// makes a new high/low over the lookback window while the other does not
// (spec.md §4.2 step 10, optional confluence).
func SMTDivergence(primary, correlated []types.Candle, direction types.OrderSide, lookback int) bool {
	if len(primary) < lookback || len(correlated) < lookback {
		return false
	}

	p := primary[len(primary)-lookback:]
	c := correlated[len(correlated)-lookback:]

	if direction == types.OrderSideBuy {
		// Bearish SMT for a long: primary makes a new low, correlated does not.
		return makesNewExtreme(p, false) && !makesNewExtreme(c, false)
	}
	// Bullish SMT for a short: primary makes a new high, correlated does not.
	return makesNewExtreme(p, true) && !makesNewExtreme(c, true)
}

// makesNewExtreme reports whether the last bar's high (wantHigh=true) or
// low (wantHigh=false) is the most extreme value in the window.
func makesNewExtreme(bars []types.Candle, wantHigh bool) bool {
	if len(bars) == 0 {
		return false
	}
	last := bars[len(bars)-1]
	for _, c := range bars[:len(bars)-1] {
		if wantHigh {
			if c.High.GreaterThanOrEqual(last.High) {
				return false
			}
		} else {
			if c.Low.LessThanOrEqual(last.Low) {
				return false
			}
		}
	}
	return true
}
