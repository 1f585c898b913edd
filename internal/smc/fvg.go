package smc

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// FVGs scans the bar stream for three-candle fair value gaps: a bullish
// gap when candle[i-1].high < candle[i+1].low; a bearish gap when
// candle[i-1].low > candle[i+1].high (spec.md §4.2 step 9).
func FVGs(bars []types.Candle, tf types.Timeframe) []types.FairValueGap {
	if len(bars) < 3 {
		return nil
	}

	var avgRange decimal.Decimal
	if n := len(bars); n > 0 {
		sum := decimal.Zero
		for _, c := range bars {
			sum = sum.Add(c.High.Sub(c.Low))
		}
		avgRange = sum.Div(decimal.NewFromInt(int64(n)))
	}

	var gaps []types.FairValueGap
	for i := 1; i < len(bars)-1; i++ {
		prev, next := bars[i-1], bars[i+1]
		if prev.High.LessThan(next.Low) {
			width := next.Low.Sub(prev.High)
			gaps = append(gaps, types.FairValueGap{
				TF: tf, Direction: types.OrderSideBuy, Upper: next.Low, Lower: prev.High,
				Grade: gradeFVG(width, avgRange), CreatedAt: bars[i].EndTime,
			})
		}
		if prev.Low.GreaterThan(next.High) {
			width := prev.Low.Sub(next.High)
			gaps = append(gaps, types.FairValueGap{
				TF: tf, Direction: types.OrderSideSell, Upper: prev.Low, Lower: next.High,
				Grade: gradeFVG(width, avgRange), CreatedAt: bars[i].EndTime,
			})
		}
	}
	return gaps
}

// gradeFVG ranks a gap's width relative to the stream's average candle
// range: at least 75% of average is strong, at least 30% is normal, else
// weak.
func gradeFVG(width, avgRange decimal.Decimal) types.FVGGrade {
	if avgRange.IsZero() {
		return types.FVGGradeWeak
	}
	ratio := width.Div(avgRange)
	switch {
	case ratio.GreaterThanOrEqual(decimal.NewFromFloat(0.75)):
		return types.FVGGradeStrong
	case ratio.GreaterThanOrEqual(decimal.NewFromFloat(0.30)):
		return types.FVGGradeNormal
	default:
		return types.FVGGradeWeak
	}
}

// FVGAligned reports whether any gap of direction exists whose range
// contains price — used as one arm of the decision rule's FVG alignment
// check (spec.md §4.2 step 12). Gaps carry no fill state, so a gap that
// price has already traded through still counts.
func FVGAligned(gaps []types.FairValueGap, direction types.OrderSide, price decimal.Decimal) bool {
	for _, g := range gaps {
		if g.Direction != direction {
			continue
		}
		if price.GreaterThanOrEqual(g.Lower) && price.LessThanOrEqual(g.Upper) {
			return true
		}
	}
	return false
}
