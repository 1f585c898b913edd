package marketdata

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// bucketStart aligns t down to the wall-clock UTC boundary for tf
// (spec.md §4.1: M5 at minutes%5, M15 %15, H1 on the hour, H4 on hours%4
// from 00:00).
func bucketStart(t time.Time, tf types.Timeframe) time.Time {
	u := t.UTC()
	switch tf {
	case types.TF_M5:
		m := (u.Minute() / 5) * 5
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), m, 0, 0, time.UTC)
	case types.TF_M15:
		m := (u.Minute() / 15) * 15
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), m, 0, 0, time.UTC)
	case types.TF_H1:
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
	case types.TF_H4:
		h := (u.Hour() / 4) * 4
		return time.Date(u.Year(), u.Month(), u.Day(), h, 0, 0, 0, time.UTC)
	default: // M1 is its own bucket
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), 0, 0, time.UTC)
	}
}

// Aggregate buckets ascending M1 candles into the target timeframe. It is
// stateless against the slice passed in and never trusts broker timestamps
// beyond UTC ordering (spec.md §4.1). A bucket with zero M1 bars is never
// emitted as a flat candle.
func Aggregate(m1 []types.Candle, tf types.Timeframe) []types.Candle {
	if tf == types.TF_M1 || len(m1) == 0 {
		return append([]types.Candle(nil), m1...)
	}

	out := make([]types.Candle, 0, len(m1)/tf.Minutes()+1)
	var cur *types.Candle
	curStart := time.Time{}

	for _, bar := range m1 {
		bs := bucketStart(bar.StartTime, tf)
		if cur == nil || !bs.Equal(curStart) {
			if cur != nil {
				out = append(out, *cur)
			}
			curStart = bs
			nc := types.Candle{
				Symbol:    bar.Symbol,
				TF:        tf,
				Open:      bar.Open,
				High:      bar.High,
				Low:       bar.Low,
				Close:     bar.Close,
				Volume:    bar.Volume,
				StartTime: bs,
				EndTime:   bs.Add(time.Duration(tf.Minutes()) * time.Minute),
			}
			cur = &nc
			continue
		}
		if bar.High.GreaterThan(cur.High) {
			cur.High = bar.High
		}
		if bar.Low.LessThan(cur.Low) {
			cur.Low = bar.Low
		}
		cur.Close = bar.Close
		cur.Volume = cur.Volume.Add(bar.Volume)
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// sumVolume is a small helper kept for callers that need a running total
// without re-aggregating (e.g. reporting).
func sumVolume(bars []types.Candle) decimal.Decimal {
	total := decimal.Zero
	for _, b := range bars {
		total = total.Add(b.Volume)
	}
	return total
}
