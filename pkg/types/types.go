// Package types provides shared type definitions for the trading core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderKind represents how an order is to be placed relative to touch.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
	OrderKindStop   OrderKind = "stop"
)

// Timeframe represents an aggregation period.
type Timeframe string

const (
	TF_M1  Timeframe = "M1"
	TF_M5  Timeframe = "M5"
	TF_M15 Timeframe = "M15"
	TF_H1  Timeframe = "H1"
	TF_H4  Timeframe = "H4"
)

// Minutes returns the timeframe's bucket width in minutes.
func (tf Timeframe) Minutes() int {
	switch tf {
	case TF_M1:
		return 1
	case TF_M5:
		return 5
	case TF_M15:
		return 15
	case TF_H1:
		return 60
	case TF_H4:
		return 240
	default:
		return 0
	}
}

// Trend describes the directional bias of a timeframe.
type Trend string

const (
	TrendBullish  Trend = "bullish"
	TrendBearish  Trend = "bearish"
	TrendSideways Trend = "sideways"
)

// SwingKind identifies a swing point as a high or a low.
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// Tick is a single bid/ask quote from the broker bridge. Immutable once
// created; discarded by CandleBuilder after aggregation.
type Tick struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Time   time.Time
}

// Mid returns the midpoint price.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Candle is one OHLCV bar for a symbol at a given timeframe. M1 candles are
// authoritative; higher timeframes are derived by aggregation.
type Candle struct {
	Symbol    string          `json:"symbol"`
	TF        Timeframe       `json:"tf"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	StartTime time.Time       `json:"startTime"`
	EndTime   time.Time       `json:"endTime"`
}

// Valid checks the OHLC invariant: low <= min(open,close) <= max(open,close) <= high.
func (c Candle) Valid() bool {
	lo := decimal.Min(c.Open, c.Close)
	hi := decimal.Max(c.Open, c.Close)
	return c.Low.LessThanOrEqual(lo) && hi.LessThanOrEqual(c.High)
}

// SwingPoint is a confirmed pivot high or low on a timeframe's candle stream.
type SwingPoint struct {
	Index int
	Kind  SwingKind
	Price decimal.Decimal
	Time  time.Time
}

// BosEvent is a break-of-structure: a close beyond a prior swing in the
// trend's direction.
type BosEvent struct {
	Index          int
	Direction      OrderSide
	BrokenSwingIdx int
	Level          decimal.Decimal
	Time           time.Time
}

// ChochEvent is a BOS that opposes the prevailing trend and breaches the
// last protected swing — a change of character.
type ChochEvent struct {
	BosEvent
	FromTrend Trend
	ToTrend   Trend
}

// TrendBias is the derived directional state of a timeframe at a point in
// its candle stream.
type TrendBias struct {
	Trend       Trend
	LastSwingHi *SwingPoint
	LastSwingLo *SwingPoint
	LastBosDir  OrderSide
	PDPosition  *decimal.Decimal // nil when the reference range has zero width
}

// OrderBlock is the last opposite-colored candle preceding an impulsive
// break of structure; used as a demand/supply zone.
type OrderBlock struct {
	TF        Timeframe
	Side      OrderSide // buy = bullish (demand) block, sell = bearish (supply) block
	High      decimal.Decimal
	Low       decimal.Decimal
	CreatedAt time.Time
	Mitigated bool
}

// FVGGrade ranks a fair value gap by width relative to recent range.
type FVGGrade string

const (
	FVGGradeWeak   FVGGrade = "weak"
	FVGGradeNormal FVGGrade = "normal"
	FVGGradeStrong FVGGrade = "strong"
)

// FairValueGap is a three-candle imbalance: a gap between candle i-1 and
// candle i+1.
type FairValueGap struct {
	TF        Timeframe
	Direction OrderSide
	Upper     decimal.Decimal
	Lower     decimal.Decimal
	Grade     FVGGrade
	CreatedAt time.Time
}

// SignalMeta carries the SMC confluence evidence behind a Signal.
type SignalMeta struct {
	HTFTrend        Trend
	PD              *decimal.Decimal
	OrderBlock      *OrderBlock
	FVG             *FairValueGap
	LiquiditySwept  bool
	SMTDivergence   bool
	Session         string
	ConfluenceScore decimal.Decimal
}

// Signal is a candidate trade produced by the strategy for a single symbol.
type Signal struct {
	Symbol    string
	Direction OrderSide
	Entry     decimal.Decimal
	SL        decimal.Decimal
	TP        decimal.Decimal
	Reason    string
	Meta      SignalMeta
	CreatedAt time.Time
}

// RiskDistance returns |entry - sl|.
func (s Signal) RiskDistance() decimal.Decimal {
	return s.Entry.Sub(s.SL).Abs()
}

// Valid checks the Signal invariants from spec.md §3/§8.
func (s Signal) Valid(minRisk decimal.Decimal) bool {
	dist := s.RiskDistance()
	if dist.LessThanOrEqual(decimal.Zero) || dist.LessThan(minRisk) {
		return false
	}
	if s.Direction == OrderSideBuy {
		return s.SL.LessThan(s.Entry) && s.Entry.LessThan(s.TP)
	}
	return s.TP.LessThan(s.Entry) && s.Entry.LessThan(s.SL)
}

// OrderKindFor selects LIMIT/STOP/MARKET for a candidate entry against the
// current touch, per spec.md §4.2 step 13.
func OrderKindFor(direction OrderSide, entry, bid, ask decimal.Decimal) OrderKind {
	if direction == OrderSideBuy {
		switch {
		case entry.LessThan(ask):
			return OrderKindLimit
		case entry.GreaterThan(ask):
			return OrderKindStop
		default:
			return OrderKindMarket
		}
	}
	switch {
	case entry.GreaterThan(bid):
		return OrderKindLimit
	case entry.LessThan(bid):
		return OrderKindStop
	default:
		return OrderKindMarket
	}
}
