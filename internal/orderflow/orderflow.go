// Package orderflow polls the broker's order-flow endpoint and derives
// deltas, cumulative volume delta, and pressure/absorption signals used by
// ExecutionFilter (spec.md §4.5).
package orderflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/trading-backend/internal/broker"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

const ringSize = 60

// Snapshot is one polled order-flow sample for a symbol.
type Snapshot struct {
	Symbol          string
	Timestamp       time.Time
	Delta1s         decimal.Decimal
	Delta5s         decimal.Decimal
	Delta15s        decimal.Decimal
	Delta60s        decimal.Decimal
	CVD             decimal.Decimal
	BuyPressure     decimal.Decimal
	SellPressure    decimal.Decimal
	OrderImbalance  decimal.Decimal
	LargeBuyOrders  int
	LargeSellOrders int
}

type ring struct {
	samples []Snapshot
}

func (r *ring) push(s Snapshot) {
	r.samples = append(r.samples, s)
	if len(r.samples) > ringSize {
		r.samples = r.samples[len(r.samples)-ringSize:]
	}
}

func (r *ring) windowDelta(n int) decimal.Decimal {
	if n > len(r.samples) {
		n = len(r.samples)
	}
	sum := decimal.Zero
	for _, s := range r.samples[len(r.samples)-n:] {
		sum = sum.Add(s.Delta1s)
	}
	return sum
}

// Service polls the broker order-flow endpoint at 1Hz per symbol
// (spec.md §4.5) and maintains a 60-sample ring per symbol.
type Service struct {
	logger       *zap.Logger
	broker       *broker.Client
	mu           sync.RWMutex
	rings        map[string]*ring
	failCount    map[string]int
	unavailable  map[string]bool
	largeMultiplier decimal.Decimal
}

// NewService builds an order-flow polling service.
func NewService(logger *zap.Logger, brokerClient *broker.Client, largeOrderMultiplier decimal.Decimal) *Service {
	return &Service{
		logger:          logger.Named("order-flow"),
		broker:          brokerClient,
		rings:           make(map[string]*ring),
		failCount:       make(map[string]int),
		unavailable:     make(map[string]bool),
		largeMultiplier: largeOrderMultiplier,
	}
}

// Run polls symbol every second until ctx is cancelled, paced by a
// rate.Limiter so a slow broker response doesn't compress the next poll.
func (s *Service) Run(ctx context.Context, symbol string) {
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		s.poll(ctx, symbol)
	}
}

func (s *Service) poll(ctx context.Context, symbol string) {
	raw, err := s.broker.OrderFlow(ctx, symbol)
	if err != nil {
		if errors.Is(err, broker.ErrOrderFlowUnavailable) {
			s.mu.Lock()
			s.unavailable[symbol] = true
			s.mu.Unlock()
			return // feature optional, stay silent (spec.md §4.5)
		}
		s.mu.Lock()
		s.failCount[symbol]++
		n := s.failCount[symbol]
		s.mu.Unlock()
		// rate-limit: first failure, then every 10th (spec.md §4.5)
		if n == 1 || n%10 == 0 {
			s.logger.Warn("order-flow poll failed", zap.String("symbol", symbol), zap.Int("count", n), zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCount[symbol] = 0

	r := s.rings[symbol]
	if r == nil {
		r = &ring{}
		s.rings[symbol] = r
	}

	large := countLarge(raw.LargeOrders)

	sample := Snapshot{
		Symbol:         symbol,
		Timestamp:      raw.Timestamp,
		Delta1s:        raw.Delta,
		BuyPressure:    raw.ImbalanceBuyPct,
		SellPressure:   raw.ImbalanceSellPct,
		OrderImbalance: raw.ImbalanceBuyPct.Sub(raw.ImbalanceSellPct),
		LargeBuyOrders: large[types.OrderSideBuy],
		LargeSellOrders: large[types.OrderSideSell],
	}
	r.push(sample)
	sample.Delta5s = r.windowDelta(5)
	sample.Delta15s = r.windowDelta(15)
	sample.Delta60s = r.windowDelta(60)
	sample.CVD = cvd(r.samples)
	r.samples[len(r.samples)-1] = sample
}

func countLarge(orders []broker.LargeOrder) map[types.OrderSide]int {
	out := map[types.OrderSide]int{types.OrderSideBuy: 0, types.OrderSideSell: 0}
	for _, o := range orders {
		out[o.Side]++
	}
	return out
}

func cvd(samples []Snapshot) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(s.Delta1s)
	}
	return sum
}

// Latest returns the most recent snapshot for symbol, or false if none has
// been polled yet (or the feature is unavailable for this bridge).
func (s *Service) Latest(symbol string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.rings[symbol]
	if r == nil || len(r.samples) == 0 {
		return Snapshot{}, false
	}
	return r.samples[len(r.samples)-1], true
}

// Unavailable reports whether the broker returned 404 for symbol, meaning
// the order-flow feature is absent for this bridge deployment.
func (s *Service) Unavailable(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unavailable[symbol]
}

// Absorption reports whether recent average delta and momentum
// rate-of-change diverge in opposite sign by more than threshold — i.e.
// buying/selling pressure is being absorbed without price follow-through
// (spec.md §4.5).
func (s *Service) Absorption(symbol string, lookback int, threshold decimal.Decimal) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.rings[symbol]
	if r == nil || len(r.samples) < lookback+1 {
		return false
	}
	n := len(r.samples)
	recent := r.samples[n-lookback:]
	avgDelta := decimal.Zero
	for _, s := range recent {
		avgDelta = avgDelta.Add(s.Delta1s)
	}
	avgDelta = avgDelta.Div(decimal.NewFromInt(int64(lookback)))

	momentumNow := recent[len(recent)-1].Delta1s
	momentumPrev := recent[0].Delta1s
	roc := momentumNow.Sub(momentumPrev)

	oppositeSign := (avgDelta.IsPositive() && roc.IsNegative()) || (avgDelta.IsNegative() && roc.IsPositive())
	return oppositeSign && avgDelta.Abs().GreaterThan(threshold) && roc.Abs().GreaterThan(threshold)
}

// Exhaustion reports a sharp delta spike followed by collapse, used to
// reject entries chasing a move that is already running out of steam.
func (s *Service) Exhaustion(symbol string, threshold decimal.Decimal) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.rings[symbol]
	if r == nil || len(r.samples) < 3 {
		return false
	}
	n := len(r.samples)
	spike := r.samples[n-2].Delta1s
	collapse := r.samples[n-1].Delta1s
	if spike.Abs().LessThan(threshold) {
		return false
	}
	return collapse.Abs().LessThan(spike.Abs().Mul(decimal.NewFromFloat(0.3)))
}
