package marketdata

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/trading-backend/internal/broker"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// PriceFeed polls the broker for ticks per symbol at a fixed cadence
// (default 1s, config key marketFeedIntervalSec) and feeds CandleBuilder
// (spec.md §2 item 1, §5).
type PriceFeed struct {
	logger   *zap.Logger
	broker   *broker.Client
	builder  *CandleBuilder
	interval time.Duration

	onTick func(types.Tick)
}

// NewPriceFeed builds a PriceFeed that polls every interval and folds each
// tick into builder.
func NewPriceFeed(logger *zap.Logger, brokerClient *broker.Client, builder *CandleBuilder, interval time.Duration) *PriceFeed {
	if interval <= 0 {
		interval = time.Second
	}
	return &PriceFeed{
		logger:   logger.Named("price-feed"),
		broker:   brokerClient,
		builder:  builder,
		interval: interval,
	}
}

// OnTick registers an additional observer invoked for every tick, after
// CandleBuilder has folded it (e.g. the decision pipeline's bid/ask cache).
func (f *PriceFeed) OnTick(cb func(types.Tick)) { f.onTick = cb }

// Run polls symbol until ctx is cancelled. One goroutine per symbol is the
// expected caller pattern (spec.md §5: ticks across symbols independent).
// Polling is paced by a rate.Limiter rather than a raw ticker so a slow
// broker response can't make the next poll fire early once it returns.
func (f *PriceFeed) Run(ctx context.Context, symbol string) {
	limiter := rate.NewLimiter(rate.Every(f.interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			f.builder.Flush(symbol)
			return
		}

		quote, err := f.broker.Price(ctx, symbol)
		if err != nil {
			f.logger.Warn("price poll failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		tick := types.Tick{Symbol: symbol, Bid: quote.Bid, Ask: quote.Ask, Time: quote.Time}
		f.builder.OnTick(tick)
		if f.onTick != nil {
			f.onTick(tick)
		}
	}
}
