// Package exposure polls open positions from the broker and maintains the
// per-symbol and global exposure snapshots ExecutionFilter reads
// (spec.md §2 item 7, §4.6). OpenTrades is the exclusive owner of these
// snapshots (spec.md §3).
package exposure

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/broker"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// OpenTrades polls the broker's /open-positions endpoint every 10s
// (default, spec.md §4.6) and atomically rebuilds its exposure map.
type OpenTrades struct {
	logger             *zap.Logger
	broker             *broker.Client
	interval           time.Duration
	defaultRiskPerTrade decimal.Decimal

	mu       sync.RWMutex
	bySymbol map[string]types.ExposureSnapshot
	global   types.GlobalSnapshot
	trades   []types.OpenTrade
}

// NewOpenTrades builds an OpenTrades poller.
func NewOpenTrades(logger *zap.Logger, brokerClient *broker.Client, interval time.Duration, defaultRiskPerTrade decimal.Decimal) *OpenTrades {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &OpenTrades{
		logger:              logger.Named("open-trades"),
		broker:              brokerClient,
		interval:            interval,
		defaultRiskPerTrade: defaultRiskPerTrade,
		bySymbol:            make(map[string]types.ExposureSnapshot),
	}
}

// Run polls until ctx is cancelled. On broker error the last-known
// snapshots are kept and the pipeline is never blocked (spec.md §4.6, §7).
func (o *OpenTrades) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	o.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.refresh(ctx)
		}
	}
}

func (o *OpenTrades) refresh(ctx context.Context) {
	positions, err := o.broker.OpenPositions(ctx)
	if err != nil {
		o.logger.Warn("open-positions poll failed, keeping last snapshot", zap.Error(err))
		return
	}

	bySymbol := make(map[string]types.ExposureSnapshot)
	trades := make([]types.OpenTrade, 0, len(positions))
	globalRisk := decimal.Zero

	for _, p := range positions {
		trade := types.OpenTrade{
			Ticket:    p.Ticket,
			Symbol:    p.Symbol,
			Direction: p.Direction,
			Volume:    p.Volume,
			OpenPrice: p.OpenPrice,
			SL:        p.SL,
			TP:        p.TP,
			OpenTime:  p.OpenTime,
			FloatPnL:  p.Profit,
		}
		trades = append(trades, trade)

		risk := o.estimateRisk(trade)
		snap := bySymbol[p.Symbol]
		snap.Symbol = p.Symbol
		snap.TotalCount++
		if p.Direction == types.OrderSideBuy {
			snap.LongCount++
		} else {
			snap.ShortCount++
		}
		snap.EstimatedRisk = snap.EstimatedRisk.Add(risk)
		snap.LastUpdated = time.Now()
		bySymbol[p.Symbol] = snap

		globalRisk = globalRisk.Add(risk)
	}

	o.mu.Lock()
	o.bySymbol = bySymbol
	o.trades = trades
	o.global = types.GlobalSnapshot{
		TotalOpenTrades: len(trades),
		TotalRisk:       globalRisk,
		LastUpdated:     time.Now(),
	}
	o.mu.Unlock()
}

// estimateRisk computes |openPrice - sl| * volume when SL is present, else
// defaultRiskPerTrade * volume (spec.md §4.6).
func (o *OpenTrades) estimateRisk(t types.OpenTrade) decimal.Decimal {
	if t.SL != nil {
		return t.OpenPrice.Sub(*t.SL).Abs().Mul(t.Volume)
	}
	return o.defaultRiskPerTrade.Mul(t.Volume)
}

// Symbol returns the current exposure snapshot for symbol (zero value if
// no positions are open).
func (o *OpenTrades) Symbol(symbol string) types.ExposureSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	snap, ok := o.bySymbol[symbol]
	if !ok {
		snap.Symbol = symbol
	}
	return snap
}

// Global returns the current aggregate exposure.
func (o *OpenTrades) Global() types.GlobalSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.global
}

// Trades returns a defensive copy of all currently open trades, used by the
// pipeline's equity snapshot to sum floating PnL.
func (o *OpenTrades) Trades() []types.OpenTrade {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.OpenTrade, len(o.trades))
	copy(out, o.trades)
	return out
}
