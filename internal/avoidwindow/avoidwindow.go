// Package avoidwindow implements AvoidWindowManager: on boot and then daily,
// it loads the day's news avoid-windows and schedules a start/end timer pair
// per window. On window start, pending orders for the window's symbol set
// are canceled and profitable open positions are closed; on window end,
// canceled orders are re-submitted if price hasn't moved too far from the
// price at cancellation (spec.md §2 item 14, §4.11).
package avoidwindow

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/broker"
	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// maxReentryDrift bounds how far price may have moved during a window
// before a canceled order is treated as stale rather than re-submitted
// (spec.md §4.11: "price hasn't moved > 1%").
var maxReentryDrift = decimal.NewFromFloat(0.01)

// Loader fetches the avoid windows scheduled for a given UTC day.
type Loader interface {
	AvoidWindowsOn(ctx context.Context, day time.Time) ([]types.AvoidWindow, error)
}

// Broker is the subset of broker.Client AvoidWindowManager drives.
type Broker interface {
	PendingOrders(ctx context.Context) ([]broker.PositionDTO, error)
	OpenPositions(ctx context.Context) ([]broker.PositionDTO, error)
	CancelOrder(ctx context.Context, ticket string) (broker.TradeResponse, error)
	CloseTrade(ctx context.Context, ticket, reason string) (broker.TradeResponse, error)
	OpenTrade(ctx context.Context, req broker.OpenTradeRequest) (broker.TradeResponse, error)
	Price(ctx context.Context, symbol string) (broker.PriceQuote, error)
}

type canceledOrder struct {
	req         broker.OpenTradeRequest
	priceAtStop decimal.Decimal
}

// Manager owns the daily reload and per-window timer scheduling. Symbols
// restricts which symbols' orders/positions a window affects; an empty set
// means "all symbols".
type Manager struct {
	logger  *zap.Logger
	loader  Loader
	br      Broker
	symbols map[string]bool
	clock   func() time.Time

	mu        sync.Mutex
	canceled  map[string]canceledOrder // ticket -> context for re-entry
	pending   []*time.Timer
}

// New builds an AvoidWindowManager. symbols restricts affected symbols; nil
// or empty means every symbol.
func New(logger *zap.Logger, loader Loader, br Broker, symbols []string) *Manager {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return &Manager{
		logger:   logger.Named("avoidwindow"),
		loader:   loader,
		br:       br,
		symbols:  set,
		clock:    time.Now,
		canceled: make(map[string]canceledOrder),
	}
}

// Run loads today's windows immediately, schedules their timers, then
// reloads at each UTC midnight until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	m.reload(ctx)

	for {
		next := nextMidnightUTC(m.clock())
		select {
		case <-ctx.Done():
			m.cancelPending()
			return
		case <-time.After(time.Until(next)):
			m.cancelPending()
			m.reload(ctx)
		}
	}
}

func (m *Manager) reload(ctx context.Context) {
	windows, err := m.loader.AvoidWindowsOn(ctx, m.clock())
	if err != nil {
		m.logger.Error("failed to load avoid windows, skipping until next reload", zap.Error(err))
		return
	}
	now := m.clock()
	for _, w := range windows {
		w := w
		if w.EndTime.Before(now) {
			continue // already elapsed today
		}
		m.scheduleWindow(ctx, w)
	}
	m.logger.Info("loaded avoid windows", zap.Int("count", len(windows)))
}

func (m *Manager) scheduleWindow(ctx context.Context, w types.AvoidWindow) {
	startDelay := time.Until(w.StartTime)
	if startDelay < 0 {
		startDelay = 0 // window already started; enter immediately
	}
	startTimer := time.AfterFunc(startDelay, func() { m.onStart(ctx, w) })

	endDelay := time.Until(w.EndTime)
	var endTimer *time.Timer
	if endDelay > 0 {
		endTimer = time.AfterFunc(endDelay, func() { m.onEnd(ctx, w) })
	}

	m.mu.Lock()
	m.pending = append(m.pending, startTimer)
	if endTimer != nil {
		m.pending = append(m.pending, endTimer)
	}
	m.mu.Unlock()
}

func (m *Manager) cancelPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.pending {
		t.Stop()
	}
	m.pending = nil
}

// onStart cancels pending orders for the window's symbol set and closes any
// open position already in profit; losing positions are held.
func (m *Manager) onStart(ctx context.Context, w types.AvoidWindow) {
	m.logger.Info("entering avoid window", zap.String("event", w.Event), zap.Bool("critical", w.Critical))

	pendingOrders, err := m.br.PendingOrders(ctx)
	if err != nil {
		m.logger.Error("failed to list pending orders for avoid window", zap.Error(err))
	}
	for _, o := range pendingOrders {
		if !m.affects(o.Symbol) {
			continue
		}
		m.rememberAndCancel(ctx, o)
	}

	positions, err := m.br.OpenPositions(ctx)
	if err != nil {
		m.logger.Error("failed to list open positions for avoid window", zap.Error(err))
		return
	}
	for _, p := range positions {
		if !m.affects(p.Symbol) {
			continue
		}
		if p.Profit == nil || p.Profit.IsNegative() {
			continue
		}
		if _, err := m.br.CloseTrade(ctx, p.Ticket, "entering avoid window"); err != nil {
			m.logger.Error("failed to close position entering avoid window",
				zap.String("ticket", p.Ticket), zap.Error(err))
			continue
		}
		metrics.RecordAvoidWindowEvent("close")
	}
}

func (m *Manager) rememberAndCancel(ctx context.Context, o broker.PositionDTO) {
	quote, err := m.br.Price(ctx, o.Symbol)
	var priceAtStop decimal.Decimal
	if err == nil {
		priceAtStop = quote.Bid.Add(quote.Ask).Div(decimal.NewFromInt(2))
	}

	sl := decimal.Zero
	if o.SL != nil {
		sl = *o.SL
	}
	tp := decimal.Zero
	if o.TP != nil {
		tp = *o.TP
	}

	if _, err := m.br.CancelOrder(ctx, o.Ticket); err != nil {
		m.logger.Error("failed to cancel pending order for avoid window",
			zap.String("ticket", o.Ticket), zap.Error(err))
		return
	}
	metrics.RecordAvoidWindowEvent("cancel")

	m.mu.Lock()
	m.canceled[o.Ticket] = canceledOrder{
		req: broker.OpenTradeRequest{
			Symbol:     o.Symbol,
			Direction:  o.Direction,
			OrderKind:  types.OrderKindFor(o.Direction, o.OpenPrice, quote.Bid, quote.Ask),
			EntryPrice: o.OpenPrice,
			LotSize:    o.Volume,
			StopLoss:   sl,
			TakeProfit: tp,
		},
		priceAtStop: priceAtStop,
	}
	m.mu.Unlock()
}

// onEnd re-submits every remembered canceled order for a symbol this
// manager covers, provided the current mid price hasn't drifted more than
// 1% from the mid recorded at cancellation. Orders with no mid recorded at
// cancellation are dropped without re-submission.
func (m *Manager) onEnd(ctx context.Context, w types.AvoidWindow) {
	m.logger.Info("exiting avoid window", zap.String("event", w.Event))

	m.mu.Lock()
	toRetry := make(map[string]canceledOrder, len(m.canceled))
	for ticket, c := range m.canceled {
		if m.affects(c.req.Symbol) {
			toRetry[ticket] = c
			delete(m.canceled, ticket)
		}
	}
	m.mu.Unlock()

	for ticket, c := range toRetry {
		if c.priceAtStop.IsZero() {
			continue // never got a quote at cancel time, can't judge drift
		}
		quote, err := m.br.Price(ctx, c.req.Symbol)
		if err != nil {
			m.logger.Error("failed to price symbol for avoid window re-entry",
				zap.String("symbol", c.req.Symbol), zap.Error(err))
			continue
		}
		mid := quote.Bid.Add(quote.Ask).Div(decimal.NewFromInt(2))
		drift := mid.Sub(c.priceAtStop).Abs().Div(c.priceAtStop)
		if drift.GreaterThan(maxReentryDrift) {
			m.logger.Info("skipping re-entry, price drifted too far",
				zap.String("ticket", ticket), zap.String("drift", drift.String()))
			metrics.RecordAvoidWindowEvent("drop")
			continue
		}
		if _, err := m.br.OpenTrade(ctx, c.req); err != nil {
			m.logger.Error("failed to re-submit order after avoid window",
				zap.String("ticket", ticket), zap.Error(err))
			continue
		}
		metrics.RecordAvoidWindowEvent("resubmit")
	}
}

func (m *Manager) affects(symbol string) bool {
	if len(m.symbols) == 0 {
		return true
	}
	return m.symbols[symbol]
}

func nextMidnightUTC(t time.Time) time.Time {
	u := t.UTC()
	y, mo, d := u.Date()
	return time.Date(y, mo, d+1, 0, 0, 0, 0, time.UTC)
}
