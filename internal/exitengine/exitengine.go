// Package exitengine periodically polls open positions and applies each
// one's exit plan: kill-switch forced close, break-even, partial close,
// trailing stop, time exit, and commission exit, in that order (spec.md §2
// item 16, §4.9). ExitEngine is the exclusive owner of every ExitPlan.
package exitengine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/broker"
	"github.com/atlas-desktop/trading-backend/internal/killswitch"
	"github.com/atlas-desktop/trading-backend/internal/metrics"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

const (
	ReasonKillSwitch  = "kill_switch_forced_exit"
	ReasonTimeExit    = "time_exit"
	ReasonCommission  = "commission_exit"
)

// PlanStore lazy-loads and persists ExitPlans. A ticket with no stored plan
// means "static SL/TP only" (spec.md §4.9) — ExitEngine still honors
// kill-switch forced close for it but applies none of the managed exits.
type PlanStore interface {
	Load(ctx context.Context, ticket string) (*types.ExitPlan, bool, error)
	Save(ctx context.Context, plan types.ExitPlan) error
}

// Broker is the subset of broker.Client ExitEngine drives.
type Broker interface {
	OpenPositions(ctx context.Context) ([]broker.PositionDTO, error)
	Price(ctx context.Context, symbol string) (broker.PriceQuote, error)
	CloseTrade(ctx context.Context, ticket, reason string) (broker.TradeResponse, error)
	ModifyTrade(ctx context.Context, ticket string, sl, tp *decimal.Decimal) (broker.TradeResponse, error)
	PartialClose(ctx context.Context, ticket string, volumePercent decimal.Decimal) (broker.TradeResponse, error)
}

// Engine is one account's ExitEngine instance (spec.md §4.10: ExitEngine is
// instantiated per account).
type Engine struct {
	logger     *zap.Logger
	broker     Broker
	store      PlanStore
	killSwitch *killswitch.KillSwitch
	symbols    map[string]types.SymbolExecutionConfig
	cfg        types.ExitConfig
	clock      func() time.Time

	mu     sync.Mutex
	cache  map[string]*types.ExitPlan // ticket -> cached plan, nil means "known absent"
}

// New builds an ExitEngine.
func New(logger *zap.Logger, br Broker, store PlanStore, ks *killswitch.KillSwitch, symbols map[string]types.SymbolExecutionConfig, cfg types.ExitConfig) *Engine {
	return &Engine{
		logger:     logger.Named("exit-engine"),
		broker:     br,
		store:      store,
		killSwitch: ks,
		symbols:    symbols,
		cfg:        cfg,
		clock:      time.Now,
		cache:      make(map[string]*types.ExitPlan),
	}
}

// Run polls every TickIntervalSec (default 2s) until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	interval := time.Duration(e.cfg.TickIntervalSec) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick evaluates every currently open position once.
func (e *Engine) Tick(ctx context.Context) {
	positions, err := e.broker.OpenPositions(ctx)
	if err != nil {
		e.logger.Error("failed to list open positions", zap.Error(err))
		return
	}
	ksActive := e.killSwitch.State().Active
	for _, pos := range positions {
		e.evaluate(ctx, pos, ksActive)
	}
}

func (e *Engine) evaluate(ctx context.Context, pos broker.PositionDTO, ksActive bool) {
	if ksActive {
		if _, err := e.broker.CloseTrade(ctx, pos.Ticket, ReasonKillSwitch); err != nil {
			e.logger.Error("failed to force-close on kill switch", zap.String("ticket", pos.Ticket), zap.Error(err))
			return
		}
		metrics.RecordExitAction(ReasonKillSwitch)
		e.forget(pos.Ticket)
		return
	}

	plan, ok := e.loadPlan(ctx, pos.Ticket)
	if !ok {
		return // static SL/TP only; nothing managed
	}

	symCfg, ok := e.symbols[pos.Symbol]
	if !ok {
		e.logger.Warn("no execution config for symbol, skipping managed exits", zap.String("symbol", pos.Symbol))
		return
	}

	quote, err := e.broker.Price(ctx, pos.Symbol)
	if err != nil {
		e.logger.Error("failed to price symbol for exit evaluation", zap.String("symbol", pos.Symbol), zap.Error(err))
		return
	}
	mid := quote.Bid.Add(quote.Ask).Div(decimal.NewFromInt(2))

	now := e.clock()
	dirty := false

	if e.cfg.EnableBE {
		dirty = e.applyBreakEven(ctx, pos, plan, mid) || dirty
	}
	if e.cfg.EnablePartial {
		dirty = e.applyPartial(ctx, pos, plan, mid) || dirty
	}
	if e.cfg.EnableTrail {
		dirty = e.applyTrail(ctx, pos, plan, symCfg, mid, now) || dirty
	}
	if e.cfg.EnableTimeExit && plan.TimeLimit > 0 && now.Sub(plan.OpenedAt) > plan.TimeLimit {
		if _, err := e.broker.CloseTrade(ctx, pos.Ticket, ReasonTimeExit); err != nil {
			e.logger.Error("failed to close on time exit", zap.String("ticket", pos.Ticket), zap.Error(err))
		} else {
			metrics.RecordExitAction(ReasonTimeExit)
			e.forget(pos.Ticket)
			return
		}
	}
	if e.cfg.EnableCommission && e.commissionExceedsReward(pos, plan) {
		if _, err := e.broker.CloseTrade(ctx, pos.Ticket, ReasonCommission); err != nil {
			e.logger.Error("failed to close on commission exit", zap.String("ticket", pos.Ticket), zap.Error(err))
		} else {
			metrics.RecordExitAction(ReasonCommission)
			e.forget(pos.Ticket)
			return
		}
	}

	if dirty {
		if err := e.store.Save(ctx, *plan); err != nil {
			e.logger.Error("failed to persist exit plan", zap.String("ticket", pos.Ticket), zap.Error(err))
		}
	}
}

// applyBreakEven moves SL to entry, once, when favorable price movement
// reaches BETriggerR multiples of the initial risk unit.
func (e *Engine) applyBreakEven(ctx context.Context, pos broker.PositionDTO, plan *types.ExitPlan, mid decimal.Decimal) bool {
	if plan.BEDone {
		return false
	}
	r := plan.R()
	if !r.IsPositive() {
		return false
	}
	trigger := plan.BETriggerR
	if !trigger.IsPositive() {
		trigger = decimal.NewFromInt(1)
	}
	if favorableDistance(pos.Direction, plan.Entry, mid).LessThan(trigger.Mul(r)) {
		return false
	}
	entry := plan.Entry
	if _, err := e.broker.ModifyTrade(ctx, pos.Ticket, &entry, pos.TP); err != nil {
		e.logger.Error("failed to move SL to break-even", zap.String("ticket", pos.Ticket), zap.Error(err))
		return false
	}
	plan.BEDone = true
	plan.CurrentSL = &entry
	metrics.RecordExitAction("break_even")
	return true
}

// applyPartial closes PartialPct of volume, once, when price reaches TP1.
func (e *Engine) applyPartial(ctx context.Context, pos broker.PositionDTO, plan *types.ExitPlan, mid decimal.Decimal) bool {
	if plan.PartialDone || plan.TP1 == nil {
		return false
	}
	if !reachedTarget(pos.Direction, mid, *plan.TP1) {
		return false
	}
	pct := decimal.NewFromInt(50)
	if plan.PartialPct != nil {
		pct = *plan.PartialPct
	}
	if _, err := e.broker.PartialClose(ctx, pos.Ticket, pct); err != nil {
		e.logger.Error("failed to take partial close", zap.String("ticket", pos.Ticket), zap.Error(err))
		return false
	}
	plan.PartialDone = true
	metrics.RecordExitAction("partial")
	return true
}

// applyTrail advances SL in the favorable direction only, throttled to
// TrailMinInterval, never retreating past the initial SL.
func (e *Engine) applyTrail(ctx context.Context, pos broker.PositionDTO, plan *types.ExitPlan, symCfg types.SymbolExecutionConfig, mid decimal.Decimal, now time.Time) bool {
	if plan.TrailMode != types.TrailModeFixedPips && plan.TrailMode != types.TrailModeStructure {
		return false
	}
	if !plan.LastTrailMove.IsZero() && now.Sub(plan.LastTrailMove) < e.cfg.TrailMinInterval {
		return false
	}
	trailPips := plan.TrailValue
	if !trailPips.IsPositive() {
		trailPips = e.cfg.DefaultTrailPips
	}
	if !trailPips.IsPositive() || !symCfg.PipSize.IsPositive() {
		return false
	}
	offset := trailPips.Mul(symCfg.PipSize)

	var newSL decimal.Decimal
	if pos.Direction == types.OrderSideBuy {
		newSL = mid.Sub(offset)
	} else {
		newSL = mid.Add(offset)
	}

	current := plan.SLInitial
	if plan.CurrentSL != nil {
		current = *plan.CurrentSL
	}
	if !trailImproves(pos.Direction, current, newSL) {
		return false
	}
	if _, err := e.broker.ModifyTrade(ctx, pos.Ticket, &newSL, pos.TP); err != nil {
		e.logger.Error("failed to advance trailing stop", zap.String("ticket", pos.Ticket), zap.Error(err))
		return false
	}
	plan.CurrentSL = &newSL
	plan.LastTrailMove = now
	metrics.RecordExitAction("trail")
	return true
}

func (e *Engine) commissionExceedsReward(pos broker.PositionDTO, plan *types.ExitPlan) bool {
	if pos.Profit == nil || plan.TP1 == nil {
		return false
	}
	expectedReward := plan.TP1.Sub(plan.Entry).Abs().Mul(pos.Volume)
	// pos.Profit already nets commission/swap from the broker's perspective;
	// treat a profit small enough relative to expected reward as eaten by
	// carrying costs.
	return pos.Profit.IsPositive() && pos.Profit.LessThan(expectedReward.Mul(decimal.NewFromFloat(0.05)))
}

func (e *Engine) loadPlan(ctx context.Context, ticket string) (*types.ExitPlan, bool) {
	e.mu.Lock()
	if plan, known := e.cache[ticket]; known {
		e.mu.Unlock()
		return plan, plan != nil
	}
	e.mu.Unlock()

	plan, ok, err := e.store.Load(ctx, ticket)
	if err != nil {
		e.logger.Error("failed to load exit plan", zap.String("ticket", ticket), zap.Error(err))
		return nil, false
	}

	e.mu.Lock()
	if ok {
		e.cache[ticket] = plan
	} else {
		e.cache[ticket] = nil
	}
	e.mu.Unlock()
	return plan, ok
}

func (e *Engine) forget(ticket string) {
	e.mu.Lock()
	delete(e.cache, ticket)
	e.mu.Unlock()
}

func favorableDistance(direction types.OrderSide, entry, mid decimal.Decimal) decimal.Decimal {
	if direction == types.OrderSideBuy {
		return mid.Sub(entry)
	}
	return entry.Sub(mid)
}

func reachedTarget(direction types.OrderSide, mid, target decimal.Decimal) bool {
	if direction == types.OrderSideBuy {
		return mid.GreaterThanOrEqual(target)
	}
	return mid.LessThanOrEqual(target)
}

// trailImproves reports whether newSL is a favorable advance over current
// for direction: strictly higher for buys, strictly lower for sells.
func trailImproves(direction types.OrderSide, current, newSL decimal.Decimal) bool {
	if direction == types.OrderSideBuy {
		return newSL.GreaterThan(current)
	}
	return newSL.LessThan(current)
}
