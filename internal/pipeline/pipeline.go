// Package pipeline wires every per-symbol and per-account component into
// one running system and drives the tick loop that turns a market update
// into a dispatched (or skipped) decision (spec.md §2, §4). Supervisor is
// the single place that owns the start/stop lifecycle of every long-lived
// worker: price feeds, order flow, exposure, exit engine, avoid windows,
// equity snapshots, and the strategy tick itself.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/avoidwindow"
	"github.com/atlas-desktop/trading-backend/internal/broker"
	"github.com/atlas-desktop/trading-backend/internal/db"
	"github.com/atlas-desktop/trading-backend/internal/decisionlog"
	"github.com/atlas-desktop/trading-backend/internal/dispatcher"
	"github.com/atlas-desktop/trading-backend/internal/execfilter"
	"github.com/atlas-desktop/trading-backend/internal/exitengine"
	"github.com/atlas-desktop/trading-backend/internal/exposure"
	"github.com/atlas-desktop/trading-backend/internal/guardrail"
	"github.com/atlas-desktop/trading-backend/internal/killswitch"
	"github.com/atlas-desktop/trading-backend/internal/marketdata"
	"github.com/atlas-desktop/trading-backend/internal/orderflow"
	"github.com/atlas-desktop/trading-backend/internal/pnl"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/smc"
	"github.com/atlas-desktop/trading-backend/internal/workers"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// defaultRiskPerTradeUnit is the currency-risk-per-unit-volume OpenTrades
// assumes for a position with no stop loss set. Not pinned anywhere in the
// configured schema; picked as a conservative nonzero floor rather than
// zero, which would let an SL-less position read as risk-free.
var defaultRiskPerTradeUnit = decimal.NewFromInt(100)

// accountWorkers bundles the long-lived per-account loops Supervisor
// drives, alongside the dispatcher.AccountRuntime holding the same
// account's stateless evaluation components. Kept separate from
// AccountRuntime because Supervisor needs handles the dispatcher itself
// has no reason to hold (Exit, AvoidWindow) to run long-lived goroutines;
// both are built once per account in New.
type accountWorkers struct {
	account  types.Account
	broker   *broker.Client
	exposure *exposure.OpenTrades
	livePnL  *pnl.LivePnL
	exit     *exitengine.Engine
	avoidWin *avoidwindow.Manager
	dlog     *decisionlog.DecisionLog
	sink     *pnl.OrderEventSink
	ks       *killswitch.KillSwitch
}

// Supervisor owns every shared and per-account component and drives the
// tick that evaluates each configured symbol once per interval (spec.md
// §2 items 9-18, §4).
type Supervisor struct {
	logger *zap.Logger
	cfg    types.Config
	db     *db.DB
	loc    *time.Location

	dataBroker  *broker.Client
	candleStore *marketdata.CandleStore
	marketData  *marketdata.MarketData
	builder     *marketdata.CandleBuilder
	priceFeed   *marketdata.PriceFeed
	backfill    *marketdata.HistoricalBackfill
	orderFlow   *orderflow.Service
	guardrailCl *guardrail.Client
	strategy    *smc.Engine
	riskSvc     *risk.Risk
	dispatcher  *dispatcher.Dispatcher
	tickPool    *workers.Pool

	accounts []*accountWorkers

	tickMu    sync.RWMutex
	lastTick  map[string]types.Tick

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds every shared and per-account component from cfg, wiring
// database as both the durable DecisionLog mirror and the ExitEngine's
// PlanStore (it satisfies exitengine.PlanStore via its Save/Load pair) and
// the AvoidWindowManager's news-window Loader (via its AvoidWindowsOn
// method).
func New(logger *zap.Logger, cfg types.Config, database *db.DB) (*Supervisor, error) {
	loc := loadLocation(cfg.DisplayTimezone)

	httpTimeout := cfg.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = 10 * time.Second
	}

	dataBroker := broker.NewClient(logger, cfg.BrokerBaseURL, httpTimeout)

	capacity := cfg.MaxCandlesPerSymbol
	if capacity <= 0 {
		capacity = 1000
	}
	candleStore := marketdata.NewCandleStore(logger, capacity)
	marketData := marketdata.NewMarketData(logger, candleStore)
	builder := marketdata.NewCandleBuilder(logger, candleStore)

	feedInterval := time.Duration(cfg.MarketFeedIntervalSec) * time.Second
	if feedInterval <= 0 {
		feedInterval = time.Second
	}
	priceFeed := marketdata.NewPriceFeed(logger, dataBroker, builder, feedInterval)

	backfillDays := cfg.HistoricalBackfillDays
	if backfillDays <= 0 {
		backfillDays = 30
	}
	backfill := marketdata.NewHistoricalBackfill(logger, dataBroker, candleStore, backfillDays)

	orderFlowSvc := orderflow.NewService(logger, dataBroker, cfg.OrderFlow.LargeOrderMultiplier)
	guardrailCl := guardrail.NewClient(logger, cfg.GuardrailBaseURL, httpTimeout)
	strategyEngine := smc.NewEngine(logger, marketData, cfg.SMC)
	riskSvc := risk.New(logger, cfg.StrategyTiers, cfg.SymbolExecution)
	disp := dispatcher.New(logger)
	tickPool := workers.NewPool(logger, workers.DefaultPoolConfig("symbol-tick"))

	s := &Supervisor{
		logger:      logger.Named("pipeline"),
		cfg:         cfg,
		db:          database,
		loc:         loc,
		dataBroker:  dataBroker,
		candleStore: candleStore,
		marketData:  marketData,
		builder:     builder,
		priceFeed:   priceFeed,
		backfill:    backfill,
		orderFlow:   orderFlowSvc,
		guardrailCl: guardrailCl,
		strategy:    strategyEngine,
		riskSvc:     riskSvc,
		dispatcher:  disp,
		tickPool:    tickPool,
		lastTick:    make(map[string]types.Tick),
	}

	exposureInterval := time.Duration(cfg.GlobalExecution.ExposurePollIntervalSec) * time.Second

	for _, acct := range cfg.Accounts {
		acctBroker := broker.NewClient(logger, acct.BrokerBaseURL, httpTimeout)
		acctExposure := exposure.NewOpenTrades(logger, acctBroker, exposureInterval, defaultRiskPerTradeUnit)
		livePnL := pnl.NewLivePnL(logger, loc)
		ks := killswitch.New(logger, acct.KillSwitch)
		filter := execfilter.New(logger, loc)
		dlog := decisionlog.New(logger, loc, database)

		symbolExec := make(map[string]types.SymbolExecutionConfig, len(acct.Symbols))
		for _, sym := range acct.Symbols {
			if exec, ok := cfg.SymbolExecution[sym]; ok {
				symbolExec[sym] = exec
			}
		}
		exitEngine := exitengine.New(logger, acctBroker, database, ks, symbolExec, cfg.Exit)
		avoidWin := avoidwindow.New(logger, database, acctBroker, acct.Symbols)
		sink := pnl.NewOrderEventSink(logger, livePnL, database)

		rt := &dispatcher.AccountRuntime{
			Account:    acct,
			Broker:     acctBroker,
			Exposure:   acctExposure,
			PnL:        livePnL,
			KillSwitch: ks,
			Filter:     filter,
			Log:        dlog,
		}
		disp.Register(rt)

		s.accounts = append(s.accounts, &accountWorkers{
			account:  acct,
			broker:   acctBroker,
			exposure: acctExposure,
			livePnL:  livePnL,
			exit:     exitEngine,
			avoidWin: avoidWin,
			dlog:     dlog,
			sink:     sink,
			ks:       ks,
		})
	}

	return s, nil
}

// loadLocation resolves name to a *time.Location, defaulting to America/New
// York (spec.md §4.7's configured display timezone) and falling back to UTC
// if the name can't be resolved.
func loadLocation(name string) *time.Location {
	if name == "" {
		name = "America/New_York"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Start launches every long-lived worker: market data backfill (once,
// blocking), then price feed and order flow per symbol, exposure/exit/avoid
// window/equity snapshot per account, and the strategy tick loop itself.
// Returns an error if already running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("pipeline: already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.tickPool.Start()

	s.backfill.Run(runCtx, s.cfg.Symbols)

	s.priceFeed.OnTick(s.rememberTick)

	for _, sym := range s.cfg.Symbols {
		symbol := sym
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.priceFeed.Run(runCtx, symbol)
		}()
		go func() {
			defer s.wg.Done()
			s.orderFlow.Run(runCtx, symbol)
		}()
	}

	for _, a := range s.accounts {
		acct := a
		s.wg.Add(4)
		go func() {
			defer s.wg.Done()
			acct.exposure.Run(runCtx)
		}()
		go func() {
			defer s.wg.Done()
			acct.exit.Run(runCtx)
		}()
		go func() {
			defer s.wg.Done()
			acct.avoidWin.Run(runCtx)
		}()
		go func() {
			defer s.wg.Done()
			s.equityLoop(runCtx, acct)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tickLoop(runCtx)
	}()

	return nil
}

// Stop cancels every worker's context and waits for them to return.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("pipeline: not running")
	}
	s.running = false
	s.cancel()
	s.wg.Wait()
	return s.tickPool.Stop()
}

// rememberTick caches the latest bid/ask for symbol, fed by PriceFeed's
// OnTick hook so the strategy tick never needs a redundant broker.Price
// call (spec.md §4.1, §4.7).
func (s *Supervisor) rememberTick(t types.Tick) {
	s.tickMu.Lock()
	s.lastTick[t.Symbol] = t
	s.tickMu.Unlock()
}

func (s *Supervisor) latestTick(symbol string) (types.Tick, bool) {
	s.tickMu.RLock()
	defer s.tickMu.RUnlock()
	t, ok := s.lastTick[symbol]
	return t, ok
}

// tickLoop runs the strategy evaluation for every configured symbol on a
// fixed cadence (spec.md §4.1).
func (s *Supervisor) tickLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.TickIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick evaluates every configured symbol concurrently via tickPool: symbols
// are independent (spec.md §4.1 runs one decision chain per symbol), so a
// slow broker/guardrail call for one symbol doesn't delay the others.
func (s *Supervisor) tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sym := range s.cfg.Symbols {
		symbol := sym
		wg.Add(1)
		err := s.tickPool.SubmitFunc(func() error {
			defer wg.Done()
			s.evaluateSymbol(ctx, symbol)
			return nil
		})
		if err != nil {
			wg.Done()
			s.logger.Warn("tick pool submit failed, symbol skipped this round",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
	wg.Wait()
}

// evaluateSymbol runs the full per-tick decision chain for one symbol:
// strategy evaluation, guardrail query, tier-level risk gate, position
// sizing, order-flow read, and dispatch (spec.md §4.1-§4.10). Any error at
// any stage is logged and the tick simply produces no signal for this
// symbol — never propagated, matching the rest of the core's
// never-crash-the-loop posture (spec.md §7, §9).
func (s *Supervisor) evaluateSymbol(ctx context.Context, symbol string) {
	log := s.logger.With(zap.String("symbol", symbol))

	symCfg, ok := s.cfg.SymbolExecution[symbol]
	if !ok {
		log.Warn("no symbolExecution entry, skipping tick")
		return
	}

	tick, ok := s.latestTick(symbol)
	if !ok {
		log.Debug("no tick yet, skipping")
		return
	}

	if !s.marketData.Ready(symbol, s.cfg.SMC.LTFMinCandles) {
		log.Debug("market data not ready, skipping")
		return
	}

	now := time.Now()
	sessionOK := withinAnySession(symCfg.Sessions, now)

	var correlated []types.Candle
	if symCfg.SMTPair != "" {
		correlated = s.marketData.GetRecentCandles(symCfg.SMTPair, s.cfg.SMC.LTFTimeframe, 300, true)
	}

	result := s.strategy.Evaluate(smc.EvalInput{
		Symbol:         symbol,
		Bid:            tick.Bid,
		Ask:            tick.Ask,
		Now:            now,
		SessionOK:      sessionOK,
		SymbolExec:     symCfg,
		CorrelatedBars: correlated,
	})
	if result.Err != nil {
		log.Error("strategy evaluation failed", zap.Error(result.Err))
		return
	}
	if result.Signal == nil {
		log.Debug("no signal", zap.String("reason", result.Reason))
		return
	}

	tier := symCfg.Tier
	if tier == "" {
		tier = types.RiskTierLow
	}

	guardResult := s.guardrailCl.CanTradeNow(ctx, tier)

	equity, closedPnLToday, tradesToday := s.tierAggregates(symbol, now)

	decision := s.riskSvc.CanTakeNewTrade(risk.Inputs{
		Tier:           tier,
		Symbol:         symbol,
		Equity:         equity,
		ClosedPnLToday: closedPnLToday,
		TradesToday:    tradesToday,
		GuardrailMode:  guardResult.Mode,
	})
	if !decision.Allowed {
		log.Info("tier-level risk gate blocked signal",
			zap.String("reason", decision.Reason), zap.String("guardrailMode", string(guardResult.Mode)))
		return
	}

	slDistance := result.Signal.RiskDistance()
	lot, err := s.riskSvc.PositionSize(symbol, slDistance, equity, decision.AdjustedRiskPct)
	if err != nil {
		log.Error("position sizing failed", zap.Error(err))
		return
	}
	riskEstimate := slDistance.Mul(lot)

	ofInputs := s.orderFlowInputsFor(symbol, result.Signal.Direction)

	proto := dispatcher.Proto{
		Signal:       *result.Signal,
		Now:          now,
		Bid:          tick.Bid,
		Ask:          tick.Ask,
		Lot:          lot,
		RiskEstimate: riskEstimate,
		SymbolConfig: symCfg,
		GlobalConfig: s.cfg.GlobalExecution,
		LossStreak:   s.cfg.LossStreak,
		OrderFlow:    ofInputs,
		Guardrail:    guardResult,
	}
	s.dispatcher.Dispatch(ctx, proto)
}

// tierAggregates picks a representative equity, closed PnL, and trade count
// across every account that trades symbol: spec.md describes Risk as
// operating per strategy tier, not per account, so Supervisor must collapse
// the accounts trading a given symbol into one reading. The conservative
// choices here are a deliberate design decision, not a spec requirement:
// summed equity, the most negative closed PnL, and the highest trade count
// across those accounts, so the tier-level gate errs toward blocking rather
// than permitting a trade any one account's own posture would reject.
func (s *Supervisor) tierAggregates(symbol string, now time.Time) (equity, closedPnLToday decimal.Decimal, tradesToday int) {
	equity = decimal.Zero
	closedPnLToday = decimal.Zero
	first := true

	for _, a := range s.accounts {
		if !accountTradesSymbol(a.account, symbol) {
			continue
		}
		if snap, ok := a.livePnL.LatestEquity(); ok {
			equity = equity.Add(snap.Equity)
		}
		pnlToday := a.livePnL.ClosedToday()
		if first || pnlToday.LessThan(closedPnLToday) {
			closedPnLToday = pnlToday
		}
		first = false
		if n := a.dlog.TradesToday(symbol, now); n > tradesToday {
			tradesToday = n
		}
	}
	return equity, closedPnLToday, tradesToday
}

func accountTradesSymbol(a types.Account, symbol string) bool {
	for _, s := range a.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// orderFlowInputsFor builds an execfilter.OrderFlowInputs from the latest
// order-flow snapshot for symbol. Returns a zero-value, Available=false
// input if order flow has no reading yet or is marked unavailable — the
// same "feature degrades, never blocks the pipeline" posture order flow
// itself follows (spec.md §4.5).
func (s *Supervisor) orderFlowInputsFor(symbol string, direction types.OrderSide) execfilter.OrderFlowInputs {
	if s.orderFlow.Unavailable(symbol) {
		return execfilter.OrderFlowInputs{}
	}
	snap, ok := s.orderFlow.Latest(symbol)
	if !ok {
		return execfilter.OrderFlowInputs{}
	}

	ofCfg := s.cfg.OrderFlow
	return execfilter.OrderFlowInputs{
		Available:                  true,
		Delta15s:                   snap.Delta15s,
		MinDeltaTrendConfirm:       ofCfg.MinDeltaTrendConfirm,
		AbsorptionAgainstDirection: s.orderFlow.Absorption(symbol, ofCfg.AbsorptionLookback, ofCfg.ExhaustionThreshold),
		LargeOpposingCluster:       snapshotOpposingCluster(snap, direction),
		ExhaustionCollapse:         s.orderFlow.Exhaustion(symbol, ofCfg.ExhaustionThreshold),
	}
}

// snapshotOpposingCluster reports whether snap shows a cluster of large
// orders on the side opposite direction (a buy signal opposed by large
// sell orders, or vice versa) per spec.md §4.5/§4.4 step 8.
func snapshotOpposingCluster(snap orderflow.Snapshot, direction types.OrderSide) bool {
	if direction == types.OrderSideBuy {
		return snap.LargeSellOrders > snap.LargeBuyOrders
	}
	return snap.LargeBuyOrders > snap.LargeSellOrders
}

// withinAnySession reports whether now falls inside any of windows. An
// empty window list means no session restriction (spec.md §4.4: a symbol
// with no configured sessions trades around the clock).
func withinAnySession(windows []types.SessionWindow, now time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}

// equityLoop periodically snapshots one account's balance/equity/floating
// PnL from its own broker and persists the result (spec.md §4.7). A broker
// error keeps the last snapshot and never stops the loop.
func (s *Supervisor) equityLoop(ctx context.Context, a *accountWorkers) {
	interval := time.Duration(s.cfg.GlobalExecution.ExposurePollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.snapshotEquity(ctx, a)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.snapshotEquity(ctx, a)
		}
	}
}

// AccountIDs returns every configured account ID, in configuration order,
// so callers (the HTTP server) can mount one route per account.
func (s *Supervisor) AccountIDs() []string {
	ids := make([]string, 0, len(s.accounts))
	for _, a := range s.accounts {
		ids = append(ids, a.account.ID)
	}
	return ids
}

// OrderEventSink returns the webhook sink for accountID, for mounting under
// the API server's per-account webhook route (spec.md §4.7, §6).
func (s *Supervisor) OrderEventSink(accountID string) (*pnl.OrderEventSink, bool) {
	for _, a := range s.accounts {
		if a.account.ID == accountID {
			return a.sink, true
		}
	}
	return nil, false
}

// DecisionLog returns the decision log for accountID, for the API server's
// read-only decision-history endpoints.
func (s *Supervisor) DecisionLog(accountID string) (*decisionlog.DecisionLog, bool) {
	for _, a := range s.accounts {
		if a.account.ID == accountID {
			return a.dlog, true
		}
	}
	return nil, false
}

// LivePnL returns the live PnL tracker for accountID, for the API server's
// equity/PnL read endpoints.
func (s *Supervisor) LivePnL(accountID string) (*pnl.LivePnL, bool) {
	for _, a := range s.accounts {
		if a.account.ID == accountID {
			return a.livePnL, true
		}
	}
	return nil, false
}

// KillSwitch returns the kill-switch instance for accountID, for the API
// server's kill-switch status endpoint.
func (s *Supervisor) KillSwitch(accountID string) (*killswitch.KillSwitch, bool) {
	for _, a := range s.accounts {
		if a.account.ID == accountID {
			return a.ks, true
		}
	}
	return nil, false
}

func (s *Supervisor) snapshotEquity(ctx context.Context, a *accountWorkers) {
	summary, err := a.broker.AccountSummary(ctx)
	if err != nil {
		s.logger.Warn("account summary poll failed, keeping last snapshot",
			zap.String("account", a.account.ID), zap.Error(err))
		return
	}

	floating := decimal.Zero
	for _, t := range a.exposure.Trades() {
		if t.FloatPnL != nil {
			floating = floating.Add(*t.FloatPnL)
		}
	}

	snap := a.livePnL.Snapshot(time.Now(), summary.Balance, summary.Equity, floating)
	if err := s.db.RecordEquitySnapshot(ctx, snap); err != nil {
		s.logger.Warn("equity snapshot persist failed", zap.String("account", a.account.ID), zap.Error(err))
	}
}
