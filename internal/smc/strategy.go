package smc

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/marketdata"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Rejection codes surfaced in a Skip result. These are business rejections,
// not exceptions — the tick loop never unwinds on them (spec.md §7, §9).
const (
	ReasonInsufficientHistory = "insufficient_history"
	ReasonSidewaysTrend       = "htf_sideways"
	ReasonWrongPDZone         = "wrong_pd_zone"
	ReasonNoITFAlignment      = "itf_not_aligned"
	ReasonNoLTFBos            = "no_ltf_bos"
	ReasonNoSweep             = "no_liquidity_sweep"
	ReasonNoValidOB           = "no_unmitigated_ob"
	ReasonNoFVGOrImbalance    = "no_fvg_or_imbalance"
	ReasonSessionClosed       = "session_closed"
	ReasonRequiredSMTMissing  = "required_smt_missing"
	ReasonMinRiskDistance     = "below_min_risk_distance"
)

// Result is what Evaluate returns: either a Signal or a structured skip
// reason, or only Err on a recovered strategy_error. Exactly one of
// Signal/Reason/Err is populated.
type Result struct {
	Signal *types.Signal
	Reason string
	Err    error // non-nil only for strategy_error (spec.md §4.2 Failure semantics)
}

// Engine is the SMC strategy service: reads MarketData, produces at most
// one candidate Signal per symbol per evaluation (spec.md §2 item 11,
// §4.2). It holds only a read-only handle to MarketData and never mutates
// shared state (spec.md §3).
type Engine struct {
	logger *zap.Logger
	data   *marketdata.MarketData
	config types.SMCConfig
}

// NewEngine builds an SMC strategy engine over data.
func NewEngine(logger *zap.Logger, data *marketdata.MarketData, config types.SMCConfig) *Engine {
	if config.HTFPivotWindow == 0 {
		config.HTFPivotWindow = 5
	}
	if config.ITFPivotWindow == 0 {
		config.ITFPivotWindow = 3
	}
	if config.LTFPivotWindow == 0 {
		config.LTFPivotWindow = 2
	}
	if config.HTFMinCandles == 0 {
		config.HTFMinCandles = 50
	}
	if config.ITFMinCandles == 0 {
		config.ITFMinCandles = 40
	}
	if config.LTFMinCandles == 0 {
		config.LTFMinCandles = 20
	}
	if config.HTFTimeframe == "" {
		config.HTFTimeframe = types.TF_H4
	}
	if config.ITFTimeframe == "" {
		config.ITFTimeframe = types.TF_M15
	}
	if config.LTFTimeframe == "" {
		config.LTFTimeframe = types.TF_M1
	}
	if config.BosLookback == 0 {
		config.BosLookback = 30
	}
	if config.TargetR.IsZero() {
		config.TargetR = decimal.NewFromInt(2)
	}
	return &Engine{logger: logger.Named("smc"), data: data, config: config}
}

// EvalInput carries the per-evaluation context the Engine reads, replacing
// any global mutable state (spec.md §9): a fresh struct per tick keeps
// concurrent symbol evaluations independent.
type EvalInput struct {
	Symbol         string
	Bid            decimal.Decimal
	Ask            decimal.Decimal
	Now            time.Time
	SessionOK      bool
	SymbolExec     types.SymbolExecutionConfig
	CorrelatedBars []types.Candle // optional, for SMT
}

// Evaluate runs the full SMC decision rule for one symbol and returns a
// candidate Signal or a structured skip reason. Any panic/internal error
// is recovered and surfaced as a strategy_error result, never propagated
// (spec.md §4.2 Failure semantics, §7).
func (e *Engine) Evaluate(in EvalInput) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy evaluation panicked", zap.Any("panic", r), zap.String("symbol", in.Symbol))
			result = Result{Err: fmt.Errorf("strategy_error: %v", r)}
		}
	}()

	htf := e.data.GetRecentCandles(in.Symbol, e.config.HTFTimeframe, 300, true)
	itf := e.data.GetRecentCandles(in.Symbol, e.config.ITFTimeframe, 300, true)
	ltf := e.data.GetRecentCandles(in.Symbol, e.config.LTFTimeframe, 300, true)

	if len(htf) < e.config.HTFMinCandles || len(itf) < e.config.ITFMinCandles || len(ltf) < e.config.LTFMinCandles {
		return Result{Reason: ReasonInsufficientHistory}
	}

	if !in.SessionOK {
		return Result{Reason: ReasonSessionClosed}
	}

	htfSwings := Swings(htf, e.config.HTFPivotWindow)
	htfBos := BOS(htf, htfSwings, e.config.BosLookback)
	htfIdx := len(htf) - 1
	htfBias := ComputeTrendBiasAt(htf, htfSwings, htfBos, htfIdx)

	if htfBias.Trend == types.TrendSideways {
		return Result{Reason: ReasonSidewaysTrend}
	}

	direction := types.OrderSideBuy
	if htfBias.Trend == types.TrendBearish {
		direction = types.OrderSideSell
	}

	if direction == types.OrderSideBuy && !IsDiscount(htfBias.PDPosition) {
		return Result{Reason: ReasonWrongPDZone}
	}
	if direction == types.OrderSideSell && !IsPremium(htfBias.PDPosition) {
		return Result{Reason: ReasonWrongPDZone}
	}

	itfSwings := Swings(itf, e.config.ITFPivotWindow)
	itfBos := BOS(itf, itfSwings, e.config.BosLookback)
	itfIdx := len(itf) - 1
	itfBias := ComputeTrendBiasAt(itf, itfSwings, itfBos, itfIdx)
	if itfBias.Trend != htfBias.Trend {
		return Result{Reason: ReasonNoITFAlignment}
	}

	ltfSwings := Swings(ltf, e.config.LTFPivotWindow)
	ltfBos := BOS(ltf, ltfSwings, e.config.BosLookback)
	if len(ltfBos) == 0 || ltfBos[len(ltfBos)-1].Direction != direction {
		return Result{Reason: ReasonNoLTFBos}
	}
	lastBos := ltfBos[len(ltfBos)-1]

	if !LiquiditySwept(ltf, ltfSwings, direction, lastBos.Index, e.config.BosLookback) {
		return Result{Reason: ReasonNoSweep}
	}

	ob, ok := OrderBlockFor(ltf, e.config.LTFTimeframe, lastBos)
	if !ok {
		return Result{Reason: ReasonNoValidOB}
	}
	Mitigate(&ob, ltf[lastBos.Index+1:])
	if ob.Mitigated {
		return Result{Reason: ReasonNoValidOB}
	}

	gaps := FVGs(ltf, e.config.LTFTimeframe)
	price := in.Bid.Add(in.Ask).Div(decimal.NewFromInt(2))
	fvgAligned := FVGAligned(gaps, direction, price)
	volumeImbalance := hasVolumeImbalance(ltf, lastBos.Index)
	if !fvgAligned && !volumeImbalance {
		return Result{Reason: ReasonNoFVGOrImbalance}
	}

	var smt bool
	if len(in.CorrelatedBars) > 0 {
		smt = SMTDivergence(ltf, in.CorrelatedBars, direction, e.config.LTFMinCandles)
	}
	if in.SymbolExec.RequireSMT && !smt {
		return Result{Reason: ReasonRequiredSMTMissing}
	}

	entry, sl, tp, err := e.computeLevels(direction, ob, in.SymbolExec)
	if err != nil {
		return Result{Reason: ReasonMinRiskDistance}
	}

	var fvgRef *types.FairValueGap
	for i := range gaps {
		if gaps[i].Direction == direction {
			fvgRef = &gaps[i]
		}
	}

	sig := types.Signal{
		Symbol: in.Symbol, Direction: direction, Entry: entry, SL: sl, TP: tp,
		Reason: "smc_confluence", CreatedAt: in.Now,
		Meta: types.SignalMeta{
			HTFTrend: htfBias.Trend, PD: htfBias.PDPosition, OrderBlock: &ob, FVG: fvgRef,
			LiquiditySwept: true, SMTDivergence: smt, Session: "", ConfluenceScore: confluenceScore(fvgAligned, volumeImbalance, smt),
		},
	}
	if !sig.Valid(in.SymbolExec.MinRiskDistance) {
		return Result{Reason: ReasonMinRiskDistance}
	}

	return Result{Signal: &sig}
}

// hasVolumeImbalance is a coarse proxy: the impulse candle's volume
// (tick count) exceeds twice the average of the preceding 10 bars.
func hasVolumeImbalance(bars []types.Candle, impulseIdx int) bool {
	if impulseIdx <= 0 || impulseIdx >= len(bars) {
		return false
	}
	lo := impulseIdx - 10
	if lo < 0 {
		lo = 0
	}
	window := bars[lo:impulseIdx]
	if len(window) == 0 {
		return false
	}
	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c.Volume)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(window))))
	if avg.IsZero() {
		return false
	}
	return bars[impulseIdx].Volume.GreaterThan(avg.Mul(decimal.NewFromInt(2)))
}

func confluenceScore(fvg, volImbalance, smt bool) decimal.Decimal {
	score := decimal.Zero
	if fvg {
		score = score.Add(decimal.NewFromFloat(0.4))
	}
	if volImbalance {
		score = score.Add(decimal.NewFromFloat(0.2))
	}
	if smt {
		score = score.Add(decimal.NewFromFloat(0.4))
	}
	return score
}

// computeLevels derives entry/SL/TP from the order block and configured
// buffer/target (spec.md §4.2 step 14): SL at the OB far edge plus buffer,
// entry at the OB near edge, TP at the configured R multiple.
func (e *Engine) computeLevels(direction types.OrderSide, ob types.OrderBlock, sym types.SymbolExecutionConfig) (entry, sl, tp decimal.Decimal, err error) {
	buffer := sym.SLBuffer
	targetR := sym.TargetR
	if targetR.IsZero() {
		targetR = e.config.TargetR
	}

	if direction == types.OrderSideBuy {
		entry = ob.High
		sl = ob.Low.Sub(buffer)
		risk := entry.Sub(sl)
		if risk.LessThanOrEqual(decimal.Zero) {
			return entry, sl, tp, fmt.Errorf("non-positive risk distance")
		}
		tp = entry.Add(risk.Mul(targetR))
		return entry, sl, tp, nil
	}

	entry = ob.Low
	sl = ob.High.Add(buffer)
	risk := sl.Sub(entry)
	if risk.LessThanOrEqual(decimal.Zero) {
		return entry, sl, tp, fmt.Errorf("non-positive risk distance")
	}
	tp = entry.Sub(risk.Mul(targetR))
	return entry, sl, tp, nil
}
