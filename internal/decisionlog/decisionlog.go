// Package decisionlog is the append-only store of every tick decision
// (trade or skip) and the performance report built from it (spec.md §2 item
// 18, §4.12). It never mutates a written record (spec.md §3 ownership).
package decisionlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Record wraps a types.DecisionRecord with the identifiers the log assigns.
type Record struct {
	ID uuid.UUID
	types.DecisionRecord
}

// Writer persists DecisionRecords. DecisionLog's in-memory tier always
// appends; a Postgres-backed Writer (internal/db) additionally durable
// across restarts.
type Writer interface {
	Append(r Record) error
}

// DecisionLog is the append-only in-memory record of every decision, with
// an optional durable Writer mirrored alongside it. Reads never block a
// concurrent Append longer than a single slice grow (spec.md §5).
type DecisionLog struct {
	logger *zap.Logger
	mu     sync.RWMutex
	loc    *time.Location
	writer Writer
	rows   []Record
}

// New builds a DecisionLog. writer may be nil (in-memory only, used in
// tests and before the database is wired).
func New(logger *zap.Logger, loc *time.Location, writer Writer) *DecisionLog {
	if loc == nil {
		loc = time.UTC
	}
	return &DecisionLog{logger: logger.Named("decisionlog"), loc: loc, writer: writer}
}

// Append records one decision (trade or skip). Durable-writer failures are
// logged, never surfaced as a pipeline error (spec.md §9: DecisionLog must
// never itself block or fail the decision pipeline).
func (d *DecisionLog) Append(rec types.DecisionRecord) Record {
	row := Record{ID: uuid.New(), DecisionRecord: rec}

	d.mu.Lock()
	d.rows = append(d.rows, row)
	d.mu.Unlock()

	if d.writer != nil {
		if err := d.writer.Append(row); err != nil {
			d.logger.Error("durable decision write failed, kept in memory only",
				zap.Error(err), zap.String("symbol", rec.Symbol))
		}
	}
	return row
}

// TradesToday returns the number of committed (decision=trade) rows for
// symbol on the local calendar day containing now, read from committed
// history only (spec.md §4.4 step 4: avoids double-counting across
// restarts by never trusting in-memory counters alone once a writer is
// configured — callers needing restart-durable counts should query
// internal/db directly; this in-memory view serves the common case where
// the process has been up since the start of day).
func (d *DecisionLog) TradesToday(symbol string, now time.Time) int {
	dayStart := startOfDay(now.In(d.loc))

	d.mu.RLock()
	defer d.mu.RUnlock()

	count := 0
	for _, r := range d.rows {
		if r.Decision != types.DecisionTrade || r.Symbol != symbol {
			continue
		}
		if !r.TS.Before(dayStart) {
			count++
		}
	}
	return count
}

// Rows returns a defensive copy of every record, oldest first.
func (d *DecisionLog) Rows() []Record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Record, len(d.rows))
	copy(out, d.rows)
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, t.Location())
}

// PerformanceReport aggregates DecisionLog rows over a period: setups
// found/traded/skipped by reason, trade outcomes, and false negatives
// (spec.md §4.12).
type PerformanceReport struct {
	From, To       time.Time
	SetupsFound    int
	Traded         int
	SkippedByReason map[string]int
	Metrics        types.PerformanceSummary
	FalseNegatives int
}

// BuildReport aggregates rows in [from, to) into a PerformanceReport.
// closedTrades supplies the realized outcome of every trade whose ticket
// matches a row's ExecutionResult (win/loss/BE, profit factor, win rate,
// avg R). falseNegative decides, for a skipped row carrying a would-be
// TradeRequest, whether the planned TP would have been hit before the
// planned SL based on later price action — callers supply it because that
// judgement needs price history the log itself doesn't hold.
func BuildReport(rows []Record, closedTrades []types.LiveTrade, from, to time.Time, falseNegative func(types.TradeRequest, time.Time) bool) PerformanceReport {
	report := PerformanceReport{From: from, To: to, SkippedByReason: map[string]int{}}

	byTicket := make(map[string]types.LiveTrade, len(closedTrades))
	for _, t := range closedTrades {
		byTicket[t.Ticket] = t
	}

	var grossWin, grossLoss, rSum decimal.Decimal
	var rCount int

	for _, r := range rows {
		if r.TS.Before(from) || !r.TS.Before(to) {
			continue
		}
		report.SetupsFound++

		switch r.Decision {
		case types.DecisionTrade:
			report.Traded++
			if r.ExecutionResult == nil {
				continue
			}
			trade, ok := byTicket[r.ExecutionResult.Ticket]
			if !ok {
				continue
			}
			switch {
			case trade.ProfitNet.IsPositive():
				report.Metrics.Wins++
				grossWin = grossWin.Add(trade.ProfitNet)
			case trade.ProfitNet.IsNegative():
				report.Metrics.Losses++
				grossLoss = grossLoss.Add(trade.ProfitNet.Abs())
			default:
				report.Metrics.BreakEvens++
			}
			if trade.SL != nil {
				riskDistance := trade.EntryPrice.Sub(*trade.SL).Abs()
				if riskDistance.IsPositive() {
					riskAmount := riskDistance.Mul(trade.Volume)
					rSum = rSum.Add(trade.ProfitNet.Div(riskAmount))
					rCount++
				}
			}
		case types.DecisionSkip:
			reason := r.RiskReason
			if reason == "" && len(r.ExecutionFilterReasons) > 0 {
				reason = r.ExecutionFilterReasons[0]
			}
			if reason == "" && r.StrategyError != "" {
				reason = "strategy_error"
			}
			if reason == "" {
				reason = "unspecified"
			}
			report.SkippedByReason[reason]++

			if r.TradeRequest != nil && falseNegative != nil && falseNegative(*r.TradeRequest, r.TS) {
				report.FalseNegatives++
			}
		}
	}

	if rCount > 0 {
		report.Metrics.AvgR = rSum.Div(decimal.NewFromInt(int64(rCount)))
	}
	closedTotal := report.Metrics.Wins + report.Metrics.Losses + report.Metrics.BreakEvens
	if closedTotal > 0 {
		report.Metrics.WinRate = decimal.NewFromInt(int64(report.Metrics.Wins)).Div(decimal.NewFromInt(int64(closedTotal)))
	}
	if grossLoss.IsPositive() {
		report.Metrics.ProfitFactor = grossWin.Div(grossLoss)
	}
	return report
}
