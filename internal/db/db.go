// Package db provides Postgres-backed persistence for the trading core's
// append-only and slowly-changing tables: trade_decisions, order_events,
// live_trades, live_equity, kill_switch_events, exit_plans, and
// symbol_loss_streaks, plus a read-only query over the externally-sourced
// daily_news_windows table (SPEC_FULL.md DOMAIN STACK). Every write is a
// single statement against a shared pool — no long transactions, matching
// spec.md §5's database policy.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/decisionlog"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// DB wraps a pgx connection pool and exposes one repository method set per
// table family. It implements decisionlog.Writer and pnl writer interfaces
// directly so the in-memory services can mirror writes here without an
// adapter type.
type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open establishes a pooled connection to the configured Postgres URL.
func Open(ctx context.Context, logger *zap.Logger, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return &DB{pool: pool, logger: logger.Named("db")}, nil
}

// Close drains the pool. Safe to call on a nil receiver's zero pool only
// after Open succeeded.
func (d *DB) Close() {
	d.pool.Close()
}

// Append persists one DecisionLog row (implements decisionlog.Writer).
func (d *DB) Append(r decisionlog.Record) error {
	reasonsJSON := joinReasons(r.ExecutionFilterReasons)
	riskReason := r.RiskReason
	killActive := r.KillSwitch.Active

	_, err := d.pool.Exec(context.Background(), `
		INSERT INTO trade_decisions
			(id, ts, symbol, strategy, account, decision, guardrail_mode, guardrail_reason,
			 risk_reason, execution_filter_action, execution_filter_reasons,
			 kill_switch_active, strategy_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.TS, r.Symbol, r.Strategy, r.Account, r.Decision,
		r.Guardrail.Mode, r.Guardrail.Reason, riskReason, r.ExecutionFilterAction,
		reasonsJSON, killActive, r.StrategyError)
	if err != nil {
		return fmt.Errorf("db: append decision: %w", err)
	}
	return nil
}

// TradesToday counts committed trade decisions for symbol on the UTC
// calendar day containing now, read from durable storage — the
// restart-safe source ExecutionFilter step 4 (spec.md §4.4) requires.
func (d *DB) TradesToday(ctx context.Context, symbol string, now time.Time) (int, error) {
	y, m, day := now.UTC().Date()
	dayStart := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)

	var count int
	err := d.pool.QueryRow(ctx, `
		SELECT count(*) FROM trade_decisions
		WHERE symbol = $1 AND decision = 'trade' AND ts >= $2`,
		symbol, dayStart).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db: trades today: %w", err)
	}
	return count, nil
}

// RecordOrderEvent persists a raw broker order-close webhook payload for
// audit and dedup-across-restart purposes.
func (d *DB) RecordOrderEvent(ctx context.Context, ticket string, exitTime time.Time, profitGross string, raw []byte) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO order_events (ticket, exit_time, profit_gross, payload, received_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (ticket, exit_time, profit_gross) DO NOTHING`,
		ticket, exitTime, profitGross, raw)
	if err != nil {
		return fmt.Errorf("db: record order event: %w", err)
	}
	return nil
}

// RecordLiveTrade persists one realized, closed position.
func (d *DB) RecordLiveTrade(ctx context.Context, t types.LiveTrade) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO live_trades
			(ticket, position_id, symbol, strategy, direction, volume, entry_time, exit_time,
			 entry_price, exit_price, sl, tp, commission, swap, profit_gross, profit_net, closed_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (ticket) DO NOTHING`,
		t.Ticket, t.PositionID, t.Symbol, t.Strategy, t.Direction, t.Volume, t.EntryTime, t.ExitTime,
		t.EntryPrice, t.ExitPrice, t.SL, t.TP, t.Commission, t.Swap, t.ProfitGross, t.ProfitNet, t.ClosedReason)
	if err != nil {
		return fmt.Errorf("db: record live trade: %w", err)
	}
	return nil
}

// RecordEquitySnapshot persists a periodic account-state sample.
func (d *DB) RecordEquitySnapshot(ctx context.Context, s types.EquitySnapshot) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO live_equity
			(ts, balance, equity, floating_pnl, closed_pnl_today, closed_pnl_week, max_drawdown_abs, max_drawdown_pct)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.TS, s.Balance, s.Equity, s.FloatingPnL, s.ClosedPnLToday, s.ClosedPnLWeek, s.MaxDrawdownAbs, s.MaxDrawdownPct)
	if err != nil {
		return fmt.Errorf("db: record equity snapshot: %w", err)
	}
	return nil
}

// RecordKillSwitchTransition persists an activation/resume transition.
func (d *DB) RecordKillSwitchTransition(ctx context.Context, scope string, s types.KillSwitchState) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO kill_switch_events (scope, active, reasons, activated_at, recorded_at)
		VALUES ($1,$2,$3,$4,now())`,
		scope, s.Active, joinReasons(s.Reasons), s.ActivatedAt)
	if err != nil {
		return fmt.Errorf("db: record kill switch event: %w", err)
	}
	return nil
}

// Save persists the current ExitPlan for a ticket (ExitEngine's exclusive
// write path, spec.md §3). Implements exitengine.PlanStore.
func (d *DB) Save(ctx context.Context, p types.ExitPlan) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO exit_plans
			(ticket, entry, sl_initial, tp1, tp2, tp3, be_trigger_r, be_done,
			 partial_pct, partial_done, trail_mode, trail_value, current_sl,
			 last_trail_move, time_limit_seconds, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (ticket) DO UPDATE SET
			sl_initial = excluded.sl_initial, tp1 = excluded.tp1, tp2 = excluded.tp2,
			tp3 = excluded.tp3, be_trigger_r = excluded.be_trigger_r,
			be_done = excluded.be_done, partial_pct = excluded.partial_pct,
			partial_done = excluded.partial_done, trail_mode = excluded.trail_mode,
			trail_value = excluded.trail_value, current_sl = excluded.current_sl,
			last_trail_move = excluded.last_trail_move,
			time_limit_seconds = excluded.time_limit_seconds`,
		p.Ticket, p.Entry, p.SLInitial, p.TP1, p.TP2, p.TP3, p.BETriggerR, p.BEDone,
		p.PartialPct, p.PartialDone, p.TrailMode, p.TrailValue, p.CurrentSL,
		p.LastTrailMove, int64(p.TimeLimit/time.Second), p.OpenedAt)
	if err != nil {
		return fmt.Errorf("db: upsert exit plan: %w", err)
	}
	return nil
}

// Load fetches the stored ExitPlan for a ticket, or ok=false if none has
// been written yet. Implements exitengine.PlanStore.
func (d *DB) Load(ctx context.Context, ticket string) (*types.ExitPlan, bool, error) {
	var p types.ExitPlan
	var timeLimitSeconds int64
	p.Ticket = ticket

	err := d.pool.QueryRow(ctx, `
		SELECT entry, sl_initial, tp1, tp2, tp3, be_trigger_r, be_done, partial_pct,
		       partial_done, trail_mode, trail_value, current_sl, last_trail_move,
		       time_limit_seconds, opened_at
		FROM exit_plans WHERE ticket = $1`, ticket).Scan(
		&p.Entry, &p.SLInitial, &p.TP1, &p.TP2, &p.TP3, &p.BETriggerR, &p.BEDone, &p.PartialPct,
		&p.PartialDone, &p.TrailMode, &p.TrailValue, &p.CurrentSL, &p.LastTrailMove,
		&timeLimitSeconds, &p.OpenedAt)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("db: load exit plan: %w", err)
	}
	p.TimeLimit = time.Duration(timeLimitSeconds) * time.Second
	return &p, true, nil
}

// RecordLossStreak persists the current consecutive-loss count for symbol,
// for restart-durable loss-streak pause decisions (spec.md §4.4 step 7).
func (d *DB) RecordLossStreak(ctx context.Context, symbol string, streak int, asOf time.Time) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO symbol_loss_streaks (symbol, streak, as_of)
		VALUES ($1,$2,$3)
		ON CONFLICT (symbol) DO UPDATE SET streak = excluded.streak, as_of = excluded.as_of`,
		symbol, streak, asOf)
	if err != nil {
		return fmt.Errorf("db: record loss streak: %w", err)
	}
	return nil
}

// AvoidWindowsOn returns today's avoid windows from the externally-sourced,
// read-only daily_news_windows table (spec.md §1 Non-goal: the news source
// itself is out of scope; this only reads what it published).
func (d *DB) AvoidWindowsOn(ctx context.Context, day time.Time) ([]types.AvoidWindow, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT start_time, end_time, currency, event, risk_score, critical
		FROM daily_news_windows
		WHERE start_time::date = $1::date`, day.UTC())
	if err != nil {
		return nil, fmt.Errorf("db: avoid windows: %w", err)
	}
	defer rows.Close()

	var out []types.AvoidWindow
	for rows.Next() {
		var w types.AvoidWindow
		if err := rows.Scan(&w.StartTime, &w.EndTime, &w.Currency, &w.Event, &w.RiskScore, &w.Critical); err != nil {
			return nil, fmt.Errorf("db: scan avoid window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += ";"
		}
		out += r
	}
	return out
}
