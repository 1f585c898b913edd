package pnl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Store durably persists accepted webhook payloads and the realized trade
// they represent. Implemented by internal/db.DB; nil in tests leaves the
// sink in-memory-only.
type Store interface {
	RecordOrderEvent(ctx context.Context, ticket string, exitTime time.Time, profitGross string, raw []byte) error
	RecordLiveTrade(ctx context.Context, t types.LiveTrade) error
}

// validEventTypes are the event_type values the broker bridge may send
// (spec.md §6).
var validEventTypes = map[string]bool{
	"order_sent": true, "order_rejected": true, "position_opened": true,
	"position_modified": true, "position_closed": true, "sl_hit": true,
	"tp_hit": true, "partial_close": true, "break_even_set": true,
	"trail_sl_move": true, "time_exit": true, "commission_exit": true,
	"kill_switch_forced_exit": true, "auto_exit_structure_break": true,
	"error": true,
}

// WebhookEvent is the broker bridge's position_closed callback body
// (spec.md §6, §4.7).
type WebhookEvent struct {
	Source     string          `json:"source"`
	EventType  string          `json:"event_type"`
	Timestamp  time.Time       `json:"timestamp"`
	Ticket     string          `json:"ticket"`
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Strategy   string          `json:"strategy"`
	Direction  types.OrderSide `json:"direction"`
	Volume     decimal.Decimal `json:"volume"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	SL         *decimal.Decimal `json:"sl,omitempty"`
	TP         *decimal.Decimal `json:"tp,omitempty"`
	Commission decimal.Decimal `json:"commission"`
	Swap       decimal.Decimal `json:"swap"`
	ProfitGross decimal.Decimal `json:"profit_gross"`
	ClosedReason string        `json:"closed_reason"`
}

func (e WebhookEvent) dedupeKey() string {
	return fmt.Sprintf("%s|%s|%s", e.Ticket, e.ExitTime.UTC().Format(time.RFC3339Nano), e.ProfitGross.String())
}

// OrderEventSink is the HTTP handler the broker bridge calls back to report
// fills and closes. It validates, deduplicates on (ticket, exit_time,
// profit), and forwards accepted closes to LivePnL (spec.md §4.7, open
// question resolved: dedupe key is the event's natural identity tuple since
// the bridge may retry webhook delivery).
type OrderEventSink struct {
	logger  *zap.Logger
	livePnL *LivePnL
	store   Store

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewOrderEventSink builds a sink wired to livePnL. store may be nil
// (in-memory only, used in tests and before the database is wired).
func NewOrderEventSink(logger *zap.Logger, livePnL *LivePnL, store Store) *OrderEventSink {
	return &OrderEventSink{
		logger:  logger.Named("order-event-sink"),
		livePnL: livePnL,
		store:   store,
		seen:    make(map[string]time.Time),
	}
}

// ServeHTTP implements http.Handler for mounting under the API server's
// /webhooks/order-events route.
func (s *OrderEventSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var evt WebhookEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		s.logger.Warn("malformed webhook payload", zap.Error(err))
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := validate(evt); err != nil {
		s.logger.Warn("rejected webhook payload", zap.Error(err), zap.String("ticket", evt.Ticket))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if evt.EventType != "position_closed" {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if s.duplicate(evt) {
		s.logger.Debug("duplicate close event ignored", zap.String("ticket", evt.Ticket))
		w.WriteHeader(http.StatusOK)
		return
	}

	trade := types.LiveTrade{
		Ticket:       evt.Ticket,
		PositionID:   evt.PositionID,
		Symbol:       evt.Symbol,
		Strategy:     evt.Strategy,
		Direction:    evt.Direction,
		Volume:       evt.Volume,
		EntryTime:    evt.EntryTime,
		ExitTime:     evt.ExitTime,
		EntryPrice:   evt.EntryPrice,
		ExitPrice:    evt.ExitPrice,
		SL:           evt.SL,
		TP:           evt.TP,
		Commission:   evt.Commission,
		Swap:         evt.Swap,
		ProfitGross:  evt.ProfitGross,
		ClosedReason: evt.ClosedReason,
	}
	s.livePnL.RecordClose(trade)

	if s.store != nil {
		if err := s.store.RecordOrderEvent(r.Context(), evt.Ticket, evt.ExitTime, evt.ProfitGross.String(), raw); err != nil {
			s.logger.Warn("durable order event record failed", zap.Error(err), zap.String("ticket", evt.Ticket))
		}
		if err := s.store.RecordLiveTrade(r.Context(), trade); err != nil {
			s.logger.Warn("durable live trade record failed", zap.Error(err), zap.String("ticket", evt.Ticket))
		}
	}

	w.WriteHeader(http.StatusOK)
}

// validate checks source, event_type, and timestamp per spec.md §4.7, §7
// (invalid_input: malformed webhook payload or unknown event type → 4xx).
func validate(e WebhookEvent) error {
	if e.Source == "" {
		return fmt.Errorf("missing source")
	}
	if e.EventType == "" {
		return fmt.Errorf("missing event_type")
	}
	if !validEventTypes[e.EventType] {
		return fmt.Errorf("unknown event_type %q", e.EventType)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	if e.Ticket == "" {
		return fmt.Errorf("missing ticket")
	}
	if e.Symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	if e.EventType == "position_closed" && e.ExitTime.IsZero() {
		return fmt.Errorf("missing exit_time for position_closed event")
	}
	return nil
}

// duplicate reports whether this exact (ticket, exit_time, profit) tuple
// has already been processed, and prunes entries older than 24h.
func (s *OrderEventSink) duplicate(e WebhookEvent) bool {
	key := e.dedupeKey()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = now
	for k, t := range s.seen {
		if now.Sub(t) > 24*time.Hour {
			delete(s.seen, k)
		}
	}
	return false
}
