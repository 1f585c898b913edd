package pnl_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/pnl"
)

func closeEventBody(ticket string, exitTime time.Time, profit float64) []byte {
	evt := pnl.WebhookEvent{
		Source:      "mt5-bridge",
		EventType:   "position_closed",
		Timestamp:   exitTime,
		Ticket:      ticket,
		Symbol:      "XAUUSD",
		EntryTime:   exitTime.Add(-time.Hour),
		ExitTime:    exitTime,
		EntryPrice:  decimal.NewFromFloat(2000),
		ExitPrice:   decimal.NewFromFloat(2010),
		ProfitGross: decimal.NewFromFloat(profit),
	}
	b, _ := json.Marshal(evt)
	return b
}

func TestOrderEventSinkRejectsMalformedPayload(t *testing.T) {
	sink := pnl.NewOrderEventSink(zap.NewNop(), pnl.NewLivePnL(zap.NewNop(), time.UTC), nil)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/order-events", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()

	sink.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOrderEventSinkRejectsMissingTicket(t *testing.T) {
	sink := pnl.NewOrderEventSink(zap.NewNop(), pnl.NewLivePnL(zap.NewNop(), time.UTC), nil)
	body := closeEventBody("", time.Now(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/order-events", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()

	sink.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOrderEventSinkRejectsMissingSource(t *testing.T) {
	sink := pnl.NewOrderEventSink(zap.NewNop(), pnl.NewLivePnL(zap.NewNop(), time.UTC), nil)
	evt := pnl.WebhookEvent{EventType: "position_opened", Timestamp: time.Now(), Ticket: "T1", Symbol: "XAUUSD"}
	body, _ := json.Marshal(evt)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/order-events", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()

	sink.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOrderEventSinkRejectsMissingTimestamp(t *testing.T) {
	sink := pnl.NewOrderEventSink(zap.NewNop(), pnl.NewLivePnL(zap.NewNop(), time.UTC), nil)
	evt := pnl.WebhookEvent{Source: "mt5-bridge", EventType: "position_opened", Ticket: "T1", Symbol: "XAUUSD"}
	body, _ := json.Marshal(evt)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/order-events", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()

	sink.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOrderEventSinkRejectsUnknownEventType(t *testing.T) {
	sink := pnl.NewOrderEventSink(zap.NewNop(), pnl.NewLivePnL(zap.NewNop(), time.UTC), nil)
	evt := pnl.WebhookEvent{Source: "mt5-bridge", EventType: "not_a_real_event", Timestamp: time.Now(), Ticket: "T1", Symbol: "XAUUSD"}
	body, _ := json.Marshal(evt)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/order-events", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()

	sink.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestOrderEventSinkDedupesRepeatedDelivery(t *testing.T) {
	live := pnl.NewLivePnL(zap.NewNop(), time.UTC)
	sink := pnl.NewOrderEventSink(zap.NewNop(), live, nil)
	exitTime := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	body := closeEventBody("T1", exitTime, 42.5)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/order-events", bytes.NewBuffer(body))
		rec := httptest.NewRecorder()
		sink.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200", i, rec.Code)
		}
	}

	if trades := live.Trades(); len(trades) != 1 {
		t.Fatalf("expected exactly 1 recorded trade after 3 deliveries, got %d", len(trades))
	}
}

func TestOrderEventSinkAcceptsNonCloseEventsWithoutRecording(t *testing.T) {
	live := pnl.NewLivePnL(zap.NewNop(), time.UTC)
	sink := pnl.NewOrderEventSink(zap.NewNop(), live, nil)
	evt := pnl.WebhookEvent{Source: "mt5-bridge", EventType: "position_opened", Timestamp: time.Now(), Ticket: "T2", Symbol: "EURUSD"}
	body, _ := json.Marshal(evt)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/order-events", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	sink.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if trades := live.Trades(); len(trades) != 0 {
		t.Fatalf("expected no trades recorded for non-close event, got %d", len(trades))
	}
}
