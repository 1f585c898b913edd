package orderflow_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/broker"
	"github.com/atlas-desktop/trading-backend/internal/orderflow"
)

func TestNewServiceStartsEmpty(t *testing.T) {
	brokerClient := broker.NewClient(zap.NewNop(), "http://localhost:0", 0)
	svc := orderflow.NewService(zap.NewNop(), brokerClient, decimal.NewFromInt(3))

	if _, ok := svc.Latest("XAUUSD"); ok {
		t.Fatalf("expected no snapshot before any poll")
	}
	if svc.Unavailable("XAUUSD") {
		t.Fatalf("should not be marked unavailable before any poll")
	}
	if svc.Absorption("XAUUSD", 5, decimal.NewFromInt(10)) {
		t.Fatalf("absorption should be false with no samples")
	}
	if svc.Exhaustion("XAUUSD", decimal.NewFromInt(10)) {
		t.Fatalf("exhaustion should be false with no samples")
	}
}
