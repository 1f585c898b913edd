package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const validYAML = `
tickIntervalSec: 5
symbols: ["XAUUSD"]
databaseUrl: "postgres://localhost/trading"
brokerBaseUrl: "http://localhost:9000"
strategyTiers:
  low:
    tier: low
    maxDailyLossPct: "2"
    maxTradesPerDay: 5
    defaultRiskPct: "0.5"
symbolExecution:
  XAUUSD:
    symbol: XAUUSD
    pipSize: "0.1"
    pipValuePerLot: "1"
    volumeStep: "0.01"
accounts:
  - id: acct-1
    brokerBaseUrl: "http://localhost:9000"
    symbols: ["XAUUSD"]
`

func TestLoadParsesValidConfig(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.TickIntervalSec != 5 {
		t.Fatalf("expected tickIntervalSec 5, got %d", cfg.TickIntervalSec)
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0] != "XAUUSD" {
		t.Fatalf("expected one symbol XAUUSD, got %v", cfg.Symbols)
	}
	exec, ok := cfg.SymbolExecution["XAUUSD"]
	if !ok {
		t.Fatalf("expected XAUUSD symbolExecution entry")
	}
	if !exec.PipSize.Equal(decimal.NewFromFloat(0.1)) {
		t.Fatalf("expected pipSize 0.1, got %s", exec.PipSize)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].ID != "acct-1" {
		t.Fatalf("expected one account acct-1, got %v", cfg.Accounts)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeTempConfig(t, validYAML+"\nnotARealField: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown key, got nil")
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("TRADING_DATABASE_URL", "postgres://override/trading")
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://override/trading" {
		t.Fatalf("expected env override to win, got %q", cfg.DatabaseURL)
	}
}

func TestValidateRejectsMissingAccounts(t *testing.T) {
	path := writeTempConfig(t, `
tickIntervalSec: 5
symbols: ["XAUUSD"]
databaseUrl: "postgres://localhost/trading"
brokerBaseUrl: "http://localhost:9000"
symbolExecution:
  XAUUSD:
    symbol: XAUUSD
    pipSize: "0.1"
    pipValuePerLot: "1"
    volumeStep: "0.01"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing accounts, got nil")
	}
}

func TestValidateRejectsSymbolWithoutExecutionConfig(t *testing.T) {
	path := writeTempConfig(t, `
tickIntervalSec: 5
symbols: ["XAUUSD", "EURUSD"]
databaseUrl: "postgres://localhost/trading"
brokerBaseUrl: "http://localhost:9000"
symbolExecution:
  XAUUSD:
    symbol: XAUUSD
    pipSize: "0.1"
    pipValuePerLot: "1"
    volumeStep: "0.01"
accounts:
  - id: acct-1
    brokerBaseUrl: "http://localhost:9000"
    symbols: ["XAUUSD"]
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for symbol missing symbolExecution entry, got nil")
	}
}
