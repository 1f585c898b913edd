// Package types provides configuration types for the trading core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionWindow is a named trading session for a symbol, in UTC time-of-day.
type SessionWindow struct {
	Name  string `json:"name"`
	Start string `json:"start"` // "HH:MM" UTC
	End   string `json:"end"`   // "HH:MM" UTC
}

// Contains reports whether t's UTC time-of-day falls within [Start, End).
// A window that wraps midnight (End < Start) spans into the next day.
func (w SessionWindow) Contains(t time.Time) bool {
	start, ok1 := parseHHMM(w.Start)
	end, ok2 := parseHHMM(w.End)
	if !ok1 || !ok2 {
		return false
	}
	tod := t.UTC().Hour()*60 + t.UTC().Minute()
	if end <= start {
		return tod >= start || tod < end
	}
	return tod >= start && tod < end
}

func parseHHMM(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// SymbolExecutionConfig carries per-symbol execution rules (spec.md §6).
type SymbolExecutionConfig struct {
	Symbol                     string          `json:"symbol"`
	Tier                       RiskTier        `json:"tier"` // selects the strategyTiers/guardrail entry this symbol evaluates under
	Sessions                   []SessionWindow `json:"sessions"`
	MaxSpread                  decimal.Decimal `json:"maxSpread"`
	MinCooldownMinutes         int             `json:"minCooldownMinutes"`
	MaxConcurrentTradesPerSymbol    int        `json:"maxConcurrentTradesPerSymbol"`
	MaxConcurrentTradesPerDirection int        `json:"maxConcurrentTradesPerDirection"`
	MaxDailyTradesPerSymbol    int             `json:"maxDailyTradesPerSymbol"`
	MaxDailyRiskPerSymbol      *decimal.Decimal `json:"maxDailyRiskPerSymbol,omitempty"`
	PipSize                    decimal.Decimal `json:"pipSize"`
	PipValuePerLot             decimal.Decimal `json:"pipValuePerLot"`
	VolumeStep                 decimal.Decimal `json:"volumeStep"`
	MaxLotSize                 decimal.Decimal `json:"maxLotSize"`
	MinRiskDistance            decimal.Decimal `json:"minRiskDistance"`
	SLBuffer                   decimal.Decimal `json:"slBuffer"`
	TargetR                    decimal.Decimal `json:"targetR"`
	SMTPair                    string          `json:"smtPair,omitempty"`
	RequireSMT                 bool            `json:"requireSmt"`
}

// SMCConfig carries per-symbol Strategy parameters (spec.md §4.2).
type SMCConfig struct {
	HTFTimeframe      Timeframe       `json:"htfTimeframe"` // H4 or H1
	ITFTimeframe      Timeframe       `json:"itfTimeframe"` // M15
	LTFTimeframe      Timeframe       `json:"ltfTimeframe"` // M1
	HTFPivotWindow    int             `json:"htfPivotWindow"`
	ITFPivotWindow    int             `json:"itfPivotWindow"`
	LTFPivotWindow    int             `json:"ltfPivotWindow"`
	HTFMinCandles     int             `json:"htfMinCandles"`
	ITFMinCandles     int             `json:"itfMinCandles"`
	LTFMinCandles     int             `json:"ltfMinCandles"`
	BosLookback       int             `json:"bosLookback"`
	TargetR           decimal.Decimal `json:"targetR"`
}

// StrategyTierConfig carries per-tier (low/high) limits (spec.md §4.3).
type StrategyTierConfig struct {
	Tier            RiskTier        `json:"tier"`
	MaxDailyLossPct decimal.Decimal `json:"maxDailyLossPct"`
	MaxTradesPerDay int             `json:"maxTradesPerDay"`
	DefaultRiskPct  decimal.Decimal `json:"defaultRiskPct"`
}

// KillSwitchConfig represents kill switch configuration (spec.md §4.8).
type KillSwitchConfig struct {
	DailyMaxLossCurrency   decimal.Decimal `json:"dailyMaxLossCurrency"`
	DailyMaxLossPct        decimal.Decimal `json:"dailyMaxLossPct"`
	WeeklyMaxLossCurrency  decimal.Decimal `json:"weeklyMaxLossCurrency"`
	WeeklyMaxLossPct       decimal.Decimal `json:"weeklyMaxLossPct"`
	MaxLosingStreak        int             `json:"maxLosingStreak"`
	MaxDailyTrades         int             `json:"maxDailyTrades"`
	MaxWeeklyTrades        int             `json:"maxWeeklyTrades"`
	MaxSpreadPoints        decimal.Decimal `json:"maxSpreadPoints"`
	MaxExposureRiskCurrency decimal.Decimal `json:"maxExposureRiskCurrency"`
	AutoResumeNextDay      bool            `json:"autoResumeNextDay"`
	AutoResumeNextWeek     bool            `json:"autoResumeNextWeek"`
	Timezone               string          `json:"timezone"`
}

// ExitConfig carries ExitEngine defaults and feature flags (spec.md §4.9).
type ExitConfig struct {
	TickIntervalSec   int             `json:"exitTickIntervalSec"`
	EnableBE          bool            `json:"enableBreakEven"`
	EnablePartial     bool            `json:"enablePartial"`
	EnableTrail       bool            `json:"enableTrail"`
	EnableTimeExit    bool            `json:"enableTimeExit"`
	EnableCommission  bool            `json:"enableCommissionExit"`
	DefaultBETriggerR decimal.Decimal `json:"defaultBeTriggerR"`
	DefaultPartialPct decimal.Decimal `json:"defaultPartialPct"`
	DefaultTrailPips  decimal.Decimal `json:"defaultTrailPips"`
	DefaultTimeLimit  time.Duration   `json:"defaultTimeLimit"`
	TrailMinInterval  time.Duration   `json:"trailMinInterval"`
}

// OrderFlowConfig carries OrderFlow thresholds (spec.md §4.5).
type OrderFlowConfig struct {
	PollIntervalMs          int             `json:"pollIntervalMs"`
	LargeOrderMultiplier    decimal.Decimal `json:"largeOrderMultiplier"`
	MinDeltaTrendConfirm    decimal.Decimal `json:"minDeltaTrendConfirmation"`
	ExhaustionThreshold     decimal.Decimal `json:"exhaustionThreshold"`
	AbsorptionLookback      int             `json:"absorptionLookback"`
}

// LossStreakConfig carries per-symbol loss-streak pause rules (spec.md §4.4 step 7).
type LossStreakConfig struct {
	PauseAfterConsecutiveLosses int           `json:"pauseAfterConsecutiveLosses"`
	PauseDuration               time.Duration `json:"pauseDurationHours"`
	PauseAfterDailyLosses       int           `json:"pauseAfterDailyLosses"`
}

// AccountRiskConfig carries an account's own risk envelope (spec.md §3 Account).
type AccountRiskConfig struct {
	DefaultRiskPct decimal.Decimal `json:"pct"`
	MaxDailyLoss   decimal.Decimal `json:"maxDailyLoss"`
	MaxWeeklyLoss  decimal.Decimal `json:"maxWeeklyLoss"`
}

// Account is one brokerage account the Dispatcher fans out to.
type Account struct {
	ID             string            `json:"id"`
	BrokerBaseURL  string            `json:"brokerBaseUrl"`
	Login          string            `json:"login"`
	Symbols        []string          `json:"symbols"`
	Risk           AccountRiskConfig `json:"risk"`
	KillSwitch     KillSwitchConfig  `json:"killSwitch"`
}

// GlobalExecutionConfig carries cross-symbol execution ceilings (spec.md §6).
type GlobalExecutionConfig struct {
	MaxConcurrentTradesGlobal int             `json:"maxConcurrentTradesGlobal"`
	MaxDailyRiskGlobal        decimal.Decimal `json:"maxDailyRiskGlobal"`
	ExposurePollIntervalSec   int             `json:"exposurePollIntervalSec"`
}

// Config is the fully recognized, boot-validated configuration for the
// core. Unknown keys encountered while loading this are rejected as
// fatal_startup (spec.md §9) — see internal/config.
type Config struct {
	TickIntervalSec        int                              `json:"tickIntervalSec"`
	MarketFeedIntervalSec  int                              `json:"marketFeedIntervalSec"`
	HistoricalBackfillDays int                               `json:"historicalBackfillDays"`
	MaxCandlesPerSymbol    int                              `json:"maxCandlesPerSymbol"`
	Symbols                []string                         `json:"symbols"`
	StrategyTiers          map[RiskTier]StrategyTierConfig   `json:"strategyTiers"`
	SMC                    SMCConfig                        `json:"smc"`
	SymbolExecution        map[string]SymbolExecutionConfig  `json:"symbolExecution"`
	GlobalExecution        GlobalExecutionConfig             `json:"globalExecution"`
	KillSwitch             KillSwitchConfig                  `json:"killSwitch"`
	Exit                   ExitConfig                        `json:"exit"`
	OrderFlow              OrderFlowConfig                   `json:"orderFlow"`
	LossStreak             LossStreakConfig                  `json:"lossStreak"`
	Accounts               []Account                        `json:"accounts"`
	BrokerBaseURL          string                           `json:"brokerBaseUrl"`
	GuardrailBaseURL       string                           `json:"guardrailBaseUrl"`
	DisplayTimezone        string                           `json:"displayTimezone"`
	HTTPTimeout            time.Duration                    `json:"httpTimeout"`
	DatabaseURL            string                           `json:"databaseUrl"`
	ServerHost             string                           `json:"serverHost"`
	ServerPort             int                              `json:"serverPort"`
	MetricsPort            int                              `json:"metricsPort"`
}
