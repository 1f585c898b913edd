// Package config loads and validates the trading core's boot configuration:
// a YAML file read through viper, with select fields overridable by
// environment variables and every key checked against the known schema
// (spec.md §9: an unrecognized key is a fatal_startup error, not a warning).
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
)

// envPrefix namespaces the environment-variable overrides this loader
// recognizes, e.g. TRADING_DATABASE_URL overrides databaseUrl.
const envPrefix = "TRADING"

// Load reads path (YAML) into a types.Config, applies environment overrides
// for secrets and endpoints, and returns a fatal_startup-flavored error (via
// the returned error, which the caller must treat as a boot failure) if the
// file contains any key the schema does not recognize or fails Validate.
func Load(path string) (*types.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg types.Config
	decoder, err := mapstructure.NewDecoder(decoderConfig(&cfg))
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("config: unrecognized or malformed key in %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// decoderConfig builds a mapstructure.DecoderConfig that reads the json
// struct tags types.Config already carries, errors on any key in the file
// with no matching field (ErrorUnused — the fatal_startup trigger), and
// decodes decimal.Decimal and time.Duration fields from their YAML/ENV
// string or numeric forms.
func decoderConfig(out *types.Config) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			decimalDecodeHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	}
}

func decimalDecodeHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(decimal.Decimal{}) && to != reflect.TypeOf(&decimal.Decimal{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q: %w", v, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	default:
		return data, nil
	}
}

// applyEnvOverrides lets secrets and deployment-specific endpoints come from
// the environment without being written to the YAML file on disk, matching
// how the broker/guardrail credentials are handled across the rest of the
// core.
func applyEnvOverrides(cfg *types.Config) {
	if v := os.Getenv(envPrefix + "_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv(envPrefix + "_BROKER_BASE_URL"); v != "" {
		cfg.BrokerBaseURL = v
	}
	if v := os.Getenv(envPrefix + "_GUARDRAIL_BASE_URL"); v != "" {
		cfg.GuardrailBaseURL = v
	}
}

// Validate checks required fields and value ranges beyond what the decoder
// already enforces (non-empty, correctly shaped).
func Validate(c *types.Config) error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must list at least one symbol")
	}
	if c.TickIntervalSec <= 0 {
		return fmt.Errorf("tickIntervalSec must be > 0")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("databaseUrl is required (set %s_DATABASE_URL or the config file)", envPrefix)
	}
	if c.BrokerBaseURL == "" {
		return fmt.Errorf("brokerBaseUrl is required")
	}
	if !utils.ValidateWebhookURL(c.BrokerBaseURL) {
		return fmt.Errorf("brokerBaseUrl %q is not a valid http(s) URL", c.BrokerBaseURL)
	}
	if c.GuardrailBaseURL != "" && !utils.ValidateWebhookURL(c.GuardrailBaseURL) {
		return fmt.Errorf("guardrailBaseUrl %q is not a valid http(s) URL", c.GuardrailBaseURL)
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("accounts must list at least one account")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("every account requires a non-empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = true
		if a.BrokerBaseURL == "" {
			return fmt.Errorf("account %q: brokerBaseUrl is required", a.ID)
		}
		if !utils.ValidateWebhookURL(a.BrokerBaseURL) {
			return fmt.Errorf("account %q: brokerBaseUrl %q is not a valid http(s) URL", a.ID, a.BrokerBaseURL)
		}
		if len(a.Symbols) == 0 {
			return fmt.Errorf("account %q: symbols must list at least one symbol", a.ID)
		}
	}
	for i, sym := range c.Symbols {
		c.Symbols[i] = utils.FormatSymbol(sym)
	}
	// viper lowercases every map key it reads, so symbolExecution keys are
	// normalized the same way as symbols before the lookup below.
	if len(c.SymbolExecution) > 0 {
		normalized := make(map[string]types.SymbolExecutionConfig, len(c.SymbolExecution))
		for sym, exec := range c.SymbolExecution {
			normalized[utils.FormatSymbol(sym)] = exec
		}
		c.SymbolExecution = normalized
	}
	for _, sym := range c.Symbols {
		exec, ok := c.SymbolExecution[sym]
		if !ok {
			return fmt.Errorf("symbol %q has no symbolExecution entry", sym)
		}
		if !exec.PipSize.IsPositive() {
			return fmt.Errorf("symbol %q: pipSize must be > 0", sym)
		}
		if !exec.VolumeStep.IsPositive() {
			return fmt.Errorf("symbol %q: volumeStep must be > 0", sym)
		}
		tier := exec.Tier
		if tier == "" {
			tier = types.RiskTierLow
		}
		if _, ok := c.StrategyTiers[tier]; !ok {
			return fmt.Errorf("symbol %q: tier %q has no strategyTiers entry", sym, tier)
		}
	}
	for tier, t := range c.StrategyTiers {
		if t.MaxTradesPerDay <= 0 {
			return fmt.Errorf("strategyTiers[%s]: maxTradesPerDay must be > 0", tier)
		}
		if t.DefaultRiskPct.IsNegative() || t.DefaultRiskPct.IsZero() {
			return fmt.Errorf("strategyTiers[%s]: defaultRiskPct must be > 0", tier)
		}
	}
	return nil
}
