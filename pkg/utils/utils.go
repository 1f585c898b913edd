// Package utils provides small shared helpers used across the trading core.
package utils

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatSymbol normalizes a broker symbol: trimmed, upper-cased. Broker
// bridge symbols (XAUUSD, EURUSD) are already base+quote concatenated with
// no separator, unlike crypto pairs, so no separator insertion is done.
func FormatSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// RoundToStepSize rounds a quantity down to the nearest multiple of stepSize.
func RoundToStepSize(qty, stepSize decimal.Decimal) decimal.Decimal {
	if stepSize.LessThanOrEqual(decimal.Zero) {
		return qty
	}
	return qty.Div(stepSize).Floor().Mul(stepSize)
}

var webhookURLPattern = regexp.MustCompile(`^https?://[a-zA-Z0-9.-]+(:[0-9]+)?(/[a-zA-Z0-9._/-]*)?$`)

// ValidateWebhookURL reports whether url is a well-formed http(s) endpoint,
// used to validate broker/guardrail base URLs at config load time.
func ValidateWebhookURL(url string) bool {
	return webhookURLPattern.MatchString(url)
}

// MaxDecimal returns the greater of two decimals.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ClampDecimal restricts value to the closed interval [min, max].
func ClampDecimal(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}
