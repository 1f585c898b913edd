// Package guardrail consumes the news-window source (out of scope itself,
// spec.md §1) and maps its response to {normal, reduced, blocked} for a
// given strategy tier (spec.md §4 item 10, §6).
package guardrail

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

type activeWindowDTO struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Currency  string    `json:"currency"`
	Impact    string    `json:"impact"`
	EventName string    `json:"event_name"`
	RiskScore int       `json:"risk_score"`
	IsCritical bool     `json:"is_critical"`
	Reason    string    `json:"reason"`
}

type canTradeResponse struct {
	CanTrade          bool             `json:"can_trade"`
	InsideAvoidWindow bool             `json:"inside_avoid_window"`
	ActiveWindow      *activeWindowDTO `json:"active_window,omitempty"`
}

type newsMapResponse struct {
	Date         string               `json:"date"`
	AvoidWindows []avoidWindowDTO     `json:"avoid_windows"`
}

type avoidWindowDTO struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Currency  string    `json:"currency"`
	Event     string    `json:"event"`
	RiskScore int       `json:"risk_score"`
	Critical  bool      `json:"critical"`
}

// Client talks to the news guardrail HTTP service.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient builds a guardrail client.
func NewClient(logger *zap.Logger, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		http: resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		logger: logger.Named("guardrail"),
	}
}

// classify maps a strategy tier to its block/reduce thresholds
// (spec.md §6: low blocks >=30; high reduces 50-79, blocks >=80).
func classify(tier types.RiskTier, riskScore int, insideWindow bool) (types.GuardrailMode, string) {
	if !insideWindow {
		return types.GuardrailNormal, ""
	}
	if tier == types.RiskTierLow {
		if riskScore >= 30 {
			return types.GuardrailBlocked, fmt.Sprintf("news risk_score %d >= 30 for strategy low", riskScore)
		}
		return types.GuardrailNormal, ""
	}
	// high tier
	if riskScore >= 80 {
		return types.GuardrailBlocked, fmt.Sprintf("news risk_score %d >= 80 for strategy high", riskScore)
	}
	if riskScore >= 50 {
		return types.GuardrailReduced, fmt.Sprintf("news risk_score %d in [50,80) for strategy high", riskScore)
	}
	return types.GuardrailNormal, ""
}

// CanTradeNow queries whether the given strategy tier may trade right now.
// Per spec.md §7, a guardrail outage defaults to blocked — trading halts
// until it recovers, rather than failing open.
func (c *Client) CanTradeNow(ctx context.Context, tier types.RiskTier) types.GuardrailResult {
	var out canTradeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("strategy", string(tier)).
		SetResult(&out).
		Get("/can-i-trade-now")
	if err != nil || resp.IsError() {
		c.logger.Warn("guardrail unavailable, defaulting to blocked",
			zap.String("tier", string(tier)), zap.Error(err))
		return types.GuardrailResult{Mode: types.GuardrailBlocked, Reason: "guardrail unavailable"}
	}

	riskScore := 0
	var win *types.AvoidWindow
	if out.ActiveWindow != nil {
		riskScore = out.ActiveWindow.RiskScore
		win = &types.AvoidWindow{
			StartTime: out.ActiveWindow.StartTime,
			EndTime:   out.ActiveWindow.EndTime,
			Currency:  out.ActiveWindow.Currency,
			Event:     out.ActiveWindow.EventName,
			RiskScore: out.ActiveWindow.RiskScore,
			Critical:  out.ActiveWindow.IsCritical,
		}
	}

	mode, reason := classify(tier, riskScore, out.InsideAvoidWindow)
	if !out.CanTrade && mode == types.GuardrailNormal {
		mode, reason = types.GuardrailBlocked, "guardrail reports can_trade=false"
	}
	return types.GuardrailResult{Mode: mode, Reason: reason, ActiveWindow: win}
}

// NewsMapToday fetches today's full set of avoid windows, used by
// AvoidWindowManager to schedule timers (spec.md §4.11).
func (c *Client) NewsMapToday(ctx context.Context) ([]types.AvoidWindow, error) {
	var out newsMapResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/news-map/today")
	if err != nil {
		return nil, fmt.Errorf("guardrail news-map: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("guardrail news-map: status %d", resp.StatusCode())
	}
	windows := make([]types.AvoidWindow, 0, len(out.AvoidWindows))
	for _, w := range out.AvoidWindows {
		windows = append(windows, types.AvoidWindow{
			StartTime: w.StartTime,
			EndTime:   w.EndTime,
			Currency:  w.Currency,
			Event:     w.Event,
			RiskScore: w.RiskScore,
			Critical:  w.Critical,
		})
	}
	return windows, nil
}
