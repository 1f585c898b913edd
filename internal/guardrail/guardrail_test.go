package guardrail

import (
	"testing"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		tier    types.RiskTier
		risk    int
		inside  bool
		want    types.GuardrailMode
	}{
		{"low below threshold", types.RiskTierLow, 29, true, types.GuardrailNormal},
		{"low at threshold blocks", types.RiskTierLow, 30, true, types.GuardrailBlocked},
		{"low outside window", types.RiskTierLow, 90, false, types.GuardrailNormal},
		{"high reduces in band", types.RiskTierHigh, 55, true, types.GuardrailReduced},
		{"high blocks at ceiling", types.RiskTierHigh, 80, true, types.GuardrailBlocked},
		{"high normal below band", types.RiskTierHigh, 49, true, types.GuardrailNormal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mode, _ := classify(tc.tier, tc.risk, tc.inside)
			if mode != tc.want {
				t.Fatalf("classify(%s, %d, %v) = %s, want %s", tc.tier, tc.risk, tc.inside, mode, tc.want)
			}
		})
	}
}
