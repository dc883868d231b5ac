package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upagent/internal/gateway/provider"
)

func TestCostTrackerAccumulatesINR(t *testing.T) {
	tr := NewCostTracker(80)

	// gpt-4o: $2.50/M prompt + $10.00/M completion
	tr.Record("gpt-4o", provider.Usage{PromptTokens: 1_000_000, CompletionTokens: 100_000})
	// $2.50 + $1.00 = $3.50 → ₹280
	assert.Equal(t, "280", tr.TotalINR().String())

	tr.Record("gpt-4o", provider.Usage{PromptTokens: 1_000_000})
	assert.Equal(t, "480", tr.TotalINR().String())

	sum := tr.Summary()
	assert.Contains(t, sum, "calls=2")
	assert.Contains(t, sum, "₹")
}

func TestServiceCostExposesTracker(t *testing.T) {
	tr := NewCostTracker(84)
	svc := NewService(nil, tr)
	require.Same(t, tr, svc.Cost())
	// 状态页经由 Cost().Summary 取数
	assert.Contains(t, svc.Cost().Summary(), "calls=0")
}
