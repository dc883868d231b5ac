package oracle

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"upagent/internal/gateway/provider"
)

// 中文说明：
// 成本记账：按 token 用量折算 INR。价格表走 USD / 百万 token，
// 没有匹配的模型用保守兜底价。

var modelPriceTable = map[string]struct{ Prompt, Completion string }{
	"gpt-4o":        {"2.50", "10.00"},
	"gpt-4o-mini":   {"0.15", "0.60"},
	"deepseek-chat": {"0.27", "1.10"},
}

const (
	fallbackPromptUSD     = "3.00"
	fallbackCompletionUSD = "12.00"
)

// CostTracker 累计一次运行期间的决策成本。
type CostTracker struct {
	mu       sync.Mutex
	usdToINR decimal.Decimal
	calls    int
	totalUSD decimal.Decimal
}

func NewCostTracker(usdToINR float64) *CostTracker {
	rate := decimal.NewFromFloat(usdToINR)
	if rate.LessThanOrEqual(decimal.Zero) {
		rate = decimal.NewFromFloat(84.0)
	}
	return &CostTracker{usdToINR: rate}
}

// Record 累加一次调用的 token 成本。
func (t *CostTracker) Record(model string, usage provider.Usage) {
	if t == nil {
		return
	}
	promptPrice, completionPrice := priceFor(model)
	million := decimal.NewFromInt(1_000_000)
	cost := decimal.NewFromInt(int64(usage.PromptTokens)).Mul(promptPrice).Div(million).
		Add(decimal.NewFromInt(int64(usage.CompletionTokens)).Mul(completionPrice).Div(million))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	t.totalUSD = t.totalUSD.Add(cost)
}

// TotalINR 返回累计成本（INR，保留两位）。
func (t *CostTracker) TotalINR() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalUSD.Mul(t.usdToINR).Round(2)
}

// Summary 返回人类可读的成本摘要。
func (t *CostTracker) Summary() string {
	t.mu.Lock()
	calls := t.calls
	usd := t.totalUSD.Round(4)
	inr := t.totalUSD.Mul(t.usdToINR).Round(2)
	t.mu.Unlock()
	return fmt.Sprintf("calls=%d cost=$%s (₹%s)", calls, usd.String(), inr.String())
}

func priceFor(model string) (prompt, completion decimal.Decimal) {
	if p, ok := modelPriceTable[model]; ok {
		return decimal.RequireFromString(p.Prompt), decimal.RequireFromString(p.Completion)
	}
	return decimal.RequireFromString(fallbackPromptUSD), decimal.RequireFromString(fallbackCompletionUSD)
}
