package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"upagent/internal/decision"
)

func newTestPolicy() *Policy {
	return NewPolicy(Config{
		MaxPositionSize: 100000,
		MinConfidence:   0.75,
		MaxTradesPerDay: 20,
		MaxDailyLossPct: 0.02,
	}, NewState())
}

func proposal(action decision.Action, confidence float64) *decision.Proposal {
	return &decision.Proposal{
		Action:        action,
		InstrumentKey: "NSE_EQ|INE002A01018",
		Confidence:    confidence,
		CurrentPrice:  2500,
	}
}

func TestValidateDecisionRejectsHold(t *testing.T) {
	p := newTestPolicy()
	ok := p.ValidateDecision(proposal(decision.ActionHold, 0.99), 50000)
	assert.False(t, ok)
	assert.Equal(t, 0, p.State().TradesToday())
}

func TestValidateDecisionConfidenceGate(t *testing.T) {
	p := newTestPolicy()
	assert.False(t, p.ValidateDecision(proposal(decision.ActionBuy, 0.74), 50000))
	assert.False(t, p.ValidateDecision(proposal(decision.ActionSell, 0.10), 50000))
	assert.Equal(t, 0, p.State().TradesToday())
	assert.True(t, p.ValidateDecision(proposal(decision.ActionBuy, 0.75), 50000))
}

func TestValidateDecisionSellDoesNotIncrementCount(t *testing.T) {
	p := newTestPolicy()
	assert.True(t, p.ValidateDecision(proposal(decision.ActionSell, 0.9), 50000))
	assert.True(t, p.ValidateDecision(proposal(decision.ActionSell, 0.9), 50000))
	assert.Equal(t, 0, p.State().TradesToday())
}

func TestValidateDecisionDailyCapBlocksBuy(t *testing.T) {
	p := NewPolicy(Config{
		MaxPositionSize: 100000,
		MinConfidence:   0.75,
		MaxTradesPerDay: 2,
		MaxDailyLossPct: 0.02,
	}, NewState())

	assert.True(t, p.ValidateDecision(proposal(decision.ActionBuy, 0.9), 50000))
	assert.True(t, p.ValidateDecision(proposal(decision.ActionBuy, 0.9), 50000))
	assert.Equal(t, 2, p.State().TradesToday())

	// 第三笔 BUY 仅因笔数被拒，置信度与熔断闸门都能通过。
	assert.False(t, p.ValidateDecision(proposal(decision.ActionBuy, 0.9), 50000))
	assert.Equal(t, 2, p.State().TradesToday())
}

func TestValidateDecisionDailyCapAlsoBlocksSell(t *testing.T) {
	// 笔数闸门位于动作分支之前，超限后 SELL 同样被拒。
	p := NewPolicy(Config{
		MaxPositionSize: 100000,
		MinConfidence:   0.5,
		MaxTradesPerDay: 1,
		MaxDailyLossPct: 0.02,
	}, NewState())

	assert.True(t, p.ValidateDecision(proposal(decision.ActionBuy, 0.9), 50000))
	assert.False(t, p.ValidateDecision(proposal(decision.ActionSell, 0.9), 50000))
	assert.Equal(t, 1, p.State().TradesToday())
}

func TestValidateDecisionHaltGate(t *testing.T) {
	p := newTestPolicy()
	p.UpdatePnL(-2500, 100000)
	assert.True(t, p.State().Halted())
	assert.False(t, p.ValidateDecision(proposal(decision.ActionBuy, 0.99), 50000))
	assert.False(t, p.ValidateDecision(proposal(decision.ActionSell, 0.99), 50000))
}

func TestValidateDecisionRejectionIsIdempotent(t *testing.T) {
	p := newTestPolicy()
	low := proposal(decision.ActionBuy, 0.1)
	assert.False(t, p.ValidateDecision(low, 50000))
	assert.False(t, p.ValidateDecision(low, 50000))
	assert.Equal(t, 0, p.State().TradesToday())
	assert.False(t, p.State().Halted())
}

func TestUpdatePnLHaltIsMonotonic(t *testing.T) {
	p := newTestPolicy()
	p.UpdatePnL(-2500, 100000)
	assert.True(t, p.State().Halted())
	assert.InDelta(t, -2500, p.State().DailyPnL(), 1e-9)

	p.UpdatePnL(-1500, 100000)
	assert.True(t, p.State().Halted())

	// 盈利回补也不会解除熔断。
	p.UpdatePnL(10000, 100000)
	assert.True(t, p.State().Halted())
}

func TestUpdatePnLBelowThresholdKeepsTrading(t *testing.T) {
	p := newTestPolicy()
	p.UpdatePnL(-1999, 100000)
	assert.False(t, p.State().Halted())
	assert.True(t, p.ValidateDecision(proposal(decision.ActionBuy, 0.9), 50000))
}

func TestCalculateQuantity(t *testing.T) {
	p := newTestPolicy()
	assert.Equal(t, 0, p.CalculateQuantity(0))
	assert.Equal(t, 0, p.CalculateQuantity(-10))
	assert.Equal(t, 40, p.CalculateQuantity(2500))
	assert.Equal(t, 33333, p.CalculateQuantity(3))
	assert.Equal(t, 1, p.CalculateQuantity(99999))
}
