package risk

import (
	"fmt"
	"math"
	"sync"

	"upagent/internal/decision"
	"upagent/internal/logger"
)

// 中文说明：
// 风控策略：对每条提案按固定顺序过闸，并维护当日计数器。
// 计数器只能通过 Policy 的方法变更，编排器不得直接改写。

// State 保存当日风控状态，生命周期为一个交易日（进程内不自动重置）。
type State struct {
	mu            sync.Mutex
	tradesToday   int
	dailyPnL      float64
	tradingHalted bool
}

// NewState 返回清零的当日风控状态。
func NewState() *State {
	return &State{}
}

// TradesToday 返回当日已批准的新开仓笔数。
func (s *State) TradesToday() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradesToday
}

// DailyPnL 返回当日累计已实现盈亏。
func (s *State) DailyPnL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dailyPnL
}

// Halted 返回熔断开关是否已触发。触发后在进程生命周期内不会复位。
func (s *State) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradingHalted
}

// Config 是策略需要的全部阈值。
type Config struct {
	MaxPositionSize float64
	MinConfidence   float64
	MaxTradesPerDay int
	MaxDailyLossPct float64
}

// Policy 按固定顺序对提案过闸，并负责仓位兜底计算与当日盈亏记账。
type Policy struct {
	cfg   Config
	state *State
}

// NewPolicy 绑定状态与阈值。state 为 nil 时内部新建。
func NewPolicy(cfg Config, state *State) *Policy {
	if state == nil {
		state = NewState()
	}
	return &Policy{cfg: cfg, state: state}
}

// State 暴露只读访问入口（HTTP 状态页使用）。
func (p *Policy) State() *State {
	if p == nil {
		return nil
	}
	return p.state
}

// ValidateDecision 依次执行风控闸门，短路返回。
// 顺序固定：HOLD → 熔断 → 当日笔数 → 置信度 → SELL 放行 → BUY 放行并计数。
// 注意笔数闸门在动作分支之前执行，因此超限后 SELL 同样会被拒绝，
// 该顺序是刻意保留的既有行为，勿调整。
// 拒绝是常规结果，只记日志不报错。
func (p *Policy) ValidateDecision(proposal *decision.Proposal, availableMargin float64) bool {
	if p == nil || proposal == nil {
		return false
	}
	s := p.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if proposal.Action == decision.ActionHold {
		logger.Debugf("[risk] %s HOLD，无需执行", proposal.InstrumentKey)
		return false
	}
	if s.tradingHalted {
		logger.Warnf("[risk] %s 被拒：当日熔断已触发", proposal.InstrumentKey)
		return false
	}
	if s.tradesToday >= p.cfg.MaxTradesPerDay {
		logger.Warnf("[risk] %s 被拒：当日笔数已达上限 %d", proposal.InstrumentKey, p.cfg.MaxTradesPerDay)
		return false
	}
	if proposal.Confidence < p.cfg.MinConfidence {
		logger.Warnf("[risk] %s 被拒：置信度 %.2f 低于阈值 %.2f",
			proposal.InstrumentKey, proposal.Confidence, p.cfg.MinConfidence)
		return false
	}
	if proposal.Action == decision.ActionSell {
		logger.Infof("[risk] %s SELL 放行（平仓不计笔数）", proposal.InstrumentKey)
		return true
	}
	s.tradesToday++
	logger.Infof("[risk] %s BUY 放行，当日第 %d 笔（上限 %d，可用保证金 %.2f）",
		proposal.InstrumentKey, s.tradesToday, p.cfg.MaxTradesPerDay, availableMargin)
	return true
}

// CalculateQuantity 兜底仓位：floor(max_position_size / price)，价格非正返回 0。
// 提案自带的 quantity 优先，本方法仅在提案未给出数量时使用。
func (p *Policy) CalculateQuantity(price float64) int {
	if p == nil || price <= 0 {
		return 0
	}
	return int(math.Floor(p.cfg.MaxPositionSize / price))
}

// UpdatePnL 记入一笔已实现盈亏，越过当日亏损线时触发单向熔断。
func (p *Policy) UpdatePnL(pnl, startingCapital float64) {
	if p == nil {
		return
	}
	s := p.state
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyPnL += pnl
	limit := -(startingCapital * p.cfg.MaxDailyLossPct)
	if s.dailyPnL < limit && !s.tradingHalted {
		s.tradingHalted = true
		logger.Errorf("[risk] 当日亏损 %.2f 突破限额 %.2f，停止新开仓", s.dailyPnL, limit)
	}
}

// Summary 生成当前风控状态的一行描述。
func (p *Policy) Summary() string {
	if p == nil {
		return ""
	}
	s := p.state
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("trades=%d/%d pnl=%.2f halted=%v",
		s.tradesToday, p.cfg.MaxTradesPerDay, s.dailyPnL, s.tradingHalted)
}
