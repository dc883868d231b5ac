package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"upagent/internal/agent/interfaces"
	brcfg "upagent/internal/config"
	"upagent/internal/decision"
	"upagent/internal/logger"
	"upagent/internal/market"
	"upagent/internal/pkg/circuit"
	"upagent/internal/risk"
	"upagent/internal/scheduler"
)

// 中文说明：
// 交易编排器：驱动完整决策周期。单只股票的失败只跳过该股票，
// 整轮不中止；下单失败视为"未下单"，下一轮重新评估。

// OrchestratorParams 聚合全部协作者。
type OrchestratorParams struct {
	Config    *brcfg.Config
	Brokerage interfaces.Brokerage
	Oracle    interfaces.Oracle
	Selector  *InstrumentSelector
	Policy    *risk.Policy
	Decisions interfaces.DecisionStore
	Orders    interfaces.OrderStore
	News      interfaces.NewsService
	Analyst   interfaces.Analyst
	Notifier  interfaces.Notifier
}

// TradingOrchestrator 组合甄选、风控与执行。
type TradingOrchestrator struct {
	cfg       *brcfg.Config
	brokerage interfaces.Brokerage
	oracle    interfaces.Oracle
	selector  *InstrumentSelector
	policy    *risk.Policy
	decisions interfaces.DecisionStore
	orders    interfaces.OrderStore
	news      interfaces.NewsService
	analyst   interfaces.Analyst
	notifier  interfaces.Notifier

	breaker *circuit.CircuitBreaker
	sched   *scheduler.CycleScheduler

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration)

	lastPnL float64

	selMu         sync.Mutex
	lastSelection []market.Instrument
}

func NewTradingOrchestrator(p OrchestratorParams) *TradingOrchestrator {
	return &TradingOrchestrator{
		cfg:       p.Config,
		brokerage: p.Brokerage,
		oracle:    p.Oracle,
		selector:  p.Selector,
		policy:    p.Policy,
		decisions: p.Decisions,
		orders:    p.Orders,
		news:      p.News,
		analyst:   p.Analyst,
		notifier:  p.Notifier,
		breaker:   circuit.NewCircuitBreaker("TradingOrchestrator", 5, 2*time.Minute),
		nowFn:     time.Now,
		sleepFn:   sleepWithContext,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Scheduler 暴露调度器（状态页与测试使用）。
func (o *TradingOrchestrator) Scheduler() *scheduler.CycleScheduler {
	if o == nil {
		return nil
	}
	return o.sched
}

// LastSelection 返回最近一轮甄选出的标的（状态页展示）。
func (o *TradingOrchestrator) LastSelection() []market.Instrument {
	if o == nil {
		return nil
	}
	o.selMu.Lock()
	defer o.selMu.Unlock()
	out := make([]market.Instrument, len(o.lastSelection))
	copy(out, o.lastSelection)
	return out
}

// Run 构造周期调度器并阻塞运行，直至收盘清仓或 ctx 取消。
func (o *TradingOrchestrator) Run(ctx context.Context) error {
	if o == nil || o.cfg == nil {
		return fmt.Errorf("orchestrator 未初始化")
	}
	trading := o.cfg.Trading
	interval := time.Duration(trading.DecisionIntervalSeconds) * time.Second
	sched, err := scheduler.NewCycleScheduler(ctx, interval, trading.MarketCloseTime, trading.Location())
	if err != nil {
		return fmt.Errorf("构造调度器失败: %w", err)
	}
	sched.Name = "decision"
	sched.RunImmediately = true
	o.sched = sched

	sched.Start(
		func() {
			if o.breaker != nil && !o.breaker.Allow() {
				logger.Warnf("[orchestrator] 熔断器打开，跳过本轮")
				return
			}
			if err := o.RunCycle(ctx); err != nil {
				logger.Errorf("[orchestrator] 周期失败: %v", err)
				if o.breaker != nil {
					o.breaker.RecordFailure()
				}
				return
			}
			if o.breaker != nil {
				o.breaker.RecordSuccess()
			}
		},
		func() { o.SquareOff(ctx) },
	)
	return nil
}

// Stop 请求停止：取消下一轮排期，进行中的一轮跑完。
func (o *TradingOrchestrator) Stop() {
	if o == nil || o.sched == nil {
		return
	}
	o.sched.Stop()
}

// RunCycle 执行一轮完整决策周期。
func (o *TradingOrchestrator) RunCycle(ctx context.Context) error {
	start := o.nowFn()
	traceID := uuid.NewString()

	funds, err := o.brokerage.GetFunds(ctx)
	if err != nil {
		return fmt.Errorf("刷新保证金失败: %w", err)
	}

	o.refreshDailyPnL(ctx)

	instruments, err := o.selector.SelectForCycle(ctx, funds.AvailableMargin)
	if err != nil {
		return fmt.Errorf("甄选标的失败: %w", err)
	}
	o.selMu.Lock()
	o.lastSelection = instruments
	o.selMu.Unlock()
	if len(instruments) == 0 {
		logger.Infof("[orchestrator] 本轮无标的 trace=%s", traceID)
		return nil
	}

	positions, err := o.brokerage.GetPositions(ctx)
	if err != nil {
		logger.Warnf("[orchestrator] 持仓快照失败，按空仓处理: %v", err)
		positions = nil
	}
	posByKey := make(map[string]market.Position, len(positions))
	for _, pos := range positions {
		if pos.IsOpen(o.cfg.Trading.ProductCode) {
			posByKey[pos.InstrumentKey] = pos
		}
	}

	logger.Infof("[orchestrator] 周期开始 trace=%s 标的=%d 持仓=%d 可用保证金=%.2f",
		traceID, len(instruments), len(posByKey), funds.AvailableMargin)

	delay := time.Duration(o.cfg.Trading.InstrumentDelaySeconds) * time.Second
	for i, inst := range instruments {
		o.processInstrument(ctx, traceID, inst, posByKey, funds)
		if i < len(instruments)-1 {
			o.sleepFn(ctx, delay)
		}
	}

	logger.Infof("[orchestrator] 周期结束 trace=%s 耗时=%s 风控[%s]",
		traceID, o.nowFn().Sub(start).Truncate(time.Millisecond), o.policy.Summary())
	return nil
}

// processInstrument 处理单只股票，任何失败都只记日志并跳过。
func (o *TradingOrchestrator) processInstrument(ctx context.Context, traceID string, inst market.Instrument, posByKey map[string]market.Position, funds market.Funds) {
	ic, err := o.gatherContext(ctx, inst, funds)
	if err != nil {
		logger.Warnf("[orchestrator] %s 上下文缺失，跳过: %v", inst.TradingSymbol, err)
		return
	}

	var proposal *decision.Proposal
	pos, held := posByKey[inst.InstrumentKey]
	if held {
		proposal, err = o.oracle.RequestManageExistingDecision(ctx, ic, pos)
	} else {
		proposal, err = o.oracle.RequestNewEntryDecision(ctx, ic)
	}
	if err != nil {
		logger.Warnf("[orchestrator] %s 决策请求失败，跳过: %v", inst.TradingSymbol, err)
		return
	}
	if proposal == nil {
		logger.Infof("[orchestrator] %s 无决策，跳过", inst.TradingSymbol)
		return
	}

	rec := recordFromProposal(traceID, inst, proposal, o.nowFn())

	if err := decision.Validate(proposal); err != nil {
		rec.RejectReason = fmt.Sprintf("malformed: %v", err)
		o.saveDecision(ctx, rec)
		logger.Warnf("[orchestrator] %s 决策不完整，跳过: %v", inst.TradingSymbol, err)
		return
	}

	// 原始决策无条件先落库，风控结论事后回写。
	recordID := o.saveDecision(ctx, rec)

	approved := o.policy.ValidateDecision(proposal, funds.AvailableMargin)
	reason := ""
	if !approved {
		reason = "risk rejected"
	}
	o.setDecisionOutcome(ctx, recordID, approved, reason)

	if !approved {
		return
	}
	price := proposal.CurrentPrice
	if price <= 0 {
		price = ic.Quote.LastPrice
	}
	if price <= 0 {
		logger.Warnf("[orchestrator] %s 已批准但无可用价格，不下单", inst.TradingSymbol)
		return
	}
	o.submitOrder(ctx, traceID, inst, proposal, price)
}

// gatherContext 汇集行情、K线、指标、新闻、当日历史决策与图表。
// 行情或K线拿不到视为数据缺口；新闻、图表缺失可容忍。
func (o *TradingOrchestrator) gatherContext(ctx context.Context, inst market.Instrument, funds market.Funds) (interfaces.InstrumentContext, error) {
	ic := interfaces.InstrumentContext{
		Instrument:      inst,
		AvailableMargin: funds.AvailableMargin,
		Leverage:        o.cfg.Trading.Leverage,
		TimeToClose:     o.timeToClose(),
	}

	quote, err := o.brokerage.GetQuote(ctx, inst.InstrumentKey)
	if err != nil {
		return ic, fmt.Errorf("行情: %w", err)
	}
	ic.Quote = quote

	candles, err := o.brokerage.GetIntradayCandles(ctx, inst.InstrumentKey, "1minute")
	if err != nil {
		return ic, fmt.Errorf("K线: %w", err)
	}
	ic.Candles = candles

	if o.analyst != nil {
		if rep, err := o.analyst.GetTechnicalSummary(inst.TradingSymbol, "1minute", candles); err == nil {
			ic.Indicators = rep
		} else {
			logger.Debugf("[orchestrator] %s 指标计算失败: %v", inst.TradingSymbol, err)
		}
		if path, err := o.analyst.GetChartImage(ctx, inst.TradingSymbol, candles); err == nil && path != "" {
			ic.ChartImagePaths = []string{path}
		}
	}

	if o.news != nil {
		articles, err := o.news.GetCompanyNews(ctx, displayName(inst))
		if err != nil {
			logger.Debugf("[orchestrator] %s 新闻获取失败: %v", inst.TradingSymbol, err)
		} else {
			ic.News = articles
		}
	}

	if o.decisions != nil {
		prior, err := o.decisions.GetRecentDecisions(ctx, inst.InstrumentKey, o.cfg.Trading.PreviousDecisions)
		if err != nil {
			logger.Debugf("[orchestrator] %s 历史决策查询失败: %v", inst.TradingSymbol, err)
		} else {
			ic.PriorDecisions = prior
		}
	}

	if positions, err := o.brokerage.GetPositions(ctx); err == nil {
		ic.Positions = positions
	}
	return ic, nil
}

func (o *TradingOrchestrator) submitOrder(ctx context.Context, traceID string, inst market.Instrument, p *decision.Proposal, price float64) {
	qty := p.Quantity
	if qty <= 0 {
		qty = o.policy.CalculateQuantity(price)
	}
	if qty <= 0 {
		logger.Warnf("[orchestrator] %s 数量为 0，不下单", inst.TradingSymbol)
		return
	}
	req := market.OrderRequest{
		InstrumentKey: inst.InstrumentKey,
		Side:          string(p.Action),
		Quantity:      qty,
		OrderType:     "MARKET",
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		Product:       o.cfg.Trading.ProductCode,
		Validity:      "DAY",
		Tag:           traceID,
	}
	res, err := o.brokerage.PlaceOrder(ctx, req)
	if err != nil {
		logger.Errorf("[orchestrator] %s 下单失败（视为未下单）: %v", inst.TradingSymbol, err)
		return
	}
	logger.Infof("[orchestrator] %s %s x%d 已提交 order_id=%s", inst.TradingSymbol, p.Action, qty, res.OrderID)
	if o.orders != nil {
		if err := o.orders.SaveOrder(ctx, req, res, traceID); err != nil {
			logger.Warnf("[orchestrator] 订单记录失败: %v", err)
		}
	}
	o.notify(ctx, fmt.Sprintf("%s %s x%d @%.2f (conf=%.2f)", p.Action, inst.TradingSymbol, qty, price, p.Confidence))
}

// SquareOff 收盘清仓：平掉全部日内持仓并结算当日盈亏。
func (o *TradingOrchestrator) SquareOff(ctx context.Context) {
	logger.Infof("[orchestrator] 收盘清仓开始")
	o.refreshDailyPnL(ctx)
	if err := o.brokerage.ExitAllPositions(ctx); err != nil {
		logger.Errorf("[orchestrator] 清仓失败: %v", err)
		o.notify(ctx, fmt.Sprintf("收盘清仓失败: %v", err))
		return
	}
	o.notify(ctx, fmt.Sprintf("收盘清仓完成，当日 %s", o.policy.Summary()))
	logger.Infof("[orchestrator] 收盘清仓完成 风控[%s]", o.policy.Summary())
}

// refreshDailyPnL 用持仓盈亏增量驱动风控记账，熔断由 Policy 负责。
func (o *TradingOrchestrator) refreshDailyPnL(ctx context.Context) {
	positions, err := o.brokerage.GetPositions(ctx)
	if err != nil {
		logger.Debugf("[orchestrator] 盈亏刷新失败: %v", err)
		return
	}
	var total float64
	for _, pos := range positions {
		total += pos.PnL
	}
	delta := total - o.lastPnL
	o.lastPnL = total
	if delta != 0 {
		o.policy.UpdatePnL(delta, o.cfg.Trading.StartingCapital)
	}
}

// HandleOrderUpdate 是组合流回报入口，只记日志与通知，不阻塞周期。
func (o *TradingOrchestrator) HandleOrderUpdate(update market.OrderUpdate) {
	if o == nil {
		return
	}
	logger.Infof("[orchestrator] 订单回报 %s %s %s 成交=%d 均价=%.2f",
		update.OrderID, update.InstrumentKey, update.Status, update.FilledQty, update.AveragePrice)
	if strings.EqualFold(update.Status, "complete") {
		o.notify(context.Background(), fmt.Sprintf("订单成交 %s %s x%d @%.2f",
			update.Side, update.InstrumentKey, update.FilledQty, update.AveragePrice))
	}
}

func (o *TradingOrchestrator) timeToClose() time.Duration {
	trading := o.cfg.Trading
	loc := trading.Location()
	now := o.nowFn().In(loc)
	parsed, err := time.Parse("15:04", strings.TrimSpace(trading.MarketCloseTime))
	if err != nil {
		return 0
	}
	closeAt := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc)
	if d := closeAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (o *TradingOrchestrator) saveDecision(ctx context.Context, rec decision.Record) int64 {
	if o.decisions == nil {
		return 0
	}
	id, err := o.decisions.SaveDecision(ctx, rec)
	if err != nil {
		logger.Warnf("[orchestrator] 决策记录失败: %v", err)
		return 0
	}
	return id
}

func (o *TradingOrchestrator) setDecisionOutcome(ctx context.Context, id int64, approved bool, reason string) {
	if o.decisions == nil || id <= 0 {
		return
	}
	if err := o.decisions.SetDecisionOutcome(ctx, id, approved, reason); err != nil {
		logger.Warnf("[orchestrator] 风控结论回写失败: %v", err)
	}
}

func (o *TradingOrchestrator) notify(ctx context.Context, text string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, text); err != nil {
		logger.Debugf("[orchestrator] 通知失败: %v", err)
	}
}

func recordFromProposal(traceID string, inst market.Instrument, p *decision.Proposal, now time.Time) decision.Record {
	return decision.Record{
		TraceID:       traceID,
		InstrumentKey: inst.InstrumentKey,
		TradingSymbol: inst.TradingSymbol,
		Action:        string(p.Action),
		Confidence:    p.Confidence,
		Quantity:      p.Quantity,
		CurrentPrice:  p.CurrentPrice,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		Reasoning:     p.Reasoning,
		DecidedAt:     now,
	}
}

func displayName(inst market.Instrument) string {
	if strings.TrimSpace(inst.DisplayName) != "" {
		return inst.DisplayName
	}
	return inst.TradingSymbol
}
