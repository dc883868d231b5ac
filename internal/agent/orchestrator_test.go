package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	brcfg "upagent/internal/config"
	"upagent/internal/config/loader"
	"upagent/internal/decision"
	"upagent/internal/market"
	"upagent/internal/risk"
)

type orchestratorFixture struct {
	orchestrator *TradingOrchestrator
	brokerage    *mockBrokerage
	universe     *mockUniverse
	oracle       *mockOracle
	decisions    *mockDecisionStore
	orders       *mockOrderStore
	policy       *risk.Policy
}

func testTradingConfig() *brcfg.Config {
	return &brcfg.Config{
		Trading: brcfg.TradingConfig{
			MaxPositionSize:         10000,
			MinConfidence:           0.75,
			MaxTradesPerDay:         20,
			MaxDailyLossPct:         0.02,
			StartingCapital:         100000,
			DecisionIntervalSeconds: 320,
			MarketCloseTime:         "14:55",
			Timezone:                "Asia/Kolkata",
			Leverage:                5,
			ProductCode:             "I",
			InstrumentsToTrade:      1,
			PreviousDecisions:       5,
		},
	}
}

// newOrchestratorFixture 搭一个自选列表路径的编排器：
// 无持仓时甄选直接返回 watchlist 里的单只股票。
func newOrchestratorFixture(watch []loader.WatchlistEntry) *orchestratorFixture {
	br := &mockBrokerage{}
	uni := &mockUniverse{}
	or := &mockOracle{}
	dec := &mockDecisionStore{}
	ord := &mockOrderStore{}

	cfg := testTradingConfig()
	policy := risk.NewPolicy(risk.Config{
		MaxPositionSize: cfg.Trading.MaxPositionSize,
		MinConfidence:   cfg.Trading.MinConfidence,
		MaxTradesPerDay: cfg.Trading.MaxTradesPerDay,
		MaxDailyLossPct: cfg.Trading.MaxDailyLossPct,
	}, risk.NewState())

	selector := NewInstrumentSelector(SelectorParams{
		Config:    SelectorConfig{ProductCode: "I", AutoPick: false, InstrumentsToTrade: 1},
		Brokerage: br,
		Universe:  uni,
		Oracle:    or,
		Watchlist: func() loader.WatchlistSnapshot {
			return loader.WatchlistSnapshot{Entries: watch}
		},
	})

	o := NewTradingOrchestrator(OrchestratorParams{
		Config:    cfg,
		Brokerage: br,
		Oracle:    or,
		Selector:  selector,
		Policy:    policy,
		Decisions: dec,
		Orders:    ord,
	})
	o.sleepFn = func(ctx context.Context, d time.Duration) {}

	return &orchestratorFixture{
		orchestrator: o,
		brokerage:    br,
		universe:     uni,
		oracle:       or,
		decisions:    dec,
		orders:       ord,
		policy:       policy,
	}
}

var testEntry = []loader.WatchlistEntry{{Symbol: "INFY", InstrumentKey: "NSE_EQ|INE010"}}

func (f *orchestratorFixture) stubMarketData(price float64) {
	f.brokerage.On("GetFunds", mock.Anything).Return(market.Funds{AvailableMargin: 50000}, nil)
	f.brokerage.On("GetPositions", mock.Anything).Return([]market.Position{}, nil)
	f.universe.On("Resolve", mock.Anything, "NSE_EQ|INE010").Return(market.Instrument{
		InstrumentKey: "NSE_EQ|INE010", TradingSymbol: "INFY", LastKnownPrice: price,
	}, true)
	f.brokerage.On("GetQuote", mock.Anything, "NSE_EQ|INE010").Return(market.Quote{
		InstrumentKey: "NSE_EQ|INE010", LastPrice: price,
	}, nil)
	f.brokerage.On("GetIntradayCandles", mock.Anything, "NSE_EQ|INE010", "1minute").Return([]market.Candle{
		{Open: price, High: price, Low: price, Close: price, Volume: 1000},
	}, nil)
	f.decisions.On("GetRecentDecisions", mock.Anything, "NSE_EQ|INE010", 5).Return([]decision.Record{}, nil)
}

func TestRunCycle_ApprovedBuyPlacesOrderWithFallbackQuantity(t *testing.T) {
	f := newOrchestratorFixture(testEntry)
	f.stubMarketData(2500)

	f.oracle.On("RequestNewEntryDecision", mock.Anything, mock.Anything).Return(&decision.Proposal{
		Action:        decision.ActionBuy,
		InstrumentKey: "NSE_EQ|INE010",
		Confidence:    0.9,
		CurrentPrice:  2500,
		// quantity 缺省：走兜底计算 floor(10000/2500)=4
	}, nil)
	tradesAtSave := -1
	f.decisions.On("SaveDecision", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		tradesAtSave = f.policy.State().TradesToday()
	}).Return(int64(1), nil)
	f.decisions.On("SetDecisionOutcome", mock.Anything, int64(1), true, "").Return(nil)
	f.brokerage.On("PlaceOrder", mock.Anything, mock.Anything).Return(market.OrderResult{OrderID: "ord-1", Status: "open"}, nil)
	f.orders.On("SaveOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := f.orchestrator.RunCycle(context.Background())

	assert.NoError(t, err)
	f.brokerage.AssertCalled(t, "PlaceOrder", mock.Anything, mock.MatchedBy(func(req market.OrderRequest) bool {
		return req.Side == "BUY" && req.Quantity == 4 && req.Product == "I" && req.OrderType == "MARKET"
	}))
	assert.Equal(t, 1, f.policy.State().TradesToday())
	// 落库发生在风控之前：落库时刻开仓计数尚未 +1
	assert.Equal(t, 0, tradesAtSave)
	f.decisions.AssertCalled(t, "SetDecisionOutcome", mock.Anything, int64(1), true, "")
}

func TestRunCycle_OracleQuantityIsAuthoritative(t *testing.T) {
	f := newOrchestratorFixture(testEntry)
	f.stubMarketData(2500)

	f.oracle.On("RequestNewEntryDecision", mock.Anything, mock.Anything).Return(&decision.Proposal{
		Action:        decision.ActionBuy,
		InstrumentKey: "NSE_EQ|INE010",
		Confidence:    0.8,
		CurrentPrice:  2500,
		Quantity:      2,
	}, nil)
	f.decisions.On("SaveDecision", mock.Anything, mock.Anything).Return(int64(1), nil)
	f.decisions.On("SetDecisionOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.brokerage.On("PlaceOrder", mock.Anything, mock.Anything).Return(market.OrderResult{OrderID: "ord-2"}, nil)
	f.orders.On("SaveOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	assert.NoError(t, f.orchestrator.RunCycle(context.Background()))
	f.brokerage.AssertCalled(t, "PlaceOrder", mock.Anything, mock.MatchedBy(func(req market.OrderRequest) bool {
		return req.Quantity == 2
	}))
}

func TestRunCycle_RejectedDecisionIsPersistedWithoutOrder(t *testing.T) {
	f := newOrchestratorFixture(testEntry)
	f.stubMarketData(2500)

	f.oracle.On("RequestNewEntryDecision", mock.Anything, mock.Anything).Return(&decision.Proposal{
		Action:        decision.ActionHold,
		InstrumentKey: "NSE_EQ|INE010",
		Confidence:    0.95,
	}, nil)

	var rec decision.Record
	f.decisions.On("SaveDecision", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		rec = args.Get(1).(decision.Record)
	}).Return(int64(7), nil)
	f.decisions.On("SetDecisionOutcome", mock.Anything, int64(7), false, "risk rejected").Return(nil)

	assert.NoError(t, f.orchestrator.RunCycle(context.Background()))
	// 决策先落库再过风控：落库的是原始记录，拒绝结论事后回写
	f.decisions.AssertCalled(t, "SaveDecision", mock.Anything, mock.Anything)
	assert.False(t, rec.Approved)
	assert.Empty(t, rec.RejectReason)
	f.decisions.AssertCalled(t, "SetDecisionOutcome", mock.Anything, int64(7), false, "risk rejected")
	f.brokerage.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
	assert.Equal(t, 0, f.policy.State().TradesToday())
}

func TestRunCycle_MalformedProposalPersistedAndSkipped(t *testing.T) {
	f := newOrchestratorFixture(testEntry)
	f.stubMarketData(2500)

	f.oracle.On("RequestNewEntryDecision", mock.Anything, mock.Anything).Return(&decision.Proposal{
		Action:        decision.ActionBuy,
		InstrumentKey: "NSE_EQ|INE010",
		Confidence:    1.5, // 越界
	}, nil)

	var rec decision.Record
	f.decisions.On("SaveDecision", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		rec = args.Get(1).(decision.Record)
	}).Return(int64(2), nil)

	assert.NoError(t, f.orchestrator.RunCycle(context.Background()))
	assert.False(t, rec.Approved)
	assert.Contains(t, rec.RejectReason, "malformed")
	// 不完整提案根本不进风控，没有结论可回写
	f.decisions.AssertNotCalled(t, "SetDecisionOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.brokerage.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestRunCycle_NoDecisionIsQuietSkip(t *testing.T) {
	f := newOrchestratorFixture(testEntry)
	f.stubMarketData(2500)

	f.oracle.On("RequestNewEntryDecision", mock.Anything, mock.Anything).Return(nil, nil)

	assert.NoError(t, f.orchestrator.RunCycle(context.Background()))
	f.decisions.AssertNotCalled(t, "SaveDecision", mock.Anything, mock.Anything)
	f.brokerage.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestRunCycle_ContextFailureSkipsInstrument(t *testing.T) {
	f := newOrchestratorFixture([]loader.WatchlistEntry{
		{Symbol: "INFY", InstrumentKey: "NSE_EQ|INE010"},
		{Symbol: "WIPRO", InstrumentKey: "NSE_EQ|INE011"},
	})
	f.orchestrator.cfg.Trading.InstrumentsToTrade = 2
	f.orchestrator.selector.cfg.InstrumentsToTrade = 2

	f.brokerage.On("GetFunds", mock.Anything).Return(market.Funds{AvailableMargin: 50000}, nil)
	f.brokerage.On("GetPositions", mock.Anything).Return([]market.Position{}, nil)
	f.universe.On("Resolve", mock.Anything, "NSE_EQ|INE010").Return(market.Instrument{
		InstrumentKey: "NSE_EQ|INE010", TradingSymbol: "INFY",
	}, true)
	f.universe.On("Resolve", mock.Anything, "NSE_EQ|INE011").Return(market.Instrument{
		InstrumentKey: "NSE_EQ|INE011", TradingSymbol: "WIPRO",
	}, true)
	// 第一只行情失败，第二只正常
	f.brokerage.On("GetQuote", mock.Anything, "NSE_EQ|INE010").Return(market.Quote{}, assert.AnError)
	f.brokerage.On("GetQuote", mock.Anything, "NSE_EQ|INE011").Return(market.Quote{LastPrice: 400}, nil)
	f.brokerage.On("GetIntradayCandles", mock.Anything, "NSE_EQ|INE011", "1minute").Return([]market.Candle{{Close: 400}}, nil)
	f.decisions.On("GetRecentDecisions", mock.Anything, "NSE_EQ|INE011", 5).Return([]decision.Record{}, nil)
	f.oracle.On("RequestNewEntryDecision", mock.Anything, mock.Anything).Return(nil, nil)

	assert.NoError(t, f.orchestrator.RunCycle(context.Background()))
	// 跳过不中止：第二只仍被送审
	f.oracle.AssertNumberOfCalls(t, "RequestNewEntryDecision", 1)
}

func TestRunCycle_ManageBranchForOpenPosition(t *testing.T) {
	f := newOrchestratorFixture(nil)

	pos := market.Position{
		InstrumentKey: "NSE_EQ|INE010", TradingSymbol: "INFY",
		Quantity: 4, Product: "I", AveragePrice: 2400, LastPrice: 2500, PnL: 400,
	}
	f.brokerage.On("GetFunds", mock.Anything).Return(market.Funds{AvailableMargin: 50000}, nil)
	f.brokerage.On("GetPositions", mock.Anything).Return([]market.Position{pos}, nil)
	f.universe.On("Resolve", mock.Anything, "NSE_EQ|INE010").Return(market.Instrument{
		InstrumentKey: "NSE_EQ|INE010", TradingSymbol: "INFY", LastKnownPrice: 2500,
	}, true)
	f.brokerage.On("GetQuote", mock.Anything, "NSE_EQ|INE010").Return(market.Quote{LastPrice: 2500}, nil)
	f.brokerage.On("GetIntradayCandles", mock.Anything, "NSE_EQ|INE010", "1minute").Return([]market.Candle{{Close: 2500}}, nil)
	f.decisions.On("GetRecentDecisions", mock.Anything, "NSE_EQ|INE010", 5).Return([]decision.Record{}, nil)

	f.oracle.On("RequestManageExistingDecision", mock.Anything, mock.Anything, pos).Return(&decision.Proposal{
		Action:        decision.ActionSell,
		InstrumentKey: "NSE_EQ|INE010",
		Confidence:    0.85,
		CurrentPrice:  2500,
		Quantity:      4,
	}, nil)
	f.decisions.On("SaveDecision", mock.Anything, mock.Anything).Return(int64(1), nil)
	f.decisions.On("SetDecisionOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.brokerage.On("PlaceOrder", mock.Anything, mock.Anything).Return(market.OrderResult{OrderID: "ord-3"}, nil)
	f.orders.On("SaveOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	assert.NoError(t, f.orchestrator.RunCycle(context.Background()))
	f.oracle.AssertCalled(t, "RequestManageExistingDecision", mock.Anything, mock.Anything, pos)
	f.oracle.AssertNotCalled(t, "RequestNewEntryDecision", mock.Anything, mock.Anything)
	// 平仓不计入当日开仓数
	assert.Equal(t, 0, f.policy.State().TradesToday())
}

func TestRunCycle_DailyLossFeedsHaltLatch(t *testing.T) {
	f := newOrchestratorFixture(nil)

	lossPos := market.Position{
		InstrumentKey: "NSE_EQ|INE010", TradingSymbol: "INFY",
		Quantity: 0, Product: "I", PnL: -2500, // 已平仓，亏损超过 2% 上限
	}
	f.brokerage.On("GetFunds", mock.Anything).Return(market.Funds{AvailableMargin: 50000}, nil)
	f.brokerage.On("GetPositions", mock.Anything).Return([]market.Position{lossPos}, nil)

	assert.NoError(t, f.orchestrator.RunCycle(context.Background()))
	assert.True(t, f.policy.State().Halted())
}

func TestSquareOff_ExitsAllAndNotifies(t *testing.T) {
	f := newOrchestratorFixture(nil)
	notifier := &mockNotifier{}
	f.orchestrator.notifier = notifier

	f.brokerage.On("GetPositions", mock.Anything).Return([]market.Position{}, nil)
	f.brokerage.On("ExitAllPositions", mock.Anything).Return(nil)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	f.orchestrator.SquareOff(context.Background())

	f.brokerage.AssertCalled(t, "ExitAllPositions", mock.Anything)
	notifier.AssertCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestOrderPlacementFailureLeavesCounters(t *testing.T) {
	f := newOrchestratorFixture(testEntry)
	f.stubMarketData(2500)

	f.oracle.On("RequestNewEntryDecision", mock.Anything, mock.Anything).Return(&decision.Proposal{
		Action:        decision.ActionBuy,
		InstrumentKey: "NSE_EQ|INE010",
		Confidence:    0.9,
		CurrentPrice:  2500,
		Quantity:      4,
	}, nil)
	f.decisions.On("SaveDecision", mock.Anything, mock.Anything).Return(int64(1), nil)
	f.decisions.On("SetDecisionOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.brokerage.On("PlaceOrder", mock.Anything, mock.Anything).Return(market.OrderResult{}, assert.AnError)

	assert.NoError(t, f.orchestrator.RunCycle(context.Background()))
	// 下单失败：不落订单记录，计数已在批准时+1（风控视角是"已批准一笔"）
	f.orders.AssertNotCalled(t, "SaveOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.policy.State().TradesToday())
}
