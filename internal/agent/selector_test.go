package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"upagent/internal/agent/interfaces"
	"upagent/internal/config/loader"
	"upagent/internal/decision"
	"upagent/internal/market"
)

func newTestSelector(cfg SelectorConfig, br *mockBrokerage, uni *mockUniverse, or *mockOracle) *InstrumentSelector {
	return NewInstrumentSelector(SelectorParams{
		Config:    cfg,
		Brokerage: br,
		Universe:  uni,
		Oracle:    or,
	})
}

func TestSelectForCycle_OpenPositionsBypassAutoPick(t *testing.T) {
	br := &mockBrokerage{}
	uni := &mockUniverse{}
	or := &mockOracle{}

	br.On("GetPositions", mock.Anything).Return([]market.Position{
		{InstrumentKey: "NSE_EQ|INE001", TradingSymbol: "RELIANCE", Quantity: 10, Product: "I", LastPrice: 2500},
		{InstrumentKey: "NSE_EQ|INE002", TradingSymbol: "TCS", Quantity: 5, Product: "D", LastPrice: 3500}, // 非日内，忽略
	}, nil)
	uni.On("Resolve", mock.Anything, "NSE_EQ|INE001").Return(market.Instrument{
		InstrumentKey: "NSE_EQ|INE001", TradingSymbol: "RELIANCE", DisplayName: "Reliance Industries",
	}, true)

	s := newTestSelector(SelectorConfig{ProductCode: "I", AutoPick: true, InstrumentsToTrade: 1}, br, uni, or)
	got, err := s.SelectForCycle(context.Background(), 50000)

	assert.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "RELIANCE", got[0].TradingSymbol)
	// 持仓优先：全集与甄选模型都不应被触碰
	uni.AssertNotCalled(t, "ListEquities", mock.Anything)
	or.AssertNotCalled(t, "RequestBestCandidate", mock.Anything, mock.Anything)
}

func TestSelectForCycle_UnresolvedPositionKeepsPlaceholder(t *testing.T) {
	br := &mockBrokerage{}
	uni := &mockUniverse{}

	br.On("GetPositions", mock.Anything).Return([]market.Position{
		{InstrumentKey: "NSE_EQ|GONE", TradingSymbol: "DELISTED", Quantity: 3, Product: "I", LastPrice: 12.5},
	}, nil)
	uni.On("Resolve", mock.Anything, "NSE_EQ|GONE").Return(market.Instrument{}, false)

	s := newTestSelector(SelectorConfig{ProductCode: "I", AutoPick: true, InstrumentsToTrade: 1}, br, uni, &mockOracle{})
	got, err := s.SelectForCycle(context.Background(), 50000)

	assert.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "DELISTED", got[0].TradingSymbol)
	assert.Equal(t, 12.5, got[0].LastKnownPrice)
}

func TestSelectForCycle_WatchlistWhenAutoPickDisabled(t *testing.T) {
	br := &mockBrokerage{}
	uni := &mockUniverse{}

	br.On("GetPositions", mock.Anything).Return([]market.Position{}, nil)
	uni.On("Resolve", mock.Anything, "NSE_EQ|INE010").Return(market.Instrument{
		InstrumentKey: "NSE_EQ|INE010", TradingSymbol: "INFY", LastKnownPrice: 1500,
	}, true)

	s := NewInstrumentSelector(SelectorParams{
		Config:    SelectorConfig{ProductCode: "I", AutoPick: false, InstrumentsToTrade: 1},
		Brokerage: br,
		Universe:  uni,
		Oracle:    &mockOracle{},
		Watchlist: func() loader.WatchlistSnapshot {
			return loader.WatchlistSnapshot{
				Version: 1,
				Entries: []loader.WatchlistEntry{
					{Symbol: "INFY", InstrumentKey: "NSE_EQ|INE010"},
					{Symbol: "WIPRO", InstrumentKey: "NSE_EQ|INE011"},
				},
			}
		},
	})
	got, err := s.SelectForCycle(context.Background(), 50000)

	assert.NoError(t, err)
	assert.Len(t, got, 1) // instruments_to_trade 封顶
	assert.Equal(t, "INFY", got[0].TradingSymbol)
}

func TestSelectForCycle_NoAffordableIsNoOp(t *testing.T) {
	br := &mockBrokerage{}
	uni := &mockUniverse{}
	or := &mockOracle{}

	br.On("GetPositions", mock.Anything).Return([]market.Position{}, nil)
	uni.On("ListEquities", mock.Anything).Return([]market.Instrument{
		{InstrumentKey: "NSE_EQ|A", TradingSymbol: "PRICY", LastKnownPrice: 99999},
		{InstrumentKey: "NSE_EQ|B", TradingSymbol: "BROKEN", LastKnownPrice: 0},
	}, nil)

	s := newTestSelector(SelectorConfig{ProductCode: "I", AutoPick: true, SelectCountToCompare: 10, InstrumentsToTrade: 1}, br, uni, or)
	got, err := s.SelectForCycle(context.Background(), 1000)

	assert.NoError(t, err)
	assert.Empty(t, got)
	or.AssertNotCalled(t, "RequestBestCandidate", mock.Anything, mock.Anything)
}

func TestSelectForCycle_AutoPickSortsAndAsksOracle(t *testing.T) {
	br := &mockBrokerage{}
	uni := &mockUniverse{}
	or := &mockOracle{}

	br.On("GetPositions", mock.Anything).Return([]market.Position{}, nil)
	uni.On("ListEquities", mock.Anything).Return([]market.Instrument{
		{InstrumentKey: "NSE_EQ|LOW", TradingSymbol: "LOW", LastKnownPrice: 100},
		{InstrumentKey: "NSE_EQ|HIGH", TradingSymbol: "HIGH", LastKnownPrice: 900},
		{InstrumentKey: "NSE_EQ|MID", TradingSymbol: "MID", LastKnownPrice: 500},
	}, nil)
	br.On("GetQuote", mock.Anything, mock.Anything).Return(market.Quote{LastPrice: 1}, nil)
	br.On("GetIntradayCandles", mock.Anything, mock.Anything, "1minute").Return([]market.Candle{
		{OpenTime: time.Now().UnixMilli(), Open: 1, High: 2, Low: 1, Close: 2, Volume: 100},
	}, nil)
	or.On("RequestBestCandidate", mock.Anything, mock.Anything).Return([]*decision.Proposal{
		{Action: decision.ActionBuy, InstrumentKey: "NSE_EQ|HIGH", Confidence: 0.9},
	}, nil)
	uni.On("Resolve", mock.Anything, "NSE_EQ|HIGH").Return(market.Instrument{
		InstrumentKey: "NSE_EQ|HIGH", TradingSymbol: "HIGH", LastKnownPrice: 900,
	}, true)

	// random_select=false：取价格降序前 2
	s := newTestSelector(SelectorConfig{ProductCode: "I", AutoPick: true, SelectCountToCompare: 2, InstrumentsToTrade: 1}, br, uni, or)
	got, err := s.SelectForCycle(context.Background(), 1000)

	assert.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "HIGH", got[0].TradingSymbol)

	sent := or.Calls[0].Arguments.Get(1).([]interfaces.CandidateSummary)
	assert.Len(t, sent, 2)
	assert.Equal(t, "HIGH", sent[0].Instrument.TradingSymbol)
	assert.Equal(t, "MID", sent[1].Instrument.TradingSymbol)
}

func TestSelectForCycle_OracleDeclinesAllCandidates(t *testing.T) {
	br := &mockBrokerage{}
	uni := &mockUniverse{}
	or := &mockOracle{}

	br.On("GetPositions", mock.Anything).Return([]market.Position{}, nil)
	uni.On("ListEquities", mock.Anything).Return([]market.Instrument{
		{InstrumentKey: "NSE_EQ|A", TradingSymbol: "AAA", LastKnownPrice: 200},
	}, nil)
	br.On("GetQuote", mock.Anything, mock.Anything).Return(market.Quote{LastPrice: 200}, nil)
	br.On("GetIntradayCandles", mock.Anything, mock.Anything, "1minute").Return([]market.Candle{{Close: 200}}, nil)
	or.On("RequestBestCandidate", mock.Anything, mock.Anything).Return([]*decision.Proposal{}, nil)

	s := newTestSelector(SelectorConfig{ProductCode: "I", AutoPick: true, SelectCountToCompare: 5, InstrumentsToTrade: 1}, br, uni, or)
	got, err := s.SelectForCycle(context.Background(), 1000)

	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestSelectForCycle_CandleFailureSkipsCandidate(t *testing.T) {
	br := &mockBrokerage{}
	uni := &mockUniverse{}
	or := &mockOracle{}

	br.On("GetPositions", mock.Anything).Return([]market.Position{}, nil)
	uni.On("ListEquities", mock.Anything).Return([]market.Instrument{
		{InstrumentKey: "NSE_EQ|A", TradingSymbol: "AAA", LastKnownPrice: 300},
		{InstrumentKey: "NSE_EQ|B", TradingSymbol: "BBB", LastKnownPrice: 200},
	}, nil)
	br.On("GetQuote", mock.Anything, mock.Anything).Return(market.Quote{}, nil)
	br.On("GetIntradayCandles", mock.Anything, "NSE_EQ|A", "1minute").Return(nil, assert.AnError)
	br.On("GetIntradayCandles", mock.Anything, "NSE_EQ|B", "1minute").Return([]market.Candle{{Close: 200}}, nil)
	or.On("RequestBestCandidate", mock.Anything, mock.MatchedBy(func(batch []interfaces.CandidateSummary) bool {
		return len(batch) == 1 && batch[0].Instrument.TradingSymbol == "BBB"
	})).Return([]*decision.Proposal{}, nil)

	s := newTestSelector(SelectorConfig{ProductCode: "I", AutoPick: true, SelectCountToCompare: 5, InstrumentsToTrade: 1}, br, uni, or)
	got, err := s.SelectForCycle(context.Background(), 1000)

	assert.NoError(t, err)
	assert.Empty(t, got)
	or.AssertExpectations(t)
}

func TestSample_RandomWithoutReplacement(t *testing.T) {
	s := &InstrumentSelector{
		cfg:    SelectorConfig{SelectCountToCompare: 2, RandomSelect: true},
		randFn: func(n int) int { return n - 1 }, // 每次取池尾
	}
	sorted := []market.Instrument{
		{TradingSymbol: "A"}, {TradingSymbol: "B"}, {TradingSymbol: "C"},
	}
	got := s.sample(sorted)
	assert.Len(t, got, 2)
	assert.Equal(t, "C", got[0].TradingSymbol)
	assert.Equal(t, "B", got[1].TradingSymbol)
}
