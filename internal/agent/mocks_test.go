package agent

import (
	"context"

	"github.com/stretchr/testify/mock"

	"upagent/internal/agent/interfaces"
	"upagent/internal/analysis/indicator"
	"upagent/internal/decision"
	"upagent/internal/gateway/news"
	"upagent/internal/market"
)

type mockBrokerage struct{ mock.Mock }

func (m *mockBrokerage) GetFunds(ctx context.Context) (market.Funds, error) {
	args := m.Called(ctx)
	return args.Get(0).(market.Funds), args.Error(1)
}

func (m *mockBrokerage) GetPositions(ctx context.Context) ([]market.Position, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Position), args.Error(1)
}

func (m *mockBrokerage) GetQuote(ctx context.Context, instrumentKey string) (market.Quote, error) {
	args := m.Called(ctx, instrumentKey)
	return args.Get(0).(market.Quote), args.Error(1)
}

func (m *mockBrokerage) GetIntradayCandles(ctx context.Context, instrumentKey, interval string) ([]market.Candle, error) {
	args := m.Called(ctx, instrumentKey, interval)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Candle), args.Error(1)
}

func (m *mockBrokerage) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(market.OrderResult), args.Error(1)
}

func (m *mockBrokerage) ExitAllPositions(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockUniverse struct{ mock.Mock }

func (m *mockUniverse) ListEquities(ctx context.Context) ([]market.Instrument, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Instrument), args.Error(1)
}

func (m *mockUniverse) Resolve(ctx context.Context, instrumentKey string) (market.Instrument, bool) {
	args := m.Called(ctx, instrumentKey)
	return args.Get(0).(market.Instrument), args.Bool(1)
}

type mockOracle struct{ mock.Mock }

func (m *mockOracle) RequestNewEntryDecision(ctx context.Context, ic interfaces.InstrumentContext) (*decision.Proposal, error) {
	args := m.Called(ctx, ic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*decision.Proposal), args.Error(1)
}

func (m *mockOracle) RequestManageExistingDecision(ctx context.Context, ic interfaces.InstrumentContext, pos market.Position) (*decision.Proposal, error) {
	args := m.Called(ctx, ic, pos)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*decision.Proposal), args.Error(1)
}

func (m *mockOracle) RequestBestCandidate(ctx context.Context, batch []interfaces.CandidateSummary) ([]*decision.Proposal, error) {
	args := m.Called(ctx, batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*decision.Proposal), args.Error(1)
}

type mockAnalyst struct{ mock.Mock }

func (m *mockAnalyst) GetTechnicalSummary(symbol, interval string, candles []market.Candle) (indicator.Report, error) {
	args := m.Called(symbol, interval, candles)
	return args.Get(0).(indicator.Report), args.Error(1)
}

func (m *mockAnalyst) GetChartImage(ctx context.Context, symbol string, candles []market.Candle) (string, error) {
	args := m.Called(ctx, symbol, candles)
	return args.String(0), args.Error(1)
}

type mockDecisionStore struct{ mock.Mock }

func (m *mockDecisionStore) SaveDecision(ctx context.Context, rec decision.Record) (int64, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockDecisionStore) SetDecisionOutcome(ctx context.Context, id int64, approved bool, rejectReason string) error {
	args := m.Called(ctx, id, approved, rejectReason)
	return args.Error(0)
}

func (m *mockDecisionStore) GetRecentDecisions(ctx context.Context, instrumentKey string, limit int) ([]decision.Record, error) {
	args := m.Called(ctx, instrumentKey, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]decision.Record), args.Error(1)
}

type mockOrderStore struct{ mock.Mock }

func (m *mockOrderStore) SaveOrder(ctx context.Context, req market.OrderRequest, res market.OrderResult, traceID string) error {
	args := m.Called(ctx, req, res, traceID)
	return args.Error(0)
}

type mockNewsService struct{ mock.Mock }

func (m *mockNewsService) GetCompanyNews(ctx context.Context, company string) ([]news.Article, error) {
	args := m.Called(ctx, company)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]news.Article), args.Error(1)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}
