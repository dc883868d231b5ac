package interfaces

import (
	"context"
	"time"

	"upagent/internal/analysis/indicator"
	"upagent/internal/decision"
	"upagent/internal/gateway/news"
	"upagent/internal/market"
)

// 中文说明：
// 编排器依赖的外部协作者契约。实现分别位于 gateway/、store/、analysis/。

// Brokerage 是券商网关的最小契约。
type Brokerage interface {
	GetFunds(ctx context.Context) (market.Funds, error)
	GetPositions(ctx context.Context) ([]market.Position, error)
	GetQuote(ctx context.Context, instrumentKey string) (market.Quote, error)
	GetIntradayCandles(ctx context.Context, instrumentKey, interval string) ([]market.Candle, error)
	PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error)
	ExitAllPositions(ctx context.Context) error
}

// Universe 提供标的全集的查询与解析。每轮重新解析，不长期持有。
type Universe interface {
	ListEquities(ctx context.Context) ([]market.Instrument, error)
	Resolve(ctx context.Context, instrumentKey string) (market.Instrument, bool)
}

// InstrumentContext 是喂给甄选模型的单只股票上下文。
type InstrumentContext struct {
	Instrument      market.Instrument
	Quote           market.Quote
	Candles         []market.Candle
	Indicators      indicator.Report
	News            []news.Article
	PriorDecisions  []decision.Record
	AvailableMargin float64
	Positions       []market.Position
	Leverage        int
	TimeToClose     time.Duration
	ChartImagePaths []string
}

// CandidateSummary 是批量甄选时单个候选的精简上下文。
type CandidateSummary struct {
	Instrument     market.Instrument
	Quote          market.Quote
	TechnicalBrief string
	ChartImagePath string
}

// Oracle 是外部决策服务。返回 (nil, nil) 表示"本轮无决策"，不是错误。
type Oracle interface {
	RequestNewEntryDecision(ctx context.Context, ic InstrumentContext) (*decision.Proposal, error)
	RequestManageExistingDecision(ctx context.Context, ic InstrumentContext, pos market.Position) (*decision.Proposal, error)
	RequestBestCandidate(ctx context.Context, batch []CandidateSummary) ([]*decision.Proposal, error)
}

// DecisionStore 持久化决策与订单记录。查询仅限当日，时间倒序。
// 原始决策先落库（拿到行 id），风控结论随后用 SetDecisionOutcome 回写。
type DecisionStore interface {
	SaveDecision(ctx context.Context, rec decision.Record) (int64, error)
	SetDecisionOutcome(ctx context.Context, id int64, approved bool, rejectReason string) error
	GetRecentDecisions(ctx context.Context, instrumentKey string, limit int) ([]decision.Record, error)
}

// OrderStore 记录已提交订单（火后即记，核心不追踪成交）。
type OrderStore interface {
	SaveOrder(ctx context.Context, req market.OrderRequest, res market.OrderResult, traceID string) error
}

// NewsService 拉取公司新闻，空结果是正常输出。
type NewsService interface {
	GetCompanyNews(ctx context.Context, company string) ([]news.Article, error)
}

// Analyst 产出技术摘要与图表工件。
type Analyst interface {
	GetTechnicalSummary(symbol, interval string, candles []market.Candle) (indicator.Report, error)
	GetChartImage(ctx context.Context, symbol string, candles []market.Candle) (string, error)
}

// Notifier 推送运行通知，失败不影响主流程。
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
