package app

import (
	"context"
	"fmt"
	"time"

	"upagent/internal/agent"
	"upagent/internal/agent/interfaces"
	"upagent/internal/analysis/analyst"
	brcfg "upagent/internal/config"
	cfgloader "upagent/internal/config/loader"
	"upagent/internal/gateway/news"
	"upagent/internal/gateway/notifier"
	"upagent/internal/gateway/provider"
	"upagent/internal/gateway/upstox"
	"upagent/internal/logger"
	"upagent/internal/market"
	"upagent/internal/oracle"
	"upagent/internal/risk"
	"upagent/internal/store/decisionlog"
	"upagent/internal/store/gormstore"
	apihttp "upagent/internal/transport/http"
)

// AppBuilder 负责把配置装配成可运行的 App。
// 各构建函数可注入替换，测试时换掉外部依赖。
type AppBuilder struct {
	cfg *brcfg.Config

	brokerageFn func(brcfg.UpstoxConfig) (*upstox.Client, error)
	universeFn  func(brcfg.UpstoxConfig) interfaces.Universe
	providerFn  func(brcfg.OracleConfig) (provider.ModelProvider, error)
	watchlistFn func(string) (*cfgloader.WatchlistLoader, error)

	oracleOverride   interfaces.Oracle
	notifierOverride interfaces.Notifier
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		brokerageFn: upstox.NewClient,
		universeFn: func(uc brcfg.UpstoxConfig) interfaces.Universe {
			return upstox.NewInstrumentUniverse(uc)
		},
		providerFn:  provider.NewFromConfig,
		watchlistFn: cfgloader.NewWatchlistLoader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	broker, err := b.brokerageFn(cfg.Upstox)
	if err != nil {
		return nil, fmt.Errorf("构建 Upstox 客户端失败: %w", err)
	}
	universe := b.universeFn(cfg.Upstox)

	oracleSvc, costSummary, err := b.buildOracle(cfg)
	if err != nil {
		return nil, err
	}

	chartAnalyst := analyst.New(cfg.Oracle.ChartDir)

	var newsSvc interfaces.NewsService
	if cfg.News.Enabled {
		newsSvc = news.NewClient(news.Config{
			APIKey:       cfg.News.APIKey,
			PageSize:     cfg.News.PageSize,
			LookbackDays: cfg.News.LookbackDays,
			Timeout:      time.Duration(cfg.News.TimeoutSeconds) * time.Second,
		})
		logger.Infof("✓ 新闻服务已启用 (lookback=%dd)", cfg.News.LookbackDays)
	}

	decisions, err := decisionlog.New(cfg.Store.DecisionLogPath)
	if err != nil {
		return nil, fmt.Errorf("打开决策日志库失败: %w", err)
	}
	orders, err := gormstore.NewGormStore(cfg.Store.Path)
	if err != nil {
		decisions.Close()
		return nil, fmt.Errorf("打开订单库失败: %w", err)
	}

	notify := b.buildNotifier(cfg)
	watchlist, err := b.watchlistFn(cfg.Watchlist.Path)
	if err != nil {
		decisions.Close()
		orders.Close()
		return nil, fmt.Errorf("加载自选列表失败: %w", err)
	}
	watchlist.Subscribe(func(snap cfgloader.WatchlistSnapshot) {
		logger.Infof("✓ 自选列表已更新: %v", snap.Symbols())
	})

	policy := risk.NewPolicy(riskConfigFromTrading(cfg.Trading), risk.NewState())

	selector := agent.NewInstrumentSelector(agent.SelectorParams{
		Config: agent.SelectorConfig{
			ProductCode:          cfg.Trading.ProductCode,
			AutoPick:             cfg.Trading.AutoPick,
			RandomSelect:         cfg.Trading.RandomSelect,
			SelectCountToCompare: cfg.Trading.SelectCountToCompare,
			InstrumentsToTrade:   cfg.Trading.InstrumentsToTrade,
		},
		Brokerage: broker,
		Universe:  universe,
		Oracle:    oracleSvc,
		Analyst:   chartAnalyst,
		Watchlist: watchlist.Snapshot,
	})

	orchestrator := agent.NewTradingOrchestrator(agent.OrchestratorParams{
		Config:    cfg,
		Brokerage: broker,
		Oracle:    oracleSvc,
		Selector:  selector,
		Policy:    policy,
		Decisions: decisions,
		Orders:    orders,
		News:      newsSvc,
		Analyst:   chartAnalyst,
		Notifier:  notify,
	})

	portfolio := b.buildPortfolioStream(ctx, broker, orchestrator, orders)

	httpServer, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:          cfg.App.HTTPAddr,
		Decisions:     decisions,
		Orders:        orders,
		StocksToTrade: orchestrator.LastSelection,
		Status: func() apihttp.StatusSnapshot {
			return statusSnapshot(orchestrator, policy, costSummary)
		},
	})
	if err != nil {
		decisions.Close()
		orders.Close()
		return nil, fmt.Errorf("构建监控 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:          cfg,
		orchestrator: orchestrator,
		httpServer:   httpServer,
		stream:       portfolio,
		decisions:    decisions,
		orders:       orders,
	}, nil
}

func (b *AppBuilder) buildOracle(cfg *brcfg.Config) (interfaces.Oracle, func() string, error) {
	if b.oracleOverride != nil {
		return b.oracleOverride, func() string { return "" }, nil
	}
	mp, err := b.providerFn(cfg.Oracle)
	if err != nil {
		return nil, nil, fmt.Errorf("构建决策模型失败: %w", err)
	}
	svc := oracle.NewService(mp, oracle.NewCostTracker(cfg.Oracle.USDToINR))
	logger.Infof("✓ 决策模型: %s (vision=%v)", mp.ID(), mp.SupportsVision())
	return svc, svc.Cost().Summary, nil
}

func (b *AppBuilder) buildNotifier(cfg *brcfg.Config) interfaces.Notifier {
	if b.notifierOverride != nil {
		return b.notifierOverride
	}
	return notifier.NewService(cfg.Notify)
}

// buildPortfolioStream 把券商的订单推送同时喂给编排器和订单库。
func (b *AppBuilder) buildPortfolioStream(ctx context.Context, client *upstox.Client, orchestrator *agent.TradingOrchestrator, orders *gormstore.GormStore) *upstox.PortfolioStream {
	return upstox.NewPortfolioStream(client, func(update market.OrderUpdate) {
		orchestrator.HandleOrderUpdate(update)
		if err := orders.ApplyOrderUpdate(ctx, update); err != nil {
			logger.Warnf("[app] 订单状态落库失败 %s: %v", update.OrderID, err)
		}
	})
}

func riskConfigFromTrading(tc brcfg.TradingConfig) risk.Config {
	return risk.Config{
		MaxPositionSize: tc.MaxPositionSize,
		MinConfidence:   tc.MinConfidence,
		MaxTradesPerDay: tc.MaxTradesPerDay,
		MaxDailyLossPct: tc.MaxDailyLossPct,
	}
}

func statusSnapshot(o *agent.TradingOrchestrator, policy *risk.Policy, costSummary func() string) apihttp.StatusSnapshot {
	snap := apihttp.StatusSnapshot{
		TradesToday:   policy.State().TradesToday(),
		DailyPnL:      policy.State().DailyPnL(),
		TradingHalted: policy.State().Halted(),
	}
	if costSummary != nil {
		snap.OracleCost = costSummary()
	}
	if sched := o.Scheduler(); sched != nil {
		snap.SchedulerState = string(sched.State())
		count, last, next := sched.Stats()
		snap.CycleCount = int(count)
		snap.LastCycleAt = last
		snap.NextCycleAt = next
	}
	return snap
}
