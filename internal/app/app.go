package app

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"upagent/internal/agent"
	brcfg "upagent/internal/config"
	"upagent/internal/gateway/upstox"
	"upagent/internal/logger"
	"upagent/internal/store/decisionlog"
	"upagent/internal/store/gormstore"
	apihttp "upagent/internal/transport/http"
)

// App 聚合全部运行组件，Run 阻塞直到 ctx 取消或任一组件失败。
type App struct {
	cfg          *brcfg.Config
	orchestrator *agent.TradingOrchestrator
	httpServer   *apihttp.Server
	stream       *upstox.PortfolioStream
	decisions    *decisionlog.Store
	orders       *gormstore.GormStore
}

// NewApp 从已加载的配置构建完整应用。
func NewApp(ctx context.Context, cfg *brcfg.Config) (*App, error) {
	return buildAppWithWire(ctx, cfg)
}

func (a *App) Run(ctx context.Context) error {
	logger.InfoBlock(a.startupSummary())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := a.httpServer.Start(gctx); err != nil {
			return fmt.Errorf("api http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// 订单推送断线自动重连，错误只记日志不拉垮主流程。
		if err := a.stream.Start(gctx); err != nil {
			logger.Warnf("[app] 订单推送通道退出: %v", err)
		}
		return nil
	})

	g.Go(func() error {
		// 调度器终止（收盘清仓或取消）后整个进程退出，
		// 不让 HTTP 与推送通道空转到下一个信号。
		defer cancel()
		defer a.orchestrator.Stop()
		return a.orchestrator.Run(gctx)
	})

	err := g.Wait()
	a.close()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (a *App) close() {
	if a.stream != nil {
		a.stream.Close()
	}
	if a.orders != nil {
		if err := a.orders.Close(); err != nil {
			logger.Warnf("[app] 关闭订单库失败: %v", err)
		}
	}
	if a.decisions != nil {
		if err := a.decisions.Close(); err != nil {
			logger.Warnf("[app] 关闭决策日志库失败: %v", err)
		}
	}
}

func (a *App) startupSummary() string {
	tc := a.cfg.Trading
	var sb strings.Builder
	sb.WriteString("upagent 启动参数\n")
	fmt.Fprintf(&sb, "  环境: %s  监听: %s\n", a.cfg.App.Env, a.cfg.App.HTTPAddr)
	fmt.Fprintf(&sb, "  决策周期: %ds  收盘: %s (%s)\n", tc.DecisionIntervalSeconds, tc.MarketCloseTime, tc.Timezone)
	fmt.Fprintf(&sb, "  单笔上限: ₹%.0f  日亏损线: %.1f%%  日开仓上限: %d\n",
		tc.MaxPositionSize, tc.MaxDailyLossPct*100, tc.MaxTradesPerDay)
	fmt.Fprintf(&sb, "  自动选股: %v  单轮标的数: %d", tc.AutoPick, tc.InstrumentsToTrade)
	return sb.String()
}
