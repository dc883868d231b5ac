package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"upagent/internal/logger"
	"upagent/internal/market"
	"upagent/internal/store/decisionlog"
	"upagent/internal/store/gormstore"
)

// 中文说明：
// 只读监控接口：健康检查、当前标的、当日决策/订单、运行状态。
// 不提供任何下单入口，交易只经编排器发生。

// StatusSnapshot 汇总 /api/v1/status 返回的运行状态。
type StatusSnapshot struct {
	SchedulerState string    `json:"scheduler_state"`
	CycleCount     int       `json:"cycle_count"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	NextCycleAt    time.Time `json:"next_cycle_at"`
	TradesToday    int       `json:"trades_today"`
	DailyPnL       float64   `json:"daily_pnl"`
	TradingHalted  bool      `json:"trading_halted"`
	OracleCost     string    `json:"oracle_cost"`
}

// ServerConfig 描述监控服务的依赖。
type ServerConfig struct {
	Addr          string
	Decisions     *decisionlog.Store
	Orders        *gormstore.GormStore
	Status        func() StatusSnapshot
	StocksToTrade func() []market.Instrument
}

// Server 提供最小化的 /api/v1 HTTP 服务。
type Server struct {
	addr   string
	router *gin.Engine
}

// NewServer 构建监控 HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Decisions == nil {
		return nil, errors.New("api http server requires decision store")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8087"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.GET("/stocks-to-trade", func(c *gin.Context) {
		var stocks []market.Instrument
		if cfg.StocksToTrade != nil {
			stocks = cfg.StocksToTrade()
		}
		c.JSON(http.StatusOK, gin.H{"count": len(stocks), "stocks": stocks})
	})
	api.GET("/decisions", func(c *gin.Context) {
		limit := parseLimit(c.Query("limit"), 100)
		records, err := cfg.Decisions.ListToday(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": len(records), "decisions": records})
	})
	api.GET("/orders", func(c *gin.Context) {
		if cfg.Orders == nil {
			c.JSON(http.StatusOK, gin.H{"count": 0, "orders": []struct{}{}})
			return
		}
		limit := parseLimit(c.Query("limit"), 100)
		orders, err := cfg.Orders.ListOrdersToday(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": len(orders), "orders": orders})
	})
	api.GET("/status", func(c *gin.Context) {
		if cfg.Status == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, cfg.Status())
	})

	return &Server{addr: cfg.Addr, router: router}, nil
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// requestLogger 记录接口调用，便于追踪查询来源。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
