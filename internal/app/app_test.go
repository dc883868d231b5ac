package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upagent/internal/agent/interfaces"
	brcfg "upagent/internal/config"
	"upagent/internal/decision"
	"upagent/internal/market"
)

type stubOracle struct{}

func (stubOracle) RequestNewEntryDecision(ctx context.Context, ic interfaces.InstrumentContext) (*decision.Proposal, error) {
	return nil, nil
}

func (stubOracle) RequestManageExistingDecision(ctx context.Context, ic interfaces.InstrumentContext, pos market.Position) (*decision.Proposal, error) {
	return nil, nil
}

func (stubOracle) RequestBestCandidate(ctx context.Context, batch []interfaces.CandidateSummary) ([]*decision.Proposal, error) {
	return nil, nil
}

// 收盘时刻已过：调度器一启动就进入收盘清仓，清仓完成后整个进程必须退出，
// 不能让 HTTP 与组合流空转等信号。
func TestRunExitsAfterEODSquareOff(t *testing.T) {
	var exitCalls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/portfolio/short-term-positions":
			io.WriteString(w, `{"status":"success","data":[]}`)
		case "/order/positions/exit":
			exitCalls.Add(1)
			io.WriteString(w, `{"status":"success","data":{"order_ids":[]}}`)
		case "/feed/portfolio-stream-feed/authorize":
			io.WriteString(w, `{"status":"success","data":{"authorized_redirect_uri":"ws://127.0.0.1:9/"}}`)
		default:
			io.WriteString(w, `{"status":"success","data":{}}`)
		}
	}))
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	watchPath := filepath.Join(dir, "watchlist.yaml")
	require.NoError(t, os.WriteFile(watchPath, []byte(
		"watchlist:\n  - symbol: INFY\n    instrument_key: NSE_EQ|INE010\n"), 0o644))

	cfg := &brcfg.Config{}
	cfg.App.HTTPAddr = "127.0.0.1:0"
	cfg.App.LogLevel = "error"
	cfg.Upstox.BaseURL = ts.URL
	cfg.Upstox.TimeoutSeconds = 5
	cfg.Trading.MarketCloseTime = "00:00" // 当天任何时刻都算已过收盘
	cfg.Trading.Timezone = "Asia/Kolkata"
	cfg.Trading.DecisionIntervalSeconds = 1
	cfg.Trading.StartingCapital = 100000
	cfg.Trading.MaxDailyLossPct = 0.02
	cfg.Trading.ProductCode = "I"
	cfg.Store.Path = filepath.Join(dir, "orders.db")
	cfg.Store.DecisionLogPath = filepath.Join(dir, "decisions.db")
	cfg.Watchlist.Path = watchPath

	b := NewAppBuilder(cfg)
	b.oracleOverride = stubOracle{}

	application, err := b.Build(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- application.Run(context.Background()) }()

	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(15 * time.Second):
		t.Fatal("收盘清仓后 Run 没有退出")
	}
	assert.Equal(t, int32(1), exitCalls.Load())
}
