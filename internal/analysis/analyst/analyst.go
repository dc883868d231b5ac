package analyst

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"upagent/internal/analysis/indicator"
	"upagent/internal/analysis/pattern"
	"upagent/internal/analysis/visual"
	"upagent/internal/logger"
	"upagent/internal/market"
)

// 中文说明：
// 技术分析门面：指标报告与图表工件。图表目录未配置时不出图，
// 决策链路照常工作（纯文本上下文）。

type Analyst struct {
	chartDir string
}

func New(chartDir string) *Analyst {
	return &Analyst{chartDir: chartDir}
}

// GetTechnicalSummary 计算指标报告。
func (a *Analyst) GetTechnicalSummary(symbol, interval string, candles []market.Candle) (indicator.Report, error) {
	return indicator.ComputeAll(candles, indicator.Settings{
		Symbol:   symbol,
		Interval: interval,
	})
}

// GetChartImage 渲染当日分钟图并写入图表目录，返回 PNG 路径。
func (a *Analyst) GetChartImage(ctx context.Context, symbol string, candles []market.Candle) (string, error) {
	if a == nil || a.chartDir == "" {
		return "", nil
	}
	if len(candles) == 0 {
		return "", fmt.Errorf("%s 无K线，无法出图", symbol)
	}
	rep, err := a.GetTechnicalSummary(symbol, "1minute", candles)
	if err != nil {
		return "", err
	}
	img, err := visual.RenderIntraday(visual.IntradayInput{
		Context:    ctx,
		Symbol:     symbol,
		Interval:   "1minute",
		Candles:    candles,
		Indicators: rep,
		Pattern:    pattern.Analyze(candles),
	})
	if err != nil {
		return "", fmt.Errorf("渲染 %s 图表失败: %w", symbol, err)
	}

	if err := os.MkdirAll(a.chartDir, 0o755); err != nil {
		return "", fmt.Errorf("创建图表目录失败: %w", err)
	}
	path := filepath.Join(a.chartDir, fmt.Sprintf("%s_%s.png", symbol, time.Now().Format("150405")))
	if err := os.WriteFile(path, img.Bytes, 0o644); err != nil {
		return "", fmt.Errorf("写入图表失败: %w", err)
	}
	logger.Debugf("[analyst] 图表已生成 %s", path)
	return path, nil
}
