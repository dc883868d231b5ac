package oracle

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"upagent/internal/agent/interfaces"
	"upagent/internal/decision"
	"upagent/internal/gateway/provider"
	"upagent/internal/logger"
	"upagent/internal/market"
)

// 中文说明：
// 决策服务：把标的上下文翻译成提示词，调模型，解析回 Proposal。
// 模型输出不可解析时返回错误（上层按"跳过该股票"处理），
// 模型明确观望（空数组 / HOLD）不是错误。

type Service struct {
	provider provider.ModelProvider
	cost     *CostTracker
}

func NewService(p provider.ModelProvider, cost *CostTracker) *Service {
	return &Service{provider: p, cost: cost}
}

// Cost 返回成本记账器（状态页展示）。
func (s *Service) Cost() *CostTracker {
	if s == nil {
		return nil
	}
	return s.cost
}

// RequestNewEntryDecision 针对无持仓标的请求开仓决策。
func (s *Service) RequestNewEntryDecision(ctx context.Context, ic interfaces.InstrumentContext) (*decision.Proposal, error) {
	payload := provider.ChatPayload{
		Purpose:    "new-entry",
		System:     entrySystemPrompt,
		User:       buildEntryUserPrompt(ic),
		Images:     loadChartImages(ic.ChartImagePaths),
		ExpectJSON: true,
	}
	raw, err := s.call(ctx, payload)
	if err != nil {
		return nil, err
	}
	return s.parseSingle(raw, ic.Instrument)
}

// RequestManageExistingDecision 针对持仓标的请求管理决策。
func (s *Service) RequestManageExistingDecision(ctx context.Context, ic interfaces.InstrumentContext, pos market.Position) (*decision.Proposal, error) {
	brief := positionBrief{
		Quantity:     pos.Quantity,
		AveragePrice: pos.AveragePrice,
		LastPrice:    pos.LastPrice,
		PnL:          pos.PnL,
	}
	payload := provider.ChatPayload{
		Purpose:    "manage-position",
		System:     manageSystemPrompt,
		User:       buildManageUserPrompt(ic, brief),
		Images:     loadChartImages(ic.ChartImagePaths),
		ExpectJSON: true,
	}
	raw, err := s.call(ctx, payload)
	if err != nil {
		return nil, err
	}
	p, err := s.parseSingle(raw, ic.Instrument)
	if err != nil {
		return nil, err
	}
	// 管理持仓只允许 SELL/HOLD，模型答 BUY 视为 HOLD
	if p != nil && p.Action == decision.ActionBuy {
		logger.Warnf("[oracle] %s 管理决策返回 BUY，按 HOLD 处理", ic.Instrument.TradingSymbol)
		p.Action = decision.ActionHold
	}
	return p, nil
}

// RequestBestCandidate 从候选集中挑选本轮标的。空数组 = 观望。
func (s *Service) RequestBestCandidate(ctx context.Context, batch []interfaces.CandidateSummary) ([]*decision.Proposal, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	images := make([]string, 0, len(batch))
	for _, cs := range batch {
		if cs.ChartImagePath != "" {
			images = append(images, cs.ChartImagePath)
		}
	}
	payload := provider.ChatPayload{
		Purpose:    "pick-candidate",
		System:     pickSystemPrompt,
		User:       buildPickUserPrompt(batch),
		Images:     loadChartImages(images),
		ExpectJSON: false, // 输出是数组，json_object 模式不适用
	}
	raw, err := s.call(ctx, payload)
	if err != nil {
		return nil, err
	}
	proposals, err := decision.ParseProposalList(raw)
	if err != nil {
		return nil, fmt.Errorf("解析甄选结果失败: %w", err)
	}
	return proposals, nil
}

func (s *Service) call(ctx context.Context, payload provider.ChatPayload) (string, error) {
	if s == nil || s.provider == nil {
		return "", fmt.Errorf("oracle 未初始化")
	}
	model := s.provider.Model()
	imageNames := make([]string, 0, len(payload.Images))
	for _, img := range payload.Images {
		imageNames = append(imageNames, img.Description)
	}
	logger.LogOracleRequest("chat", model, payload.Purpose, payload.System, payload.User, imageNames, "")

	result, err := s.provider.Call(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("模型调用失败(%s): %w", payload.Purpose, err)
	}
	logger.LogOracleResponse("chat", model, payload.Purpose, result.Content)
	if s.cost != nil {
		s.cost.Record(model, result.Usage)
	}
	return result.Content, nil
}

func (s *Service) parseSingle(raw string, inst market.Instrument) (*decision.Proposal, error) {
	p, err := decision.ParseProposal(raw)
	if err != nil {
		return nil, fmt.Errorf("解析决策失败: %w", err)
	}
	// 模型偶尔漏填 instrument_key，用请求时的标的补齐
	if strings.TrimSpace(p.InstrumentKey) == "" {
		p.InstrumentKey = inst.InstrumentKey
	}
	if strings.TrimSpace(p.TradingSymbol) == "" {
		p.TradingSymbol = inst.TradingSymbol
	}
	return p, nil
}

// loadChartImages 把磁盘上的图表 PNG 编码为 data URI。读不到的静默跳过。
func loadChartImages(paths []string) []provider.ImagePayload {
	if len(paths) == 0 {
		return nil
	}
	out := make([]provider.ImagePayload, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Debugf("[oracle] 读取图表失败: %v", err)
			continue
		}
		out = append(out, provider.ImagePayload{
			DataURI:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
			Description: filepath.Base(path),
		})
	}
	return out
}
