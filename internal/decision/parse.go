package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"upagent/internal/pkg/jsonutil"
)

// ParseProposal 从模型原始输出中提取并解析单条提案。
// 输出可能带代码围栏或夹杂说明文字，先做 JSON 提取再反序列化。
func ParseProposal(raw string) (*Proposal, error) {
	text, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("输出中未找到 JSON")
	}
	if err := ValidateProposalJSON(text); err != nil {
		return nil, err
	}
	var aux struct {
		Action        string  `json:"action"`
		InstrumentKey string  `json:"instrument_key"`
		TradingSymbol string  `json:"trading_symbol"`
		Confidence    float64 `json:"confidence_score"`
		Quantity      int     `json:"quantity"`
		CurrentPrice  float64 `json:"current_price"`
		StopLoss      float64 `json:"stop_loss"`
		TakeProfit    float64 `json:"take_profit"`
		Reasoning     string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text), &aux); err != nil {
		return nil, fmt.Errorf("解析提案 JSON 失败: %w", err)
	}
	action, err := NormalizeAction(aux.Action)
	if err != nil {
		return nil, err
	}
	p := &Proposal{
		Action:        action,
		InstrumentKey: strings.TrimSpace(aux.InstrumentKey),
		TradingSymbol: strings.TrimSpace(aux.TradingSymbol),
		Confidence:    aux.Confidence,
		Quantity:      aux.Quantity,
		CurrentPrice:  aux.CurrentPrice,
		StopLoss:      aux.StopLoss,
		TakeProfit:    aux.TakeProfit,
		Reasoning:     strings.TrimSpace(aux.Reasoning),
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseProposalList 解析批量甄选的提案数组，容忍空数组（无合适标的）。
func ParseProposalList(raw string) ([]*Proposal, error) {
	text, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("输出中未找到 JSON")
	}
	if !strings.HasPrefix(strings.TrimSpace(text), "[") {
		p, err := ParseProposal(text)
		if err != nil {
			return nil, err
		}
		return []*Proposal{p}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("解析提案数组失败: %w", err)
	}
	out := make([]*Proposal, 0, len(items))
	for i, item := range items {
		p, err := ParseProposal(string(item))
		if err != nil {
			return nil, fmt.Errorf("提案#%d: %w", i+1, err)
		}
		out = append(out, p)
	}
	return out, nil
}
