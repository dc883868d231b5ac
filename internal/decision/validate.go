package decision

import (
	"fmt"
	"strings"
)

// 中文说明：
// 基础提案校验：
// - action 合法
// - BUY/SELL 必须带 instrument_key
// - confidence 在 [0,1]
// 校验失败的提案不进入风控，按"跳过本只股票"处理。

var validActions = map[Action]bool{
	ActionBuy: true, ActionSell: true, ActionHold: true,
}

func Validate(p *Proposal) error {
	if p == nil {
		return fmt.Errorf("提案为空")
	}
	if !validActions[p.Action] {
		return fmt.Errorf("非法 action: %s", p.Action)
	}
	if p.Action.IsActionable() && strings.TrimSpace(p.InstrumentKey) == "" {
		return fmt.Errorf("%s 提案缺少 instrument_key", p.Action)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence 范围 0-1: %.4f", p.Confidence)
	}
	if p.Quantity < 0 {
		return fmt.Errorf("quantity 不能为负: %d", p.Quantity)
	}
	if p.StopLoss < 0 || p.TakeProfit < 0 {
		return fmt.Errorf("止损/止盈不能为负")
	}
	return nil
}

// NormalizeAction 把模型输出的动作字符串规整为标准枚举。
func NormalizeAction(raw string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "LONG", "ENTER":
		return ActionBuy, nil
	case "SELL", "EXIT", "CLOSE":
		return ActionSell, nil
	case "HOLD", "WAIT", "NONE":
		return ActionHold, nil
	default:
		return "", fmt.Errorf("无法识别的 action: %q", raw)
	}
}
