package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const proposalSchemaJSON = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": {"type": "string"},
    "instrument_key": {"type": "string"},
    "trading_symbol": {"type": "string"},
    "confidence_score": {"type": "number", "minimum": 0, "maximum": 1},
    "quantity": {"type": "integer", "minimum": 0},
    "current_price": {"type": "number"},
    "stop_loss": {"type": "number"},
    "take_profit": {"type": "number"},
    "reasoning": {"type": "string"}
  }
}`

var proposalSchema = jsonschema.MustCompileString("proposal.json", proposalSchemaJSON)

// ValidateProposalJSON 在反序列化之前校验提案 JSON 的结构。
// gjson 先做快速有效性检查，jsonschema 再做字段级约束。
func ValidateProposalJSON(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("json 内容为空")
	}
	if !gjson.Valid(raw) {
		return fmt.Errorf("json 格式无效")
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return fmt.Errorf("根节点必须是 JSON 对象")
	}
	if strings.TrimSpace(parsed.Get("action").String()) == "" {
		return fmt.Errorf("缺少 action 字段")
	}
	var doc interface{}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("json 解析失败: %v", err)
	}
	if err := proposalSchema.Validate(doc); err != nil {
		return fmt.Errorf("提案不符合 schema: %v", err)
	}
	return nil
}
