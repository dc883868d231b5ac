package provider

import (
	"fmt"
	"strings"
	"time"

	brconfig "upagent/internal/config"
)

// NewFromConfig 按 oracle 配置构造模型提供方。
func NewFromConfig(cfg brconfig.OracleConfig) (ModelProvider, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("oracle.model 不能为空")
	}
	base := strings.TrimSpace(cfg.Provider)
	if base == "" {
		base = "openai"
	}
	client := &OpenAIChatClient{
		BaseURL:     cfg.APIURL,
		APIKey:      cfg.APIKey,
		Model:       model,
		Temperature: cfg.Temperature,
		MaxRetries:  cfg.MaxRetries,
	}
	if cfg.TimeoutSeconds > 0 {
		client.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	id := fmt.Sprintf("%s:%s", base, model)
	return NewOpenAIModelProvider(id, cfg.SupportsVision, client), nil
}
