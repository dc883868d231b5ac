package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"upagent/internal/logger"
	"upagent/internal/pkg/jsonutil"
)

// 中文说明：
// OpenAIChatClient：兼容 OpenAI / DeepSeek / Qwen 的聊天补全接口（/v1/chat/completions）。
// 支持视觉输入（data URI 图片）与 JSON 输出约束。

type OpenAIChatClient struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	// 简易重试（用于 429/5xx）：若为 0 则默认重试 2 次
	MaxRetries   int
	ExtraHeaders map[string]string
}

// endpoint 规范化 BaseURL，避免配置里把 /chat/completions 也写进来导致重复路径。
func (c *OpenAIChatClient) endpoint() string {
	url := c.BaseURL
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimRight(url, "/")
	if strings.HasSuffix(url, "/chat/completions") {
		url = strings.TrimSuffix(url, "/chat/completions")
	}
	return url + "/chat/completions"
}

// buildMessages 组装消息数组；带图片时 user 消息使用多段 content。
func (c *OpenAIChatClient) buildMessages(payload ChatPayload) []map[string]any {
	messages := make([]map[string]any, 0, 2)
	if payload.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": payload.System})
	}
	if len(payload.Images) == 0 {
		messages = append(messages, map[string]any{"role": "user", "content": payload.User})
		return messages
	}
	parts := []map[string]any{{"type": "text", "text": payload.User}}
	for _, img := range payload.Images {
		if img.DataURI == "" {
			continue
		}
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": img.DataURI},
		})
	}
	messages = append(messages, map[string]any{"role": "user", "content": parts})
	return messages
}

func (c *OpenAIChatClient) CallWithPayload(ctx context.Context, payload ChatPayload) (ChatResult, error) {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	maxRetries := c.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	url := c.endpoint()

	temperature := c.Temperature
	if temperature <= 0 {
		temperature = 0.5
	}
	body := map[string]any{
		"model":       c.Model,
		"messages":    c.buildMessages(payload),
		"temperature": temperature,
	}
	if payload.ExpectJSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	if payload.MaxTokens > 0 {
		body["max_tokens"] = payload.MaxTokens
	}
	b, _ := json.Marshal(body)

	httpc := &http.Client{Timeout: c.Timeout}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		// 打印请求（仅首个尝试，debug 级别；授权头做掩码）
		if attempt == 0 {
			hlog := map[string]string{"Content-Type": "application/json"}
			if c.APIKey != "" {
				tail := c.APIKey
				if len(tail) > 4 {
					tail = tail[len(tail)-4:]
				}
				hlog["Authorization"] = fmt.Sprintf("Bearer ****%s", tail)
			}
			for k, v := range c.ExtraHeaders {
				lk := strings.ToLower(k)
				mv := v
				if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
					if len(v) > 4 {
						mv = "****" + v[len(v)-4:]
					} else {
						mv = "****"
					}
				}
				hlog[k] = mv
			}
			logger.Debugf("[oracle] 请求: POST %s, purpose=%s, headers=%v, bytes=%d", url, payload.Purpose, hlog, len(b))
			// oracle_dump_payload 打开时完整请求体进 oracle 日志
			logger.LogOraclePayload(c.Model, jsonutil.Pretty(string(b)))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return ChatResult{}, fmt.Errorf("构造请求失败: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
		}
		for k, v := range c.ExtraHeaders {
			req.Header.Set(k, v)
		}

		resp, err := httpc.Do(req)
		if err != nil {
			lastErr = err
			break
		}
		if resp.StatusCode/100 == 2 {
			var r struct {
				Choices []struct {
					Message struct {
						Content string `json:"content"`
					} `json:"message"`
				} `json:"choices"`
				Usage struct {
					PromptTokens     int `json:"prompt_tokens"`
					CompletionTokens int `json:"completion_tokens"`
				} `json:"usage"`
			}
			derr := json.NewDecoder(resp.Body).Decode(&r)
			resp.Body.Close()
			if derr != nil {
				lastErr = derr
				break
			}
			if len(r.Choices) == 0 {
				lastErr = fmt.Errorf("empty choices")
				break
			}
			return ChatResult{
				Content: r.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     r.Usage.PromptTokens,
					CompletionTokens: r.Usage.CompletionTokens,
				},
			}, nil
		}
		// 非 2xx：尝试解析错误消息
		var eresp struct {
			Error struct {
				Message string      `json:"message"`
				Type    string      `json:"type"`
				Param   string      `json:"param"`
				Code    interface{} `json:"code"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		resp.Body.Close()
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		// 对 429/5xx 进行有限重试（带 Retry-After 支持）
		if (resp.StatusCode == 429 || resp.StatusCode >= 500) && attempt < maxRetries {
			wait := time.Duration(0)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil {
					wait = time.Duration(secs) * time.Second
				}
			}
			if wait == 0 {
				// 基本指数退避：0.8s, 1.6s, 3.2s ...
				base := 800 * time.Millisecond
				wait = base << attempt
				if wait > 8*time.Second {
					wait = 8 * time.Second
				}
			}
			select {
			case <-ctx.Done():
				return ChatResult{}, ctx.Err()
			case <-time.After(wait):
			}
			lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
			continue
		}
		lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
		break
	}
	return ChatResult{}, lastErr
}

// OpenAIModelProvider：实现 ModelProvider。
type OpenAIModelProvider struct {
	id             string
	model          string
	supportsVision bool
	client         *OpenAIChatClient
}

func NewOpenAIModelProvider(id string, supportsVision bool, client *OpenAIChatClient) *OpenAIModelProvider {
	model := ""
	if client != nil {
		model = client.Model
	}
	return &OpenAIModelProvider{id: id, model: model, supportsVision: supportsVision, client: client}
}

func (p *OpenAIModelProvider) ID() string           { return p.id }
func (p *OpenAIModelProvider) Model() string        { return p.model }
func (p *OpenAIModelProvider) SupportsVision() bool { return p.supportsVision }

func (p *OpenAIModelProvider) Call(ctx context.Context, payload ChatPayload) (ChatResult, error) {
	if p == nil || p.client == nil {
		return ChatResult{}, fmt.Errorf("model provider 未初始化")
	}
	if !p.supportsVision {
		payload.Images = nil
	}
	return p.client.CallWithPayload(ctx, payload)
}
