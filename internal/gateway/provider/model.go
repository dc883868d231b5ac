package provider

import "context"

type ImagePayload struct {
	DataURI     string
	Description string
}

type ChatPayload struct {
	Purpose    string
	System     string
	User       string
	Images     []ImagePayload
	ExpectJSON bool
	MaxTokens  int
}

// Usage 是一次调用的 token 消耗，供成本记账使用。
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

type ChatResult struct {
	Content string
	Usage   Usage
}

type ModelProvider interface {
	ID() string
	Model() string
	SupportsVision() bool

	Call(ctx context.Context, payload ChatPayload) (ChatResult, error)
}
