package notifier

import (
	"context"
	"time"

	brconfig "upagent/internal/config"
	"upagent/internal/logger"
)

// TextNotifier defines a minimal text notification interface.
// It is intentionally small so different components can depend on it without
// importing concrete implementations (e.g. Telegram).
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Service 是编排器使用的通知出口：未启用时静默丢弃。
type Service struct {
	sender  TextNotifier
	enabled bool
}

func NewService(cfg brconfig.NotifyConfig) *Service {
	if !cfg.Telegram.Enabled {
		return &Service{}
	}
	return &Service{sender: NewTelegram(cfg.Telegram), enabled: true}
}

func (s *Service) Notify(ctx context.Context, text string) error {
	if s == nil || !s.enabled || s.sender == nil {
		return nil
	}
	msg := StructuredMessage{
		Icon:      "📈",
		Title:     "upagent",
		Sections:  []MessageSection{{Lines: []string{text}}},
		Timestamp: time.Now(),
	}
	if err := s.sender.SendText(ctx, msg.RenderMarkdown()); err != nil {
		logger.Warnf("[notify] 推送失败: %v", err)
		return err
	}
	return nil
}
