package upstox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"upagent/internal/logger"
	"upagent/internal/market"
)

// 中文说明：
// 组合流：订单回报的 websocket 推送。先向 REST 申请一次性授权地址，
// 再拨号订阅；断线按指数退避重连，ctx 取消即退出。

// PortfolioStream consumes Upstox portfolio-stream order updates.
type PortfolioStream struct {
	client   *Client
	onUpdate func(market.OrderUpdate)

	OnConnected    func()
	OnDisconnected func(error)

	mu        sync.Mutex
	conn      *websocket.Conn
	startOnce sync.Once
}

func NewPortfolioStream(client *Client, onUpdate func(market.OrderUpdate)) *PortfolioStream {
	return &PortfolioStream{client: client, onUpdate: onUpdate}
}

// authorize 获取一次性 websocket 接入地址。
func (s *PortfolioStream) authorize(ctx context.Context) (string, error) {
	var data struct {
		AuthorizedRedirectURI string `json:"authorized_redirect_uri"`
	}
	if err := s.client.doRequest(ctx, http.MethodGet, "/feed/portfolio-stream-feed/authorize?update_types=order", nil, &data); err != nil {
		return "", err
	}
	if data.AuthorizedRedirectURI == "" {
		return "", fmt.Errorf("upstox 未返回组合流地址")
	}
	return data.AuthorizedRedirectURI, nil
}

// Start 启动消费协程：连接、读取、断线重连，直到 ctx 取消。
func (s *PortfolioStream) Start(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("portfolio stream 缺少 upstox client")
	}
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
	return nil
}

func (s *PortfolioStream) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.connectAndConsume(ctx)
		if ctx.Err() != nil {
			return
		}
		if s.OnDisconnected != nil {
			s.OnDisconnected(err)
		}
		logger.Warnf("[stream] 组合流断开，%s 后重连: %v", backoff, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *PortfolioStream) connectAndConsume(ctx context.Context) error {
	wsURL, err := s.authorize(ctx)
	if err != nil {
		return fmt.Errorf("组合流授权失败: %w", err)
	}

	header := http.Header{}
	if token := s.client.AccessToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("组合流拨号失败: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	if s.OnConnected != nil {
		s.OnConnected()
	}
	logger.Infof("[stream] 组合流已连接")

	// ctx 取消时主动关闭连接，解除 ReadMessage 阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(payload)
	}
}

type orderUpdatePayload struct {
	UpdateType      string  `json:"update_type"`
	OrderID         string  `json:"order_id"`
	InstrumentToken string  `json:"instrument_token"`
	Status          string  `json:"status"`
	TransactionType string  `json:"transaction_type"`
	FilledQuantity  int     `json:"filled_quantity"`
	AveragePrice    float64 `json:"average_price"`
}

func (s *PortfolioStream) dispatch(payload []byte) {
	var update orderUpdatePayload
	if err := json.Unmarshal(payload, &update); err != nil {
		logger.Debugf("[stream] 跳过无法解析的消息: %v", err)
		return
	}
	if update.OrderID == "" {
		return
	}
	if s.onUpdate != nil {
		s.onUpdate(market.OrderUpdate{
			OrderID:       update.OrderID,
			InstrumentKey: update.InstrumentToken,
			Status:        update.Status,
			Side:          update.TransactionType,
			FilledQty:     update.FilledQuantity,
			AveragePrice:  update.AveragePrice,
			UpdatedAt:     time.Now(),
		})
	}
}

// Close 主动断开当前连接（重连循环由 ctx 终止）。
func (s *PortfolioStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
