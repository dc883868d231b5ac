package upstox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	brconfig "upagent/internal/config"
	"upagent/internal/logger"
	"upagent/internal/market"
	"upagent/internal/pkg/circuit"
)

// 中文说明：
// Upstox REST 客户端。日内产品固定走现金股票段（NSE_EQ），
// access token 从磁盘读取（token 由独立的授权流程刷新）。

// Client wraps the Upstox REST API surface the agent needs.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	accessToken string
	tokenPath   string
	breaker     *circuit.CircuitBreaker
}

// NewClient constructs an Upstox client from configuration.
func NewClient(cfg brconfig.UpstoxConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("upstox.base_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 upstox.base_url 失败: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		tokenPath:  strings.TrimSpace(cfg.AccessTokenPath),
		breaker:    circuit.NewCircuitBreaker("upstox", 5, time.Minute),
	}
	if c.tokenPath != "" {
		if err := c.ReloadToken(); err != nil {
			logger.Warnf("[upstox] 读取 access token 失败（稍后可重试）: %v", err)
		}
	}
	return c, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetAccessToken overrides the token (testing and manual refresh).
func (c *Client) SetAccessToken(token string) {
	c.accessToken = strings.TrimSpace(token)
}

// AccessToken 返回当前 token，组合流授权时需要。
func (c *Client) AccessToken() string {
	return c.accessToken
}

// ReloadToken 从磁盘重新读取 access token。
func (c *Client) ReloadToken() error {
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		return fmt.Errorf("读取 token 文件失败: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token 文件为空: %s", c.tokenPath)
	}
	c.accessToken = token
	return nil
}

// apiEnvelope 是 Upstox v2 的统一响应外壳。
type apiEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"errors"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any, out any) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("upstox client 未初始化")
	}
	if c.breaker != nil && !c.breaker.Allow() {
		return fmt.Errorf("upstox 熔断器打开，拒绝请求 %s", path)
	}
	err := c.do(ctx, method, path, payload, out)
	if c.breaker != nil {
		if err != nil {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用 upstox 失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("读取 upstox 响应失败: %w", err)
	}

	var env apiEnvelope
	if jsonErr := json.Unmarshal(data, &env); jsonErr == nil && len(env.Errors) > 0 {
		return fmt.Errorf("upstox 返回错误(%s): %s [%s]", resp.Status, env.Errors[0].Message, env.Errors[0].ErrorCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upstox 返回错误(%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return json.Unmarshal(data, out)
}

func (c *Client) resolveEndpoint(path string) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("upstox API 地址未设置")
	}
	trimmed := strings.TrimSpace(path)
	query := ""
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		query = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.RawQuery = query
	base.Fragment = ""
	return &base, nil
}

// GetFunds 查询现金股票段的保证金快照。
func (c *Client) GetFunds(ctx context.Context) (market.Funds, error) {
	var data struct {
		Equity struct {
			AvailableMargin float64 `json:"available_margin"`
			UsedMargin      float64 `json:"used_margin"`
			PayinAmount     float64 `json:"payin_amount"`
		} `json:"equity"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/user/get-funds-and-margin?segment=SEC", nil, &data); err != nil {
		return market.Funds{}, err
	}
	return market.Funds{
		AvailableMargin: data.Equity.AvailableMargin,
		UsedMargin:      data.Equity.UsedMargin,
		PayinAmount:     data.Equity.PayinAmount,
	}, nil
}

type positionPayload struct {
	InstrumentToken string  `json:"instrument_token"`
	TradingSymbol   string  `json:"trading_symbol"`
	Quantity        int     `json:"quantity"`
	Product         string  `json:"product"`
	AveragePrice    float64 `json:"average_price"`
	LastPrice       float64 `json:"last_price"`
	PnL             float64 `json:"pnl"`
}

// GetPositions 返回当日全部持仓（含已平仓记录，数量为 0）。
func (c *Client) GetPositions(ctx context.Context) ([]market.Position, error) {
	var data []positionPayload
	if err := c.doRequest(ctx, http.MethodGet, "/portfolio/short-term-positions", nil, &data); err != nil {
		return nil, err
	}
	out := make([]market.Position, 0, len(data))
	for _, p := range data {
		out = append(out, market.Position{
			InstrumentKey: p.InstrumentToken,
			TradingSymbol: p.TradingSymbol,
			Quantity:      p.Quantity,
			Product:       p.Product,
			AveragePrice:  p.AveragePrice,
			LastPrice:     p.LastPrice,
			PnL:           p.PnL,
		})
	}
	return out, nil
}

// GetQuote 拉取单只股票的完整行情。
func (c *Client) GetQuote(ctx context.Context, instrumentKey string) (market.Quote, error) {
	key := strings.TrimSpace(instrumentKey)
	if key == "" {
		return market.Quote{}, fmt.Errorf("instrument_key 必填")
	}
	var data map[string]struct {
		LastPrice float64 `json:"last_price"`
		Volume    float64 `json:"volume"`
		OHLC      struct {
			Open  float64 `json:"open"`
			High  float64 `json:"high"`
			Low   float64 `json:"low"`
			Close float64 `json:"close"`
		} `json:"ohlc"`
		UpperCircuitLimit float64 `json:"upper_circuit_limit"`
		LowerCircuitLimit float64 `json:"lower_circuit_limit"`
	}
	path := "/market-quote/quotes?instrument_key=" + url.QueryEscape(key)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &data); err != nil {
		return market.Quote{}, err
	}
	// 响应以 "NSE_EQ:SYMBOL" 为键，请求单只时直接取第一条。
	for _, q := range data {
		return market.Quote{
			InstrumentKey: key,
			LastPrice:     q.LastPrice,
			Open:          q.OHLC.Open,
			High:          q.OHLC.High,
			Low:           q.OHLC.Low,
			Close:         q.OHLC.Close,
			Volume:        q.Volume,
			UpperLimit:    q.UpperCircuitLimit,
			LowerLimit:    q.LowerCircuitLimit,
		}, nil
	}
	return market.Quote{}, fmt.Errorf("upstox 未返回 %s 的行情", key)
}

// GetIntradayCandles 拉取当日分钟级K线，按时间升序返回。
func (c *Client) GetIntradayCandles(ctx context.Context, instrumentKey, interval string) ([]market.Candle, error) {
	key := strings.TrimSpace(instrumentKey)
	if key == "" {
		return nil, fmt.Errorf("instrument_key 必填")
	}
	if interval == "" {
		interval = "1minute"
	}
	var data struct {
		Candles [][]any `json:"candles"`
	}
	path := fmt.Sprintf("/historical-candle/intraday/%s/%s", url.PathEscape(key), url.PathEscape(interval))
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	candles := make([]market.Candle, 0, len(data.Candles))
	for _, row := range data.Candles {
		candle, err := parseCandleRow(row)
		if err != nil {
			logger.Debugf("[upstox] 跳过无效K线行: %v", err)
			continue
		}
		candles = append(candles, candle)
	}
	// Upstox 返回倒序（最新在前），翻转成升序
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// parseCandleRow 解析 [timestamp, open, high, low, close, volume, oi] 数组行。
func parseCandleRow(row []any) (market.Candle, error) {
	if len(row) < 6 {
		return market.Candle{}, fmt.Errorf("K线行字段不足: %d", len(row))
	}
	ts, ok := row[0].(string)
	if !ok {
		return market.Candle{}, fmt.Errorf("K线时间戳类型错误")
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return market.Candle{}, fmt.Errorf("解析K线时间戳失败: %w", err)
	}
	nums := make([]float64, 0, 5)
	for _, v := range row[1:6] {
		f, ok := v.(float64)
		if !ok {
			return market.Candle{}, fmt.Errorf("K线数值类型错误: %T", v)
		}
		nums = append(nums, f)
	}
	return market.Candle{
		OpenTime: parsed.UnixMilli(),
		Open:     nums[0],
		High:     nums[1],
		Low:      nums[2],
		Close:    nums[3],
		Volume:   nums[4],
	}, nil
}

// orderPayload mirrors Upstox /order/place schema.
type orderPayload struct {
	Quantity          int     `json:"quantity"`
	Product           string  `json:"product"`
	Validity          string  `json:"validity"`
	Price             float64 `json:"price"`
	Tag               string  `json:"tag,omitempty"`
	InstrumentToken   string  `json:"instrument_token"`
	OrderType         string  `json:"order_type"`
	TransactionType   string  `json:"transaction_type"`
	DisclosedQuantity int     `json:"disclosed_quantity"`
	TriggerPrice      float64 `json:"trigger_price"`
	IsAMO             bool    `json:"is_amo"`
}

// PlaceOrder 提交订单并返回经纪商订单号。
func (c *Client) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error) {
	if req.InstrumentKey == "" || req.Quantity <= 0 {
		return market.OrderResult{}, fmt.Errorf("订单缺少 instrument_key 或数量非法")
	}
	side := strings.ToUpper(strings.TrimSpace(req.Side))
	if side != "BUY" && side != "SELL" {
		return market.OrderResult{}, fmt.Errorf("非法买卖方向: %s", req.Side)
	}
	// Upstox 的下单请求只有 trigger_price 一个触发字段，
	// 提案里的止损价就填在这里，否则券商端没有止损。
	trigger := req.TriggerPrice
	if trigger <= 0 {
		trigger = req.StopLoss
	}
	payload := orderPayload{
		Quantity:        req.Quantity,
		Product:         req.Product,
		Validity:        req.Validity,
		Price:           req.LimitPrice,
		Tag:             req.Tag,
		InstrumentToken: req.InstrumentKey,
		OrderType:       req.OrderType,
		TransactionType: side,
		TriggerPrice:    trigger,
	}
	if payload.Validity == "" {
		payload.Validity = "DAY"
	}
	if payload.OrderType == "" {
		payload.OrderType = "MARKET"
	}
	var data struct {
		OrderID string `json:"order_id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/order/place", payload, &data); err != nil {
		return market.OrderResult{}, err
	}
	if data.OrderID == "" {
		return market.OrderResult{}, fmt.Errorf("upstox 未返回 order_id")
	}
	logger.Infof("[upstox] 订单已提交 %s %s x%d order_id=%s", side, req.InstrumentKey, req.Quantity, data.OrderID)
	return market.OrderResult{OrderID: data.OrderID, Status: "submitted"}, nil
}

// ExitAllPositions 收盘清仓：对全部日内持仓发起市价平仓。
func (c *Client) ExitAllPositions(ctx context.Context) error {
	var data struct {
		OrderIDs []string `json:"order_ids"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/order/positions/exit", struct{}{}, &data); err != nil {
		return err
	}
	logger.Infof("[upstox] 清仓请求已受理，订单数=%d", len(data.OrderIDs))
	return nil
}
