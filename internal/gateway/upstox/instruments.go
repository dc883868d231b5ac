package upstox

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	brconfig "upagent/internal/config"
	"upagent/internal/logger"
	"upagent/internal/market"
)

// 中文说明：
// 标的全集：NSE 全量合约文件（gzip JSON），每个交易日刷新一次。
// 下载失败时回退磁盘缓存，两者都没有才报错。

const universeRefreshInterval = 20 * time.Hour

type instrumentPayload struct {
	InstrumentKey  string  `json:"instrument_key"`
	TradingSymbol  string  `json:"trading_symbol"`
	Name           string  `json:"name"`
	LastPrice      float64 `json:"last_price"`
	InstrumentType string  `json:"instrument_type"`
	Segment        string  `json:"segment"`
}

// InstrumentUniverse 缓存 NSE 股票全集并提供解析查询。
type InstrumentUniverse struct {
	sourceURL  string
	cachePath  string
	httpClient *http.Client

	mu          sync.RWMutex
	equities    []market.Instrument
	byKey       map[string]market.Instrument
	refreshedAt time.Time
}

func NewInstrumentUniverse(cfg brconfig.UpstoxConfig) *InstrumentUniverse {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &InstrumentUniverse{
		sourceURL:  strings.TrimSpace(cfg.InstrumentsURL),
		cachePath:  strings.TrimSpace(cfg.InstrumentsCachePath),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListEquities 返回全部 NSE 现货股票，必要时先刷新。
func (u *InstrumentUniverse) ListEquities(ctx context.Context) ([]market.Instrument, error) {
	if err := u.ensureFresh(ctx); err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]market.Instrument, len(u.equities))
	copy(out, u.equities)
	return out, nil
}

// Resolve 按 instrument_key 查找标的元数据。
func (u *InstrumentUniverse) Resolve(ctx context.Context, instrumentKey string) (market.Instrument, bool) {
	if err := u.ensureFresh(ctx); err != nil {
		logger.Debugf("[universe] 刷新失败，使用现有缓存: %v", err)
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	inst, ok := u.byKey[strings.TrimSpace(instrumentKey)]
	return inst, ok
}

func (u *InstrumentUniverse) ensureFresh(ctx context.Context) error {
	u.mu.RLock()
	fresh := len(u.equities) > 0 && time.Since(u.refreshedAt) < universeRefreshInterval
	u.mu.RUnlock()
	if fresh {
		return nil
	}
	return u.Refresh(ctx)
}

// Refresh 重建内存中的标的全集：优先下载，失败回退磁盘缓存。
func (u *InstrumentUniverse) Refresh(ctx context.Context) error {
	raw, err := u.download(ctx)
	if err != nil {
		logger.Warnf("[universe] 下载合约文件失败，尝试磁盘缓存: %v", err)
		raw, err = u.readCache()
		if err != nil {
			return fmt.Errorf("合约文件不可用: %w", err)
		}
	} else {
		u.writeCache(raw)
	}

	var payloads []instrumentPayload
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return fmt.Errorf("解析合约文件失败: %w", err)
	}

	equities := make([]market.Instrument, 0, len(payloads))
	byKey := make(map[string]market.Instrument, len(payloads))
	for _, p := range payloads {
		if !strings.EqualFold(p.InstrumentType, "EQ") || !strings.EqualFold(p.Segment, "NSE_EQ") {
			continue
		}
		inst := market.Instrument{
			InstrumentKey:  p.InstrumentKey,
			TradingSymbol:  p.TradingSymbol,
			DisplayName:    p.Name,
			LastKnownPrice: p.LastPrice,
		}
		if inst.DisplayName == "" {
			inst.DisplayName = p.TradingSymbol
		}
		equities = append(equities, inst)
		byKey[p.InstrumentKey] = inst
	}
	if len(equities) == 0 {
		return fmt.Errorf("合约文件中没有 NSE 现货股票")
	}

	u.mu.Lock()
	u.equities = equities
	u.byKey = byKey
	u.refreshedAt = time.Now()
	u.mu.Unlock()
	logger.Infof("[universe] 标的全集已刷新，股票数=%d", len(equities))
	return nil
}

func (u *InstrumentUniverse) download(ctx context.Context) ([]byte, error) {
	if u.sourceURL == "" {
		return nil, fmt.Errorf("instruments_url 未配置")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("下载返回 %s", resp.Status)
	}

	var reader io.Reader = resp.Body
	if strings.HasSuffix(u.sourceURL, ".gz") || resp.Header.Get("Content-Type") == "application/gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("解压合约文件失败: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

func (u *InstrumentUniverse) readCache() ([]byte, error) {
	if u.cachePath == "" {
		return nil, fmt.Errorf("未配置缓存路径")
	}
	return os.ReadFile(u.cachePath)
}

func (u *InstrumentUniverse) writeCache(raw []byte) {
	if u.cachePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(u.cachePath), 0o755); err != nil {
		logger.Debugf("[universe] 创建缓存目录失败: %v", err)
		return
	}
	if err := os.WriteFile(u.cachePath, raw, 0o644); err != nil {
		logger.Debugf("[universe] 写入缓存失败: %v", err)
	}
}
