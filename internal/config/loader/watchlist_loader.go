package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"upagent/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WatchlistEntry 描述固定自选列表中的一只股票。
type WatchlistEntry struct {
	Symbol        string `mapstructure:"symbol"`
	InstrumentKey string `mapstructure:"instrument_key"`
	DisplayName   string `mapstructure:"display_name"`
}

// FileConfig 是完整的自选列表文件结构。
type FileConfig struct {
	Watchlist []WatchlistEntry `mapstructure:"watchlist"`
}

// WatchlistSnapshot 对外暴露的只读快照。
type WatchlistSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Entries  []WatchlistEntry
}

// Symbols 返回快照中的交易代码列表。
func (s WatchlistSnapshot) Symbols() []string {
	out := make([]string, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Symbol != "" {
			out = append(out, e.Symbol)
		}
	}
	return out
}

// ChangeListener 在自选列表变更时被调用。
type ChangeListener func(WatchlistSnapshot)

// WatchlistLoader 从 YAML 文件加载自选列表，并监听热更新。
type WatchlistLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  WatchlistSnapshot
	listeners []ChangeListener
}

// NewWatchlistLoader 读取自选文件并开始监听 FS 事件。
func NewWatchlistLoader(path string) (*WatchlistLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("watchlist loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read watchlist failed: %w", err)
	}
	loader := &WatchlistLoader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("watchlist reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot 返回当前自选列表快照（深拷贝）。
func (l *WatchlistLoader) Snapshot() WatchlistSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *WatchlistLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("watchlist listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *WatchlistLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("watchlist listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *WatchlistLoader) reload() error {
	var fileCfg FileConfig
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("parse watchlist failed: %w", err)
	}
	entries := normalizeEntries(fileCfg.Watchlist)
	l.mu.Lock()
	l.snapshot = WatchlistSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Entries:  entries,
	}
	l.mu.Unlock()
	logger.Infof("自选列表已重载，共 %d 只股票 (%s)", len(entries), filepath.Base(l.path))
	return nil
}

func normalizeEntries(in []WatchlistEntry) []WatchlistEntry {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]WatchlistEntry, 0, len(in))
	for _, e := range in {
		e.Symbol = strings.ToUpper(strings.TrimSpace(e.Symbol))
		e.InstrumentKey = strings.TrimSpace(e.InstrumentKey)
		e.DisplayName = strings.TrimSpace(e.DisplayName)
		if e.Symbol == "" && e.InstrumentKey == "" {
			continue
		}
		key := e.Symbol + "|" + e.InstrumentKey
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if e.DisplayName == "" {
			e.DisplayName = e.Symbol
		}
		out = append(out, e)
	}
	return out
}

func cloneSnapshot(src WatchlistSnapshot) WatchlistSnapshot {
	dst := WatchlistSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Entries:  make([]WatchlistEntry, len(src.Entries)),
	}
	copy(dst.Entries, src.Entries)
	return dst
}
