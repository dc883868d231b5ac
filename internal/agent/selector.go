package agent

import (
	"context"
	"math/rand"
	"sort"
	"strings"

	"upagent/internal/agent/interfaces"
	"upagent/internal/analysis/indicator"
	"upagent/internal/config/loader"
	"upagent/internal/logger"
	"upagent/internal/market"
)

// 中文说明：
// 标的甄选：有持仓先管持仓；无持仓时走自选列表或自动选股。
// 自动选股 = 可负担过滤 → 价格降序 → 抽样 → 批量送甄选模型挑一只。

// SelectorConfig 是甄选所需的全部参数。
type SelectorConfig struct {
	ProductCode          string
	AutoPick             bool
	RandomSelect         bool
	SelectCountToCompare int
	InstrumentsToTrade   int
}

// SelectorParams 聚合甄选器的协作者。
type SelectorParams struct {
	Config    SelectorConfig
	Brokerage interfaces.Brokerage
	Universe  interfaces.Universe
	Oracle    interfaces.Oracle
	Analyst   interfaces.Analyst
	Watchlist func() loader.WatchlistSnapshot
}

// InstrumentSelector 决定一轮周期要处理的标的集合。
type InstrumentSelector struct {
	cfg       SelectorConfig
	brokerage interfaces.Brokerage
	universe  interfaces.Universe
	oracle    interfaces.Oracle
	analyst   interfaces.Analyst
	watchlist func() loader.WatchlistSnapshot
	randFn    func(n int) int
}

func NewInstrumentSelector(p SelectorParams) *InstrumentSelector {
	return &InstrumentSelector{
		cfg:       p.Config,
		brokerage: p.Brokerage,
		universe:  p.Universe,
		oracle:    p.Oracle,
		analyst:   p.Analyst,
		watchlist: p.Watchlist,
		randFn:    rand.Intn,
	}
}

// SelectForCycle 返回本轮处理的标的。空集合是一次空转周期，不是错误。
func (s *InstrumentSelector) SelectForCycle(ctx context.Context, availableMargin float64) ([]market.Instrument, error) {
	if s == nil {
		return nil, nil
	}

	positions, err := s.brokerage.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	if held := s.heldInstruments(ctx, positions); len(held) > 0 {
		logger.Infof("[selector] 检测到 %d 个持仓，本轮优先管理持仓", len(held))
		return held, nil
	}

	if !s.cfg.AutoPick {
		return s.fromWatchlist(ctx), nil
	}
	return s.autoPick(ctx, availableMargin)
}

// heldInstruments 把日内持仓解析成标的元数据，解析失败的留占位信息。
func (s *InstrumentSelector) heldInstruments(ctx context.Context, positions []market.Position) []market.Instrument {
	out := make([]market.Instrument, 0, len(positions))
	for _, pos := range positions {
		if !pos.IsOpen(s.cfg.ProductCode) {
			continue
		}
		if inst, ok := s.universe.Resolve(ctx, pos.InstrumentKey); ok {
			out = append(out, inst)
			continue
		}
		out = append(out, market.Instrument{
			InstrumentKey:  pos.InstrumentKey,
			TradingSymbol:  pos.TradingSymbol,
			DisplayName:    pos.TradingSymbol,
			LastKnownPrice: pos.LastPrice,
		})
	}
	return out
}

func (s *InstrumentSelector) fromWatchlist(ctx context.Context) []market.Instrument {
	if s.watchlist == nil {
		return nil
	}
	snap := s.watchlist()
	out := make([]market.Instrument, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if len(out) >= s.cfg.InstrumentsToTrade {
			break
		}
		if e.InstrumentKey != "" {
			if inst, ok := s.universe.Resolve(ctx, e.InstrumentKey); ok {
				out = append(out, inst)
				continue
			}
		}
		out = append(out, market.Instrument{
			InstrumentKey: e.InstrumentKey,
			TradingSymbol: e.Symbol,
			DisplayName:   e.DisplayName,
		})
	}
	logger.Infof("[selector] 自选列表取 %d 只", len(out))
	return out
}

// autoPick 自动选股路径，甄选模型可能一只都不挑（空仓观望）。
func (s *InstrumentSelector) autoPick(ctx context.Context, availableMargin float64) ([]market.Instrument, error) {
	universe, err := s.universe.ListEquities(ctx)
	if err != nil {
		return nil, err
	}

	affordable := make([]market.Instrument, 0, len(universe))
	for _, inst := range universe {
		if inst.LastKnownPrice <= 0 || inst.LastKnownPrice > availableMargin {
			continue
		}
		affordable = append(affordable, inst)
	}
	if len(affordable) == 0 {
		logger.Warnf("[selector] 可用保证金 %.2f 下无可负担标的，本轮空转", availableMargin)
		return nil, nil
	}

	sort.Slice(affordable, func(i, j int) bool {
		return affordable[i].LastKnownPrice > affordable[j].LastKnownPrice
	})

	candidates := s.sample(affordable)
	logger.Infof("[selector] 候选 %d 只进入甄选 (random=%v)", len(candidates), s.cfg.RandomSelect)

	batch := make([]interfaces.CandidateSummary, 0, len(candidates))
	for _, inst := range candidates {
		cs := interfaces.CandidateSummary{Instrument: inst}
		if quote, err := s.brokerage.GetQuote(ctx, inst.InstrumentKey); err == nil {
			cs.Quote = quote
		}
		candles, err := s.brokerage.GetIntradayCandles(ctx, inst.InstrumentKey, "1minute")
		if err != nil {
			logger.Warnf("[selector] %s 拉取K线失败，跳过: %v", inst.TradingSymbol, err)
			continue
		}
		if s.analyst != nil {
			if rep, err := s.analyst.GetTechnicalSummary(inst.TradingSymbol, "1minute", candles); err == nil {
				cs.TechnicalBrief = indicator.RenderSummary(rep)
			}
			if path, err := s.analyst.GetChartImage(ctx, inst.TradingSymbol, candles); err == nil {
				cs.ChartImagePath = path
			}
		}
		batch = append(batch, cs)
	}
	if len(batch) == 0 {
		return nil, nil
	}

	proposals, err := s.oracle.RequestBestCandidate(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(proposals) == 0 {
		logger.Infof("[selector] 甄选模型未挑出标的，本轮空转")
		return nil, nil
	}

	picked := make([]market.Instrument, 0, s.cfg.InstrumentsToTrade)
	for _, p := range proposals {
		if len(picked) >= s.cfg.InstrumentsToTrade {
			break
		}
		key := strings.TrimSpace(p.InstrumentKey)
		if key == "" {
			continue
		}
		if inst, ok := s.universe.Resolve(ctx, key); ok {
			picked = append(picked, inst)
			continue
		}
		for _, cs := range batch {
			if cs.Instrument.InstrumentKey == key {
				picked = append(picked, cs.Instrument)
				break
			}
		}
	}
	return picked, nil
}

// sample 从降序列表中取比较集：随机抽样或直接取前 N。
func (s *InstrumentSelector) sample(sorted []market.Instrument) []market.Instrument {
	n := s.cfg.SelectCountToCompare
	if n <= 0 || n >= len(sorted) {
		return sorted
	}
	if !s.cfg.RandomSelect {
		return sorted[:n]
	}
	randFn := s.randFn
	if randFn == nil {
		randFn = rand.Intn
	}
	pool := make([]market.Instrument, len(sorted))
	copy(pool, sorted)
	out := make([]market.Instrument, 0, n)
	for len(out) < n && len(pool) > 0 {
		i := randFn(len(pool))
		out = append(out, pool[i])
		pool = append(pool[:i], pool[i+1:]...)
	}
	return out
}
