package oracle

import (
	"fmt"
	"strings"
	"time"

	"upagent/internal/agent/interfaces"
	"upagent/internal/analysis/indicator"
	"upagent/internal/decision"
)

// 中文说明：
// 提示词构造。System 定角色与输出契约，User 按区块拼装上下文。
// 输出契约与 decision 包的 JSON schema 保持一致。

const entrySystemPrompt = `You are a disciplined intraday equity trader on the NSE (India).
You evaluate one stock at a time and decide whether to open a new intraday position.
All positions must be closed before market close; never plan to hold overnight.

Respond with a single JSON object only, no prose outside it:
{
  "action": "BUY" | "SELL" | "HOLD",
  "instrument_key": "<as given>",
  "confidence_score": <0.0-1.0>,
  "quantity": <integer share count, 0 to defer to system sizing>,
  "current_price": <price you based the decision on>,
  "stop_loss": <absolute price, 0 if none>,
  "take_profit": <absolute price, 0 if none>,
  "reasoning": "<2-3 sentences>"
}
Prefer HOLD when the setup is unclear. Confidence must reflect genuine conviction.`

const manageSystemPrompt = `You are a disciplined intraday equity trader managing an OPEN position on the NSE (India).
Decide whether to exit now (SELL to close a long) or keep holding (HOLD).
The position will be force-closed at market close regardless.

Respond with a single JSON object in the same schema as before:
action SELL means close the position, HOLD means keep it. Never answer BUY here.`

const pickSystemPrompt = `You are a stock screener for an intraday trading desk on the NSE (India).
From the candidates below, pick the single best instrument to trade right now,
judged by momentum, liquidity and intraday setup quality.

Respond with a JSON array holding exactly one object:
[{"action": "BUY", "instrument_key": "<key of your pick>", "confidence_score": <0.0-1.0>, "reasoning": "<1-2 sentences>"}]
Return an empty array [] if nothing is worth trading.`

func buildEntryUserPrompt(ic interfaces.InstrumentContext) string {
	var sb strings.Builder
	writeInstrumentBlock(&sb, ic)
	writeAccountBlock(&sb, ic)
	writeIndicatorBlock(&sb, ic)
	writeNewsBlock(&sb, ic)
	writePriorDecisionsBlock(&sb, ic.PriorDecisions)
	sb.WriteString("\nTask: decide whether to open a new intraday position in this stock.\n")
	return sb.String()
}

func buildManageUserPrompt(ic interfaces.InstrumentContext, entry positionBrief) string {
	var sb strings.Builder
	writeInstrumentBlock(&sb, ic)
	sb.WriteString("## Open position\n")
	sb.WriteString(fmt.Sprintf("- quantity: %d\n- avg entry: %.2f\n- last price: %.2f\n- unrealized P&L: %.2f\n\n",
		entry.Quantity, entry.AveragePrice, entry.LastPrice, entry.PnL))
	writeAccountBlock(&sb, ic)
	writeIndicatorBlock(&sb, ic)
	writeNewsBlock(&sb, ic)
	writePriorDecisionsBlock(&sb, ic.PriorDecisions)
	sb.WriteString("\nTask: decide whether to close this position now or keep holding it.\n")
	return sb.String()
}

func buildPickUserPrompt(batch []interfaces.CandidateSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Candidates (%d)\n\n", len(batch)))
	for i, cs := range batch {
		sb.WriteString(fmt.Sprintf("### %d. %s (%s)\n", i+1, cs.Instrument.TradingSymbol, cs.Instrument.InstrumentKey))
		sb.WriteString(fmt.Sprintf("- last price: %.2f, day range: %.2f-%.2f, volume: %.0f\n",
			cs.Quote.LastPrice, cs.Quote.Low, cs.Quote.High, cs.Quote.Volume))
		if cs.TechnicalBrief != "" {
			sb.WriteString("- technicals:\n")
			sb.WriteString(indentLines(cs.TechnicalBrief, "  "))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Task: pick at most one instrument_key from the candidates above.\n")
	return sb.String()
}

type positionBrief struct {
	Quantity     int
	AveragePrice float64
	LastPrice    float64
	PnL          float64
}

func writeInstrumentBlock(sb *strings.Builder, ic interfaces.InstrumentContext) {
	sb.WriteString(fmt.Sprintf("## Instrument: %s (%s)\n", ic.Instrument.TradingSymbol, ic.Instrument.InstrumentKey))
	sb.WriteString(fmt.Sprintf("- last price: %.2f\n- day open/high/low: %.2f / %.2f / %.2f\n- volume: %.0f\n",
		ic.Quote.LastPrice, ic.Quote.Open, ic.Quote.High, ic.Quote.Low, ic.Quote.Volume))
	if ic.Quote.UpperLimit > 0 {
		sb.WriteString(fmt.Sprintf("- circuit limits: %.2f / %.2f\n", ic.Quote.LowerLimit, ic.Quote.UpperLimit))
	}
	sb.WriteString("\n")
}

func writeAccountBlock(sb *strings.Builder, ic interfaces.InstrumentContext) {
	sb.WriteString("## Account\n")
	sb.WriteString(fmt.Sprintf("- available margin: ₹%.2f (intraday leverage %dx)\n", ic.AvailableMargin, ic.Leverage))
	sb.WriteString(fmt.Sprintf("- time to market close: %s\n\n", ic.TimeToClose.Truncate(time.Minute)))
}

func writeIndicatorBlock(sb *strings.Builder, ic interfaces.InstrumentContext) {
	summary := indicator.RenderSummary(ic.Indicators)
	if strings.TrimSpace(summary) == "" {
		return
	}
	sb.WriteString("## Technical indicators (1m)\n")
	sb.WriteString(summary)
	sb.WriteString("\n")
}

func writeNewsBlock(sb *strings.Builder, ic interfaces.InstrumentContext) {
	if len(ic.News) == 0 {
		return
	}
	sb.WriteString("## Recent news\n")
	for i, a := range ic.News {
		if i >= 5 {
			break
		}
		sb.WriteString(fmt.Sprintf("- [%s] %s\n", a.Source, a.Title))
	}
	sb.WriteString("\n")
}

func writePriorDecisionsBlock(sb *strings.Builder, prior []decision.Record) {
	if len(prior) == 0 {
		return
	}
	sb.WriteString("## Your earlier decisions today (newest first)\n")
	for _, rec := range prior {
		status := "rejected"
		if rec.Approved {
			status = "approved"
		}
		sb.WriteString(fmt.Sprintf("- %s %s conf=%.2f @%.2f (%s): %s\n",
			rec.DecidedAt.Format("15:04"), rec.Action, rec.Confidence, rec.CurrentPrice, status, truncate(rec.Reasoning, 120)))
	}
	sb.WriteString("\n")
}

func indentLines(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
