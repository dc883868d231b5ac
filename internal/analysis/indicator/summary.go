package indicator

import (
	"fmt"
	"sort"
	"strings"
)

// RenderSummary 把指标报告转成给甄选模型看的文本摘要，按指标名排序保证稳定。
func RenderSummary(rep Report) string {
	if len(rep.Values) == 0 {
		return fmt.Sprintf("%s %s: 无可用指标", rep.Symbol, rep.Interval)
	}
	names := make([]string, 0, len(rep.Values))
	for name := range rep.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (bars=%d)\n", rep.Symbol, rep.Interval, rep.Count)
	for _, name := range names {
		v := rep.Values[name]
		fmt.Fprintf(&b, "- %s: %.4f", name, v.Latest)
		if v.State != "" {
			fmt.Fprintf(&b, " [%s]", v.State)
		}
		if v.Note != "" {
			fmt.Fprintf(&b, " (%s)", v.Note)
		}
		b.WriteString("\n")
	}
	for _, w := range rep.Warnings {
		fmt.Fprintf(&b, "! %s\n", w)
	}
	return b.String()
}
