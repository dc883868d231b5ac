package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

var (
	oracleMu          sync.Mutex
	oracleLog         *log.Logger
	oracleDumpPayload bool
)

// SetOracleWriter 指定决策请求/响应全文的落盘目标，nil 表示关闭。
func SetOracleWriter(w io.Writer) {
	oracleMu.Lock()
	defer oracleMu.Unlock()
	if w == nil {
		oracleLog = nil
		return
	}
	oracleLog = log.New(w, "", log.LstdFlags)
}

type oracleSection struct {
	Title string
	Body  string
}

func logOracle(kind, model, purpose string, sections []oracleSection) {
	oracleMu.Lock()
	logger := oracleLog
	oracleMu.Unlock()
	if logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[ORACLE]")
	if kind != "" {
		b.WriteString("[")
		b.WriteString(kind)
		b.WriteString("]")
	}
	if model != "" {
		b.WriteString("[")
		b.WriteString(model)
		b.WriteString("]")
	}
	if purpose != "" {
		b.WriteString("[")
		b.WriteString(purpose)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		body := sec.Body
		b.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	logger.Print(b.String())
}

func LogOracleRequest(kind, model, purpose, systemPrompt, userPrompt string, images []string, payload string) {
	sections := []oracleSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	}
	for i, img := range images {
		sections = append(sections, oracleSection{Title: fmt.Sprintf("IMAGE#%d", i+1), Body: img})
	}
	if oracleDumpPayload && strings.TrimSpace(payload) != "" {
		sections = append(sections, oracleSection{Title: "PAYLOAD", Body: payload})
	}
	logOracle(kind+"-request", model, purpose, sections)
}

func LogOracleResponse(kind, model, purpose, raw string) {
	logOracle(kind+"-response", model, purpose, []oracleSection{{Title: "RAW", Body: raw}})
}

func EnableOraclePayloadDump(enabled bool) {
	oracleMu.Lock()
	oracleDumpPayload = enabled
	oracleMu.Unlock()
}

func LogOraclePayload(model, payload string) {
	if !oracleDumpPayload {
		return
	}
	text := strings.TrimSpace(payload)
	if text == "" {
		return
	}
	logOracle("payload", model, "request", []oracleSection{{Title: "PAYLOAD", Body: text}})
}
