package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogOraclePayloadRespectsToggle(t *testing.T) {
	var buf bytes.Buffer
	SetOracleWriter(&buf)
	t.Cleanup(func() {
		SetOracleWriter(nil)
		EnableOraclePayloadDump(false)
	})

	EnableOraclePayloadDump(false)
	LogOraclePayload("gpt-4o", `{"model":"gpt-4o"}`)
	assert.Empty(t, buf.String())

	EnableOraclePayloadDump(true)
	LogOraclePayload("gpt-4o", `{"model":"gpt-4o"}`)
	out := buf.String()
	assert.Contains(t, out, "--- PAYLOAD ---")
	assert.Contains(t, out, `{"model":"gpt-4o"}`)
	assert.Contains(t, out, "[gpt-4o]")
}

func TestLogOraclePayloadSkipsEmpty(t *testing.T) {
	var buf bytes.Buffer
	SetOracleWriter(&buf)
	t.Cleanup(func() {
		SetOracleWriter(nil)
		EnableOraclePayloadDump(false)
	})

	EnableOraclePayloadDump(true)
	LogOraclePayload("gpt-4o", "   ")
	assert.Empty(t, buf.String())
}

func TestLogOracleRequestInlinesPayloadWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	SetOracleWriter(&buf)
	t.Cleanup(func() {
		SetOracleWriter(nil)
		EnableOraclePayloadDump(false)
	})

	EnableOraclePayloadDump(true)
	LogOracleRequest("chat", "gpt-4o", "entry", "sys", "user", nil, `{"raw":true}`)
	out := buf.String()
	assert.Contains(t, out, "--- SYSTEM ---")
	assert.Contains(t, out, "--- PAYLOAD ---")

	buf.Reset()
	EnableOraclePayloadDump(false)
	LogOracleRequest("chat", "gpt-4o", "entry", "sys", "user", nil, `{"raw":true}`)
	assert.NotContains(t, buf.String(), "--- PAYLOAD ---")
}
