package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrettyIndentsValidJSON(t *testing.T) {
	out := Pretty(`{"model":"gpt-4o","messages":[{"role":"user"}]}`)
	assert.Contains(t, out, "\n  \"model\": \"gpt-4o\"")
	assert.Contains(t, out, "\"role\": \"user\"")
}

func TestPrettyPassesThroughNonJSON(t *testing.T) {
	assert.Equal(t, "not json", Pretty("not json"))
	assert.Equal(t, "", Pretty("   "))
}
