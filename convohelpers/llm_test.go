package convohelpers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertMessages(t *testing.T) {
	in := []Message{{Role: "system", Content: "be terse"}, {Role: "user", Content: "hi"}}
	out := convertMessages(in)
	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "be terse", out[0].Content)
	assert.Equal(t, "user", out[1].Role)
	assert.Equal(t, "hi", out[1].Content)
}

func TestDecodeStoredReply_RoundTripsThroughJSON(t *testing.T) {
	original := storedReply{Content: "the answer", Stats: CallStats{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8, TotalDurationMs: 42}}

	blob, err := json.Marshal(original)
	require.NoError(t, err)
	var asAny any
	require.NoError(t, json.Unmarshal(blob, &asAny))

	decoded := decodeStoredReply(asAny)
	assert.Equal(t, original, decoded)
}

func TestNewLLM_DefaultsTimeoutWhenUnset(t *testing.T) {
	llm := NewLLM(Config{APIKey: "k", Model: "m"})
	assert.Equal(t, 120.0, llm.timeout.Seconds())
}
