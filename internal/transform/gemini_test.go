package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/llmgateway/pkg/types"
)

func TestFromGeminiRequest_TextOnly(t *testing.T) {
	body := GeminiRequest{Contents: []GeminiContent{{Role: "user", Parts: []GeminiPart{{Text: "hi"}}}}}
	req := FromGeminiRequest("gemini-2.5-pro", body)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, types.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "hi", req.Messages[0].Text())
}

func TestToGeminiResponse_TextAndFinishReason(t *testing.T) {
	resp := types.Response{
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.Message{Role: types.RoleAssistant, Content: types.TextPtr("hello")},
			FinishReason: types.FinishStop,
		}},
		Usage: &types.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}
	out := ToGeminiResponse(resp)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "model", out.Candidates[0].Content.Role)
	assert.Equal(t, "hello", out.Candidates[0].Content.Parts[0].Text)
	assert.Equal(t, "STOP", out.Candidates[0].FinishReason)
	require.NotNil(t, out.UsageMetadata)
	assert.Equal(t, 2, out.UsageMetadata.TotalTokenCount)
}

// The stream state machine announces a tool call (name, no args) and then
// streams partial-JSON argument fragments (no name); a Gemini functionCall
// part needs the full parsed args object, so nothing is emitted until the
// terminal chunk carries the assembled call.
func TestGeminiStreamEncoder_AssemblesFragmentedFunctionCall(t *testing.T) {
	enc := NewGeminiStreamEncoder()

	_, ok := enc.Encode(types.StreamChunk{Choices: []types.DeltaChoice{{
		Role:      types.RoleAssistant,
		ToolCalls: []types.ToolCallFragment{{Index: 0, ID: "toolu_abc", Name: "get_weather"}},
	}}})
	assert.False(t, ok, "announcement alone carries nothing a Gemini client can parse")

	_, ok = enc.Encode(types.StreamChunk{Choices: []types.DeltaChoice{{
		ToolCalls: []types.ToolCallFragment{{Index: 0, Arguments: `{"loca`}},
	}}})
	assert.False(t, ok)
	_, ok = enc.Encode(types.StreamChunk{Choices: []types.DeltaChoice{{
		ToolCalls: []types.ToolCallFragment{{Index: 0, Arguments: `tion":"Paris"}`}},
	}}})
	assert.False(t, ok)

	out, ok := enc.Encode(types.StreamChunk{
		Choices: []types.DeltaChoice{{FinishReason: types.FinishToolCalls}},
		Usage:   &types.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
	})
	require.True(t, ok)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "TOOL_CALLS", out.Candidates[0].FinishReason)
	require.Len(t, out.Candidates[0].Content.Parts, 1)
	fc := out.Candidates[0].Content.Parts[0].FunctionCall
	require.NotNil(t, fc)
	assert.Equal(t, "get_weather", fc.Name)
	assert.Equal(t, "Paris", fc.Args["location"])
	require.NotNil(t, out.UsageMetadata)
	assert.Equal(t, 8, out.UsageMetadata.TotalTokenCount)
}

func TestGeminiStreamEncoder_TextPassesThrough(t *testing.T) {
	enc := NewGeminiStreamEncoder()
	out, ok := enc.Encode(types.StreamChunk{Choices: []types.DeltaChoice{{Role: types.RoleAssistant, Content: "hel"}}})
	require.True(t, ok)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "hel", out.Candidates[0].Content.Parts[0].Text)
}
