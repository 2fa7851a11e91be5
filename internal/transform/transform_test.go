package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/llmgateway/pkg/types"
)

func TestToAnthropicRequest_ExtractsSystemAndPadsContinue(t *testing.T) {
	req := &types.Request{
		Model: "claude-opus",
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: types.TextPtr("be terse")},
			{Role: types.RoleAssistant, Content: types.TextPtr("hi")}, // transcript doesn't start with user
		},
	}
	out := ToAnthropicRequest(req, 0)
	assert.Equal(t, "be terse", out.System)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "Continue", out.Messages[0].Content[0].Text)
}

func TestToAnthropicRequest_GroupsConsecutiveToolResults(t *testing.T) {
	req := &types.Request{
		Model: "claude-opus",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: types.TextPtr("go")},
			{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{
				{ID: "call_1", Name: "a", Arguments: "{}"},
				{ID: "call_2", Name: "b", Arguments: "{}"},
			}},
			{Role: types.RoleTool, ToolCallID: "call_1", Content: types.TextPtr("r1")},
			{Role: types.RoleTool, ToolCallID: "call_2", Content: types.TextPtr("r2")},
		},
	}
	out := ToAnthropicRequest(req, 0)
	// user, assistant(tool_use x2), user(tool_result x2)
	require.Len(t, out.Messages, 3)
	last := out.Messages[2]
	assert.Equal(t, "user", last.Role)
	require.Len(t, last.Content, 2)
	assert.Equal(t, "tool_result", last.Content[0].Type)
	assert.Equal(t, "call_1", last.Content[0].ToolUseID)
}

func TestToAnthropicRequest_ToolChoiceMapping(t *testing.T) {
	req := &types.Request{Messages: []types.Message{{Role: types.RoleUser, Content: types.TextPtr("x")}}}
	req.ToolChoice = types.ToolChoice{Type: types.ToolChoiceTool, ToolName: "get_weather"}
	out := ToAnthropicRequest(req, 0)
	require.NotNil(t, out.ToolChoice)
	assert.Equal(t, "tool", out.ToolChoice.Type)
	assert.Equal(t, "get_weather", out.ToolChoice.Name)
}

func TestFromAnthropicResponse_MapsStopReasons(t *testing.T) {
	resp := AnthropicResponse{
		ID: "msg_1", Model: "claude-opus",
		Content:    []AnthropicContentBlock{{Type: "text", Text: "hello"}},
		StopReason: "end_turn",
		Usage:      AnthropicUsage{InputTokens: 3, OutputTokens: 2},
	}
	out := FromAnthropicResponse(resp, 100)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, types.FinishStop, out.Choices[0].FinishReason)
	assert.Equal(t, "hello", out.Choices[0].Message.Text())
	assert.Equal(t, 5, out.Usage.TotalTokens)
}

func TestFromAnthropicResponse_ToolUseForcesToolCallsFinish(t *testing.T) {
	resp := AnthropicResponse{
		Content:    []AnthropicContentBlock{{Type: "tool_use", ID: "toolu_1", Name: "get_weather", Input: []byte(`{"c":"Paris"}`)}},
		StopReason: "end_turn",
	}
	out := FromAnthropicResponse(resp, 0)
	assert.Equal(t, types.FinishToolCalls, out.Choices[0].FinishReason)
	require.Len(t, out.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, `{"c":"Paris"}`, out.Choices[0].Message.ToolCalls[0].Arguments)
}

func TestToCodexRequest_FlattensTranscriptIntoInputItems(t *testing.T) {
	req := &types.Request{
		Model: "gpt-5-codex",
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: types.TextPtr("be terse")},
			{Role: types.RoleUser, Content: types.TextPtr("hi")},
			{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "call_1", Name: "f", Arguments: "{}"}}},
			{Role: types.RoleTool, ToolCallID: "call_1", Content: types.TextPtr("result")},
		},
	}
	out := ToCodexRequest(req, CodexOptions{})
	assert.Contains(t, out.Instructions, "be terse")
	require.Len(t, out.Input, 3)
	assert.Equal(t, "message", out.Input[0].Type)
	assert.Equal(t, "function_call", out.Input[1].Type)
	assert.Equal(t, "function_call_output", out.Input[2].Type)
	assert.True(t, out.Stream)
	assert.False(t, out.Store)
	assert.False(t, out.ParallelToolCalls)
}

func TestFromCodexAggregate_ToolCallsOverrideRecordedFinish(t *testing.T) {
	agg := CodexAggregate{
		ID: "resp_1", Model: "gpt-5-codex",
		ToolCalls:    []types.ToolCall{{ID: "fc_1", Name: "f", Arguments: "{}"}},
		FinishReason: types.FinishStop,
	}
	out := FromCodexAggregate(agg)
	assert.Equal(t, types.FinishToolCalls, out.Choices[0].FinishReason)
}

func TestToOpenAIRequest_PassesToolsAndChoiceThrough(t *testing.T) {
	req := &types.Request{
		Model:    "gpt-4o",
		Messages: []types.Message{{Role: types.RoleUser, Content: types.TextPtr("hi")}},
		Tools:    []types.Tool{{Name: "f", Parameters: map[string]interface{}{"type": "object"}}},
	}
	req.ToolChoice = types.ToolChoice{Type: types.ToolChoiceNone}
	out, _ := ToOpenAIRequest(req)
	require.Len(t, out.Messages, 1)
	require.Len(t, out.Tools, 1)
	assert.Equal(t, "none", out.ToolChoice)
}
