package transform

import "github.com/digitallysavvy/llmgateway/pkg/types"

// CodexAggregate is what the Codex adapter accumulates while consuming its
// always-on internal stream, handed to FromCodexAggregate once the stream
// is exhausted.
type CodexAggregate struct {
	ID           string
	Model        string
	Created      int64
	Text         string
	Reasoning    string
	ToolCalls    []types.ToolCall
	Usage        types.Usage
	FinishReason types.FinishReason // the terminal reason recorded by the stream, used when no tool_calls occurred
}

// FromCodexAggregate synthesizes a single canonical Response from an
// exhausted Codex stream's accumulated state: finish_reason is tool_calls
// whenever any tool call was accumulated, otherwise the recorded terminal
// reason.
func FromCodexAggregate(agg CodexAggregate) types.Response {
	msg := types.Message{Role: types.RoleAssistant, ToolCalls: agg.ToolCalls, ReasoningContent: agg.Reasoning}
	if agg.Text != "" || len(agg.ToolCalls) == 0 {
		msg.Content = types.TextPtr(agg.Text)
	}

	finish := agg.FinishReason
	if len(agg.ToolCalls) > 0 {
		finish = types.FinishToolCalls
	} else if finish == "" {
		finish = types.FinishStop
	}

	usage := agg.Usage
	return types.Response{
		ID:      agg.ID,
		Created: agg.Created,
		Model:   agg.Model,
		Choices: []types.Choice{{Index: 0, Message: msg, FinishReason: finish}},
		Usage:   &usage,
	}
}
