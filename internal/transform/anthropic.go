package transform

import (
	"encoding/json"

	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// AnthropicContentBlock is a tagged-union content block covering the
// subset /v1/messages needs here.
type AnthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// AnthropicMessage is one /v1/messages turn; unlike the canonical Message,
// content is always an array of blocks.
type AnthropicMessage struct {
	Role    string                  `json:"role"`
	Content []AnthropicContentBlock `json:"content"`
}

// AnthropicTool is the wire shape of a declared tool.
type AnthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// AnthropicToolChoice is the wire shape of tool_choice.
type AnthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// AnthropicRequest is the /v1/messages wire body.
type AnthropicRequest struct {
	Model         string               `json:"model"`
	System        string               `json:"system,omitempty"`
	Messages      []AnthropicMessage   `json:"messages"`
	Tools         []AnthropicTool      `json:"tools,omitempty"`
	ToolChoice    *AnthropicToolChoice `json:"tool_choice,omitempty"`
	MaxTokens     int                  `json:"max_tokens"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	StopSequences []string             `json:"stop_sequences,omitempty"`
	Stream        bool                 `json:"stream"`
}

const defaultMaxTokensFloor = 1024

// ToAnthropicRequest converts a canonical request to the /v1/messages wire
// shape: system messages accumulate into a single string; tool_use and
// tool_result blocks are built from ToolCalls/tool messages; consecutive
// tool results are grouped into one synthetic user message; a synthetic
// "Continue" turn is prepended when the transcript would not start with
// user.
func ToAnthropicRequest(req *types.Request, configuredMaxTokens int) AnthropicRequest {
	var system []string
	var transcript []types.Message
	for _, m := range req.Messages {
		if m.Role == types.RoleSystem {
			if m.HasText() {
				system = append(system, m.Text())
			}
			continue
		}
		transcript = append(transcript, m)
	}
	transcript = ensureStartsWithUser(transcript)

	out := AnthropicRequest{
		Model:         req.Model,
		System:        joinDoubleNewline(system),
		Temperature:   req.Options.Temperature,
		TopP:          req.Options.TopP,
		StopSequences: req.Options.Stop,
		Stream:        req.Stream,
	}

	maxTokens := defaultMaxTokensFloor
	if configuredMaxTokens > 0 {
		maxTokens = configuredMaxTokens
	}
	if req.Options.MaxTokens != nil {
		maxTokens = *req.Options.MaxTokens
	}
	out.MaxTokens = maxTokens

	out.Messages = toAnthropicMessages(transcript)

	for _, t := range req.Tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]interface{}{}
		}
		if _, ok := schema["type"]; !ok {
			schema["type"] = "object"
		}
		out.Tools = append(out.Tools, AnthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	out.ToolChoice = toAnthropicToolChoice(req.ToolChoice)

	return out
}

func joinDoubleNewline(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}

func ensureStartsWithUser(messages []types.Message) []types.Message {
	if len(messages) == 0 || messages[0].Role != types.RoleUser {
		continued := append([]types.Message{{Role: types.RoleUser, Content: types.TextPtr("Continue")}}, messages...)
		return continued
	}
	return messages
}

func toAnthropicMessages(messages []types.Message) []AnthropicMessage {
	var out []AnthropicMessage
	var pendingToolResults []AnthropicContentBlock

	flushToolResults := func() {
		if len(pendingToolResults) > 0 {
			out = append(out, AnthropicMessage{Role: "user", Content: pendingToolResults})
			pendingToolResults = nil
		}
	}

	for _, m := range messages {
		switch m.Role {
		case types.RoleTool:
			pendingToolResults = append(pendingToolResults, AnthropicContentBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Text(),
			})
		case types.RoleAssistant:
			flushToolResults()
			var blocks []AnthropicContentBlock
			if m.HasText() {
				blocks = append(blocks, AnthropicContentBlock{Type: "text", Text: m.Text()})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if !json.Valid(input) {
					// Parse failure: pass the raw string through as a JSON
					// string value rather than invalid JSON.
					raw, _ := json.Marshal(tc.Arguments)
					input = raw
				}
				blocks = append(blocks, AnthropicContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			out = append(out, AnthropicMessage{Role: "assistant", Content: blocks})
		default: // user
			flushToolResults()
			out = append(out, AnthropicMessage{Role: "user", Content: []AnthropicContentBlock{{Type: "text", Text: m.Text()}}})
		}
	}
	flushToolResults()
	return out
}

func toAnthropicToolChoice(tc types.ToolChoice) *AnthropicToolChoice {
	switch tc.Type {
	case types.ToolChoiceNone:
		return &AnthropicToolChoice{Type: "none"}
	case types.ToolChoiceTool:
		return &AnthropicToolChoice{Type: "tool", Name: tc.ToolName}
	default:
		return nil
	}
}

// AnthropicResponse is the non-streaming /v1/messages wire body.
type AnthropicResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []AnthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      AnthropicUsage          `json:"usage"`
}

// AnthropicUsage is the wire usage shape.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// FromAnthropicResponse converts a non-streaming /v1/messages reply: text
// blocks concatenate, tool_use blocks become ToolCalls, stop_reason maps to
// the canonical finish reason with tool_calls taking priority when any
// tool_use occurred.
func FromAnthropicResponse(resp AnthropicResponse, created int64) types.Response {
	var text string
	var toolCalls []types.ToolCall
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			text += b.Text
		case "tool_use":
			args := string(b.Input)
			toolCalls = append(toolCalls, types.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}

	msg := types.Message{Role: types.RoleAssistant, ToolCalls: toolCalls}
	if text != "" || len(toolCalls) == 0 {
		msg.Content = types.TextPtr(text)
	}

	return types.Response{
		ID:      resp.ID,
		Created: created,
		Model:   resp.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: mapAnthropicStopReason(resp.StopReason, len(toolCalls) > 0),
		}},
		Usage: &types.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func mapAnthropicStopReason(reason string, hadToolUse bool) types.FinishReason {
	switch reason {
	case "max_tokens":
		return types.FinishLength
	case "tool_use":
		return types.FinishToolCalls
	case "end_turn", "stop_sequence":
		if hadToolUse {
			return types.FinishToolCalls
		}
		return types.FinishStop
	default:
		return types.FinishStop
	}
}
