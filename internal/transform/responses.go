package transform

import "github.com/digitallysavvy/llmgateway/pkg/types"

// ResponsesInputItem is one item of the "responses" surface's flat input
// array, the client-facing cousin of CodexInputItem used by the `/responses`
// route, reusing the same message/function_call/function_call_output
// discriminated union.
type ResponsesInputItem struct {
	Type      string             `json:"type"`
	Role      string             `json:"role,omitempty"`
	Content   []CodexContentPart `json:"content,omitempty"`
	CallID    string             `json:"call_id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Arguments string             `json:"arguments,omitempty"`
	Output    string             `json:"output,omitempty"`
}

// ResponsesRequest is the inbound body for POST /openai/v1/responses. A
// client supplies either Messages (chat-shaped) or Input+Instructions
// (responses-shaped); FromResponsesRequest accepts either.
type ResponsesRequest struct {
	Model        string               `json:"model"`
	Messages     []OpenAIMessage      `json:"messages,omitempty"`
	Input        []ResponsesInputItem `json:"input,omitempty"`
	Instructions string               `json:"instructions,omitempty"`
	Stream       bool                 `json:"stream"`
	Tools        []OpenAITool         `json:"tools,omitempty"`
}

// FromResponsesRequest converts either shape of the responses-surface body
// into the canonical Request.
func FromResponsesRequest(body ResponsesRequest) *types.Request {
	if len(body.Messages) > 0 {
		return FromOpenAIRequest(OpenAIRequest{Model: body.Model, Messages: body.Messages, Tools: body.Tools, Stream: body.Stream})
	}

	req := &types.Request{Model: body.Model, Stream: body.Stream}
	if body.Instructions != "" {
		req.Messages = append(req.Messages, types.Message{Role: types.RoleSystem, Content: types.TextPtr(body.Instructions)})
	}
	for _, item := range body.Input {
		switch item.Type {
		case "function_call_output":
			req.Messages = append(req.Messages, types.Message{Role: types.RoleTool, ToolCallID: item.CallID, Content: types.TextPtr(item.Output)})
		case "function_call":
			req.Messages = append(req.Messages, types.Message{
				Role:      types.RoleAssistant,
				ToolCalls: []types.ToolCall{{ID: item.CallID, Name: item.Name, Arguments: item.Arguments}},
			})
		default:
			role := types.RoleUser
			if item.Role == "assistant" {
				role = types.RoleAssistant
			}
			req.Messages = append(req.Messages, types.Message{Role: role, Content: types.TextPtr(joinCodexContentText(item.Content))})
		}
	}
	for _, t := range body.Tools {
		req.Tools = append(req.Tools, types.Tool{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters})
	}
	return req
}

func joinCodexContentText(parts []CodexContentPart) string {
	out := ""
	for _, p := range parts {
		out += p.Text
	}
	return out
}

// ResponsesEvent is the payload carried by each named SSE event on the
// responses surface (response.delta / response.completed / response.error).
type ResponsesEvent struct {
	Type     string             `json:"type"`
	Content  []CodexContentPart `json:"content,omitempty"`
	Response *types.Response    `json:"response,omitempty"`
	Error    *ResponsesError    `json:"error,omitempty"`
}

// ResponsesError is the error payload of a response.error event.
type ResponsesError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ToResponsesDeltaEvent converts one canonical StreamChunk into a
// response.delta event carrying output_text content parts, concatenating
// every choice's text (the responses surface models a single output
// stream, not per-choice deltas).
func ToResponsesDeltaEvent(chunk types.StreamChunk) ResponsesEvent {
	text := ""
	for _, d := range chunk.Choices {
		text += d.Content
	}
	ev := ResponsesEvent{Type: "response.delta"}
	if text != "" {
		ev.Content = []CodexContentPart{{Type: "output_text", Text: text}}
	}
	return ev
}

// ToResponsesCompletedEvent builds the terminal response.completed event
// from the aggregated canonical Response.
func ToResponsesCompletedEvent(resp types.Response) ResponsesEvent {
	return ResponsesEvent{Type: "response.completed", Response: &resp}
}

// ToResponsesErrorEvent builds a response.error event from a dispatch error.
func ToResponsesErrorEvent(kind, message string) ResponsesEvent {
	return ResponsesEvent{Type: "response.error", Error: &ResponsesError{Message: message, Type: kind}}
}
