// Package transform converts the canonical Request/Response to and from
// each wire dialect: OpenAI chat, Anthropic messages, Codex responses, and
// the inbound Gemini and OpenAI-responses surfaces.
package transform

import (
	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// OpenAIMessage is the wire shape for one chat/completions message.
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// OpenAIToolCall is the wire shape of one assistant tool call.
type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIToolCallFunc `json:"function"`
}

// OpenAIToolCallFunc is the nested function payload of an OpenAIToolCall.
type OpenAIToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAITool is the wire shape of one declared tool.
type OpenAITool struct {
	Type     string             `json:"type"`
	Function OpenAIToolFunction `json:"function"`
}

// OpenAIToolFunction is the nested function declaration of an OpenAITool.
type OpenAIToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// OpenAIRequest is the chat/completions wire body.
type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
	ToolChoice  interface{}     `json:"tool_choice,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	User        string          `json:"user,omitempty"`
	Stream      bool            `json:"stream"`
}

// ToOpenAIRequest is a near-identity mapping: pass messages, tools, and
// generation hints through unchanged; merge Options.Extra verbatim into the
// serialized body via the returned extra map (recognized fields always take
// priority).
func ToOpenAIRequest(req *types.Request) (OpenAIRequest, map[string]interface{}) {
	out := OpenAIRequest{
		Model:       req.Model,
		Temperature: req.Options.Temperature,
		TopP:        req.Options.TopP,
		MaxTokens:   req.Options.MaxTokens,
		Stop:        req.Options.Stop,
		User:        req.Options.User,
		Stream:      req.Stream,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, toOpenAIMessage(m))
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, OpenAITool{
			Type: "function",
			Function: OpenAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	out.ToolChoice = toOpenAIToolChoice(req.ToolChoice)
	return out, req.Options.Extra
}

func toOpenAIMessage(m types.Message) OpenAIMessage {
	om := OpenAIMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
	for _, tc := range m.ToolCalls {
		om.ToolCalls = append(om.ToolCalls, OpenAIToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: OpenAIToolCallFunc{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return om
}

func toOpenAIToolChoice(tc types.ToolChoice) interface{} {
	switch tc.Type {
	case types.ToolChoiceNone:
		return "none"
	case types.ToolChoiceTool:
		return map[string]interface{}{
			"type":     "function",
			"function": map[string]string{"name": tc.ToolName},
		}
	default:
		return nil
	}
}

// OpenAIResponse is the non-streaming chat/completions wire body.
type OpenAIResponse struct {
	ID      string             `json:"id"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []OpenAIRespChoice `json:"choices"`
	Usage   *OpenAIUsage       `json:"usage,omitempty"`
}

// OpenAIRespChoice is one non-streaming choice.
type OpenAIRespChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// OpenAIUsage is the wire usage shape.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FromOpenAIResponse is near-identity: map finish_reason strings onto the
// canonical enum and pass everything else through.
func FromOpenAIResponse(resp OpenAIResponse) types.Response {
	out := types.Response{ID: resp.ID, Created: resp.Created, Model: resp.Model}
	for _, c := range resp.Choices {
		msg := types.Message{Role: types.Role(c.Message.Role), Content: c.Message.Content, ToolCallID: c.Message.ToolCallID}
		for _, tc := range c.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
		out.Choices = append(out.Choices, types.Choice{
			Index:        c.Index,
			Message:      msg,
			FinishReason: MapOpenAIFinishReason(c.FinishReason),
		})
	}
	if resp.Usage != nil {
		out.Usage = &types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out
}

// FromOpenAIRequest converts an inbound chat/completions body into the
// canonical Request, the mirror of ToOpenAIRequest used when the gateway's
// own HTTP surface speaks the OpenAI dialect rather than dispatching to it.
func FromOpenAIRequest(body OpenAIRequest) *types.Request {
	req := &types.Request{Model: body.Model, Stream: body.Stream}
	for _, m := range body.Messages {
		msg := types.Message{Role: types.Role(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
		req.Messages = append(req.Messages, msg)
	}
	for _, t := range body.Tools {
		req.Tools = append(req.Tools, types.Tool{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters})
	}
	req.Options = types.Options{Temperature: body.Temperature, TopP: body.TopP, MaxTokens: body.MaxTokens, Stop: body.Stop, User: body.User}
	req.ToolChoice = fromOpenAIToolChoice(body.ToolChoice)
	return req
}

func fromOpenAIToolChoice(tc interface{}) types.ToolChoice {
	switch v := tc.(type) {
	case string:
		if v == "none" {
			return types.ToolChoice{Type: types.ToolChoiceNone}
		}
	case map[string]interface{}:
		if fn, ok := v["function"].(map[string]interface{}); ok {
			if name, ok := fn["name"].(string); ok {
				return types.ToolChoice{Type: types.ToolChoiceTool, ToolName: name}
			}
		}
	}
	return types.AutoToolChoice()
}

// OpenAIStreamChunk is the chat.completion.chunk wire shape emitted by
// /openai/v1/chat/completions when stream:true.
type OpenAIStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []OpenAIStreamChoice `json:"choices"`
	Usage   *OpenAIUsage         `json:"usage,omitempty"`
}

// OpenAIStreamChoice is one choice's delta within an OpenAIStreamChunk.
type OpenAIStreamChoice struct {
	Index        int               `json:"index"`
	Delta        OpenAIStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

// OpenAIStreamDelta is the incremental payload of one streamed choice.
type OpenAIStreamDelta struct {
	Role             string                 `json:"role,omitempty"`
	Content          string                 `json:"content,omitempty"`
	ReasoningContent string                 `json:"reasoning_content,omitempty"`
	ToolCalls        []OpenAIStreamToolCall `json:"tool_calls,omitempty"`
}

// OpenAIStreamToolCall is one streamed tool-call fragment; unlike the
// non-streaming shape it carries the index that pairs fragments of the
// same call across chunks.
type OpenAIStreamToolCall struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function OpenAIToolCallFunc `json:"function"`
}

// ToOpenAIStreamChunk converts one canonical StreamChunk to the
// chat.completion.chunk wire shape.
func ToOpenAIStreamChunk(chunk types.StreamChunk) OpenAIStreamChunk {
	out := OpenAIStreamChunk{ID: chunk.ID, Object: "chat.completion.chunk", Created: chunk.Created, Model: chunk.Model}
	for _, d := range chunk.Choices {
		delta := OpenAIStreamDelta{Content: d.Content, ReasoningContent: d.ReasoningContent}
		if d.Role != "" {
			delta.Role = string(d.Role)
		}
		for _, tc := range d.ToolCalls {
			delta.ToolCalls = append(delta.ToolCalls, OpenAIStreamToolCall{
				Index:    tc.Index,
				ID:       tc.ID,
				Type:     "function",
				Function: OpenAIToolCallFunc{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		choice := OpenAIStreamChoice{Index: d.Index, Delta: delta}
		if d.FinishReason != "" {
			reason := string(d.FinishReason)
			choice.FinishReason = &reason
		}
		out.Choices = append(out.Choices, choice)
	}
	if chunk.Usage != nil {
		out.Usage = &OpenAIUsage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens, TotalTokens: chunk.Usage.TotalTokens}
	}
	return out
}

// MapOpenAIFinishReason maps an OpenAI finish_reason string onto the
// canonical enum.
func MapOpenAIFinishReason(reason string) types.FinishReason {
	switch reason {
	case "length":
		return types.FinishLength
	case "tool_calls", "function_call":
		return types.FinishToolCalls
	case "content_filter":
		return types.FinishContentFilter
	case "stop":
		return types.FinishStop
	default:
		return types.FinishStop
	}
}
