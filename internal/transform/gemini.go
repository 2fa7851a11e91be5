package transform

import (
	"encoding/json"
	"strings"

	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// GeminiPart is a tagged-union part: one of Text, FunctionCall,
// FunctionResponse, InlineData, FileData. InlineData/FileData are
// recognized so the body parser never misreads a media part as empty text,
// but neither carries forward into the canonical Message, which only
// models text and tool calls; a multi-modal part contributes nothing
// downstream, and the tokenizer likewise counts it as 0.
type GeminiPart struct {
	Text             string              `json:"text,omitempty"`
	FunctionCall     *GeminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFuncResponse `json:"functionResponse,omitempty"`
	InlineData       *GeminiBlob         `json:"inlineData,omitempty"`
	FileData         *GeminiFileRef      `json:"fileData,omitempty"`
}

// GeminiBlob is the inlineData part payload (base64 media bytes).
type GeminiBlob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GeminiFileRef is the fileData part payload (a reference to uploaded media).
type GeminiFileRef struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// GeminiFunctionCall is the functionCall part payload.
type GeminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// GeminiFuncResponse is the functionResponse part payload.
type GeminiFuncResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

// GeminiContent is one turn in a Gemini contents array.
type GeminiContent struct {
	Role  string       `json:"role"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiFunctionDecl is one Gemini tool function declaration.
type GeminiFunctionDecl struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// GeminiTool wraps a set of function declarations, matching Gemini's
// `tools:[{functionDeclarations:[...]}]` wire shape.
type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDecl `json:"functionDeclarations"`
}

// GeminiGenerationConfig carries Gemini's generation hints.
type GeminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// GeminiRequest is the generateContent/streamGenerateContent wire body.
type GeminiRequest struct {
	Contents          []GeminiContent         `json:"contents"`
	Tools             []GeminiTool            `json:"tools,omitempty"`
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// FromGeminiRequest converts an inbound Gemini request body into a
// canonical Request, so the rest of the pipeline never needs to know which
// inbound dialect produced it.
func FromGeminiRequest(model string, body GeminiRequest) *types.Request {
	req := &types.Request{Model: model, Stream: false}

	if body.SystemInstruction != nil {
		if text := joinPartsText(body.SystemInstruction.Parts); text != "" {
			req.Messages = append(req.Messages, types.Message{Role: types.RoleSystem, Content: types.TextPtr(text)})
		}
	}

	for _, c := range body.Contents {
		role := types.RoleUser
		if c.Role == "model" {
			role = types.RoleAssistant
		}
		msg := types.Message{Role: role}
		var text string
		for _, p := range c.Parts {
			switch {
			case p.FunctionCall != nil:
				args, _ := json.Marshal(p.FunctionCall.Args)
				msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
					ID: "call_" + p.FunctionCall.Name, Name: p.FunctionCall.Name, Arguments: string(args),
				})
			case p.FunctionResponse != nil:
				out, _ := json.Marshal(p.FunctionResponse.Response)
				req.Messages = append(req.Messages, types.Message{
					Role: types.RoleTool, ToolCallID: "call_" + p.FunctionResponse.Name, Content: types.TextPtr(string(out)),
				})
				continue
			default:
				text += p.Text
			}
		}
		if text != "" {
			msg.Content = types.TextPtr(text)
		}
		if text != "" || len(msg.ToolCalls) > 0 {
			req.Messages = append(req.Messages, msg)
		}
	}

	for _, t := range body.Tools {
		for _, fn := range t.FunctionDeclarations {
			req.Tools = append(req.Tools, types.Tool{Name: fn.Name, Description: fn.Description, Parameters: fn.Parameters})
		}
	}

	if gc := body.GenerationConfig; gc != nil {
		req.Options.Temperature = gc.Temperature
		req.Options.TopP = gc.TopP
		req.Options.MaxTokens = gc.MaxOutputTokens
		req.Options.Stop = gc.StopSequences
	}

	return req
}

func joinPartsText(parts []GeminiPart) string {
	out := ""
	for _, p := range parts {
		out += p.Text
	}
	return out
}

// GeminiCandidate is one candidate in a generateContent response.
type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

// GeminiUsageMetadata is Gemini's usage wire shape.
type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// GeminiResponse is the generateContent response wire shape.
type GeminiResponse struct {
	Candidates    []GeminiCandidate    `json:"candidates"`
	UsageMetadata *GeminiUsageMetadata `json:"usageMetadata,omitempty"`
}

// ToGeminiResponse converts a canonical Response to the Gemini wire shape.
func ToGeminiResponse(resp types.Response) GeminiResponse {
	out := GeminiResponse{}
	for _, c := range resp.Choices {
		content := GeminiContent{Role: "model"}
		if c.Message.HasText() {
			content.Parts = append(content.Parts, GeminiPart{Text: c.Message.Text()})
		}
		for _, tc := range c.Message.ToolCalls {
			var args map[string]interface{}
			json.Unmarshal([]byte(tc.Arguments), &args)
			content.Parts = append(content.Parts, GeminiPart{FunctionCall: &GeminiFunctionCall{Name: tc.Name, Args: args}})
		}
		out.Candidates = append(out.Candidates, GeminiCandidate{
			Content:      content,
			FinishReason: mapToGeminiFinishReason(c.FinishReason),
			Index:        c.Index,
		})
	}
	if resp.Usage != nil {
		out.UsageMetadata = &GeminiUsageMetadata{
			PromptTokenCount:     resp.Usage.PromptTokens,
			CandidatesTokenCount: resp.Usage.CompletionTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		}
	}
	return out
}

func mapToGeminiFinishReason(reason types.FinishReason) string {
	switch reason {
	case types.FinishLength:
		return "MAX_TOKENS"
	case types.FinishToolCalls:
		return "TOOL_CALLS"
	case types.FinishContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

// GeminiStreamEncoder assembles canonical StreamChunks into the per-event
// Gemini payloads used on streamGenerateContent (each event has the same
// shape as the non-stream response). Text deltas pass through as they
// arrive; tool-call argument fragments are buffered per (choice, call
// index) until the choice's terminal chunk, since a functionCall part
// carries a parsed args object that a partial-JSON fragment cannot
// populate.
type GeminiStreamEncoder struct {
	calls map[int]map[int]*geminiCallBuffer
	order map[int][]int
}

type geminiCallBuffer struct {
	name string
	args strings.Builder
}

// NewGeminiStreamEncoder returns an encoder for one stream.
func NewGeminiStreamEncoder() *GeminiStreamEncoder {
	return &GeminiStreamEncoder{
		calls: make(map[int]map[int]*geminiCallBuffer),
		order: make(map[int][]int),
	}
}

func (e *GeminiStreamEncoder) buffer(choice, call int) *geminiCallBuffer {
	byCall, ok := e.calls[choice]
	if !ok {
		byCall = make(map[int]*geminiCallBuffer)
		e.calls[choice] = byCall
	}
	buf, ok := byCall[call]
	if !ok {
		buf = &geminiCallBuffer{}
		byCall[call] = buf
		e.order[choice] = append(e.order[choice], call)
	}
	return buf
}

// Encode folds one chunk into the stream. ok is false when the chunk
// produced nothing client-visible yet (a fragment-only chunk still being
// buffered), in which case no SSE event should be written.
func (e *GeminiStreamEncoder) Encode(chunk types.StreamChunk) (GeminiResponse, bool) {
	out := GeminiResponse{}
	for _, d := range chunk.Choices {
		content := GeminiContent{Role: "model"}
		if d.Content != "" {
			content.Parts = append(content.Parts, GeminiPart{Text: d.Content})
		}
		for _, tc := range d.ToolCalls {
			buf := e.buffer(d.Index, tc.Index)
			if tc.Name != "" {
				buf.name = tc.Name
			}
			buf.args.WriteString(tc.Arguments)
		}
		if d.FinishReason != "" {
			for _, idx := range e.order[d.Index] {
				buf := e.calls[d.Index][idx]
				var args map[string]interface{}
				json.Unmarshal([]byte(buf.args.String()), &args)
				content.Parts = append(content.Parts, GeminiPart{FunctionCall: &GeminiFunctionCall{Name: buf.name, Args: args}})
			}
			delete(e.calls, d.Index)
			delete(e.order, d.Index)
		}
		if len(content.Parts) == 0 && d.FinishReason == "" {
			continue
		}
		candidate := GeminiCandidate{Content: content, Index: d.Index}
		if d.FinishReason != "" {
			candidate.FinishReason = mapToGeminiFinishReason(d.FinishReason)
		}
		out.Candidates = append(out.Candidates, candidate)
	}
	if chunk.Usage != nil {
		out.UsageMetadata = &GeminiUsageMetadata{
			PromptTokenCount:     chunk.Usage.PromptTokens,
			CandidatesTokenCount: chunk.Usage.CompletionTokens,
			TotalTokenCount:      chunk.Usage.TotalTokens,
		}
	}
	return out, len(out.Candidates) > 0 || out.UsageMetadata != nil
}
