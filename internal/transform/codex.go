package transform

import "github.com/digitallysavvy/llmgateway/pkg/types"

// codexInstructions is the fixed compiled-in base system prompt Codex
// expects, concatenated with any inbound system messages.
const codexInstructions = "You are a terse, helpful coding assistant."

// CodexContentPart is one part of a Codex "message" input item.
type CodexContentPart struct {
	Type string `json:"type"` // input_text | output_text
	Text string `json:"text"`
}

// CodexInputItem is one entry of the flat input-item sequence Codex
// expects: a discriminated union of message/function_call/
// function_call_output.
type CodexInputItem struct {
	Type string `json:"type"`

	// message
	Role    string             `json:"role,omitempty"`
	Content []CodexContentPart `json:"content,omitempty"`

	// function_call
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`
}

// CodexTool is the wire shape of a declared function tool.
type CodexTool struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Strict      bool                   `json:"strict"`
}

// CodexReasoning carries the reasoning-effort/summary knobs from config.
type CodexReasoning struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// CodexText carries text-surface knobs (verbosity).
type CodexText struct {
	Verbosity string `json:"verbosity,omitempty"`
}

// CodexRequest is the /responses wire body Codex expects.
type CodexRequest struct {
	Model             string           `json:"model"`
	Instructions      string           `json:"instructions"`
	Input             []CodexInputItem `json:"input"`
	Tools             []CodexTool      `json:"tools,omitempty"`
	Reasoning         *CodexReasoning  `json:"reasoning,omitempty"`
	Text              *CodexText       `json:"text,omitempty"`
	Stream            bool             `json:"stream"`
	Store             bool             `json:"store"`
	ParallelToolCalls bool             `json:"parallel_tool_calls"`
	PromptCacheKey    string           `json:"prompt_cache_key,omitempty"`
}

// CodexOptions carries config-sourced knobs not present on the canonical
// Request.
type CodexOptions struct {
	Reasoning      CodexReasoning
	TextVerbosity  string
	PromptCacheKey string
}

// ToCodexRequest converts a canonical request to the Codex responses wire
// shape: system messages merge into the fixed instructions string; the
// transcript flattens into a tagged input-item sequence; streaming/store/
// parallel_tool_calls are always set to their fixed values regardless of
// the inbound request.
func ToCodexRequest(req *types.Request, opts CodexOptions) CodexRequest {
	instructions := codexInstructions
	for _, m := range req.Messages {
		if m.Role == types.RoleSystem && m.HasText() {
			instructions += "\n\n" + m.Text()
		}
	}

	out := CodexRequest{
		Model:             req.Model,
		Instructions:      instructions,
		Stream:            true,
		Store:             false,
		ParallelToolCalls: false,
		PromptCacheKey:    opts.PromptCacheKey,
	}
	if opts.Reasoning.Effort != "" || opts.Reasoning.Summary != "" {
		out.Reasoning = &CodexReasoning{Effort: opts.Reasoning.Effort, Summary: opts.Reasoning.Summary}
	}
	if opts.TextVerbosity != "" {
		out.Text = &CodexText{Verbosity: opts.TextVerbosity}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem:
			continue
		case types.RoleUser:
			out.Input = append(out.Input, CodexInputItem{
				Type: "message", Role: "user",
				Content: []CodexContentPart{{Type: "input_text", Text: m.Text()}},
			})
		case types.RoleAssistant:
			if m.HasText() {
				out.Input = append(out.Input, CodexInputItem{
					Type: "message", Role: "assistant",
					Content: []CodexContentPart{{Type: "output_text", Text: m.Text()}},
				})
			}
			for _, tc := range m.ToolCalls {
				out.Input = append(out.Input, CodexInputItem{
					Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments,
				})
			}
		case types.RoleTool:
			out.Input = append(out.Input, CodexInputItem{
				Type: "function_call_output", CallID: m.ToolCallID, Output: m.Text(),
			})
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, CodexTool{
			Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters, Strict: false,
		})
	}

	return out
}
