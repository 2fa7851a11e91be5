// Package anthropic adapts the canonical Request/Response to Anthropic's
// /v1/messages API, tracking in-flight content blocks by index so tool_use
// and text blocks interleave correctly while streaming.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/digitallysavvy/llmgateway/internal/config"
	"github.com/digitallysavvy/llmgateway/internal/dispatch"
	"github.com/digitallysavvy/llmgateway/internal/gwerrors"
	"github.com/digitallysavvy/llmgateway/internal/httpclient"
	"github.com/digitallysavvy/llmgateway/internal/streamxform"
	"github.com/digitallysavvy/llmgateway/internal/toolpairing"
	"github.com/digitallysavvy/llmgateway/internal/transform"
	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// Adapter implements dispatch.Adapter for Anthropic's messages API.
type Adapter struct {
	cfg    config.ClaudeCodeConfig
	client *httpclient.Client
}

// New builds an Adapter from its section of the validated configuration.
func New(cfg config.ClaudeCodeConfig) *Adapter {
	headers := map[string]string{
		"x-api-key":         cfg.APIKey,
		"anthropic-version": cfg.AnthropicVersion,
		"content-type":      "application/json",
	}
	if len(cfg.Beta) > 0 {
		headers["anthropic-beta"] = combineBetaHeaders(cfg.Beta)
	}
	if cfg.UserAgent != "" {
		headers["User-Agent"] = cfg.UserAgent
	}
	if cfg.XApp != "" {
		headers["x-app"] = cfg.XApp
	}
	if cfg.DangerousDirectBrowserAccess {
		headers["anthropic-dangerous-direct-browser-access"] = "true"
	}
	for k, v := range cfg.ExtraHeaders {
		headers[k] = v
	}
	return &Adapter{
		cfg:    cfg,
		client: httpclient.New(httpclient.Config{BaseURL: cfg.BaseURL, Headers: headers}),
	}
}

func combineBetaHeaders(beta []string) string {
	out := ""
	for i, b := range beta {
		if i > 0 {
			out += ","
		}
		out += b
	}
	return out
}

// Name returns the provider name used in config/Registry.
func (a *Adapter) Name() string { return config.ProviderClaudeCode }

func (a *Adapter) model(req *types.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.cfg.Model
}

func (a *Adapter) buildBody(req *types.Request, stream bool) ([]byte, error) {
	// Rewrite tool-call ids into the toolu_ namespace before they cross
	// the wire; inbound ids may carry another dialect's prefix.
	normalized := *req
	normalized.Messages, _ = toolpairing.Normalize(req.Messages, toolpairing.NamespaceAnthropic, uuid.NewString)
	wire := transform.ToAnthropicRequest(&normalized, a.cfg.MaxOutputTokens)
	wire.Model = a.model(req)
	wire.Stream = stream
	return json.Marshal(wire)
}

// Generate issues a non-streaming /v1/messages call.
func (a *Adapter) Generate(ctx context.Context, req *types.Request) (*types.Response, error) {
	body, err := a.buildBody(req, false)
	if err != nil {
		return nil, &gwerrors.UnexpectedError{Cause: err}
	}
	var wire transform.AnthropicResponse
	resp, err := a.client.PostJSON(ctx, "/v1/messages", nil, json.RawMessage(body), &wire)
	if err != nil {
		return nil, &dispatch.RetryableError{Err: err, Retryable: true}
	}
	if resp.StatusCode >= 400 {
		return nil, classifyHTTPStatus(resp.StatusCode, nil)
	}
	out := transform.FromAnthropicResponse(wire, 0)
	return &out, nil
}

// GenerateStream issues a streaming /v1/messages call and translates each
// SSE event into canonical StreamChunks.
func (a *Adapter) GenerateStream(ctx context.Context, req *types.Request) (<-chan types.StreamChunk, <-chan error) {
	out := make(chan types.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		body, err := a.buildBody(req, true)
		if err != nil {
			errs <- &gwerrors.UnexpectedError{Cause: err}
			return
		}
		resp, err := a.client.DoStream(ctx, "POST", "/v1/messages", map[string]string{"Accept": "text/event-stream"}, body)
		if err != nil {
			errs <- &dispatch.RetryableError{Err: err, Retryable: true}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			errs <- classifyHTTPStatus(resp.StatusCode, data)
			return
		}

		state := streamxform.NewState("", a.model(req), 0)
		// blockKinds and toolUseIDs record content_block_start's type and
		// tool_use id per index; content_block_delta dispatches on its own
		// delta type and does not consult them.
		blockKinds := make(map[int]string)
		toolUseIDs := make(map[int]string)
		hadToolUse := false

		parser := streamxform.NewSSEParser(resp.Body)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			sseEv, err := parser.Next()
			if err != nil {
				if err != io.EOF {
					errs <- &gwerrors.StreamParseError{Message: "reading upstream SSE", Cause: err}
				}
				return
			}

			switch sseEv.Event {
			case "message_start":
				var payload struct {
					Message struct {
						ID    string `json:"id"`
						Model string `json:"model"`
						Usage struct {
							InputTokens int `json:"input_tokens"`
						} `json:"usage"`
					} `json:"message"`
				}
				if json.Unmarshal([]byte(sseEv.Data), &payload) == nil {
					state = streamxform.NewState(payload.Message.ID, payload.Message.Model, 0)
					if payload.Message.Usage.InputTokens > 0 {
						streamxform.Apply(state, streamxform.Event{
							Type: streamxform.EventUsage, Usage: &types.Usage{PromptTokens: payload.Message.Usage.InputTokens},
						})
					}
				}

			case "content_block_start":
				var payload struct {
					Index        int `json:"index"`
					ContentBlock struct {
						Type string `json:"type"`
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"content_block"`
				}
				if json.Unmarshal([]byte(sseEv.Data), &payload) != nil {
					continue
				}
				blockKinds[payload.Index] = payload.ContentBlock.Type
				if payload.ContentBlock.Type == "tool_use" {
					hadToolUse = true
					toolUseIDs[payload.Index] = payload.ContentBlock.ID
					for _, c := range streamxform.Apply(state, streamxform.Event{
						Type: streamxform.EventToolCallStart, ToolCallIndex: payload.Index,
						ToolCallID: payload.ContentBlock.ID, ToolCallName: payload.ContentBlock.Name,
					}) {
						if !sendChunk(ctx, out, c) {
							return
						}
					}
				}

			case "content_block_delta":
				var payload struct {
					Index int `json:"index"`
					Delta struct {
						Type        string `json:"type"`
						Text        string `json:"text"`
						PartialJSON string `json:"partial_json"`
						Thinking    string `json:"thinking"`
					} `json:"delta"`
				}
				if json.Unmarshal([]byte(sseEv.Data), &payload) != nil {
					continue
				}
				var nev *streamxform.Event
				switch payload.Delta.Type {
				case "text_delta":
					nev = &streamxform.Event{Type: streamxform.EventTextDelta, Text: payload.Delta.Text}
				case "input_json_delta":
					nev = &streamxform.Event{Type: streamxform.EventToolCallArgsDelta, ToolCallIndex: payload.Index, ArgsFragment: payload.Delta.PartialJSON}
				case "thinking_delta":
					nev = &streamxform.Event{Type: streamxform.EventReasoningDelta, Reasoning: payload.Delta.Thinking}
				}
				if nev != nil {
					for _, c := range streamxform.Apply(state, *nev) {
						if !sendChunk(ctx, out, c) {
							return
						}
					}
				}

			case "message_delta":
				var payload struct {
					Delta struct {
						StopReason string `json:"stop_reason"`
					} `json:"delta"`
					Usage struct {
						OutputTokens int `json:"output_tokens"`
					} `json:"usage"`
				}
				if json.Unmarshal([]byte(sseEv.Data), &payload) != nil {
					continue
				}
				for _, c := range streamxform.Apply(state, streamxform.Event{
					Type: streamxform.EventUsage, Usage: &types.Usage{CompletionTokens: payload.Usage.OutputTokens},
				}) {
					if !sendChunk(ctx, out, c) {
						return
					}
				}
				reason := mapAnthropicFinish(payload.Delta.StopReason, hadToolUse)
				for _, c := range streamxform.Apply(state, streamxform.Event{Type: streamxform.EventFinish, FinishReason: reason}) {
					if !sendChunk(ctx, out, c) {
						return
					}
				}

			case "message_stop":
				return

			case "ping", "content_block_stop":
				// No canonical event; content_block_stop needs no action
				// since tool_call_done carries no chunk of its own.

			case "error":
				errs <- &gwerrors.UnexpectedError{Cause: fmt.Errorf("anthropic stream error: %s", sseEv.Data)}
				return
			}

			if sseEv.IsDone() {
				return
			}
		}
	}()

	return out, errs
}

func sendChunk(ctx context.Context, out chan<- types.StreamChunk, c types.StreamChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func mapAnthropicFinish(reason string, hadToolUse bool) types.FinishReason {
	switch reason {
	case "max_tokens":
		return types.FinishLength
	case "tool_use":
		return types.FinishToolCalls
	default:
		if hadToolUse {
			return types.FinishToolCalls
		}
		return types.FinishStop
	}
}

func classifyHTTPStatus(status int, body []byte) error {
	msg := string(body)
	switch {
	case status == 401:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamAuthError{Provider: config.ProviderClaudeCode, Cause: fmt.Errorf("%s", msg)}, Retryable: false}
	case status == 429:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamRateLimitError{Provider: config.ProviderClaudeCode}, Retryable: true}
	case status >= 500:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamServerError{Provider: config.ProviderClaudeCode, StatusCode: status, Cause: fmt.Errorf("%s", msg)}, Retryable: true}
	case status >= 400:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamClientError{Provider: config.ProviderClaudeCode, StatusCode: status, Body: msg}, Retryable: false}
	default:
		return &gwerrors.UnexpectedError{Cause: fmt.Errorf("unexpected status %d: %s", status, msg)}
	}
}
