// Package openai adapts the canonical Request/Response to the
// OpenAI-compatible chat/completions endpoint. The canonical schema is
// already modeled on this dialect, so both directions are near-identity.
package openai

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

// Adapter implements dispatch.Adapter for the OpenAI-compatible provider.
type Adapter struct {
	cfg    config.OpenAIConfig
	client *httpclient.Client
}

// New builds an Adapter from its section of the validated configuration.
func New(cfg config.OpenAIConfig) *Adapter {
	headers := map[string]string{
		"Authorization": "Bearer " + cfg.APIKey,
		"Content-Type":  "application/json",
	}
	if cfg.Organization != "" {
		headers["OpenAI-Organization"] = cfg.Organization
	}
	return &Adapter{
		cfg:    cfg,
		client: httpclient.New(httpclient.Config{BaseURL: cfg.BaseURL, Headers: headers}),
	}
}

// Name returns the provider name used in config/Registry.
func (a *Adapter) Name() string { return config.ProviderOpenAI }

func (a *Adapter) model(req *types.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.cfg.Model
}

func (a *Adapter) buildBody(req *types.Request) ([]byte, error) {
	normalized := *req
	normalized.Messages, _ = toolpairing.Normalize(req.Messages, toolpairing.NamespaceOpenAI, uuid.NewString)
	wire, extra := transform.ToOpenAIRequest(&normalized)
	wire.Model = a.model(req)
	wire.Stream = req.Stream

	// Config-level extraBody applies beneath any per-request extras.
	for k, v := range a.cfg.ExtraBody {
		if _, exists := extra[k]; !exists {
			if extra == nil {
				extra = map[string]interface{}{}
			}
			extra[k] = v
		}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return body, nil
	}
	// Recognized fields always win over Extra: merge extra first, then
	// overlay the typed fields.
	var merged map[string]interface{}
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Generate always streams upstream and aggregates the chunks into one
// canonical Response, so a single upstream code path serves both the
// buffered and streaming inbound surfaces.
func (a *Adapter) Generate(ctx context.Context, req *types.Request) (*types.Response, error) {
	chunks, errs := a.GenerateStream(ctx, req)

	resp := &types.Response{Model: a.model(req)}
	toolArgs := map[int]*types.ToolCall{}
	var order []int
	var text, reasoning string
	var finish types.FinishReason

	for chunk := range chunks {
		resp.ID = chunk.ID
		resp.Created = chunk.Created
		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		if chunk.Usage != nil {
			u := *chunk.Usage
			resp.Usage = &u
		}
		for _, d := range chunk.Choices {
			text += d.Content
			reasoning += d.ReasoningContent
			for _, tc := range d.ToolCalls {
				cur, ok := toolArgs[tc.Index]
				if !ok {
					cur = &types.ToolCall{ID: tc.ID, Name: tc.Name}
					toolArgs[tc.Index] = cur
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					cur.ID = tc.ID
				}
				if tc.Name != "" {
					cur.Name = tc.Name
				}
				cur.Arguments += tc.Arguments
			}
			if d.FinishReason != "" {
				finish = d.FinishReason
			}
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}

	msg := types.Message{Role: types.RoleAssistant, ReasoningContent: reasoning}
	for _, idx := range order {
		msg.ToolCalls = append(msg.ToolCalls, *toolArgs[idx])
	}
	if text != "" || len(msg.ToolCalls) == 0 {
		msg.Content = types.TextPtr(text)
	}
	if finish == "" {
		finish = types.FinishStop
	}
	resp.Choices = []types.Choice{{Index: 0, Message: msg, FinishReason: finish}}
	return resp, nil
}

// GenerateStream issues the upstream call with stream:true and translates
// each SSE chunk into canonical StreamChunks via streamxform.
func (a *Adapter) GenerateStream(ctx context.Context, req *types.Request) (<-chan types.StreamChunk, <-chan error) {
	out := make(chan types.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		streamReq := *req
		streamReq.Stream = true
		body, err := a.buildBody(&streamReq)
		if err != nil {
			errs <- &gwerrors.UnexpectedError{Cause: err}
			return
		}

		resp, err := a.client.DoStream(ctx, "POST", "/chat/completions", map[string]string{"Accept": "text/event-stream"}, body)
		if err != nil {
			errs <- classifyNetErr(err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			errs <- classifyHTTPStatus(resp.StatusCode, data)
			return
		}

		state := streamxform.NewState(fmt.Sprintf("chatcmpl-%s", a.model(req)), a.model(req), 0)
		parser := streamxform.NewSSEParser(resp.Body)
		pendingFinish := types.FinishStop

		emitFinish := func() {
			for _, c := range streamxform.Apply(state, streamxform.Event{Type: streamxform.EventFinish, FinishReason: pendingFinish}) {
				if !sendChunk(ctx, out, c) {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			ev, err := parser.Next()
			if err != nil {
				if err != io.EOF {
					errs <- &gwerrors.StreamParseError{Message: "reading upstream SSE", Cause: err}
					return
				}
				emitFinish()
				return
			}
			if ev.IsDone() {
				emitFinish()
				return
			}

			var chunk chatChunk
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				continue // malformed event: dropped, stream continues
			}
			if state.ResponseID == fmt.Sprintf("chatcmpl-%s", a.model(req)) && chunk.ID != "" {
				state = streamxform.NewState(chunk.ID, chunk.Model, chunk.Created)
			}
			for _, nev := range mapChunkToEvents(chunk) {
				if nev.Type == streamxform.EventFinish {
					// Usage may still arrive in this or a later chunk
					// (stream_options include_usage); hold the terminal
					// chunk until [DONE] so it carries the full accounting.
					pendingFinish = nev.FinishReason
					continue
				}
				for _, c := range streamxform.Apply(state, nev) {
					if !sendChunk(ctx, out, c) {
						return
					}
				}
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

// chatChunk is the wire shape of one chat/completions streaming chunk.
type chatChunk struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// mapChunkToEvents yields usage ahead of any finish event so a chunk that
// carries both never loses its accounting to an already-closed stream.
func mapChunkToEvents(c chatChunk) []streamxform.Event {
	var events []streamxform.Event
	if c.Usage != nil {
		events = append(events, streamxform.Event{Type: streamxform.EventUsage, Usage: &types.Usage{
			PromptTokens: c.Usage.PromptTokens, CompletionTokens: c.Usage.CompletionTokens, TotalTokens: c.Usage.TotalTokens,
		}})
	}
	for _, choice := range c.Choices {
		if choice.Delta.Content != "" {
			events = append(events, streamxform.Event{Type: streamxform.EventTextDelta, Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			if tc.Function.Name != "" || tc.ID != "" {
				events = append(events, streamxform.Event{
					Type: streamxform.EventToolCallStart, ToolCallIndex: tc.Index, ToolCallID: tc.ID, ToolCallName: tc.Function.Name,
				})
			}
			if tc.Function.Arguments != "" {
				events = append(events, streamxform.Event{
					Type: streamxform.EventToolCallArgsDelta, ToolCallIndex: tc.Index, ArgsFragment: tc.Function.Arguments,
				})
			}
		}
		if choice.FinishReason != nil {
			events = append(events, streamxform.Event{Type: streamxform.EventFinish, FinishReason: transform.MapOpenAIFinishReason(*choice.FinishReason)})
		}
	}
	return events
}

func classifyNetErr(err error) error {
	return &dispatch.RetryableError{Err: err, Retryable: true}
}

func classifyHTTPStatus(status int, body []byte) error {
	msg := string(body)
	switch {
	case status == 401:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamAuthError{Provider: config.ProviderOpenAI, Cause: fmt.Errorf("%s", msg)}, Retryable: false}
	case status == 429:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamRateLimitError{Provider: config.ProviderOpenAI}, Retryable: true}
	case status >= 500:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamServerError{Provider: config.ProviderOpenAI, StatusCode: status, Cause: fmt.Errorf("%s", msg)}, Retryable: true}
	case status >= 400:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamClientError{Provider: config.ProviderOpenAI, StatusCode: status, Body: msg}, Retryable: false}
	default:
		return &gwerrors.UnexpectedError{Cause: fmt.Errorf("unexpected status %d: %s", status, msg)}
	}
}
