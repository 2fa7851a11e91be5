// Package codex adapts the canonical Request/Response to the ChatGPT-Codex
// "responses" API: the upstream call is always streamed, and its response.*
// event schema is folded into the shared normalized event taxonomy.
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"

	"github.com/google/uuid"

	"github.com/digitallysavvy/llmgateway/internal/chatgptauth"
	"github.com/digitallysavvy/llmgateway/internal/config"
	"github.com/digitallysavvy/llmgateway/internal/dispatch"
	"github.com/digitallysavvy/llmgateway/internal/gwerrors"
	"github.com/digitallysavvy/llmgateway/internal/httpclient"
	"github.com/digitallysavvy/llmgateway/internal/streamxform"
	"github.com/digitallysavvy/llmgateway/internal/toolpairing"
	"github.com/digitallysavvy/llmgateway/internal/transform"
	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// Adapter implements dispatch.Adapter for the ChatGPT-Codex responses API.
type Adapter struct {
	cfg    config.CodexConfig
	client *httpclient.Client
	auth   *chatgptauth.Manager // nil unless AuthMode == "ChatGPT"
}

// New builds an Adapter. auth may be nil when AuthMode is "ApiKey".
func New(cfg config.CodexConfig, auth *chatgptauth.Manager) *Adapter {
	headers := map[string]string{
		"content-type": "application/json",
		"originator":   "codex_cli_go",
		"User-Agent":   userAgent(),
	}
	for k, v := range stainlessHeaders() {
		headers[k] = v
	}
	if cfg.AuthMode != "ChatGPT" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &Adapter{
		cfg:    cfg,
		client: httpclient.New(httpclient.Config{BaseURL: cfg.BaseURL, Headers: headers}),
		auth:   auth,
	}
}

// userAgent identifies the client the way the reference CLI does: name,
// version, then OS, arch, and terminal.
func userAgent() string {
	term := os.Getenv("TERM_PROGRAM")
	if term == "" {
		term = "unknown"
	}
	return fmt.Sprintf("codex_cli_go/%s (%s; %s) %s", "0.1.0", runtime.GOOS, runtime.GOARCH, term)
}

// stainlessHeaders are the opaque client-identification headers the
// reference CLI clients send and the upstream accepts.
func stainlessHeaders() map[string]string {
	return map[string]string{
		"X-Stainless-Lang":            "go",
		"X-Stainless-Package-Version": "0.1.0",
		"X-Stainless-OS":              runtime.GOOS,
		"X-Stainless-Arch":            runtime.GOARCH,
		"X-Stainless-Runtime":         "go",
		"X-Stainless-Runtime-Version": runtime.Version(),
	}
}

// Name returns the provider name used in config/Registry.
func (a *Adapter) Name() string { return config.ProviderCodex }

func (a *Adapter) model(req *types.Request) string {
	if req.Model != "" {
		return req.Model
	}
	return a.cfg.Model
}

func (a *Adapter) requestHeaders(req *types.Request, retryAfter401 bool) (map[string]string, error) {
	headers := map[string]string{"Accept": "text/event-stream"}
	if a.cfg.AuthMode != "ChatGPT" {
		return headers, nil
	}
	var h chatgptauth.Headers
	var err error
	if retryAfter401 {
		h, err = a.auth.ForceRefresh()
	} else {
		h, err = a.auth.GetHeaders()
	}
	if err != nil {
		return nil, &gwerrors.UpstreamAuthError{Provider: config.ProviderCodex, Cause: err}
	}
	headers["Authorization"] = h.Authorization
	if h.AccountID != "" {
		headers["chatgpt-account-id"] = h.AccountID
	}
	return headers, nil
}

func (a *Adapter) buildBody(req *types.Request) ([]byte, error) {
	normalized := *req
	normalized.Messages, _ = toolpairing.Normalize(req.Messages, toolpairing.NamespaceCodex, uuid.NewString)
	wire := transform.ToCodexRequest(&normalized, transform.CodexOptions{
		Reasoning:      transform.CodexReasoning{Effort: a.cfg.Reasoning.Effort, Summary: a.cfg.Reasoning.Summary},
		TextVerbosity:  a.cfg.TextVerbosity,
		PromptCacheKey: "conv-" + a.model(req),
	})
	wire.Model = a.model(req)
	return json.Marshal(wire)
}

// Generate runs the always-streaming upstream call to completion and
// synthesizes a single canonical Response from the accumulated state.
func (a *Adapter) Generate(ctx context.Context, req *types.Request) (*types.Response, error) {
	chunks, errs := a.GenerateStream(ctx, req)

	agg := transform.CodexAggregate{Model: a.model(req)}
	var toolArgs = map[int]*types.ToolCall{}
	var order []int

	for chunk := range chunks {
		agg.ID = chunk.ID
		agg.Created = chunk.Created
		for _, d := range chunk.Choices {
			agg.Text += d.Content
			agg.Reasoning += d.ReasoningContent
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
				agg.FinishReason = d.FinishReason
			}
		}
		if chunk.Usage != nil {
			agg.Usage = agg.Usage.Add(*chunk.Usage)
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}

	for _, idx := range order {
		agg.ToolCalls = append(agg.ToolCalls, *toolArgs[idx])
	}
	out := transform.FromCodexAggregate(agg)
	return &out, nil
}

// GenerateStream issues the upstream /responses call and translates each
// response.* event into canonical StreamChunks.
func (a *Adapter) GenerateStream(ctx context.Context, req *types.Request) (<-chan types.StreamChunk, <-chan error) {
	out := make(chan types.StreamChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		body, err := a.buildBody(req)
		if err != nil {
			errs <- &gwerrors.UnexpectedError{Cause: err}
			return
		}
		resp, authErr := a.doRequest(ctx, body, false)
		if authErr != nil {
			errs <- authErr
			return
		}
		defer resp.Body.Close()

		state := streamxform.NewState("", a.model(req), 0)
		sawText := false
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

			var envelope struct {
				Type string `json:"type"`
			}
			if json.Unmarshal([]byte(sseEv.Data), &envelope) != nil {
				continue
			}

			switch envelope.Type {
			case "response.created":
				var payload struct {
					Response struct {
						ID    string `json:"id"`
						Model string `json:"model"`
					} `json:"response"`
				}
				if json.Unmarshal([]byte(sseEv.Data), &payload) == nil {
					state = streamxform.NewState(payload.Response.ID, payload.Response.Model, 0)
				}

			case "response.reasoning_text.delta":
				var payload struct {
					Delta string `json:"delta"`
				}
				if json.Unmarshal([]byte(sseEv.Data), &payload) == nil {
					for _, c := range streamxform.Apply(state, streamxform.Event{Type: streamxform.EventReasoningDelta, Reasoning: payload.Delta}) {
						if !sendChunk(ctx, out, c) {
							return
						}
					}
				}

			case "response.output_text.delta":
				var payload struct {
					Delta string `json:"delta"`
				}
				if json.Unmarshal([]byte(sseEv.Data), &payload) == nil {
					sawText = true
					for _, c := range streamxform.Apply(state, streamxform.Event{Type: streamxform.EventTextDelta, Text: payload.Delta}) {
						if !sendChunk(ctx, out, c) {
							return
						}
					}
				}

			case "response.function_call_arguments.delta":
				var payload struct {
					OutputIndex int    `json:"output_index"`
					Delta       string `json:"delta"`
				}
				if json.Unmarshal([]byte(sseEv.Data), &payload) == nil {
					for _, c := range streamxform.Apply(state, streamxform.Event{Type: streamxform.EventToolCallArgsDelta, ToolCallIndex: payload.OutputIndex, ArgsFragment: payload.Delta}) {
						if !sendChunk(ctx, out, c) {
							return
						}
					}
				}

			case "response.output_item.done":
				var payload struct {
					OutputIndex int `json:"output_index"`
					Item        struct {
						Type      string `json:"type"`
						CallID    string `json:"call_id"`
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
						Content   []struct {
							Type string `json:"type"`
							Text string `json:"text"`
						} `json:"content"`
					} `json:"item"`
				}
				if json.Unmarshal([]byte(sseEv.Data), &payload) != nil {
					continue
				}
				switch payload.Item.Type {
				case "function_call":
					for _, c := range streamxform.Apply(state, streamxform.Event{
						Type: streamxform.EventToolCallDone, ToolCallIndex: payload.OutputIndex,
						ToolCallID: payload.Item.CallID, ToolCallName: payload.Item.Name, FinalArgs: payload.Item.Arguments,
					}) {
						if !sendChunk(ctx, out, c) {
							return
						}
					}
				case "message":
					// The done event carries a cumulative snapshot; only
					// emit its text when no delta text arrived first.
					if !sawText {
						var text string
						for _, part := range payload.Item.Content {
							text += part.Text
						}
						for _, c := range streamxform.Apply(state, streamxform.Event{Type: streamxform.EventTextDelta, Text: text}) {
							if !sendChunk(ctx, out, c) {
								return
							}
						}
					}
				}

			case "response.completed":
				var payload struct {
					Response struct {
						Usage struct {
							InputTokens  int `json:"input_tokens"`
							OutputTokens int `json:"output_tokens"`
						} `json:"usage"`
					} `json:"response"`
				}
				json.Unmarshal([]byte(sseEv.Data), &payload)
				for _, c := range streamxform.Apply(state, streamxform.Event{Type: streamxform.EventUsage, Usage: &types.Usage{
					PromptTokens: payload.Response.Usage.InputTokens, CompletionTokens: payload.Response.Usage.OutputTokens,
				}}) {
					if !sendChunk(ctx, out, c) {
						return
					}
				}
				for _, c := range streamxform.Apply(state, streamxform.Event{Type: streamxform.EventFinish, FinishReason: types.FinishStop}) {
					if !sendChunk(ctx, out, c) {
						return
					}
				}
				return

			case "response.error":
				errs <- &gwerrors.UnexpectedError{Cause: fmt.Errorf("codex stream error: %s", sseEv.Data)}
				return
			}

			if sseEv.IsDone() {
				return
			}
		}
	}()

	return out, errs
}

func (a *Adapter) doRequest(ctx context.Context, body []byte, retryAfter401 bool) (*http.Response, error) {
	headers, err := a.requestHeaders(nil, retryAfter401)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.DoStream(ctx, "POST", "/responses", headers, body)
	if err != nil {
		return nil, &dispatch.RetryableError{Err: err, Retryable: true}
	}
	if resp.StatusCode == 401 && a.cfg.AuthMode == "ChatGPT" && !retryAfter401 {
		resp.Body.Close()
		return a.doRequest(ctx, body, true)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, classifyHTTPStatus(resp.StatusCode, data)
	}
	return resp, nil
}

func sendChunk(ctx context.Context, out chan<- types.StreamChunk, c types.StreamChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func classifyHTTPStatus(status int, body []byte) error {
	msg := string(body)
	switch {
	case status == 401:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamAuthError{Provider: config.ProviderCodex, Cause: fmt.Errorf("%s", msg)}, Retryable: false}
	case status == 429:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamRateLimitError{Provider: config.ProviderCodex}, Retryable: true}
	case status >= 500:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamServerError{Provider: config.ProviderCodex, StatusCode: status, Cause: fmt.Errorf("%s", msg)}, Retryable: true}
	case status >= 400:
		return &dispatch.RetryableError{Err: &gwerrors.UpstreamClientError{Provider: config.ProviderCodex, StatusCode: status, Body: msg}, Retryable: false}
	default:
		return &gwerrors.UnexpectedError{Cause: fmt.Errorf("unexpected status %d: %s", status, msg)}
	}
}
