package codex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/llmgateway/internal/config"
	"github.com/digitallysavvy/llmgateway/internal/dispatch"
	"github.com/digitallysavvy/llmgateway/pkg/types"
)

func sseHandler(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
}

func newTestAdapter(baseURL string) *Adapter {
	return New(config.CodexConfig{AuthMode: "ApiKey", APIKey: "sk-test", BaseURL: baseURL, Model: "codex-test"}, nil)
}

// A Codex function call whose arguments arrive only at
// response.output_item.done (no response.function_call_arguments.delta at
// all) must still reach the client as one tool_calls delta carrying the
// full arguments.
func TestGenerateStream_ToolCallArgsOnlyAtOutputItemDone(t *testing.T) {
	srv := sseHandler(
		`data: {"type":"response.created","response":{"id":"resp_1","model":"codex-test"}}` + "\n\n" +
			`data: {"type":"response.output_item.done","output_index":0,"item":{"type":"function_call","call_id":"call_1","name":"get_weather","arguments":"{\"city\":\"NYC\"}"}}` + "\n\n" +
			`data: {"type":"response.completed","response":{"usage":{"input_tokens":5,"output_tokens":7}}}` + "\n\n")
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	resp, err := a.Generate(context.Background(), &types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: types.TextPtr("weather?")}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	tc := resp.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "get_weather", tc.Name)
	assert.Equal(t, `{"city":"NYC"}`, tc.Arguments)
	assert.Equal(t, types.FinishToolCalls, resp.Choices[0].FinishReason)
}

// When arguments are streamed incrementally via
// response.function_call_arguments.delta, the trailing
// response.output_item.done must not re-emit (and thus must not duplicate)
// the arguments already delivered.
func TestGenerateStream_ToolCallArgsStreamedThenDoneIsNoop(t *testing.T) {
	srv := sseHandler(
		`data: {"type":"response.created","response":{"id":"resp_1","model":"codex-test"}}` + "\n\n" +
			`data: {"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"city\":"}` + "\n\n" +
			`data: {"type":"response.function_call_arguments.delta","output_index":0,"delta":"\"NYC\"}"}` + "\n\n" +
			`data: {"type":"response.output_item.done","output_index":0,"item":{"type":"function_call","call_id":"call_1","name":"get_weather","arguments":"{\"city\":\"NYC\"}"}}` + "\n\n" +
			`data: {"type":"response.completed","response":{"usage":{"input_tokens":5,"output_tokens":7}}}` + "\n\n")
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	resp, err := a.Generate(context.Background(), &types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: types.TextPtr("weather?")}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	tc := resp.Choices[0].Message.ToolCalls[0]
	assert.Equal(t, `{"city":"NYC"}`, tc.Arguments, "arguments must not be duplicated by the done event")
}

func TestGenerateStream_AuthErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	_, errs := a.GenerateStream(context.Background(), &types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: types.TextPtr("hi")}},
	})
	err := <-errs
	require.Error(t, err)
	assert.False(t, dispatch.IsRetryable(err))
}
