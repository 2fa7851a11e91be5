package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/llmgateway/internal/config"
	"github.com/digitallysavvy/llmgateway/internal/streamxform"
	"github.com/digitallysavvy/llmgateway/pkg/types"
)

func sseHandler(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
}

// Providers that report usage in the same chunk as finish_reason, or in a
// trailing include_usage chunk after it, must still see that usage on the
// terminal chunk: the finish is held until [DONE].
func TestGenerateStream_UsageAfterFinishChunkIsKept(t *testing.T) {
	srv := sseHandler(
		`data: {"id":"c1","model":"glm-4.5","choices":[{"delta":{"role":"assistant","content":"hello"}}]}` + "\n\n" +
			`data: {"id":"c1","choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
			`data: {"id":"c1","choices":[],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}` + "\n\n" +
			"data: [DONE]\n\n")
	defer srv.Close()

	a := New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "glm-4.5"})
	chunks, errs := a.GenerateStream(context.Background(), &types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: types.TextPtr("hi")}},
	})

	var usage *types.Usage
	var finish types.FinishReason
	for c := range chunks {
		if c.Usage != nil {
			usage = c.Usage
		}
		for _, d := range c.Choices {
			if d.FinishReason != "" {
				finish = d.FinishReason
			}
		}
	}
	for e := range errs {
		require.NoError(t, e)
	}

	assert.Equal(t, types.FinishStop, finish)
	require.NotNil(t, usage)
	assert.Equal(t, 2, usage.TotalTokens)
}

func TestMapChunkToEvents_TextDelta(t *testing.T) {
	var chunk chatChunk
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","choices":[{"delta":{"content":"hi"}}]}`), &chunk))
	events := mapChunkToEvents(chunk)
	require.Len(t, events, 1)
	assert.Equal(t, streamxform.EventTextDelta, events[0].Type)
	assert.Equal(t, "hi", events[0].Text)
}

func TestMapChunkToEvents_ToolCallStartAndArgs(t *testing.T) {
	raw := `{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":"{\"c\":"}}]}}]}`
	var chunk chatChunk
	require.NoError(t, json.Unmarshal([]byte(raw), &chunk))
	events := mapChunkToEvents(chunk)
	require.Len(t, events, 2)
	assert.Equal(t, streamxform.EventToolCallStart, events[0].Type)
	assert.Equal(t, streamxform.EventToolCallArgsDelta, events[1].Type)
}

func TestMapChunkToEvents_FinishReasonMapped(t *testing.T) {
	finish := "tool_calls"
	chunk := chatChunk{Choices: []struct {
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
	}{{FinishReason: &finish}}}
	events := mapChunkToEvents(chunk)
	require.Len(t, events, 1)
	assert.Equal(t, types.FinishToolCalls, events[0].FinishReason)
}

func TestBuildBody_ExtraNeverOverridesRecognizedFields(t *testing.T) {
	a := New(config.OpenAIConfig{APIKey: "sk-test", BaseURL: "http://localhost", Model: "gpt-4o"})
	req := &types.Request{
		Model:    "gpt-4o",
		Messages: []types.Message{{Role: types.RoleUser, Content: types.TextPtr("hi")}},
		Options:  types.Options{Extra: map[string]interface{}{"model": "should-not-win", "seed": 42.0}},
	}
	body, err := a.buildBody(req)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "gpt-4o", decoded["model"])
	assert.Equal(t, 42.0, decoded["seed"])
}
