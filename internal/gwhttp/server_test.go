package gwhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/llmgateway/internal/config"
	"github.com/digitallysavvy/llmgateway/internal/dispatch"
	"github.com/digitallysavvy/llmgateway/pkg/types"
)

type fakeAdapter struct {
	name     string
	response *types.Response
	chunks   []types.StreamChunk
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Generate(ctx context.Context, req *types.Request) (*types.Response, error) {
	return f.response, nil
}

func (f *fakeAdapter) GenerateStream(ctx context.Context, req *types.Request) (<-chan types.StreamChunk, <-chan error) {
	ch := make(chan types.StreamChunk, len(f.chunks))
	errs := make(chan error)
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	close(errs)
	return ch, errs
}

func testServer(t *testing.T, apiMode string, adapter *fakeAdapter) *Server {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Gateway.APIMode = apiMode
	cfg.OpenAI.APIKey = "sk-test"
	d := dispatch.New(cfg, dispatch.Registry{config.ProviderOpenAI: adapter})
	return New(cfg, d)
}

func doRequest(t *testing.T, s *Server, method, path string, body []byte) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHealth_ReportsGatewayMode(t *testing.T) {
	s := testServer(t, "gemini", &fakeAdapter{name: config.ProviderOpenAI})
	resp := doRequest(t, s, http.MethodGet, "/health", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	gw := body["gateway"].(map[string]interface{})
	assert.Equal(t, "gemini", gw["apiMode"])
}

func TestGeminiGenerate_ReturnsCandidates(t *testing.T) {
	resp := &types.Response{
		ID: "r1",
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.Message{Role: types.RoleAssistant, Content: types.TextPtr("hello")},
			FinishReason: types.FinishStop,
		}},
	}
	s := testServer(t, "gemini", &fakeAdapter{name: config.ProviderOpenAI, response: resp})

	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	httpResp := doRequest(t, s, http.MethodPost, "/api/v1/gemini/models/gemini-2.5-pro:generateContent", body)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	raw, _ := io.ReadAll(httpResp.Body)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	candidates := decoded["candidates"].([]interface{})
	require.Len(t, candidates, 1)
	candidate := candidates[0].(map[string]interface{})
	assert.Equal(t, "STOP", candidate["finishReason"])
}

func TestLegacyBetaPath_RewritesToV1(t *testing.T) {
	resp := &types.Response{Choices: []types.Choice{{Message: types.Message{Role: types.RoleAssistant, Content: types.TextPtr("hi")}}}}
	s := testServer(t, "gemini", &fakeAdapter{name: config.ProviderOpenAI, response: resp})

	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	httpResp := doRequest(t, s, http.MethodPost, "/api/v1beta/gemini/models/gemini-2.5-pro:generateContent", body)
	defer httpResp.Body.Close()
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
}

func TestChatCompletions_NonStream(t *testing.T) {
	resp := &types.Response{
		ID:      "chatcmpl-1",
		Choices: []types.Choice{{Message: types.Message{Role: types.RoleAssistant, Content: types.TextPtr("hi there")}, FinishReason: types.FinishStop}},
	}
	s := testServer(t, "openai", &fakeAdapter{name: config.ProviderOpenAI, response: resp})

	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	httpResp := doRequest(t, s, http.MethodPost, "/openai/v1/chat/completions", body)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	var decoded transformResponseEnvelope
	raw, _ := io.ReadAll(httpResp.Body)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Choices, 1)
	assert.Equal(t, "hi there", *decoded.Choices[0].Message.Content)
}

func TestModels_ListsConfiguredModel(t *testing.T) {
	s := testServer(t, "openai", &fakeAdapter{name: config.ProviderOpenAI})
	httpResp := doRequest(t, s, http.MethodGet, "/openai/v1/models", nil)
	defer httpResp.Body.Close()
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)

	var decoded map[string]interface{}
	raw, _ := io.ReadAll(httpResp.Body)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "list", decoded["object"])
}

func TestGeminiStream_EmitsEventsWithoutDoneMarker(t *testing.T) {
	chunks := []types.StreamChunk{
		{ID: "r1", Choices: []types.DeltaChoice{{Role: types.RoleAssistant, Content: "hel"}}},
		{ID: "r1", Choices: []types.DeltaChoice{{Content: "lo"}}},
		{ID: "r1", Choices: []types.DeltaChoice{{FinishReason: types.FinishStop}}},
	}
	s := testServer(t, "gemini", &fakeAdapter{name: config.ProviderOpenAI, chunks: chunks})

	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	httpResp := doRequest(t, s, http.MethodPost, "/api/v1/gemini/models/gemini-2.5-pro:streamGenerateContent", body)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)
	assert.Equal(t, "text/event-stream", httpResp.Header.Get("Content-Type"))

	raw, _ := io.ReadAll(httpResp.Body)
	text := string(raw)
	assert.Contains(t, text, `"text":"hel"`)
	assert.Contains(t, text, `"finishReason":"STOP"`)
	assert.NotContains(t, text, "[DONE]")
}

func TestChatCompletionsStream_EndsWithDoneMarker(t *testing.T) {
	chunks := []types.StreamChunk{
		{ID: "c1", Choices: []types.DeltaChoice{{Role: types.RoleAssistant, Content: "hi"}}},
		{ID: "c1", Choices: []types.DeltaChoice{{FinishReason: types.FinishStop}}},
	}
	s := testServer(t, "openai", &fakeAdapter{name: config.ProviderOpenAI, chunks: chunks})

	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"stream":true}`)
	httpResp := doRequest(t, s, http.MethodPost, "/openai/v1/chat/completions", body)
	defer httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	raw, _ := io.ReadAll(httpResp.Body)
	text := string(raw)
	assert.Contains(t, text, `"content":"hi"`)
	assert.Contains(t, text, "data: [DONE]\n\n")
}

func TestGeminiGenerate_MissingModelRejected(t *testing.T) {
	s := testServer(t, "gemini", &fakeAdapter{name: config.ProviderOpenAI})
	body := []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	httpResp := doRequest(t, s, http.MethodPost, "/api/v1/gemini/models/:generateContent", body)
	defer httpResp.Body.Close()
	assert.NotEqual(t, http.StatusOK, httpResp.StatusCode)
}

// transformResponseEnvelope mirrors just the fields the chat/completions
// test needs to assert on, avoiding an import of the internal transform
// package's unexported wire details.
type transformResponseEnvelope struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
