package streamxform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/llmgateway/pkg/types"
)

func TestApply_TextDeltaPassthrough(t *testing.T) {
	s := NewState("resp_1", "gpt-test", 100)

	chunks := Apply(s, Event{Type: EventTextDelta, Text: "Hello"})
	require.Len(t, chunks, 1)
	assert.Equal(t, "Hello", chunks[0].Choices[0].Content)

	chunks = Apply(s, Event{Type: EventTextDelta, Text: " world"})
	require.Len(t, chunks, 1)
	assert.Equal(t, " world", chunks[0].Choices[0].Content)
}

func TestApply_CumulativeSnapshotDedup(t *testing.T) {
	s := NewState("resp_1", "claude-test", 100)

	chunks := Apply(s, Event{Type: EventTextDelta, Text: "The quick"})
	require.Len(t, chunks, 1)
	assert.Equal(t, "The quick", chunks[0].Choices[0].Content)

	// Provider resends the full snapshot instead of an incremental delta.
	chunks = Apply(s, Event{Type: EventTextDelta, Text: "The quick brown fox"})
	require.Len(t, chunks, 1)
	assert.Equal(t, " brown fox", chunks[0].Choices[0].Content)
}

func TestApply_ToolCallAnnouncedBeforeArgs(t *testing.T) {
	s := NewState("resp_1", "gpt-test", 100)

	chunks := Apply(s, Event{Type: EventToolCallStart, ToolCallIndex: 0, ToolCallID: "call_1", ToolCallName: "get_weather"})
	require.Len(t, chunks, 1)
	tc := chunks[0].Choices[0].ToolCalls[0]
	assert.Equal(t, "call_1", tc.ID)
	assert.Equal(t, "get_weather", tc.Name)
	assert.Empty(t, tc.Arguments)

	chunks = Apply(s, Event{Type: EventToolCallArgsDelta, ToolCallIndex: 0, ArgsFragment: `{"city":`})
	require.Len(t, chunks, 1)
	assert.Equal(t, `{"city":`, chunks[0].Choices[0].ToolCalls[0].Arguments)
	assert.Empty(t, chunks[0].Choices[0].ToolCalls[0].ID)
}

func TestApply_ArgsBeforeStartSynthesizesAnnouncement(t *testing.T) {
	s := NewState("resp_1", "claude-test", 100)

	chunks := Apply(s, Event{Type: EventToolCallArgsDelta, ToolCallIndex: 0, ArgsFragment: `{"a":1}`})
	require.Len(t, chunks, 1)
	require.Len(t, chunks[0].Choices[0].ToolCalls, 2)
	assert.Empty(t, chunks[0].Choices[0].ToolCalls[0].Name)
	assert.Equal(t, `{"a":1}`, chunks[0].Choices[0].ToolCalls[1].Arguments)
}

func TestApply_FinishIsSentExactlyOnce(t *testing.T) {
	s := NewState("resp_1", "gpt-test", 100)

	chunks := Apply(s, Event{Type: EventUsage, Usage: &types.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8}})
	assert.Empty(t, chunks)

	chunks = Apply(s, Event{Type: EventFinish, FinishReason: types.FinishStop})
	require.Len(t, chunks, 1)
	assert.Equal(t, types.FinishStop, chunks[0].Choices[0].FinishReason)
	require.NotNil(t, chunks[0].Usage)
	assert.Equal(t, 8, chunks[0].Usage.TotalTokens)
	assert.True(t, s.FinalChunkSent())

	// A second finish, or any further event, must not emit another chunk.
	chunks = Apply(s, Event{Type: EventFinish, FinishReason: types.FinishStop})
	assert.Empty(t, chunks)
	chunks = Apply(s, Event{Type: EventTextDelta, Text: "late"})
	assert.Empty(t, chunks)
}

func TestApply_ResentOlderSnapshotIsSuppressed(t *testing.T) {
	s := NewState("resp_1", "claude-test", 100)

	chunks := Apply(s, Event{Type: EventTextDelta, Text: "Hello world"})
	require.Len(t, chunks, 1)

	// A resend of text already delivered must not reach the client again.
	chunks = Apply(s, Event{Type: EventTextDelta, Text: "Hello"})
	assert.Empty(t, chunks)
	chunks = Apply(s, Event{Type: EventTextDelta, Text: "Hello world"})
	assert.Empty(t, chunks)
}

func TestApply_AmbiguousFinishWithToolCallsBecomesToolCalls(t *testing.T) {
	s := NewState("resp_1", "claude-test", 100)

	Apply(s, Event{Type: EventToolCallStart, ToolCallIndex: 0, ToolCallID: "toolu_1", ToolCallName: "f"})
	Apply(s, Event{Type: EventToolCallArgsDelta, ToolCallIndex: 0, ArgsFragment: "{}"})

	chunks := Apply(s, Event{Type: EventFinish, FinishReason: types.FinishStop})
	require.Len(t, chunks, 1)
	assert.Equal(t, types.FinishToolCalls, chunks[0].Choices[0].FinishReason)
}

func TestApply_FirstChunkCarriesRoleLaterChunksDoNot(t *testing.T) {
	s := NewState("resp_1", "gpt-test", 100)

	chunks := Apply(s, Event{Type: EventTextDelta, Text: "Hi"})
	require.Len(t, chunks, 1)
	assert.Equal(t, types.RoleAssistant, chunks[0].Choices[0].Role)

	chunks = Apply(s, Event{Type: EventTextDelta, Text: " there"})
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Choices[0].Role)

	chunks = Apply(s, Event{Type: EventFinish, FinishReason: types.FinishStop})
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Choices[0].Role)
}

func TestSSEParser_MultiLineDataAndDone(t *testing.T) {
	raw := "event: message\ndata: {\"a\":1,\ndata: \"b\":2}\n\ndata: [DONE]\n\n"
	p := NewSSEParser(strings.NewReader(raw))

	ev, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Event)
	assert.Equal(t, "{\"a\":1,\n\"b\":2}", ev.Data)

	ev, err = p.Next()
	require.NoError(t, err)
	assert.True(t, ev.IsDone())
}
