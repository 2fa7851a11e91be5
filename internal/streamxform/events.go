package streamxform

import (
	"github.com/google/uuid"

	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// EventType enumerates the normalized events every provider adapter reduces
// its native stream down to before handing it to streamxform.
type EventType int

const (
	EventTextDelta EventType = iota
	EventReasoningDelta
	EventToolCallStart
	EventToolCallArgsDelta
	EventToolCallDone
	EventUsage
	EventFinish
	EventError
)

// Event is the provider-agnostic stream event fed into Apply. Adapters are
// responsible for mapping their wire format onto this shape; streamxform
// owns everything downstream of that mapping.
type Event struct {
	Type EventType

	// Text/Reasoning carry either an incremental delta or a cumulative
	// snapshot; State.DedupText/DedupReasoning normalize either shape.
	Text      string
	Reasoning string

	// ToolCall fields apply to EventToolCallStart/ArgsDelta/Done.
	ToolCallIndex int
	ToolCallID    string
	ToolCallName  string
	ArgsFragment  string

	// FinalArgs carries tool_call_done's complete argument string, for
	// providers (e.g. Codex's response.output_item.done) that only ever
	// surface arguments once, in full, rather than as incremental deltas.
	FinalArgs string

	Usage        *types.Usage
	FinishReason types.FinishReason
	Err          error
}

// Apply folds one normalized provider event into the stream's state and
// returns zero or more canonical StreamChunks to forward to the client. Most
// events produce exactly one chunk; EventToolCallStart produces one chunk
// carrying only the id+name (names and ids are announced once, before any
// argument fragments).
func Apply(s *State, ev Event) []types.StreamChunk {
	if s.Phase == PhaseClosed {
		return nil
	}
	s.Phase = PhaseStreaming

	switch ev.Type {
	case EventTextDelta:
		delta := s.DedupText(ev.Text)
		if delta == "" {
			return nil
		}
		return []types.StreamChunk{s.chunk(types.DeltaChoice{Content: delta})}

	case EventReasoningDelta:
		delta := s.DedupReasoning(ev.Reasoning)
		if delta == "" {
			return nil
		}
		return []types.StreamChunk{s.chunk(types.DeltaChoice{ReasoningContent: delta})}

	case EventToolCallStart:
		tc := s.toolCall(ev.ToolCallIndex)
		tc.id = ev.ToolCallID
		if tc.id == "" {
			tc.id = "call_" + uuid.NewString()
		}
		tc.name = ev.ToolCallName
		tc.started = true
		tc.nameSent = true
		return []types.StreamChunk{s.chunk(types.DeltaChoice{
			ToolCalls: []types.ToolCallFragment{{
				Index: ev.ToolCallIndex,
				ID:    tc.id,
				Name:  tc.name,
			}},
		})}

	case EventToolCallArgsDelta:
		if ev.ArgsFragment == "" {
			return nil
		}
		tc := s.toolCall(ev.ToolCallIndex)
		tc.argsStreamed = true
		if !tc.started {
			// Provider streamed arguments before an explicit start event;
			// synthesize the announcement first so id+name still go out
			// exactly once before any fragment.
			tc.started = true
			if tc.id == "" {
				tc.id = "call_" + uuid.NewString()
			}
			return []types.StreamChunk{s.chunk(types.DeltaChoice{
				ToolCalls: []types.ToolCallFragment{
					{Index: ev.ToolCallIndex, ID: tc.id, Name: tc.name},
					{Index: ev.ToolCallIndex, Arguments: ev.ArgsFragment},
				},
			})}
		}
		return []types.StreamChunk{s.chunk(types.DeltaChoice{
			ToolCalls: []types.ToolCallFragment{{Index: ev.ToolCallIndex, Arguments: ev.ArgsFragment}},
		})}

	case EventToolCallDone:
		// If no argument fragment was ever streamed for
		// this call, final_args is the only chance to deliver arguments at
		// all, so emit it here (announcing id/name first if that never
		// happened either, e.g. a provider whose only tool-call event is
		// the done event). If args already streamed incrementally, this is
		// a no-op: the client already has everything.
		tc := s.toolCall(ev.ToolCallIndex)
		if ev.ToolCallID != "" {
			tc.id = ev.ToolCallID
		}
		if ev.ToolCallName != "" {
			tc.name = ev.ToolCallName
		}
		if tc.argsStreamed || ev.FinalArgs == "" {
			return nil
		}
		var frags []types.ToolCallFragment
		if !tc.started {
			tc.started = true
			if tc.id == "" {
				tc.id = "call_" + uuid.NewString()
			}
			frags = append(frags, types.ToolCallFragment{Index: ev.ToolCallIndex, ID: tc.id, Name: tc.name})
		}
		frags = append(frags, types.ToolCallFragment{Index: ev.ToolCallIndex, Arguments: ev.FinalArgs})
		tc.argsStreamed = true
		return []types.StreamChunk{s.chunk(types.DeltaChoice{ToolCalls: frags})}

	case EventUsage:
		if ev.Usage != nil {
			s.Usage = s.Usage.Add(*ev.Usage)
		}
		return nil

	case EventFinish:
		if s.FinalChunkSent() {
			return nil
		}
		reason := ev.FinishReason
		if len(s.toolCalls) > 0 && (reason == "" || reason == types.FinishStop) {
			// Providers whose terminal reason is ambiguous (end_turn and
			// friends) still ran tool calls; the client must see tool_calls.
			reason = types.FinishToolCalls
		}
		s.FinishReason = reason
		s.Phase = PhaseFinishing
		usage := s.Usage
		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		}
		chunk := s.chunk(types.DeltaChoice{FinishReason: reason})
		chunk.Usage = &usage
		s.MarkFinalChunkSent()
		return []types.StreamChunk{chunk}
	}
	return nil
}

// chunk wraps a delta into a StreamChunk: the first chunk for this choice
// that carries any payload gets role=assistant, and it is never repeated
// on later chunks.
func (s *State) chunk(delta types.DeltaChoice) types.StreamChunk {
	delta.Index = 0
	if !s.roleSent {
		delta.Role = types.RoleAssistant
		s.roleSent = true
	}
	return types.StreamChunk{
		ID:      s.ResponseID,
		Created: s.Created,
		Model:   s.Model,
		Choices: []types.DeltaChoice{delta},
	}
}
