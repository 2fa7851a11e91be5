// Package streamxform turns each provider's native stream events into the
// canonical StreamChunk sequence, owning the per-stream state: a map of
// in-flight tool-call blocks plus the accumulated text used for
// cumulative-snapshot de-duplication.
package streamxform

import (
	"strings"

	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// Phase tracks where a stream sits in its lifecycle:
// initial → streaming → finishing → closed.
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseStreaming
	PhaseFinishing
	PhaseClosed
)

// toolCallState accumulates one tool call's id/name/arguments across
// multiple provider-native delta events before they are forwarded as
// ToolCallFragments.
type toolCallState struct {
	index        int
	id           string
	name         string
	nameSent     bool
	started      bool
	argsStreamed bool
}

// State is the mutable context threaded through one active stream's
// lifetime. Callers create it with NewState and pass it to Apply; apart from
// reading its exported identity fields, they work only with the
// StreamChunks it emits.
type State struct {
	Phase Phase

	ResponseID string
	Model      string
	Created    int64

	// textSeen is the cumulative assistant text emitted so far, used by the
	// cumulative-snapshot dedup heuristic for providers that resend the
	// full text on every delta instead of an incremental slice.
	textSeen string

	// reasoningSeen mirrors textSeen for the reasoning/thinking channel.
	reasoningSeen string

	toolCalls map[int]*toolCallState

	Usage types.Usage

	FinishReason   types.FinishReason
	finalChunkSent bool

	// roleSent: the first chunk carrying any payload sets its role to
	// assistant, and no later chunk repeats it.
	roleSent bool
}

// NewState starts a fresh per-stream context for the given response id/model.
func NewState(responseID, model string, created int64) *State {
	return &State{
		Phase:      PhaseInitial,
		ResponseID: responseID,
		Model:      model,
		Created:    created,
		toolCalls:  make(map[int]*toolCallState),
	}
}

// toolCall returns the state for the given index, creating it if absent.
func (s *State) toolCall(index int) *toolCallState {
	tc, ok := s.toolCalls[index]
	if !ok {
		tc = &toolCallState{index: index}
		s.toolCalls[index] = tc
	}
	return tc
}

// FinalChunkSent reports whether the terminal chunk (the one carrying a
// non-empty FinishReason) has already been emitted; exactly one terminal
// chunk goes out per stream.
func (s *State) FinalChunkSent() bool { return s.finalChunkSent }

// MarkFinalChunkSent records that the terminal chunk has gone out.
func (s *State) MarkFinalChunkSent() {
	s.finalChunkSent = true
	s.Phase = PhaseClosed
}

// DedupText applies the prefix-trim heuristic used for providers (Anthropic,
// Codex) that may resend a cumulative snapshot rather than an incremental
// delta: a string that is a prefix of what we've already sent (a resent older
// snapshot) yields nothing; if the new full text starts with what we've
// already sent, only the suffix is new; otherwise the whole string is treated
// as new content and appended to the tracked text (per the Open Question decision recorded in
// DESIGN.md: always prefer prefix-trim over suffix-trim, since observed
// provider behavior only ever grows the snapshot).
func (s *State) DedupText(full string) string {
	return dedup(&s.textSeen, full)
}

// DedupReasoning is DedupText's counterpart for the reasoning/thinking
// channel, tracked independently since the two can interleave.
func (s *State) DedupReasoning(full string) string {
	return dedup(&s.reasoningSeen, full)
}

func dedup(seen *string, full string) string {
	if full == "" {
		return ""
	}
	if strings.HasPrefix(*seen, full) {
		// A resent snapshot of text already delivered, whole or partial.
		return ""
	}
	if strings.HasPrefix(full, *seen) {
		delta := full[len(*seen):]
		*seen = full
		return delta
	}
	// Not a prefix extension: the provider sent an incremental delta
	// directly, so the whole string is new.
	*seen += full
	return full
}
