// Package toolpairing enforces the transcript-shape rules around tool
// calls — every assistant tool call answered or removed, adjacent
// assistant turns merged — and normalizes tool-call ids across dialects
// that use incompatible id namespaces (call_* for OpenAI, toolu_* for
// Anthropic, provider-arbitrary for Codex). It is pure, stateless
// transcript analysis.
package toolpairing

import (
	"fmt"

	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// Rule names for the two transcript-shape violations Check reports.
const (
	RuleUnansweredCall = "unanswered_call" // a tool call with no matching result before the next turn
	RuleOrphanResult   = "orphan_result"   // a tool result whose id never appeared as a prior call
)

// Violation describes one place a transcript breaks the pairing rules.
type Violation struct {
	MessageIndex int
	Rule         string
	Detail       string
}

func (v Violation) Error() string {
	return fmt.Sprintf("message %d violates %s: %s", v.MessageIndex, v.Rule, v.Detail)
}

// Check walks the transcript and reports every pairing violation found.
// It does not mutate the input; callers decide whether to reject the
// request or repair it before dispatch to a provider that cannot tolerate
// a dangling call.
func Check(messages []types.Message) []Violation {
	var violations []Violation
	pending := make(map[string]int) // tool_call id -> message index it was issued at

	for i, m := range messages {
		switch m.Role {
		case types.RoleAssistant:
			for _, tc := range m.ToolCalls {
				if tc.ID == "" {
					violations = append(violations, Violation{i, RuleUnansweredCall, "tool call missing id"})
					continue
				}
				pending[tc.ID] = i
			}
		case types.RoleTool:
			if m.ToolCallID == "" {
				violations = append(violations, Violation{i, RuleOrphanResult, "tool result missing tool_call_id"})
				continue
			}
			if _, ok := pending[m.ToolCallID]; !ok {
				violations = append(violations, Violation{i, RuleOrphanResult, fmt.Sprintf("tool_call_id %q has no matching prior tool call", m.ToolCallID)})
				continue
			}
			delete(pending, m.ToolCallID)
		case types.RoleUser, types.RoleSystem:
			if len(pending) > 0 {
				for id, at := range pending {
					violations = append(violations, Violation{at, RuleUnansweredCall, fmt.Sprintf("tool call %q never received a result before message %d", id, i)})
				}
				pending = make(map[string]int)
			}
		}
	}
	for id, at := range pending {
		violations = append(violations, Violation{at, RuleUnansweredCall, fmt.Sprintf("tool call %q never received a result before end of transcript", id)})
	}
	return violations
}

// PadMissingResults inserts a synthetic tool-result message (content
// "(no result provided)") for every tool call left unanswered at the end of
// the transcript, so every call is paired before being handed to a
// provider that rejects dangling calls (Anthropic requires every tool_use
// block to be paired in the very next turn). Ordering of inserted results
// follows the order their calls were issued.
func PadMissingResults(messages []types.Message) []types.Message {
	pending := make(map[string]bool)
	var order []string

	for _, m := range messages {
		if m.Role == types.RoleAssistant {
			for _, tc := range m.ToolCalls {
				pending[tc.ID] = true
				order = append(order, tc.ID)
			}
		}
		if m.Role == types.RoleTool {
			delete(pending, m.ToolCallID)
		}
	}
	if len(pending) == 0 {
		return messages
	}

	out := make([]types.Message, len(messages), len(messages)+len(pending))
	copy(out, messages)
	for _, id := range order {
		if pending[id] {
			out = append(out, types.Message{
				Role:       types.RoleTool,
				Content:    types.TextPtr("(no result provided)"),
				ToolCallID: id,
			})
			delete(pending, id)
		}
	}
	return out
}

// MergeAdjacentAssistant merges consecutive assistant
// messages, their text contents concatenated in order and their
// ToolCalls unioned preserving call order. Non-assistant messages pass
// through untouched and reset the merge run.
func MergeAdjacentAssistant(messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleAssistant && len(out) > 0 && out[len(out)-1].Role == types.RoleAssistant {
			prev := out[len(out)-1]
			merged := prev.Text() + m.Text()
			if merged != "" {
				prev.Content = types.TextPtr(merged)
			}
			prev.ToolCalls = append(append([]types.ToolCall{}, prev.ToolCalls...), m.ToolCalls...)
			if m.ReasoningContent != "" {
				prev.ReasoningContent += m.ReasoningContent
			}
			out[len(out)-1] = prev
			continue
		}
		out = append(out, m)
	}
	return out
}

// DropUnpairedToolCalls removes dangling invocations: any
// assistant ToolCall that never received a matching tool-role result is
// stripped (text content on the same message is retained); a message left
// with neither text nor tool calls is dropped entirely. Orphan tool-result
// messages (no matching prior call) are dropped too, repairing by
// removal rather than padding — callers that need padding instead (a
// provider that cannot tolerate a gap) use PadMissingResults upstream of
// this.
func DropUnpairedToolCalls(messages []types.Message) []types.Message {
	issued := make(map[string]bool)
	for _, m := range messages {
		if m.Role == types.RoleAssistant {
			for _, tc := range m.ToolCalls {
				issued[tc.ID] = true
			}
		}
	}
	answered := make(map[string]bool)
	for _, m := range messages {
		if m.Role == types.RoleTool && m.ToolCallID != "" && issued[m.ToolCallID] {
			answered[m.ToolCallID] = true
		}
	}

	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case types.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, m)
				continue
			}
			var kept []types.ToolCall
			for _, tc := range m.ToolCalls {
				if answered[tc.ID] {
					kept = append(kept, tc)
				}
			}
			if len(kept) == 0 && !m.HasText() {
				continue // nothing left to keep
			}
			m.ToolCalls = kept
			out = append(out, m)
		case types.RoleTool:
			if m.ToolCallID == "" {
				continue
			}
			if _, ok := answered[m.ToolCallID]; !ok {
				continue
			}
			out = append(out, m)
		default:
			out = append(out, m)
		}
	}
	return out
}

// Namespace identifies a dialect's tool-call id convention.
type Namespace string

const (
	NamespaceOpenAI    Namespace = "call"
	NamespaceAnthropic Namespace = "toolu"
	NamespaceCodex     Namespace = "fc"
)

// NormalizeID rewrites one tool-call id into the target namespace by
// prefix replacement: a recognized prefix from another namespace is
// stripped and the target prefix attached, an unprefixed id just gains the
// target prefix, and an already-matching id passes through unchanged. The
// rewrite is deterministic and invertible for ids that carried a
// recognized prefix. An empty id falls back to idGen for a fresh suffix.
func NormalizeID(id string, ns Namespace, idGen func() string) string {
	if id == "" {
		return string(ns) + "_" + idGen()
	}
	suffix := id
	for _, known := range []Namespace{NamespaceOpenAI, NamespaceAnthropic, NamespaceCodex} {
		if prefix := string(known) + "_"; len(id) > len(prefix) && id[:len(prefix)] == prefix {
			if known == ns {
				return id
			}
			suffix = id[len(prefix):]
			break
		}
	}
	return string(ns) + "_" + suffix
}

// Normalize rewrites every tool-call id (and matching tool_call_id
// references) in the transcript to carry the given namespace's prefix via
// NormalizeID, and returns the old-to-new lookup table alongside. The
// adapters in this repository discard that table; ids in upstream responses
// are not translated back. It never mutates the input slice.
func Normalize(messages []types.Message, ns Namespace, idGen func() string) ([]types.Message, map[string]string) {
	mapping := make(map[string]string)
	out := make([]types.Message, len(messages))

	for i, m := range messages {
		nm := m
		if len(m.ToolCalls) > 0 {
			nm.ToolCalls = make([]types.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				newID, ok := mapping[tc.ID]
				if !ok {
					newID = NormalizeID(tc.ID, ns, idGen)
					mapping[tc.ID] = newID
				}
				nm.ToolCalls[j] = tc
				nm.ToolCalls[j].ID = newID
			}
		}
		if m.Role == types.RoleTool && m.ToolCallID != "" {
			if newID, ok := mapping[m.ToolCallID]; ok {
				nm.ToolCallID = newID
			}
		}
		out[i] = nm
	}
	return out, mapping
}
