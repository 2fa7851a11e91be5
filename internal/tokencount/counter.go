// Package tokencount implements the gateway's token estimator: a cached
// tiktoken-go encoder per model, a model-to-encoding lookup table, and a
// character-based fallback for providers tiktoken has no encoding for.
package tokencount

import (
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/digitallysavvy/llmgateway/pkg/types"
)

const defaultEncoding = "cl100k_base"

// Per-message chat overhead, following OpenAI's counting convention.
const (
	messageOverhead = 4
	replyPriming    = 2
)

// heuristicCharsPerToken is the fallback ratio used whenever no tiktoken
// encoding applies. Anthropic and Codex report their own usage, so the
// local estimate only fills gaps; it does not need to be exact.
const heuristicCharsPerToken = 4

// encodingForModel maps a subset of well-known model name prefixes to a
// tiktoken encoding. Anthropic/Codex model names are deliberately absent:
// Count falls back to the character heuristic for anything unmatched.
var encodingForModel = map[string]string{
	"gpt-4o":       "o200k_base",
	"gpt-4.1":      "o200k_base",
	"o1":           "o200k_base",
	"o3":           "o200k_base",
	"gpt-4":        "cl100k_base",
	"gpt-3.5":      "cl100k_base",
	"text-davinci": "p50k_base",
}

// Counter estimates token counts for canonical messages and raw text. It
// caches one tiktoken encoder per encoding name, since constructing an
// encoder loads and parses a BPE rank file.
type Counter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// New returns a Counter with an empty encoder cache.
func New() *Counter {
	return &Counter{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// encodingFor resolves a model name to a tiktoken encoding name, or "" if
// the model should use the character heuristic instead. The longest matching
// prefix wins, so "gpt-4o-mini" resolves via "gpt-4o", not "gpt-4".
func encodingFor(model string) string {
	best, bestLen := "", 0
	for prefix, enc := range encodingForModel {
		if len(prefix) > bestLen && len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			best, bestLen = enc, len(prefix)
		}
	}
	return best
}

func (c *Counter) encoder(encoding string) (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encoders[encoding]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		enc, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			return nil, err
		}
		encoding = defaultEncoding
	}
	c.encoders[encoding] = enc
	return enc, nil
}

// Count returns the estimated token count of a single string of text for
// the given model, using tiktoken when the model has a known encoding and
// the chars/4 heuristic otherwise.
func (c *Counter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	encoding := encodingFor(model)
	if encoding == "" {
		return int(math.Ceil(float64(len(text)) / heuristicCharsPerToken))
	}
	enc, err := c.encoder(encoding)
	if err != nil {
		return int(math.Ceil(float64(len(text)) / heuristicCharsPerToken))
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessages returns the estimated prompt token count for a full
// canonical request, including per-message role/formatting overhead and
// tool-call argument text, following OpenAI's chat counting convention.
func (c *Counter) CountMessages(model string, messages []types.Message) int {
	if len(messages) == 0 {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += messageOverhead
		total += c.Count(model, m.Text())
		total += c.Count(model, m.ReasoningContent)
		for _, tc := range m.ToolCalls {
			total += c.Count(model, tc.Name) + c.Count(model, tc.Arguments) + 1
		}
	}
	total += replyPriming
	return total
}

// CountFragments returns the sum of Count over every text fragment, with no
// per-message role overhead or tool-call text folded in. This is what the
// client-visible countTokens endpoint reports; CountMessages' chat-formatting
// estimate is a separate, heavier number used only for the internal
// combine_usage cross-check against a provider's reported usage.
func (c *Counter) CountFragments(model string, fragments []string) int {
	total := 0
	for _, f := range fragments {
		total += c.Count(model, f)
	}
	return total
}

// CombineUsage merges an upstream-reported Usage with a locally-estimated
// one: upstream-reported counts always win when present and non-zero, since
// they reflect the provider's own tokenizer; the local estimate only fills
// in fields the provider omitted.
func CombineUsage(reported *types.Usage, estimatedPrompt, estimatedCompletion int) types.Usage {
	if reported == nil {
		u := types.Usage{PromptTokens: estimatedPrompt, CompletionTokens: estimatedCompletion}
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		return u
	}
	out := *reported
	if out.PromptTokens == 0 {
		out.PromptTokens = estimatedPrompt
	}
	if out.CompletionTokens == 0 {
		out.CompletionTokens = estimatedCompletion
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}
