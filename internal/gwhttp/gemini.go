package gwhttp

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/digitallysavvy/llmgateway/internal/gwerrors"
	"github.com/digitallysavvy/llmgateway/internal/tokencount"
	"github.com/digitallysavvy/llmgateway/internal/toolpairing"
	"github.com/digitallysavvy/llmgateway/internal/transform"
	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// mountGemini wires the Gemini generateContent/streamGenerateContent/
// countTokens surface under /api/v1/gemini/models/:model.
func (s *Server) mountGemini() {
	g := s.App.Group("/api/v1/gemini/models")
	g.Post("/:model\\:generateContent", s.handleGeminiGenerate)
	g.Post("/:model\\:streamGenerateContent", s.handleGeminiStream)
	g.Post("/:model\\:countTokens", s.handleGeminiCountTokens)
}

func bodyParseError(context string, err error) error {
	ve := &gwerrors.ValidationError{}
	ve.Add(context, err.Error())
	return ve
}

func (s *Server) handleGeminiGenerate(c *fiber.Ctx) error {
	var body transform.GeminiRequest
	if err := c.BodyParser(&body); err != nil {
		return bodyParseError("body", err)
	}

	req := transform.FromGeminiRequest(c.Params("model"), body)
	if err := s.prepareRequest(req); err != nil {
		return err
	}

	ctx, cancel := requestContext(c, s.cfg.Gateway.RequestTimeout)
	defer cancel()

	s.limiter.Observe(s.cfg.AIProvider)
	resp, err := s.dispatch.Generate(ctx, req)
	if err != nil {
		return err
	}
	s.mergeUsage(req, resp)
	return c.JSON(transform.ToGeminiResponse(*resp))
}

// mergeUsage fills any usage fields the provider omitted from local
// tokenizer estimates, so clients always see a complete accounting triple.
func (s *Server) mergeUsage(req *types.Request, resp *types.Response) {
	estPrompt := s.tokens.CountMessages(req.Model, req.Messages)
	estCompletion := 0
	for _, choice := range resp.Choices {
		estCompletion += s.tokens.Count(req.Model, choice.Message.Text())
		estCompletion += s.tokens.Count(req.Model, choice.Message.ReasoningContent)
	}
	merged := tokencount.CombineUsage(resp.Usage, estPrompt, estCompletion)
	resp.Usage = &merged
}

// handleGeminiCountTokens returns the sum of Count over every text
// fragment in the request, read straight off the wire body's parts rather
// than through the canonical Message (which joins a content's parts into
// one string, losing the per-fragment boundaries).
func (s *Server) handleGeminiCountTokens(c *fiber.Ctx) error {
	var body transform.GeminiRequest
	if err := c.BodyParser(&body); err != nil {
		return bodyParseError("body", err)
	}
	var fragments []string
	if body.SystemInstruction != nil {
		fragments = append(fragments, textFragments(body.SystemInstruction.Parts)...)
	}
	for _, content := range body.Contents {
		fragments = append(fragments, textFragments(content.Parts)...)
	}
	count := s.tokens.CountFragments(c.Params("model"), fragments)
	return c.JSON(fiber.Map{"totalTokens": count})
}

// textFragments returns the non-empty text of each part, skipping
// function-call/response/media parts: non-text parts contribute 0.
func textFragments(parts []transform.GeminiPart) []string {
	var out []string
	for _, p := range parts {
		if p.Text != "" {
			out = append(out, p.Text)
		}
	}
	return out
}

func (s *Server) handleGeminiStream(c *fiber.Ctx) error {
	var body transform.GeminiRequest
	if err := c.BodyParser(&body); err != nil {
		return bodyParseError("body", err)
	}

	req := transform.FromGeminiRequest(c.Params("model"), body)
	req.Stream = true
	if err := s.prepareRequest(req); err != nil {
		return err
	}

	ctx, cancel := requestContext(c, s.cfg.Gateway.RequestTimeout)
	s.limiter.Observe(s.cfg.AIProvider)
	chunks, errs, err := s.dispatch.GenerateStream(ctx, req)
	if err != nil {
		cancel()
		return err
	}

	writeSSEHeaders(c)
	enc := transform.NewGeminiStreamEncoder()
	encode := func(chunk types.StreamChunk) ([]byte, error) {
		ev, ok := enc.Encode(chunk)
		if !ok {
			return nil, nil
		}
		return json.Marshal(ev)
	}
	c.Context().SetBodyStreamWriter(streamWriter(ctx, cancel, chunks, errs, encode, false))
	return nil
}

// prepareRequest applies the shared tool-pairing repair step every inbound
// dialect needs before dispatch: a provider handed a transcript with a
// dangling tool call either rejects it outright or silently loses context,
// so the gateway repairs it here rather than per-adapter: adjacent assistant
// turns are merged, unanswered calls and orphan results are dropped, and
// missing results are padded only if Check still reports a violation after
// that. A transcript that does not open with a user turn gets a synthetic
// "Continue" turn.
func (s *Server) prepareRequest(req *types.Request) error {
	req.Messages = toolpairing.MergeAdjacentAssistant(req.Messages)
	req.Messages = toolpairing.DropUnpairedToolCalls(req.Messages)
	if violations := toolpairing.Check(req.Messages); len(violations) > 0 {
		req.Messages = toolpairing.PadMissingResults(req.Messages)
	}
	if len(req.Messages) == 0 {
		req.Messages = []types.Message{{Role: types.RoleUser, Content: types.TextPtr("Continue")}}
	}
	// Providers reject a transcript whose first non-system turn is not
	// user; pad with a synthetic "Continue" turn when needed.
	for i, m := range req.Messages {
		if m.Role == types.RoleSystem {
			continue
		}
		if m.Role != types.RoleUser {
			padded := make([]types.Message, 0, len(req.Messages)+1)
			padded = append(padded, req.Messages[:i]...)
			padded = append(padded, types.Message{Role: types.RoleUser, Content: types.TextPtr("Continue")})
			padded = append(padded, req.Messages[i:]...)
			req.Messages = padded
		}
		break
	}
	if req.Model == "" {
		return bodyParseError("model", errMissingModel)
	}
	return nil
}

var errMissingModel = errors.New("model is required")
