package gwhttp

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/digitallysavvy/llmgateway/internal/gwerrors"
	"github.com/digitallysavvy/llmgateway/internal/transform"
	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// mountOpenAI wires the OpenAI-compatible dialect surface under /openai/v1.
func (s *Server) mountOpenAI() {
	g := s.App.Group("/openai/v1")
	g.Post("/chat/completions", s.handleChatCompletions)
	g.Post("/responses", s.handleResponses)
	g.Get("/models", s.handleModels)
}

func (s *Server) handleModels(c *fiber.Ctx) error {
	model := s.modelFor(s.cfg.AIProvider)
	return c.JSON(fiber.Map{
		"object": "list",
		"data": []fiber.Map{
			{"id": model, "object": "model", "owned_by": s.cfg.AIProvider},
		},
	})
}

func (s *Server) handleChatCompletions(c *fiber.Ctx) error {
	var body transform.OpenAIRequest
	if err := c.BodyParser(&body); err != nil {
		return bodyParseError("body", err)
	}
	if body.Model == "" {
		body.Model = s.modelFor(s.cfg.AIProvider)
	}

	req := transform.FromOpenAIRequest(body)
	if err := s.prepareRequest(req); err != nil {
		return err
	}

	if !req.Stream {
		ctx, cancel := requestContext(c, s.cfg.Gateway.RequestTimeout)
		defer cancel()
		s.limiter.Observe(s.cfg.AIProvider)
		resp, err := s.dispatch.Generate(ctx, req)
		if err != nil {
			return err
		}
		s.mergeUsage(req, resp)
		return c.JSON(toOpenAIWireResponse(*resp))
	}

	ctx, cancel := requestContext(c, s.cfg.Gateway.RequestTimeout)
	s.limiter.Observe(s.cfg.AIProvider)
	chunks, errs, err := s.dispatch.GenerateStream(ctx, req)
	if err != nil {
		cancel()
		return err
	}

	writeSSEHeaders(c)
	c.Context().SetBodyStreamWriter(streamWriter(ctx, cancel, chunks, errs, encodeOpenAIChunk, true))
	return nil
}

func encodeOpenAIChunk(chunk types.StreamChunk) ([]byte, error) {
	return json.Marshal(transform.ToOpenAIStreamChunk(chunk))
}

func toOpenAIWireResponse(resp types.Response) transform.OpenAIResponse {
	out := transform.OpenAIResponse{ID: resp.ID, Created: resp.Created, Model: resp.Model}
	for _, c := range resp.Choices {
		wireMsg := transform.OpenAIMessage{Role: string(c.Message.Role), Content: c.Message.Content, ToolCallID: c.Message.ToolCallID}
		for _, tc := range c.Message.ToolCalls {
			wireMsg.ToolCalls = append(wireMsg.ToolCalls, transform.OpenAIToolCall{
				ID: tc.ID, Type: "function",
				Function: transform.OpenAIToolCallFunc{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out.Choices = append(out.Choices, transform.OpenAIRespChoice{Index: c.Index, Message: wireMsg, FinishReason: string(c.FinishReason)})
	}
	if resp.Usage != nil {
		out.Usage = &transform.OpenAIUsage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens}
	}
	return out
}

func (s *Server) handleResponses(c *fiber.Ctx) error {
	var body transform.ResponsesRequest
	if err := c.BodyParser(&body); err != nil {
		return bodyParseError("body", err)
	}
	if body.Model == "" {
		body.Model = s.modelFor(s.cfg.AIProvider)
	}

	req := transform.FromResponsesRequest(body)
	if err := s.prepareRequest(req); err != nil {
		return err
	}

	if !req.Stream {
		ctx, cancel := requestContext(c, s.cfg.Gateway.RequestTimeout)
		defer cancel()
		s.limiter.Observe(s.cfg.AIProvider)
		resp, err := s.dispatch.Generate(ctx, req)
		if err != nil {
			return err
		}
		s.mergeUsage(req, resp)
		return c.JSON(transform.ToResponsesCompletedEvent(*resp))
	}

	ctx, cancel := requestContext(c, s.cfg.Gateway.RequestTimeout)
	s.limiter.Observe(s.cfg.AIProvider)
	chunks, errs, err := s.dispatch.GenerateStream(ctx, req)
	if err != nil {
		cancel()
		return err
	}

	writeSSEHeaders(c)
	c.Context().SetBodyStreamWriter(responsesStreamWriter(ctx, cancel, chunks, errs))
	return nil
}

// responsesStreamWriter emits named SSE events (response.delta/
// response.completed/response.error) rather than the bare `data:` frames
// chat/completions and Gemini streaming use, matching the responses
// surface's event-typed wire contract.
func responsesStreamWriter(ctx context.Context, cancel context.CancelFunc, chunks <-chan types.StreamChunk, errs <-chan error) func(w *bufio.Writer) {
	return func(w *bufio.Writer) {
		defer cancel()
		var aggregated types.Response
		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					if !writeNamedEvent(w, transform.ToResponsesCompletedEvent(aggregated)) {
						return
					}
					writeDoneFrame(w)
					return
				}
				aggregated = mergeStreamChunkIntoResponse(aggregated, chunk)
				ev := transform.ToResponsesDeltaEvent(chunk)
				if len(ev.Content) == 0 {
					continue
				}
				if !writeNamedEvent(w, ev) {
					return
				}
			case err, ok := <-errs:
				if !ok {
					continue
				}
				if err == nil {
					continue
				}
				writeNamedEvent(w, transform.ToResponsesErrorEvent(gwerrors.Kind(err), err.Error()))
				writeDoneFrame(w)
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func writeNamedEvent(w *bufio.Writer, ev transform.ResponsesEvent) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("responses event encode failed", "error", err)
		return true
	}
	if _, err := w.Write([]byte("event: " + ev.Type + "\n")); err != nil {
		return false
	}
	return writeDataFrame(w, payload)
}

// mergeStreamChunkIntoResponse folds one StreamChunk into a running
// aggregate so the terminal response.completed event carries the full text,
// finish reason, and usage rather than just the last delta. Tool-call
// fragments are not folded in, so the aggregate carries no tool calls.
func mergeStreamChunkIntoResponse(agg types.Response, chunk types.StreamChunk) types.Response {
	agg.ID = chunk.ID
	agg.Created = chunk.Created
	agg.Model = chunk.Model
	if chunk.Usage != nil {
		agg.Usage = chunk.Usage
	}
	for _, d := range chunk.Choices {
		for len(agg.Choices) <= d.Index {
			agg.Choices = append(agg.Choices, types.Choice{Index: len(agg.Choices)})
		}
		choice := agg.Choices[d.Index]
		if d.Content != "" {
			text := choice.Message.Text() + d.Content
			choice.Message.Content = types.TextPtr(text)
		}
		if d.FinishReason != "" {
			choice.FinishReason = d.FinishReason
		}
		choice.Message.Role = types.RoleAssistant
		agg.Choices[d.Index] = choice
	}
	return agg
}
