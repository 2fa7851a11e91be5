package gwhttp

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/digitallysavvy/llmgateway/internal/gwerrors"
	"github.com/digitallysavvy/llmgateway/pkg/types"
)

// chunkEncoder converts one canonical StreamChunk into the bytes a dialect's
// wire format puts on each SSE line (the Gemini and OpenAI handlers each
// supply their own). A nil payload with a nil error means the chunk
// produced no client-visible event and no frame should be written.
type chunkEncoder func(types.StreamChunk) ([]byte, error)

// streamWriter drains chunks/errs onto w as SSE frames until the channel
// pair closes, the context is cancelled (request timeout or client
// disconnect), or a write fails (the client went away mid-frame). It always
// calls cancel on return so the adapter's upstream fetch is released.
// sendDone selects the terminal convention: OpenAI-dialect clients expect a
// trailing "data: [DONE]" marker, Gemini-dialect clients a bare stream
// close.
func streamWriter(ctx context.Context, cancel context.CancelFunc, chunks <-chan types.StreamChunk, errs <-chan error, encode chunkEncoder, sendDone bool) func(w *bufio.Writer) {
	return func(w *bufio.Writer) {
		defer cancel()
		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					if sendDone {
						writeDoneFrame(w)
					}
					return
				}
				payload, err := encode(chunk)
				if err != nil {
					slog.Error("stream encode failed", "error", err)
					continue
				}
				if len(payload) == 0 {
					continue
				}
				if !writeDataFrame(w, payload) {
					return
				}
			case err, ok := <-errs:
				if !ok {
					continue
				}
				if err == nil {
					continue
				}
				writeErrorFrame(w, err, sendDone)
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func writeDataFrame(w *bufio.Writer, payload []byte) bool {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return false
	}
	if _, err := w.Write(payload); err != nil {
		return false
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return false
	}
	return w.Flush() == nil
}

func writeDoneFrame(w *bufio.Writer) {
	w.Write([]byte("data: [DONE]\n\n"))
	w.Flush()
}

// writeErrorFrame emits the structured SSE error event for mid-stream
// failures: a normal data frame carrying an error payload, followed (on
// the OpenAI dialect) by the terminal [DONE] marker so clients that only
// watch for [DONE] still terminate cleanly.
func writeErrorFrame(w *bufio.Writer, err error, sendDone bool) {
	body, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"message": err.Error(),
			"type":    gwerrors.Kind(err),
		},
	})
	writeDataFrame(w, body)
	if sendDone {
		writeDoneFrame(w)
	}
}
