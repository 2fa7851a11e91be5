package streamxform

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SSEEvent is one parsed server-sent-event frame.
type SSEEvent struct {
	Event string
	Data  string
	ID    string
	Retry int
}

// IsDone reports whether the event is the stream's terminal marker, either
// an explicit "[DONE]" data payload (OpenAI/Codex convention) or an
// "event: done" frame.
func (e SSEEvent) IsDone() bool {
	return e.Data == "[DONE]" || e.Event == "done"
}

// SSEParser reads an upstream byte stream and yields SSEEvent frames,
// reassembling multi-line "data:" fields and tolerating partial reads split
// mid-frame across TCP segments.
type SSEParser struct {
	scanner *bufio.Scanner
}

// NewSSEParser wraps r in a line-oriented scanner sized for the large JSON
// payloads some providers pack into a single data: line.
func NewSSEParser(r io.Reader) *SSEParser {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	return &SSEParser{scanner: scanner}
}

// Next returns the next complete event, io.EOF at stream end, or a scan
// error. Blank lines terminate a frame; comment lines (leading ':') and
// unrecognized fields are ignored rather than treated as parse failures.
func (p *SSEParser) Next() (*SSEEvent, error) {
	var ev SSEEvent
	var dataLines []string
	sawAny := false

	for p.scanner.Scan() {
		line := p.scanner.Text()
		if line == "" {
			if sawAny {
				ev.Data = strings.Join(dataLines, "\n")
				return &ev, nil
			}
			continue
		}
		sawAny = true
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Event = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			ev.ID = value
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				ev.Retry = n
			}
		}
	}
	if err := p.scanner.Err(); err != nil {
		return nil, err
	}
	if sawAny {
		ev.Data = strings.Join(dataLines, "\n")
		return &ev, nil
	}
	return nil, io.EOF
}

// SSEWriter frames outbound events in the same wire format, for the
// gateway's own client-facing streaming responses.
type SSEWriter struct {
	w io.Writer
}

// NewSSEWriter wraps w (typically a fiber fasthttp stream writer).
func NewSSEWriter(w io.Writer) *SSEWriter {
	return &SSEWriter{w: w}
}

// WriteData writes an anonymous "data:" frame.
func (w *SSEWriter) WriteData(data string) error {
	_, err := fmt.Fprintf(w.w, "data: %s\n\n", data)
	return err
}

// WriteNamedEvent writes an "event:"/"data:" pair, as Anthropic's dialect
// requires for every frame.
func (w *SSEWriter) WriteNamedEvent(event, data string) error {
	_, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// WriteDone writes the OpenAI-style terminal marker.
func (w *SSEWriter) WriteDone() error {
	return w.WriteData("[DONE]")
}
