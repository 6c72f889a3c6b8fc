// Package transport implements the HTTP plumbing shared by the provider
// adapters: a retrying round-tripper with auth header injection, HTTP error
// normalization, and a Server-Sent Events decoder.
package transport

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// DoneSentinel is the terminal data payload of OpenAI-style streams.
const DoneSentinel = "[DONE]"

// SSEEvent is one decoded server-sent event.
type SSEEvent struct {
	Name string
	Data string
}

// Done reports whether the event is the [DONE] sentinel.
func (e SSEEvent) Done() bool { return e.Data == DoneSentinel }

// SSEDecoder turns a byte stream into events. It holds no I/O: feed it bytes
// with Write and drain decoded events with Next. This keeps retry and
// partial-read handling outside the parser.
type SSEDecoder struct {
	buf    bytes.Buffer
	events []SSEEvent

	name string
	data []string
}

// Write feeds raw bytes into the decoder.
func (d *SSEDecoder) Write(p []byte) (int, error) {
	d.buf.Write(p)
	d.drain(false)
	return len(p), nil
}

// Flush dispatches any event left unterminated at end of stream.
func (d *SSEDecoder) Flush() {
	d.drain(true)
	d.dispatch()
}

// Next returns the next decoded event, or false when none are buffered.
func (d *SSEDecoder) Next() (SSEEvent, bool) {
	if len(d.events) == 0 {
		return SSEEvent{}, false
	}
	ev := d.events[0]
	d.events = d.events[1:]
	return ev, true
}

func (d *SSEDecoder) drain(final bool) {
	for {
		line, err := d.readLine(final)
		if err != nil {
			return
		}
		d.consumeLine(line)
	}
}

func (d *SSEDecoder) readLine(final bool) (string, error) {
	raw := d.buf.Bytes()
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		if final && len(raw) > 0 {
			d.buf.Reset()
			return string(raw), nil
		}
		return "", io.EOF
	}
	line := string(raw[:idx])
	d.buf.Next(idx + 1)
	return strings.TrimSuffix(line, "\r"), nil
}

func (d *SSEDecoder) consumeLine(line string) {
	switch {
	case line == "":
		d.dispatch()
	case strings.HasPrefix(line, ":"):
		// comment, ignored
	case strings.HasPrefix(line, "event:"):
		d.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		d.data = append(d.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	}
}

func (d *SSEDecoder) dispatch() {
	if len(d.data) == 0 && d.name == "" {
		return
	}
	d.events = append(d.events, SSEEvent{
		Name: d.name,
		Data: strings.Join(d.data, "\n"),
	})
	d.name = ""
	d.data = nil
}

// SSEReader adapts an io.Reader into a stream of events using SSEDecoder.
type SSEReader struct {
	dec SSEDecoder
	r   *bufio.Reader
	eof bool
}

// NewSSEReader wraps r for event-at-a-time reading.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{r: bufio.NewReader(r)}
}

// Next returns the next event or io.EOF when the stream is exhausted.
func (s *SSEReader) Next() (SSEEvent, error) {
	for {
		if ev, ok := s.dec.Next(); ok {
			return ev, nil
		}
		if s.eof {
			return SSEEvent{}, io.EOF
		}
		chunk := make([]byte, 4096)
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.dec.Write(chunk[:n])
		}
		if err != nil {
			s.eof = true
			s.dec.Flush()
			if err != io.EOF {
				return SSEEvent{}, err
			}
		}
	}
}
