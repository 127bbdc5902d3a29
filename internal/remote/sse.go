// ABOUTME: Minimal server-sent events reader for gateway live streams
// ABOUTME: Joins multi-line data fields and skips comment lines

package remote

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxEventSize bounds a single SSE line; snapshot events carry whole match sets.
const maxEventSize = 16 << 20

// sseEvent represents a parsed Server-Sent Event.
type sseEvent struct {
	Type string
	Data string
}

type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return &sseReader{scanner: scanner}
}

// Next returns the next complete event. It returns io.EOF when the stream
// ends cleanly between events.
func (s *sseReader) Next() (sseEvent, error) {
	var eventType string
	var dataLines []string

	for s.scanner.Scan() {
		line := s.scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if len(dataLines) > 0 {
				if eventType == "" {
					eventType = "message"
				}
				return sseEvent{Type: eventType, Data: strings.Join(dataLines, "\n")}, nil
			}
			eventType = ""
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment, used for keepalives
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := s.scanner.Err(); err != nil {
		return sseEvent{}, fmt.Errorf("reading SSE stream: %w", err)
	}
	return sseEvent{}, io.EOF
}
