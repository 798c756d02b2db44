// Package sse implements the server-sent-event framing shared by the
// OpenAI-compatible and Anthropic provider dialects.
//
// Frame grammar: lines of the form "data: <json>" terminated by a blank
// line per event; "event: <name>" lines are also recognised (the
// Anthropic dialect names its events); everything else is ignored.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Frame is one decoded SSE event: Event is empty for dialects (like the
// OpenAI one) that don't name their events.
type Frame struct {
	Event string
	Data  string
}

// Scanner decodes an io.Reader into a sequence of Frames. It is a
// one-shot, non-restartable sequence: Next returns false permanently
// once the stream ends or io.EOF is reached mid-frame.
type Scanner struct {
	r    *bufio.Reader
	done bool
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next reads the next frame. It returns false (with err possibly nil)
// once the stream is exhausted.
func (s *Scanner) Next() (Frame, bool, error) {
	if s.done {
		return Frame{}, false, nil
	}

	var fr Frame
	var dataLines []string
	sawAny := false

	for {
		line, err := s.r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if line == "" && err == nil {
			// blank line: event terminator, only meaningful if we saw data
			if sawAny {
				fr.Data = strings.Join(dataLines, "\n")
				return fr, true, nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "data:"):
			sawAny = true
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			fr.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		default:
			// ignore id:, retry:, comments, and any unrecognised line
		}

		if err != nil {
			s.done = true
			if sawAny {
				fr.Data = strings.Join(dataLines, "\n")
				if err == io.EOF {
					return fr, true, nil
				}
				return fr, true, err
			}
			if err == io.EOF {
				return Frame{}, false, nil
			}
			return Frame{}, false, err
		}
	}
}

// IsDone reports whether payload is the sentinel "[DONE]" frame.
func IsDone(data string) bool {
	return strings.TrimSpace(data) == "[DONE]"
}
