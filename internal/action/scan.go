package action

import (
	"bytes"
	"sync"
)

// LineScanner splits a write stream into lines and hands each to a callback.
// It is safe for concurrent writes; callers Flush once the stream ends to
// deliver a trailing unterminated line.
type LineScanner struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	handler func(line string)
}

func NewLineScanner(handler func(line string)) *LineScanner {
	return &LineScanner{handler: handler}
}

func (s *LineScanner) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Write(p)
	for {
		line, err := s.buf.ReadString('\n')
		if err != nil {
			// Partial line: keep it buffered for the next write.
			s.buf.WriteString(line)
			break
		}
		s.handler(trimEOL(line))
	}
	return len(p), nil
}

// Flush delivers any trailing unterminated line.
func (s *LineScanner) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Len() > 0 {
		s.handler(trimEOL(s.buf.String()))
		s.buf.Reset()
	}
}

func trimEOL(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
