package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineScannerSplitsAcrossWrites(t *testing.T) {
	var lines []string
	s := NewLineScanner(func(line string) { lines = append(lines, line) })

	_, _ = s.Write([]byte("[PROGRESS] 10"))
	_, _ = s.Write([]byte(" percent\r\npartial"))
	assert.Equal(t, []string{"[PROGRESS] 10 percent"}, lines)

	s.Flush()
	assert.Equal(t, []string{"[PROGRESS] 10 percent", "partial"}, lines)
}

func TestLineScannerFlushEmpty(t *testing.T) {
	calls := 0
	s := NewLineScanner(func(string) { calls++ })
	s.Flush()
	assert.Zero(t, calls)
}
