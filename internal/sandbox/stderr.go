package sandbox

import (
	"bufio"
	"io"
	"sync"

	"github.com/imyashkale/mcphost/internal/logger"
)

const (
	stderrLineLimit = 100
	stderrLineBytes = 1024
)

// stderrBuffer keeps the most recent stderr lines of a process
type stderrBuffer struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func newStderrBuffer(limit int) *stderrBuffer {
	return &stderrBuffer{
		lines: make([]string, 0, limit),
		limit: limit,
	}
}

// add appends a line, dropping the oldest once the limit is reached
func (b *stderrBuffer) add(line string) {
	if len(line) > stderrLineBytes {
		line = line[:stderrLineBytes] + "...(truncated)"
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lines) == b.limit {
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:b.limit-1]
	}
	b.lines = append(b.lines, line)
}

// Lines returns a copy of the buffered lines, oldest first
func (b *stderrBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.lines) == 0 {
		return nil
	}
	linesCopy := make([]string, len(b.lines))
	copy(linesCopy, b.lines)
	return linesCopy
}

// drain reads r line by line until EOF. It runs on its own goroutine so a
// chatty process can never stall the monitor.
func (b *stderrBuffer) drain(r io.Reader, pid int) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		b.add(line)
		logger.WithFields(map[string]interface{}{
			"pid":    pid,
			"stderr": line,
		}).Debug("Sandboxed process stderr")
	}
	// Keep the pipe flowing after an oversized line
	io.Copy(io.Discard, r)
}
