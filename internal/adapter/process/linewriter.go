package process

import (
	"bytes"
	"strings"
	"sync"
)

// lineWriter splits a byte stream into lines on '\n' or '\r'. A partial line
// is held back until its terminator arrives, so callers never see a line
// split across two writes.
type lineWriter struct {
	mu      sync.Mutex
	pending []byte
	full    bytes.Buffer
	last    string
	onLine  func(string)
}

func newLineWriter(onLine func(string)) *lineWriter {
	return &lineWriter{onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.full.Write(p)
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexAny(w.pending, "\r\n")
		if i < 0 {
			break
		}
		w.emit(string(w.pending[:i]))
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Flush emits any unterminated trailing line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.emit(string(w.pending))
		w.pending = nil
	}
}

func (w *lineWriter) emit(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	w.last = line
	if w.onLine != nil {
		w.onLine(line)
	}
}

// String returns everything written so far.
func (w *lineWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.full.String()
}

// LastLine returns the last non-empty line seen.
func (w *lineWriter) LastLine() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(w.last)
}
