package process

import (
	"bytes"
	"sync"

	"github.com/core-tools/hsu-quaestor/pkg/logging"
)

// maxLineLength bounds the buffer of a line that never ends
const maxLineLength = 64 * 1024

// lineLogger is an io.Writer that forwards complete lines of child output
// to the logger.
type lineLogger struct {
	logger logging.Logger
	id     string
	stream string

	mutex   sync.Mutex
	pending []byte
}

func newLineLogger(logger logging.Logger, id, stream string) *lineLogger {
	return &lineLogger{
		logger: logger,
		id:     id,
		stream: stream,
	}
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(w.pending[:i])
		w.pending = w.pending[i+1:]
	}
	if len(w.pending) > maxLineLength {
		w.emit(w.pending)
		w.pending = nil
	}
	return len(p), nil
}

func (w *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	w.logger.Debugf("[%s %s] %s", w.id, w.stream, line)
}
