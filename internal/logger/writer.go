package logger

import (
	"bytes"
	"context"
	"sync"

	"go.uber.org/zap/zapcore"
)

// LineWriter forwards whole lines written to it into the context logger.
// A trailing partial line is held until the next newline or Flush.
type LineWriter struct {
	ctx   context.Context //nolint:containedctx // The writer is bound to one command run.
	level zapcore.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLineWriter creates a LineWriter logging at level.
func NewLineWriter(ctx context.Context, level zapcore.Level) *LineWriter {
	return &LineWriter{
		ctx:   ctx,
		level: level,
	}
}

// Write implements io.Writer.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)

	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// Put the partial line back.
			w.buf.Write(line)
			break
		}

		w.emit(bytes.TrimRight(line, "\r\n"))
	}

	return len(p), nil
}

// Flush logs whatever partial line is still buffered.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return
	}

	w.emit(bytes.TrimRight(w.buf.Bytes(), "\r\n"))
	w.buf.Reset()
}

func (w *LineWriter) emit(line []byte) {
	if len(line) == 0 {
		return
	}

	FromContext(w.ctx).Logw(w.level, string(line))
}
