package executor

import (
	"bytes"
	"strings"
)

// lineWriter splits a process stream into lines. It keeps the full output
// and hands every line to the optional callback.
type lineWriter struct {
	e       *Impl
	stream  string
	onLine  func(string)
	out     strings.Builder
	pending []byte
}

func (e *Impl) newLineWriter(stream string, onLine func(string)) *lineWriter {
	return &lineWriter{e: e, stream: stream, onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)

	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.pending[:i]))
		w.pending = w.pending[i+1:]
	}

	if len(w.pending) > maxLineSize {
		w.emit(string(w.pending))
		w.pending = nil
	}

	return len(p), nil
}

// flush emits a final line that had no trailing newline.
func (w *lineWriter) flush() {
	if len(w.pending) == 0 {
		return
	}
	w.emit(string(w.pending))
	w.pending = nil
}

func (w *lineWriter) String() string {
	return w.out.String()
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimSuffix(line, "\r")
	w.out.WriteString(line)
	w.out.WriteByte('\n')

	w.e.logger.Trace().Str("stream", w.stream).Msg(Redact(line))

	if w.onLine != nil {
		w.onLine(line)
	}
}
