package moon

import (
	"bytes"
	"io"
	"sync"
)

type flusher interface {
	Flush() error
}

// Output is the writer scripts see as "out". It writes through to the
// context writer and flushes it after every line.
type Output struct {
	mu sync.Mutex
	w  io.Writer
}

// NewOutput wraps w, returning w itself when it already is an *Output.
func NewOutput(w io.Writer) *Output {
	if out, ok := w.(*Output); ok {
		return out
	}
	return &Output{w: w}
}

func (o *Output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, err := o.w.Write(p)
	if err != nil {
		return n, err
	}
	if bytes.IndexByte(p, '\n') >= 0 {
		err = o.flushLocked()
	}
	return n, err
}

func (o *Output) WriteString(s string) (int, error) {
	return o.Write([]byte(s))
}

func (o *Output) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flushLocked()
}

func (o *Output) flushLocked() error {
	if f, ok := o.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Unwrap returns the underlying writer.
func (o *Output) Unwrap() io.Writer { return o.w }
