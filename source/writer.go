/*
Package source provides a push-style byte source that can be attached to the stdin of a subprocess.

Bytes are pushed with Write, WriteBuffer or WriteLine and never block the caller; the consumer pulls them with Read.
Read returns io.EOF after Close once every pushed byte has been consumed.
*/
package source

import (
	"errors"
	"io"
	"sync"

	"github.com/guseggert/procpipe/future"
	"golang.org/x/text/encoding"
)

// ErrClosed is returned when pushing to a closed Writer.
var ErrClosed = errors.New("write to closed source")

type Writer struct {
	separator string
	encoding  encoding.Encoding

	mut    sync.Mutex
	chunks [][]byte
	closed bool
	err    error
	signal *future.Future[struct{}]
}

type Option func(w *Writer)

// WithSeparator sets what WriteLine appends to each line. Defaults to "\n".
func WithSeparator(sep string) Option {
	return func(w *Writer) {
		w.separator = sep
	}
}

// WithEncoding encodes lines passed to WriteLine with enc instead of writing them as UTF-8.
func WithEncoding(enc encoding.Encoding) Option {
	return func(w *Writer) {
		w.encoding = enc
	}
}

func NewWriter(opts ...Option) *Writer {
	w := &Writer{
		separator: "\n",
		signal:    future.New[struct{}](),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// WriteBuffer queues a copy of b.
func (w *Writer) WriteBuffer(b []byte) error {
	w.mut.Lock()
	defer w.mut.Unlock()
	if w.closed {
		return ErrClosed
	}
	if len(b) == 0 {
		return nil
	}
	chunk := make([]byte, len(b))
	copy(chunk, b)
	w.chunks = append(w.chunks, chunk)
	_ = w.signal.Resolve(struct{}{})
	return nil
}

func (w *Writer) Write(b []byte) (int, error) {
	if err := w.WriteBuffer(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// WriteLine queues line followed by the separator.
func (w *Writer) WriteLine(line string) error {
	s := line + w.separator
	if w.encoding == nil {
		return w.WriteBuffer([]byte(s))
	}
	b, err := w.encoding.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return err
	}
	return w.WriteBuffer(b)
}

// Close marks the end of the stream. Bytes already queued are still delivered.
func (w *Writer) Close() error {
	return w.CloseWithError(nil)
}

// CloseWithError ends the stream with err, which Read returns after the queued bytes instead of io.EOF.
func (w *Writer) CloseWithError(err error) error {
	w.mut.Lock()
	defer w.mut.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.err = err
	_ = w.signal.Resolve(struct{}{})
	return nil
}

func (w *Writer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		w.mut.Lock()
		if len(w.chunks) > 0 {
			n := copy(p, w.chunks[0])
			if n < len(w.chunks[0]) {
				w.chunks[0] = w.chunks[0][n:]
			} else {
				w.chunks = w.chunks[1:]
			}
			w.mut.Unlock()
			return n, nil
		}
		if w.closed {
			err := w.err
			w.mut.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		signal := w.signal
		w.mut.Unlock()

		<-signal.Done()

		w.mut.Lock()
		if w.signal == signal {
			w.signal = future.New[struct{}]()
		}
		w.mut.Unlock()
	}
}
