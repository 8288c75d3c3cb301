package sink

import (
	"context"
	"io"
	"sync"

	"github.com/guseggert/procpipe/future"
)

// LineReader is a line-splitting sink with a pull interface: lines written to it are queued,
// and ReadLine hands them out in arrival order.
type LineReader struct {
	lines *LineCallback

	mut    sync.Mutex
	queue  []string
	closed bool
	err    error
	// signal fires when a line arrives or the reader is closed. A future only fires once, so it is replaced after each wakeup.
	signal *future.Future[struct{}]
}

// NewLineReader accepts the same options as NewLineCallback.
func NewLineReader(opts ...LineOption) *LineReader {
	r := &LineReader{signal: future.New[struct{}]()}
	r.lines = NewLineCallback(r.push, r.finish, opts...)
	return r
}

func (r *LineReader) push(line string) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.queue = append(r.queue, line)
	_ = r.signal.Resolve(struct{}{})
	return nil
}

func (r *LineReader) finish() error {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.closed = true
	_ = r.signal.Resolve(struct{}{})
	return nil
}

func (r *LineReader) Write(b []byte) (int, error) {
	return r.lines.Write(b)
}

// Close flushes a trailing partial line and marks the end of the stream.
func (r *LineReader) Close() error {
	return r.lines.Close()
}

// CloseWithError ends the stream with err: ReadLine drains the queued lines, then returns err instead of io.EOF.
func (r *LineReader) CloseWithError(err error) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.err = err
	_ = r.signal.Resolve(struct{}{})
	return nil
}

// ReadLine returns the next line, blocking until one is available.
// After the reader is closed and every queued line has been returned, it returns io.EOF.
func (r *LineReader) ReadLine(ctx context.Context) (string, error) {
	for {
		r.mut.Lock()
		if len(r.queue) > 0 {
			line := r.queue[0]
			r.queue = r.queue[1:]
			r.mut.Unlock()
			return line, nil
		}
		if r.closed {
			err := r.err
			r.mut.Unlock()
			if err != nil {
				return "", err
			}
			return "", io.EOF
		}
		signal := r.signal
		r.mut.Unlock()

		if _, err := signal.Wait(ctx); err != nil {
			return "", err
		}

		r.mut.Lock()
		if r.signal == signal {
			r.signal = future.New[struct{}]()
		}
		r.mut.Unlock()
	}
}
