package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/guseggert/procpipe/future"
)

// ErrOverflow is returned by Buffer once the configured maximum size has been exceeded.
var ErrOverflow = errors.New("buffer max size exceeded")

// Buffer is a terminal sink that accumulates everything written to it.
// Once the optional maximum size is exceeded the buffer is failed: the write that crossed the ceiling
// is still recorded, then ErrOverflow is returned from that write and from every later one.
// Bytes after an overflow therefore includes the crossing chunk and may exceed the maximum size;
// only writes after it are dropped.
type Buffer struct {
	maxSize int

	mut    sync.Mutex
	chunks [][]byte
	size   int
	closed bool
	err    error
	done   *future.Future[struct{}]
}

type BufferOption func(b *Buffer)

// WithMaxSize sets the maximum number of bytes the buffer accepts. Zero or negative means unlimited.
func WithMaxSize(n int) BufferOption {
	return func(b *Buffer) {
		b.maxSize = n
	}
}

func NewBuffer(opts ...BufferOption) *Buffer {
	b := &Buffer{done: future.New[struct{}]()}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	if b.closed {
		return 0, ErrClosed
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)

	if b.maxSize > 0 && b.size > b.maxSize {
		b.err = fmt.Errorf("%w: max size %d, got %d bytes", ErrOverflow, b.maxSize, b.size)
		_ = b.done.Reject(b.err)
		return len(p), b.err
	}
	return len(p), nil
}

// Close marks the end of writes and releases everyone blocked in Wait.
func (b *Buffer) Close() error {
	b.mut.Lock()
	defer b.mut.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.err == nil {
		_ = b.done.Resolve(struct{}{})
	}
	return nil
}

// CloseWithError fails the buffer, Wait returns err from now on.
func (b *Buffer) CloseWithError(err error) error {
	b.mut.Lock()
	defer b.mut.Unlock()
	b.closed = true
	if b.err == nil {
		b.err = err
	}
	_ = b.done.Reject(b.err)
	return nil
}

// Bytes returns the concatenation of every recorded chunk. It can be called at any time, including before Close.
func (b *Buffer) Bytes() []byte {
	b.mut.Lock()
	defer b.mut.Unlock()
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

func (b *Buffer) String() string {
	return string(b.Bytes())
}

func (b *Buffer) Len() int {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.size
}

// Wait blocks until the buffer has been closed and returns its contents.
func (b *Buffer) Wait(ctx context.Context) ([]byte, error) {
	_, err := b.done.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (b *Buffer) WaitString(ctx context.Context) (string, error) {
	out, err := b.Wait(ctx)
	return string(out), err
}
