/*
Package future provides a single-resolution value that can be waited on from any number of goroutines.

A Future starts pending and is settled exactly once, either with a value (Resolve) or with an error (Reject).
Settling an already settled Future is a misuse; it leaves the stored outcome untouched and returns ErrSettled.
*/
package future

import (
	"context"
	"errors"
	"sync"
)

// ErrSettled is returned when Resolve or Reject is called on a Future that has already been settled.
var ErrSettled = errors.New("future already settled")

type Future[T any] struct {
	mut     sync.Mutex
	done    chan struct{}
	settled bool
	val     T
	err     error
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future that is already settled with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	_ = f.Resolve(v)
	return f
}

// Rejected returns a Future that is already settled with err.
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	_ = f.Reject(err)
	return f
}

func (f *Future[T]) settle(v T, err error) error {
	f.mut.Lock()
	defer f.mut.Unlock()
	if f.settled {
		return ErrSettled
	}
	f.settled = true
	f.val = v
	f.err = err
	close(f.done)
	return nil
}

func (f *Future[T]) Resolve(v T) error {
	return f.settle(v, nil)
}

// Reject settles the future with err. A nil err is replaced so that waiters can always tell a rejection apart.
func (f *Future[T]) Reject(err error) error {
	if err == nil {
		err = errors.New("future rejected with nil error")
	}
	var zero T
	return f.settle(zero, err)
}

// Done returns a channel that is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future is settled or ctx is done.
// It may be called any number of times and always returns the same outcome once settled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
