package rpc

import (
	"context"
	"sync"
)

// ResponseFuture is the read-only handle for one in-flight request. It
// resolves exactly once, when the correlated response frame arrives.
// Abandoning an Await (context cancellation) does not lose the result; a
// later Await still observes it.
type ResponseFuture struct {
	uid  string
	done chan struct{}
	once sync.Once

	result Frame
	err    error
}

func newResponseFuture(uid string) *ResponseFuture {
	return &ResponseFuture{uid: uid, done: make(chan struct{})}
}

// UID returns the correlation id of the originating request.
func (f *ResponseFuture) UID() string { return f.uid }

// Await blocks until the response arrives or ctx is done.
func (f *ResponseFuture) Await(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.result, f.err
	}
}

// Done is closed once the future is resolved, for callers that race the
// response against other events in a select.
func (f *ResponseFuture) Done() <-chan struct{} { return f.done }

func (f *ResponseFuture) resolve(result Frame) {
	f.once.Do(func() {
		f.result = result
		close(f.done)
	})
}

func (f *ResponseFuture) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Future is a typed view over a ResponseFuture produced by Transform. The
// transform function runs lazily on the awaiting goroutine, at most once,
// and never when the source future failed.
type Future[T any] struct {
	src  *ResponseFuture
	fn   func(Frame) (T, error)
	once sync.Once

	value T
	err   error
}

// Transform derives a typed future that resolves to fn applied to the
// source result. A failure of the source, or of fn itself, propagates to
// the derived future; fn is never called on a failed source.
func Transform[T any](src *ResponseFuture, fn func(Frame) (T, error)) *Future[T] {
	return &Future[T]{src: src, fn: fn}
}

// UID returns the correlation id of the originating request.
func (f *Future[T]) UID() string { return f.src.uid }

// Await blocks until the source response arrives or ctx is done, then
// returns the transformed result.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	result, err := f.src.Await(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	f.once.Do(func() {
		f.value, f.err = f.fn(result)
	})
	return f.value, f.err
}
