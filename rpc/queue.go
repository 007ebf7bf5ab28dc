package rpc

import (
	"context"
	"sync"
)

// frameQueue is an unbounded FIFO of frames with one consumer at a time.
// pop is cancellation safe: a frame is only dequeued once it is returned,
// so an abandoned pop never loses a frame.
type frameQueue struct {
	mu    sync.Mutex
	items []Frame
	ready chan struct{} // capacity 1, raised while items may be present
}

func newFrameQueue() *frameQueue {
	return &frameQueue{ready: make(chan struct{}, 1)}
}

func (q *frameQueue) push(f Frame) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.mu.Unlock()
	q.signal()
}

func (q *frameQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop returns the next frame in FIFO order, blocking until one is available
// or ctx is done.
func (q *frameQueue) pop(ctx context.Context) (Frame, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			f := q.items[0]
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return f, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// drain removes and returns everything currently queued.
func (q *frameQueue) drain() []Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
