// Package rpc implements the Pug wire protocol: one persistent bidirectional
// channel multiplexing correlated request/response calls and symmetric
// logical streams. JSON text frames, string correlation ids.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Error types
var (
	ErrNotConnected = errors.New("channel not connected")
	ErrStreamClosed = errors.New("stream is already closed")
)

// Frame is one discrete message on the wire: a string-keyed mapping with at
// least a "type" discriminator. The engine treats everything beyond
// type/uid/kind as opaque payload.
type Frame map[string]any

// Channel is a bidirectional exchange of protocol frames with an explicit
// connect/close lifecycle.
type Channel interface {
	// Connect establishes the transport. Connecting an already open
	// channel is a no-op.
	Connect(ctx context.Context) error

	// Close tears the transport down. Safe to call multiple times and
	// from cleanup paths.
	Close() error

	// Send enqueues a frame for delivery and returns without blocking on
	// network I/O. Fails with ErrNotConnected when the channel is down.
	Send(f Frame) error

	// Recv blocks until the next inbound frame arrives. Returns io.EOF
	// when the remote end closes cleanly. Closing the channel locally
	// unblocks a pending Recv with a transport error.
	Recv() (Frame, error)
}

// transport is what BufferedChannel needs from a concrete transport: the
// blocking write primitive and transport-level connectivity.
type transport interface {
	writeFrame(f Frame) error
	connected() bool
}

// BufferedChannel queues outbound frames and drains them from a single
// send-loop goroutine, so Send never blocks on the wire and frames hit the
// transport in Send-call order. Concrete transports embed it and supply the
// actual write.
type BufferedChannel struct {
	name      string
	logger    *slog.Logger
	transport transport
	queue     *frameQueue

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newBufferedChannel(name string, t transport, logger *slog.Logger) *BufferedChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &BufferedChannel{
		name:      name,
		logger:    logger.With("channel", name),
		transport: t,
		queue:     newFrameQueue(),
	}
}

// Name returns the channel's diagnostic name.
func (c *BufferedChannel) Name() string { return c.name }

// Connected reports transport-level connectivity, independent of queue
// contents.
func (c *BufferedChannel) Connected() bool { return c.transport.connected() }

// Send enqueues a frame for the send loop. The queue is unbounded, so the
// caller never blocks.
func (c *BufferedChannel) Send(f Frame) error {
	if !c.transport.connected() {
		return ErrNotConnected
	}
	c.queue.push(f)
	return nil
}

// startSendLoop launches the goroutine that drains the outbound queue.
// The transport calls this once its connection is up.
func (c *BufferedChannel) startSendLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.sendLoop(ctx)
	}()
}

func (c *BufferedChannel) sendLoop(ctx context.Context) {
	c.logger.Info("send loop started")
	defer c.logger.Info("send loop finished")

	for {
		f, err := c.queue.pop(ctx)
		if err != nil {
			// Shutdown. Flush what was queued before the cancel so a
			// final frame (e.g. a top-level error) still reaches the
			// wire before the connection drops.
			for _, f := range c.queue.drain() {
				if werr := c.transport.writeFrame(f); werr != nil {
					return
				}
			}
			return
		}
		if err := c.transport.writeFrame(f); err != nil {
			c.logger.Error("send loop failed", "error", err)
			return
		}
	}
}

// stopSendLoop cancels the send loop and waits for it to finish, so no
// write is left half-issued. Safe to call when the loop never started.
func (c *BufferedChannel) stopSendLoop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
