package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Stream is one logical bidirectional sub-channel multiplexed over the RPC
// channel, identified by a uid that is stable for its whole lifetime. Both
// sides may send; message order per stream matches the wire.
type Stream struct {
	rpc *RPC
	uid string

	mu     sync.Mutex
	closed bool
}

// UID returns the stream's correlation id.
func (s *Stream) UID() string { return s.uid }

// Closed reports whether the stream has ended, by either side.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Send emits one message on the stream. Fails once the stream is closed.
func (s *Stream) Send(kind string, fields Frame) error {
	if s.Closed() {
		return ErrStreamClosed
	}
	return s.rpc.SendStreamMessage(s.uid, kind, fields)
}

// Recv blocks for the next inbound message on the stream. A close frame
// ends the stream and returns io.EOF; an error frame ends it and returns
// the carried error. Cancelling ctx abandons the wait without consuming
// anything: the next Recv still observes the next undelivered message.
func (s *Stream) Recv(ctx context.Context) (Frame, error) {
	if s.Closed() {
		return nil, ErrStreamClosed
	}
	q := s.rpc.streamQueue(s.uid)
	if q == nil {
		return nil, errors.New("stream is in an inconsistent state")
	}

	msg, err := q.pop(ctx)
	if err != nil {
		return nil, err
	}

	kind, _ := msg["kind"].(string)
	switch kind {
	case "error":
		s.markClosed()
		s.rpc.deregisterStream(s.uid)
		if errText, ok := msg["error"].(string); ok {
			return nil, &RemoteError{Message: errText}
		}
		return nil, &RemoteError{Message: "stream closed with unspecified error"}

	case "close":
		s.markClosed()
		s.rpc.deregisterStream(s.uid)
		return nil, io.EOF

	case "":
		errText := fmt.Sprintf("unexpected stream message format: %v", msg)
		s.Fail(errText, nil)
		return nil, errors.New(errText)

	default:
		return msg, nil
	}
}

// Close sends a close frame to the peer and deregisters the stream. The
// optional fields travel on the close frame.
func (s *Stream) Close(fields Frame) error {
	err := s.rpc.SendStreamMessage(s.uid, "close", fields)
	s.markClosed()
	s.rpc.deregisterStream(s.uid)
	return err
}

// Fail reports a stream-level error to the peer and deregisters the
// stream. The error text is optional.
func (s *Stream) Fail(errText string, fields Frame) error {
	err := s.rpc.SendStreamError(s.uid, errText, fields)
	s.markClosed()
	s.rpc.deregisterStream(s.uid)
	return err
}

// CloseSilently deregisters the stream without notifying the peer, making
// subsequent frames on this uid look like a brand-new incoming stream.
// Rarely the right tool; prefer Close or Fail.
func (s *Stream) CloseSilently() {
	s.markClosed()
	s.rpc.deregisterStream(s.uid)
}
