package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrPermissionDenied marks request failures the server attributes to a
// missing or rejected authentication.
var ErrPermissionDenied = errors.New("permission denied")

// The server reports exactly this error text on unauthenticated requests.
const notAuthenticatedText = "session is not authenticated"

// RemoteError carries an error message reported by the peer, either as an
// error response to a request or as an error frame on a stream.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

// Handler is invoked by the receive loop for unsolicited inbound activity:
// a request from the remote side, or the first frame of a stream the local
// side never opened. It runs on the receive loop, so dispatch order is
// preserved; long work belongs in a goroutine of the handler's own.
type Handler func(uid, kind string, fields Frame)

// RPC turns a raw frame channel into correlated request/response calls and
// bidirectional logical streams. One instance owns one Channel, one receive
// loop, and the correlation tables for everything in flight.
type RPC struct {
	name    string
	channel Channel
	logger  *slog.Logger

	requestHandler   Handler
	newStreamHandler Handler

	mu       sync.Mutex
	pending  map[string]*ResponseFuture
	streams  map[string]*frameQueue
	closing  bool
	recvDone chan struct{}
}

// Option configures an RPC instance.
type Option func(*RPC)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *RPC) { r.logger = l }
}

// WithRequestHandler registers the handler for requests initiated by the
// remote side. Without one, such requests are answered with an error
// response.
func WithRequestHandler(h Handler) Option {
	return func(r *RPC) { r.requestHandler = h }
}

// WithNewStreamHandler registers the handler for streams opened by the
// remote side. Without one, such streams are answered with a stream error.
func WithNewStreamHandler(h Handler) Option {
	return func(r *RPC) { r.newStreamHandler = h }
}

// New creates an RPC engine over the given channel. The engine is inert
// until Start.
func New(name string, channel Channel, opts ...Option) *RPC {
	r := &RPC{
		name:    name,
		channel: channel,
		logger:  slog.Default(),
		pending: make(map[string]*ResponseFuture),
		streams: make(map[string]*frameQueue),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("rpc", name)
	return r
}

// Name returns the engine's diagnostic name.
func (r *RPC) Name() string { return r.name }

// Start connects the channel and launches the receive loop.
func (r *RPC) Start(ctx context.Context) error {
	if err := r.channel.Connect(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.recvDone = done
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.recvLoop()
	}()
	return nil
}

// Close stops the receive loop and closes the channel. Closing the channel
// is what unblocks the loop's pending Recv, so the two happen together;
// Close waits for the loop to exit before returning. Safe to call more
// than once.
func (r *RPC) Close() error {
	r.mu.Lock()
	alreadyClosing := r.closing
	r.closing = true
	done := r.recvDone
	r.mu.Unlock()

	var err error
	if !alreadyClosing {
		err = r.channel.Close()
	}
	if done != nil {
		<-done
	}
	return err
}

func (r *RPC) isClosing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closing
}

// Fail ends the session unilaterally: the error is reported to the peer
// with a top-level error frame and the channel closes. Used when the local
// side cannot continue at all.
func (r *RPC) Fail(errText string) error {
	r.logger.Error("session failed", "error", errText)
	r.sendFrame(Frame{"type": "error", "error": errText})
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()
	return r.channel.Close()
}

// --------------------------------------------------------------------------
// Outbound
// --------------------------------------------------------------------------

func (r *RPC) sendFrame(f Frame) error {
	r.logger.Debug("sending frame", "frame", f)
	return r.channel.Send(f)
}

// normalizeKindFields merges an explicit kind with a fields mapping,
// rejecting a conflicting "kind" key before anything is sent.
func normalizeKindFields(kind string, fields Frame) (Frame, error) {
	out := Frame{"kind": kind}
	for k, v := range fields {
		if k == "kind" {
			if s, ok := v.(string); !ok || s != kind {
				return nil, fmt.Errorf("conflicting kind in fields: kind=%q, fields carry %v", kind, v)
			}
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (r *RPC) sendTagged(frameType, uid, kind string, fields Frame) error {
	body, err := normalizeKindFields(kind, fields)
	if err != nil {
		return err
	}
	f := Frame{"type": frameType, "uid": uid}
	for k, v := range body {
		f[k] = v
	}
	return r.sendFrame(f)
}

// SendResponse answers a request initiated by the remote side. Meant to be
// called from a request handler.
func (r *RPC) SendResponse(uid, kind string, fields Frame) error {
	return r.sendTagged("response", uid, kind, fields)
}

// SendErrorResponse answers a remote request with a failure.
func (r *RPC) SendErrorResponse(uid, errText string) error {
	return r.SendResponse(uid, "error", Frame{"error": errText})
}

// SendStreamMessage emits one message on the stream identified by uid.
func (r *RPC) SendStreamMessage(uid, kind string, fields Frame) error {
	return r.sendTagged("stream", uid, kind, fields)
}

// SendStreamError reports a stream-level failure to the peer. The error
// text is optional; an empty one sends a bare error frame.
func (r *RPC) SendStreamError(uid, errText string, fields Frame) error {
	merged := Frame{}
	for k, v := range fields {
		merged[k] = v
	}
	if errText != "" {
		merged["error"] = errText
	}
	return r.SendStreamMessage(uid, "error", merged)
}

// SendDebug sends an informational top-level debug frame to the peer.
func (r *RPC) SendDebug(message string) error {
	return r.sendFrame(Frame{"type": "debug", "message": message})
}

// MakeRequest allocates a correlation id, sends a request frame, and
// returns the future that resolves when the matching response arrives.
func (r *RPC) MakeRequest(kind string, fields Frame) (*ResponseFuture, error) {
	body, err := normalizeKindFields(kind, fields)
	if err != nil {
		return nil, err
	}

	uid := uuid.NewString()
	fut := newResponseFuture(uid)
	r.mu.Lock()
	r.pending[uid] = fut
	r.mu.Unlock()

	f := Frame{"type": "request", "uid": uid}
	for k, v := range body {
		f[k] = v
	}
	if err := r.sendFrame(f); err != nil {
		r.mu.Lock()
		delete(r.pending, uid)
		r.mu.Unlock()
		return nil, err
	}
	r.logger.Debug("request sent", "uid", uid, "kind", kind)
	return fut, nil
}

// OpenStream registers a fresh locally-owned stream. The first frame the
// remote side sees for it is whatever the caller sends next.
func (r *RPC) OpenStream() *Stream {
	s := &Stream{rpc: r, uid: uuid.NewString()}
	r.registerStream(s.uid)
	return s
}

// AcceptStream registers a stream for a uid chosen by the remote side.
// Meant to be called from a new-stream handler; afterwards the handler
// must re-deliver the triggering frame itself if it wants it on the queue.
func (r *RPC) AcceptStream(uid string) *Stream {
	r.logger.Debug("accepting stream", "uid", uid)
	s := &Stream{rpc: r, uid: uid}
	r.registerStream(uid)
	return s
}

// ForceDeregisterStream drops the bookkeeping for uid so that subsequent
// frames on it are dispatched as a brand-new unsolicited stream.
func (r *RPC) ForceDeregisterStream(uid string) {
	r.deregisterStream(uid)
}

// --------------------------------------------------------------------------
// Correlation tables
// --------------------------------------------------------------------------

func (r *RPC) registerStream(uid string) *frameQueue {
	q := newFrameQueue()
	r.mu.Lock()
	r.streams[uid] = q
	r.mu.Unlock()
	return q
}

func (r *RPC) deregisterStream(uid string) {
	r.mu.Lock()
	delete(r.streams, uid)
	r.mu.Unlock()
}

func (r *RPC) streamQueue(uid string) *frameQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[uid]
}

func (r *RPC) takePending(uid string) (*ResponseFuture, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fut, ok := r.pending[uid]
	if ok {
		delete(r.pending, uid)
	}
	return fut, ok
}

// --------------------------------------------------------------------------
// Inbound
// --------------------------------------------------------------------------

func (r *RPC) recvLoop() {
	r.logger.Info("recv loop started")
	defer r.logger.Info("recv loop exited")

	for {
		f, err := r.channel.Recv()
		if err != nil {
			if err == io.EOF {
				r.logger.Info("remote closed the connection")
			} else if !r.isClosing() {
				r.logger.Error("recv loop failed", "error", err)
			}
			return
		}
		r.dispatch(f)
	}
}

// dispatch runs once per inbound frame, on the receive loop, in arrival
// order. Every recognized frame shape has an explicit branch; anything
// else is a protocol violation and fails the session.
func (r *RPC) dispatch(f Frame) {
	r.logger.Debug("received frame", "frame", f)

	frameType, _ := f["type"].(string)
	switch frameType {
	case "request":
		uid, kind, fields, ok := splitTagged(f)
		if !ok {
			r.Fail(fmt.Sprintf("unexpected frame format: %v", f))
			return
		}
		r.onRequest(uid, kind, fields)

	case "response":
		uid, kind, fields, ok := splitTagged(f)
		if !ok {
			r.Fail(fmt.Sprintf("unexpected frame format: %v", f))
			return
		}
		r.onResponse(uid, kind, fields)

	case "stream":
		uid, kind, fields, ok := splitTagged(f)
		if !ok {
			r.Fail(fmt.Sprintf("unexpected frame format: %v", f))
			return
		}
		r.onStreamMessage(uid, kind, fields)

	case "error":
		errText, ok := f["error"].(string)
		if !ok {
			r.Fail(fmt.Sprintf("unexpected frame format: %v", f))
			return
		}
		r.onError(errText)

	case "debug":
		message, ok := f["message"].(string)
		if !ok {
			r.Fail(fmt.Sprintf("unexpected frame format: %v", f))
			return
		}
		r.logger.Debug("debug from peer", "message", message)

	default:
		r.Fail(fmt.Sprintf("unexpected frame format: %v", f))
	}
}

// splitTagged pulls uid and kind out of a request/response/stream frame.
// The returned fields mapping is the frame minus type, uid and kind.
func splitTagged(f Frame) (uid, kind string, fields Frame, ok bool) {
	uid, uidOK := f["uid"].(string)
	kind, kindOK := f["kind"].(string)
	if !uidOK || !kindOK {
		return "", "", nil, false
	}
	fields = make(Frame, len(f))
	for k, v := range f {
		switch k {
		case "type", "uid", "kind":
		default:
			fields[k] = v
		}
	}
	return uid, kind, fields, true
}

// payloadFrame rebuilds the application payload delivered to futures and
// stream queues: the kind plus the opaque fields.
func payloadFrame(kind string, fields Frame) Frame {
	payload := Frame{"kind": kind}
	for k, v := range fields {
		payload[k] = v
	}
	return payload
}

func (r *RPC) onRequest(uid, kind string, fields Frame) {
	r.logger.Debug("received request", "uid", uid, "kind", kind)
	if r.requestHandler != nil {
		r.requestHandler(uid, kind, fields)
		return
	}
	r.SendErrorResponse(uid, "incoming requests are not supported")
}

func (r *RPC) onResponse(uid, kind string, fields Frame) {
	if kind == "error" {
		errText, ok := fields["error"].(string)
		if !ok {
			r.Fail(fmt.Sprintf("unexpected response message kind=%q fields=%v", kind, fields))
			return
		}
		var err error
		if errText == notAuthenticatedText {
			err = fmt.Errorf("%w: %s", ErrPermissionDenied, errText)
		} else {
			err = &RemoteError{Message: errText}
		}
		fut, ok := r.takePending(uid)
		if !ok {
			r.logger.Warn("error response for unknown request", "uid", uid)
			return
		}
		fut.reject(err)
		return
	}

	fut, ok := r.takePending(uid)
	if !ok {
		// A response nothing is waiting for: either the uid was never
		// ours or a duplicate arrived after resolution. Dropped, the
		// session keeps going.
		r.logger.Warn("response for unknown request", "uid", uid, "kind", kind)
		return
	}
	fut.resolve(payloadFrame(kind, fields))
}

func (r *RPC) onStreamMessage(uid, kind string, fields Frame) {
	r.mu.Lock()
	q, ok := r.streams[uid]
	r.mu.Unlock()
	if ok {
		q.push(payloadFrame(kind, fields))
		return
	}
	r.onNewStream(uid, kind, fields)
}

func (r *RPC) onNewStream(uid, kind string, fields Frame) {
	r.logger.Debug("received new stream", "uid", uid, "kind", kind)
	if r.newStreamHandler != nil {
		r.newStreamHandler(uid, kind, fields)
		return
	}
	r.SendStreamError(uid, "incoming streams are not supported", nil)
}

func (r *RPC) onError(errText string) {
	r.logger.Error("received error from peer, closing", "error", errText)
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()
	r.channel.Close()
}
