package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Time allowed to write a frame to the peer.
const writeWait = 10 * time.Second

// WebsocketChannel is a Channel over a persistent websocket connection,
// one JSON text frame per protocol frame. Outbound frames go through the
// embedded BufferedChannel's send loop; Recv reads directly off the socket
// and maps a clean remote closure to io.EOF.
type WebsocketChannel struct {
	*BufferedChannel

	url    string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebsocketChannel creates a channel for the given endpoint. HTTP
// schemes are normalized to their websocket equivalents, so callers can
// hand over the same base URL they use for REST.
func NewWebsocketChannel(url, name string, logger *slog.Logger) *WebsocketChannel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &WebsocketChannel{
		url:    normalizeWebsocketURL(url),
		logger: logger.With("channel", name),
	}
	c.BufferedChannel = newBufferedChannel(name, c, logger)
	return c
}

func normalizeWebsocketURL(url string) string {
	url = strings.Replace(url, "http://", "ws://", 1)
	url = strings.Replace(url, "https://", "wss://", 1)
	return url
}

// Connect dials the endpoint and starts the send loop. A no-op when the
// channel is already connected.
func (c *WebsocketChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	c.logger.Info("connecting", "url", c.url)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", c.url, err)
	}
	c.conn = conn
	c.closed = false
	c.logger.Info("connected", "url", c.url)

	c.startSendLoop()
	return nil
}

// Close drains and stops the send loop, then closes the connection. Safe
// to call multiple times; closing also unblocks a pending Recv.
func (c *WebsocketChannel) Close() error {
	c.mu.Lock()
	conn := c.conn
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if conn == nil || alreadyClosed {
		return nil
	}

	// The connection stays writable until the send loop has flushed its
	// queue, so a final frame is not silently dropped.
	c.stopSendLoop()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	err := conn.Close()
	c.logger.Info("disconnected", "url", c.url)
	if err != nil {
		return fmt.Errorf("close websocket: %w", err)
	}
	return nil
}

func (c *WebsocketChannel) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// writeFrame performs the blocking write for the send loop.
func (c *WebsocketChannel) writeFrame(f Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Recv blocks for the next inbound frame. A clean remote closure returns
// io.EOF; anything else, including a local Close, surfaces as an error.
func (c *WebsocketChannel) Recv() (Frame, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected websocket message type %d", msgType)
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}
