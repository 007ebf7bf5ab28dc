package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/puglabs/pug-go/messages"
	"github.com/puglabs/pug-go/rpc"
)

// mockGateway is a test websocket server speaking the JSON frame protocol.
// It answers authenticate requests itself and hands everything else to the
// per-test frame handler.
type mockGateway struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	frames  chan rpc.Frame
	onFrame func(conn *websocket.Conn, f rpc.Frame)
}

func newMockGateway() *mockGateway {
	gw := &mockGateway{frames: make(chan rpc.Frame, 32)}
	gw.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := gw.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gw.mu.Lock()
		gw.conns = append(gw.conns, conn)
		gw.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f rpc.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			gw.frames <- f

			if f["type"] == "request" && f["kind"] == "authenticate" {
				gw.send(conn, rpc.Frame{"type": "response", "uid": f["uid"], "kind": "authenticate"})
				continue
			}
			gw.mu.Lock()
			handler := gw.onFrame
			gw.mu.Unlock()
			if handler != nil {
				handler(conn, f)
			}
		}
	}))
	return gw
}

func (gw *mockGateway) url() string { return gw.server.URL }

func (gw *mockGateway) close() {
	gw.mu.Lock()
	for _, c := range gw.conns {
		c.Close()
	}
	gw.mu.Unlock()
	gw.server.Close()
}

func (gw *mockGateway) setHandler(h func(conn *websocket.Conn, f rpc.Frame)) {
	gw.mu.Lock()
	gw.onFrame = h
	gw.mu.Unlock()
}

func (gw *mockGateway) send(conn *websocket.Conn, f rpc.Frame) {
	data, _ := json.Marshal(f)
	gw.mu.Lock()
	defer gw.mu.Unlock()
	conn.WriteMessage(websocket.TextMessage, data)
}

func (gw *mockGateway) nextFrame(t *testing.T) rpc.Frame {
	t.Helper()
	select {
	case f := <-gw.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for client frame")
		return nil
	}
}

func startSession(t *testing.T, gw *mockGateway, token string) *Session {
	t.Helper()
	channel := rpc.NewWebsocketChannel(gw.url()+"/interact", "test-session", nil)
	s := NewSession(token, channel, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

func sessionContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSessionAuthenticatesOnStart(t *testing.T) {
	gw := newMockGateway()
	defer gw.close()

	startSession(t, gw, "token-123")

	auth := gw.nextFrame(t)
	if auth["type"] != "request" || auth["kind"] != "authenticate" {
		t.Fatalf("first frame = %v, want authenticate request", auth)
	}
	if auth["access_token"] != "token-123" {
		t.Errorf("access_token = %v", auth["access_token"])
	}
	if _, ok := auth["client_start_time"].(string); !ok {
		t.Error("authenticate carries no client_start_time")
	}
}

func TestSessionWithoutTokenSkipsAuthenticate(t *testing.T) {
	gw := newMockGateway()
	defer gw.close()
	gw.setHandler(func(conn *websocket.Conn, f rpc.Frame) {
		if f["kind"] == "ping" {
			gw.send(conn, rpc.Frame{"type": "response", "uid": f["uid"], "kind": "ping"})
		}
	})

	s := startSession(t, gw, "")

	fut, err := s.Ping()
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := fut.Await(sessionContext(t)); err != nil {
		t.Fatalf("Await: %v", err)
	}

	first := gw.nextFrame(t)
	if first["kind"] != "ping" {
		t.Errorf("first frame = %v, want ping, not authenticate", first)
	}

	if _, err := s.Authenticate(); err == nil {
		t.Error("Authenticate succeeded without a token")
	}
}

func TestSessionTranscribe(t *testing.T) {
	gw := newMockGateway()
	defer gw.close()
	gw.setHandler(func(conn *websocket.Conn, f rpc.Frame) {
		switch f["kind"] {
		case "add_audio":
			gw.send(conn, rpc.Frame{"type": "response", "uid": f["uid"], "kind": "add_audio"})
		case "transcribe":
			gw.send(conn, rpc.Frame{
				"type": "response", "uid": f["uid"], "kind": "transcribe",
				"text": "hello world",
			})
		}
	})

	s := startSession(t, gw, "token-123")
	ctx := sessionContext(t)

	addFut, err := s.AddAudio([]byte{1, 2, 3}, &messages.AudioConfig{MimeType: "audio/wav"})
	if err != nil {
		t.Fatalf("AddAudio: %v", err)
	}
	if _, err := addFut.Await(ctx); err != nil {
		t.Fatalf("AddAudio await: %v", err)
	}

	fut, err := s.Transcribe("en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	text, err := fut.Await(ctx)
	if err != nil {
		t.Fatalf("Transcribe await: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}

	gw.nextFrame(t) // authenticate
	add := gw.nextFrame(t)
	if add["kind"] != "add_audio" {
		t.Fatalf("frame = %v, want add_audio", add)
	}
	// Audio travels base64 encoded.
	if add["audio"] != "AQID" {
		t.Errorf("audio = %v", add["audio"])
	}
}

func TestSessionPermissionDenied(t *testing.T) {
	gw := newMockGateway()
	defer gw.close()
	gw.setHandler(func(conn *websocket.Conn, f rpc.Frame) {
		gw.send(conn, rpc.Frame{
			"type": "response", "uid": f["uid"], "kind": "error",
			"error": "session is not authenticated",
		})
	})

	s := startSession(t, gw, "")

	fut, err := s.Transcribe("en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if _, err := fut.Await(sessionContext(t)); !errors.Is(err, rpc.ErrPermissionDenied) {
		t.Fatalf("Await error = %v, want ErrPermissionDenied", err)
	}
}

func TestSessionCheckTurn(t *testing.T) {
	gw := newMockGateway()
	defer gw.close()
	gw.setHandler(func(conn *websocket.Conn, f rpc.Frame) {
		if f["kind"] == "check_turn" {
			gw.send(conn, rpc.Frame{
				"type": "response", "uid": f["uid"], "kind": "check_turn",
				"is_user_still_speaking": true,
			})
		}
	})

	s := startSession(t, gw, "token-123")

	fut, err := s.CheckTurn()
	if err != nil {
		t.Fatalf("CheckTurn: %v", err)
	}
	speaking, err := fut.Await(sessionContext(t))
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !speaking {
		t.Error("speaking = false")
	}
}

func TestSessionInteract(t *testing.T) {
	gw := newMockGateway()
	defer gw.close()
	gw.setHandler(func(conn *websocket.Conn, f rpc.Frame) {
		if f["type"] != "stream" || f["kind"] != "interact" {
			return
		}
		uid := f["uid"]
		gw.send(conn, rpc.Frame{
			"type": "stream", "uid": uid, "kind": "interact",
			"event": "interaction_started",
		})
		for _, chunk := range []string{"Hello", ", friend"} {
			gw.send(conn, rpc.Frame{
				"type": "stream", "uid": uid, "kind": "interact",
				"event": "text", "text": chunk,
			})
		}
		gw.send(conn, rpc.Frame{
			"type": "stream", "uid": uid, "kind": "interact",
			"event": "interaction_complete",
		})
		gw.send(conn, rpc.Frame{"type": "stream", "uid": uid, "kind": "close"})
	})

	s := startSession(t, gw, "token-123")
	ctx := sessionContext(t)

	stream, err := s.Interact(messages.InteractRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("Interact: %v", err)
	}

	var text string
	var events []string
	for {
		msg, err := stream.Recv(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		ev, err := messages.DecodeInteractEvent(msg)
		if err != nil {
			t.Fatalf("DecodeInteractEvent: %v", err)
		}
		events = append(events, ev.Event)
		if ev.Event == messages.EventText {
			text += ev.Text
		}
	}

	if text != "Hello, friend" {
		t.Errorf("text = %q", text)
	}
	want := []string{"interaction_started", "text", "text", "interaction_complete"}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
	if !stream.Closed() {
		t.Error("stream not closed after EOF")
	}
}

func TestSessionInteractStreamError(t *testing.T) {
	gw := newMockGateway()
	defer gw.close()
	gw.setHandler(func(conn *websocket.Conn, f rpc.Frame) {
		if f["type"] == "stream" && f["kind"] == "interact" {
			gw.send(conn, rpc.Frame{
				"type": "stream", "uid": f["uid"], "kind": "error",
				"error": "interaction rejected",
			})
		}
	})

	s := startSession(t, gw, "token-123")

	stream, err := s.Interact(messages.InteractRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("Interact: %v", err)
	}
	_, err = stream.Recv(sessionContext(t))
	var remote *rpc.RemoteError
	if !errors.As(err, &remote) || remote.Message != "interaction rejected" {
		t.Fatalf("Recv error = %v", err)
	}
}

func TestSessionGetConfiguration(t *testing.T) {
	gw := newMockGateway()
	defer gw.close()
	gw.setHandler(func(conn *websocket.Conn, f rpc.Frame) {
		if f["kind"] == "get_configuration" {
			gw.send(conn, rpc.Frame{
				"type": "response", "uid": f["uid"], "kind": "get_configuration",
				"config": map[string]any{
					"prompt":      "You are a helpful pug.",
					"temperature": 0.5,
					"utilities": map[string]any{
						"mood": map[string]any{
							"type":                    "classify",
							"classification_question": "How does the user feel?",
							"answers":                 []any{"happy", "sad"},
						},
					},
				},
			})
		}
	})

	s := startSession(t, gw, "token-123")

	fut, err := s.GetConfiguration()
	if err != nil {
		t.Fatalf("GetConfiguration: %v", err)
	}
	config, err := fut.Await(sessionContext(t))
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if config.Prompt != "You are a helpful pug." {
		t.Errorf("prompt = %q", config.Prompt)
	}
	mood, ok := config.Utilities["mood"].(*messages.Classify)
	if !ok {
		t.Fatalf("mood utility = %T", config.Utilities["mood"])
	}
	if mood.ClassificationQuestion != "How does the user feel?" {
		t.Errorf("question = %q", mood.ClassificationQuestion)
	}
}
