package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFrameQueueFIFO(t *testing.T) {
	q := newFrameQueue()
	ctx := testContext(t)

	for i := 0; i < 100; i++ {
		q.push(Frame{"n": i})
	}
	for i := 0; i < 100; i++ {
		f, err := q.pop(ctx)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if f["n"] != i {
			t.Fatalf("pop %d returned %v", i, f["n"])
		}
	}
}

func TestFrameQueuePopBlocksUntilPush(t *testing.T) {
	q := newFrameQueue()

	got := make(chan Frame, 1)
	go func() {
		f, err := q.pop(context.Background())
		if err == nil {
			got <- f
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.push(Frame{"n": 1})

	select {
	case f := <-got:
		if f["n"] != 1 {
			t.Errorf("frame = %v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pop never returned")
	}
}

func TestFrameQueueCancelDoesNotLose(t *testing.T) {
	q := newFrameQueue()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.pop(cancelled); !errors.Is(err, context.Canceled) {
		t.Fatalf("pop on cancelled ctx = %v", err)
	}

	q.push(Frame{"n": 1})
	f, err := q.pop(testContext(t))
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if f["n"] != 1 {
		t.Errorf("frame = %v", f)
	}
}

// slowTransport records writes with an artificial per-write delay, to prove
// order survives a writer slower than the producer.
type slowTransport struct {
	mu     sync.Mutex
	frames []Frame
	delay  time.Duration
}

func (s *slowTransport) writeFrame(f Frame) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return nil
}

func (s *slowTransport) connected() bool { return true }

func (s *slowTransport) written() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func TestBufferedChannelOrderWithSlowWriter(t *testing.T) {
	tr := &slowTransport{delay: 2 * time.Millisecond}
	ch := newBufferedChannel("test", tr, nil)
	ch.startSendLoop()

	const n = 50
	for i := 0; i < n; i++ {
		if err := ch.Send(Frame{"n": i}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(tr.written()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d frames written", len(tr.written()), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	ch.stopSendLoop()

	for i, f := range tr.written() {
		if f["n"] != i {
			t.Fatalf("frame %d = %v", i, f["n"])
		}
	}
}

func TestBufferedChannelStopFlushesQueue(t *testing.T) {
	tr := &slowTransport{}
	ch := newBufferedChannel("test", tr, nil)

	// Queue before the loop ever runs, then start and stop immediately.
	// Everything queued must still reach the transport.
	for i := 0; i < 5; i++ {
		ch.queue.push(Frame{"n": i})
	}
	ch.startSendLoop()
	ch.stopSendLoop()

	written := tr.written()
	if len(written) != 5 {
		t.Fatalf("wrote %d frames, want 5", len(written))
	}
	for i, f := range written {
		if f["n"] != i {
			t.Fatalf("frame %d = %v", i, f["n"])
		}
	}
}

func TestNormalizeKindFields(t *testing.T) {
	out, err := normalizeKindFields("ping", Frame{"a": 1})
	if err != nil {
		t.Fatalf("normalizeKindFields: %v", err)
	}
	if out["kind"] != "ping" || out["a"] != 1 {
		t.Errorf("out = %v", out)
	}

	if _, err := normalizeKindFields("ping", Frame{"kind": "other"}); err == nil {
		t.Error("conflicting kind accepted")
	}
	if _, err := normalizeKindFields("ping", Frame{"kind": 7}); err == nil {
		t.Error("non-string kind accepted")
	}
}

func TestStopSendLoopBeforeStart(t *testing.T) {
	ch := newBufferedChannel("test", &slowTransport{}, nil)
	ch.stopSendLoop() // must not panic or block
	if ch.Name() != "test" {
		t.Errorf("Name = %q", ch.Name())
	}
}
