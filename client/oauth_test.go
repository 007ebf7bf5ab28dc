package client

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestOAuthCallbackListener(t *testing.T) {
	l := NewOAuthCallbackListener()
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Close()

	uri, err := l.RedirectURI()
	if err != nil {
		t.Fatalf("RedirectURI: %v", err)
	}
	if !strings.HasPrefix(uri, "http://127.0.0.1:") && !strings.HasPrefix(uri, "http://[::1]:") {
		t.Fatalf("RedirectURI = %q, want a loopback literal", uri)
	}

	resp, err := http.Get(uri + "/?code=abc&state=xyz")
	if err != nil {
		t.Fatalf("callback request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "close this browser window") {
		t.Errorf("callback body = %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cb, err := l.WaitForCallback(ctx)
	if err != nil {
		t.Fatalf("WaitForCallback: %v", err)
	}
	if cb.Code != "abc" || cb.State != "xyz" {
		t.Errorf("callback = %+v", cb)
	}

	// A second redirect must not disturb the first result.
	if _, err := http.Get(uri + "/?code=later&state=later"); err != nil {
		t.Fatalf("second callback request: %v", err)
	}
}

func TestOAuthCallbackListenerCloseIdempotent(t *testing.T) {
	l := NewOAuthCallbackListener()
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestWaitForCallbackHonorsContext(t *testing.T) {
	l := NewOAuthCallbackListener()
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.WaitForCallback(ctx); err != context.DeadlineExceeded {
		t.Errorf("WaitForCallback = %v, want deadline exceeded", err)
	}
}
