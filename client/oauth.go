package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/browser"
)

// Environment overrides for the callback listener. When running inside a
// container the listener must bind a non-loopback address so forwarded
// traffic from the host is accepted, and the port must be fixed so it can
// be exposed.
const (
	oauthBindHostEnv = "PUG_OAUTH_CALLBACK_BIND_HOST"
	oauthBindPortEnv = "PUG_OAUTH_CALLBACK_PORT"
)

// OAuthCallback holds the query parameters the provider sends back to the
// local redirect listener.
type OAuthCallback struct {
	Code  string
	State string
}

// OAuthCallbackListener is a one-shot local HTTP server that receives the
// browser redirect at the end of an OAuth flow.
type OAuthCallbackListener struct {
	listener net.Listener
	server   *http.Server
	result   chan OAuthCallback
}

// NewOAuthCallbackListener creates a listener. It does not bind until
// Start.
func NewOAuthCallbackListener() *OAuthCallbackListener {
	return &OAuthCallbackListener{result: make(chan OAuthCallback, 1)}
}

// Start binds the local listener and begins serving. Bind host and port
// come from PUG_OAUTH_CALLBACK_BIND_HOST / PUG_OAUTH_CALLBACK_PORT when
// set; the defaults are localhost and an ephemeral port.
func (l *OAuthCallbackListener) Start() error {
	host := os.Getenv(oauthBindHostEnv)
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv(oauthBindPortEnv)
	if port == "" {
		port = "0"
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("bind oauth callback listener: %w", err)
	}
	l.listener = ln

	r := chi.NewRouter()
	r.Get("/", l.handleCallback)
	l.server = &http.Server{Handler: r}
	go l.server.Serve(ln)
	return nil
}

func (l *OAuthCallbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	cb := OAuthCallback{
		Code:  r.URL.Query().Get("code"),
		State: r.URL.Query().Get("state"),
	}
	// Only the first callback counts.
	select {
	case l.result <- cb:
	default:
	}
	w.Write([]byte("Authentication flow completed, you can close this browser window."))
}

// RedirectURI returns the redirect URI for the running listener. Google
// OAuth requires a 127.0.0.1 or [::1] literal for native apps, not
// localhost.
func (l *OAuthCallbackListener) RedirectURI() (string, error) {
	if l.listener == nil {
		return "", fmt.Errorf("listener not started")
	}
	addr, ok := l.listener.Addr().(*net.TCPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected listener address %v", l.listener.Addr())
	}
	if addr.IP.To4() == nil && !addr.IP.IsUnspecified() {
		return fmt.Sprintf("http://[::1]:%d", addr.Port), nil
	}
	return fmt.Sprintf("http://127.0.0.1:%d", addr.Port), nil
}

// WaitForCallback blocks until the provider redirects the browser back, or
// ctx is done.
func (l *OAuthCallbackListener) WaitForCallback(ctx context.Context) (OAuthCallback, error) {
	select {
	case <-ctx.Done():
		return OAuthCallback{}, ctx.Err()
	case cb := <-l.result:
		return cb, nil
	}
}

// Close stops the listener. Safe to call multiple times.
func (l *OAuthCallbackListener) Close() error {
	if l.server == nil {
		return nil
	}
	server := l.server
	l.server = nil
	return server.Close()
}

// LoginWithGoogle runs the browser-based Google OAuth flow and caches the
// resulting access token.
func (c *Client) LoginWithGoogle(ctx context.Context) error {
	listener := NewOAuthCallbackListener()
	if err := listener.Start(); err != nil {
		return err
	}
	defer listener.Close()

	redirectURI, err := listener.RedirectURI()
	if err != nil {
		return err
	}

	redirect, err := c.post(ctx, "/api/auth/login/google/app", map[string]any{
		"redirect_uri": redirectURI,
	})
	if err != nil {
		return err
	}
	authURL, _ := redirect["authorization_url"].(string)
	if authURL == "" {
		return fmt.Errorf("login response carries no authorization URL")
	}

	fmt.Printf("If your browser doesn't open automatically, please navigate to: %s\n", authURL)
	// Opening the browser sometimes hangs, so never block on it. The user
	// can always follow the printed URL by hand.
	go browser.OpenURL(authURL)

	cb, err := listener.WaitForCallback(ctx)
	if err != nil {
		return err
	}

	result, err := c.post(ctx, "/api/auth/login/google/authorize", map[string]any{
		"code":  cb.Code,
		"state": cb.State,
	})
	if err != nil {
		return err
	}
	token, _ := result["access_token"].(string)
	if token == "" {
		return fmt.Errorf("login response carries no access token")
	}
	c.setToken(token)
	return nil
}
