// Package client provides the Pug service clients: a REST client for
// account and resource management, an admin client, and the realtime
// Session API over the RPC protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/puglabs/pug-go/rpc"
)

// ErrInvalidArgument marks request failures the server attributes to bad
// input (HTTP 400) or a missing resource (HTTP 404).
var ErrInvalidArgument = errors.New("invalid argument")

// Client communicates with the Pug REST API and hands out realtime
// sessions. It caches the access token obtained at login.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger

	// Admin exposes the administrative endpoints with this client's
	// credentials.
	Admin *AdminClient

	mu          sync.RWMutex
	accessToken string
	tokenExpiry time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a client for the service at url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:    strings.TrimRight(url, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "pug-client")
	c.Admin = &AdminClient{client: c}
	return c
}

// URL returns the base service URL.
func (c *Client) URL() string { return c.url }

// CheckHealth reports whether the service answers its health endpoint.
func (c *Client) CheckHealth(ctx context.Context) bool {
	_, err := c.get(ctx, "/api/health", nil)
	return err == nil
}

// Login authenticates with an API key and caches the access token.
// teamName and federatedID are optional.
func (c *Client) Login(ctx context.Context, apiKey, teamName, federatedID string) error {
	body := map[string]any{"api_key": apiKey}
	if teamName != "" {
		body["team_name"] = teamName
	}
	if federatedID != "" {
		body["federated_id"] = federatedID
	}
	result, err := c.post(ctx, "/api/auth/login", body)
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

// Logout drops the cached access token.
func (c *Client) Logout() {
	c.mu.Lock()
	c.accessToken = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// AccessToken returns the cached access token, empty when logged out.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// TokenExpiresAt returns the access token's expiry claim, zero when the
// token has none or there is no token.
func (c *Client) TokenExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenExpiry
}

// Authenticated reports whether a usable (present, unexpired) access token
// is cached. A token without an expiry claim counts as usable.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accessToken == "" {
		return false
	}
	return c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.tokenExpiry = tokenExpiry(token)
	c.mu.Unlock()
}

// tokenExpiry reads the exp claim without verifying the signature; the
// client only needs it to tell a stale login before dialing.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// --------------------------------------------------------------------------
// Teams and users
// --------------------------------------------------------------------------

// ListTeams returns the teams visible to the current user.
func (c *Client) ListTeams(ctx context.Context) ([]map[string]any, error) {
	result, err := c.get(ctx, "/api/teams", nil)
	if err != nil {
		return nil, err
	}
	return listField(result, "teams")
}

// GetMe returns the current user.
func (c *Client) GetMe(ctx context.Context) (map[string]any, error) {
	return c.get(ctx, "/api/users/me", nil)
}

// UpdateMe updates the current user's name.
func (c *Client) UpdateMe(ctx context.Context, name string) (map[string]any, error) {
	return c.patch(ctx, "/api/users/me", map[string]any{"name": name})
}

// DeleteMe deletes the current user.
func (c *Client) DeleteMe(ctx context.Context) error {
	return c.delete(ctx, "/api/users/me")
}

// User types accepted by CreateUser.
const (
	UserTypePlayerLogin  = "playerLogin"
	UserTypePlayerCreate = "playerCreate"
	UserTypeUser         = "user"
)

// CreateUser creates a user. email is optional; userType is one of the
// UserType constants.
func (c *Client) CreateUser(ctx context.Context, name, email, userType string) (map[string]any, error) {
	body := map[string]any{"name": name, "user_type": userType}
	if email != "" {
		body["email"] = email
	}
	return c.post(ctx, "/api/users", body)
}

// --------------------------------------------------------------------------
// Players
// --------------------------------------------------------------------------

// ListPlayers returns the players of the current team.
func (c *Client) ListPlayers(ctx context.Context) ([]map[string]any, error) {
	result, err := c.get(ctx, "/api/players", nil)
	if err != nil {
		return nil, err
	}
	return listField(result, "players")
}

// CreatePlayer registers a player under an external id.
func (c *Client) CreatePlayer(ctx context.Context, externalID string) (map[string]any, error) {
	return c.post(ctx, "/api/players", map[string]any{"external_id": externalID})
}

// GetPlayer returns one player by primary key.
func (c *Client) GetPlayer(ctx context.Context, playerPK int) (map[string]any, error) {
	return c.get(ctx, "/api/players/"+strconv.Itoa(playerPK), nil)
}

// DeletePlayer deletes one player by primary key.
func (c *Client) DeletePlayer(ctx context.Context, playerPK int) error {
	return c.delete(ctx, "/api/players/" + strconv.Itoa(playerPK))
}

// Session creates a realtime session against this client's service,
// carrying the cached access token. The session is inert until Start.
func (c *Client) Session() *Session {
	channel := rpc.NewWebsocketChannel(c.url+"/interact", "client-session", c.logger)
	return NewSession(c.AccessToken(), channel, c.logger)
}

// --------------------------------------------------------------------------
// HTTP plumbing
// --------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, path, params, nil)
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

func (c *Client) patch(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	return c.do(ctx, http.MethodPatch, path, nil, body)
}

func (c *Client) delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body map[string]any) (map[string]any, error) {
	u := c.url + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.apiError(method, path, resp)
	}
	if resp.StatusCode == http.StatusNoContent {
		return map[string]any{}, nil
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return result, nil
}

// apiError maps a non-2xx response to an error, keeping whatever message
// shape the server used.
func (c *Client) apiError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var message string
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err == nil {
		if errText, ok := data["error"].(string); ok {
			message = errText
			if tb, ok := data["traceback"].(string); ok {
				message += "\n" + tb
			}
		} else if detail, ok := data["detail"].(string); ok {
			message = detail
		} else {
			pretty, _ := json.MarshalIndent(data, "", "    ")
			message = string(pretty)
		}
	} else {
		message = string(raw)
	}

	text := fmt.Sprintf("%s %s failed with %d: %s", method, path, resp.StatusCode, message)
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, text)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", rpc.ErrPermissionDenied, text)
	default:
		return errors.New(text)
	}
}

func listField(result map[string]any, key string) ([]map[string]any, error) {
	raw, ok := result[key].([]any)
	if !ok {
		return nil, fmt.Errorf("response carries no %q list", key)
	}
	items := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		item, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected entry in %q list: %T", key, entry)
		}
		items = append(items, item)
	}
	return items, nil
}
