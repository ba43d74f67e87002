// Package reclaim provides the Go client for the Reclaim lost-and-found
// coordination platform.
//
// The package centers on the realtime session and messaging layer: a
// SessionManager that owns the bearer credential, a ConnectionManager that
// keeps exactly one authenticated websocket alive per session, and two
// merged caches (NotificationStream, ChatThreadCache) that reconcile
// server-pushed events with REST-fetched state.
//
// Example:
//
//	client := reclaim.NewClient(reclaim.WithBaseURL("https://api.reclaim.example/api"))
//	session := reclaim.NewSessionManager(client, reclaim.NewMemoryTokenStore())
//	conn := reclaim.NewConnectionManager(session, client, nil)
//
//	notifs := reclaim.NewNotificationStream(client)
//	notifs.Bind(conn)
//
//	threads := reclaim.NewChatThreadCache(client)
//	threads.Bind(conn)
//
//	session.RestoreSession(ctx) // connects automatically if a stored token is valid
package reclaim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "https://api.reclaim.example/api"
	DefaultTimeout = 30 * time.Second
)

// Sentinel errors for the boundary error taxonomy. Credential errors
// (ErrUnauthorized) force a session teardown; authorization errors
// (ErrForbidden) reject the specific action without touching session state;
// rate limiting (ErrRateLimited) is surfaced distinctly and never retried.
var (
	ErrUnauthorized = errors.New("reclaim: credential rejected")
	ErrForbidden    = errors.New("reclaim: insufficient role")
	ErrRateLimited  = errors.New("reclaim: rate limited")
	ErrNotConnected = errors.New("reclaim: not connected")
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP boundary of the SDK. Every outgoing request attaches
// the current credential as a bearer token if one is held; every response
// status is inspected per the boundary contract (401 invalidates the
// session, 429 is surfaced as ErrRateLimited, everything else is returned
// to the caller).
type Client struct {
	mu         sync.RWMutex
	token      string
	baseURL    string
	httpClient *http.Client

	authFailure []func()

	Auth          *AuthClient
	Notifications *NotificationsClient
	Chats         *ChatsClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new Reclaim API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Auth = &AuthClient{client: c}
	c.Notifications = &NotificationsClient{client: c}
	c.Chats = &ChatsClient{client: c}
	return c
}

// SetToken sets or clears the bearer credential. Only the SessionManager
// should call this; it is the exclusive owner of the credential lifecycle.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the currently held credential, or "".
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the REST base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RealtimeURL derives the realtime endpoint from the REST base URL by
// stripping the API path suffix and switching to the ws scheme.
func (c *Client) RealtimeURL() string {
	base := strings.TrimSuffix(c.baseURL, "/api")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/ws"
}

// OnAuthFailure registers a hook fired when a REST response reports the
// credential was rejected server-side. The SessionManager registers its
// ForceInvalidate here; the hook itself must be idempotent.
func (c *Client) OnAuthFailure(h func()) {
	c.mu.Lock()
	c.authFailure = append(c.authFailure, h)
	c.mu.Unlock()
}

func (c *Client) fireAuthFailure() {
	c.mu.RLock()
	handlers := append([]func(){}, c.authFailure...)
	c.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

// ============================================================================
// Request pipeline
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		// Credential rejected server-side: a trust signal, not a plain
		// error. The registered hook tears the session down exactly once.
		c.fireAuthFailure()
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case http.StatusForbidden:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrForbidden)
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrRateLimited)
	}

	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Sub-Clients
// ============================================================================

// AuthClient handles authentication and profile endpoints.
type AuthClient struct{ client *Client }

func (a *AuthClient) Login(ctx context.Context, username, password string) (*Result, error) {
	return a.client.do(ctx, "POST", "/auth/login", map[string]string{
		"username": username, "password": password,
	}, nil)
}

func (a *AuthClient) AdminLogin(ctx context.Context, username, password string) (*Result, error) {
	return a.client.do(ctx, "POST", "/auth/admin", map[string]string{
		"username": username, "password": password,
	}, nil)
}

func (a *AuthClient) Me(ctx context.Context) (*Result, error) {
	return a.client.do(ctx, "GET", "/user/me", nil, nil)
}

// NotificationsClient handles the notification endpoints.
type NotificationsClient struct{ client *Client }

func (n *NotificationsClient) List(ctx context.Context) (*Result, error) {
	return n.client.do(ctx, "GET", "/notifications", nil, nil)
}

func (n *NotificationsClient) MarkRead(ctx context.Context, id string) (*Result, error) {
	return n.client.do(ctx, "PATCH", "/notifications/"+id+"/read", nil, nil)
}

func (n *NotificationsClient) MarkAllRead(ctx context.Context) (*Result, error) {
	return n.client.do(ctx, "PATCH", "/notifications/read-all", nil, nil)
}

func (n *NotificationsClient) Delete(ctx context.Context, id string) (*Result, error) {
	return n.client.do(ctx, "DELETE", "/notifications/"+id, nil, nil)
}

// ChatsClient handles the chat thread endpoints.
type ChatsClient struct{ client *Client }

// CreateThread returns the existing-or-created thread for a post. The
// server resolves concurrent double-invocation; both calls yield the same
// thread id.
func (ch *ChatsClient) CreateThread(ctx context.Context, postID string) (*Result, error) {
	return ch.client.do(ctx, "POST", "/chats/thread", map[string]string{"postId": postID}, nil)
}

func (ch *ChatsClient) Threads(ctx context.Context) (*Result, error) {
	return ch.client.do(ctx, "GET", "/chats/threads", nil, nil)
}

func (ch *ChatsClient) Messages(ctx context.Context, threadID string) (*Result, error) {
	return ch.client.do(ctx, "GET", "/chats/"+threadID+"/messages", nil, nil)
}

func (ch *ChatsClient) Send(ctx context.Context, threadID, text, imageURL string) (*Result, error) {
	payload := map[string]string{"text": text}
	if imageURL != "" {
		payload["imageUrl"] = imageURL
	}
	return ch.client.do(ctx, "POST", "/chats/"+threadID+"/messages", payload, nil)
}
