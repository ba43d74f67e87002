package reclaim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Types
// ============================================================================

// Envelope is the wire format for all server-pushed events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server realtime command.
type Command struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// Event names consumed from the realtime boundary.
const (
	eventAuthenticated       = "authenticated"
	eventError               = "error"
	EventNotificationCreated = "notification.created"
	EventMessageCreated      = "message.created"
)

// ErrorPayload is sent when a connection-level error occurs. Authentication
// failures are distinguished from generic failures by a conventional
// message prefix.
type ErrorPayload struct {
	Message string `json:"message"`
}

const authErrorPrefix = "auth:"

func isAuthRejection(message string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(message)), authErrorPrefix)
}

// ============================================================================
// Configuration
// ============================================================================

// ConnState represents the realtime connection state.
type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnAuthRejected ConnState = "auth_rejected"
)

// ConnConfig configures the connection manager.
type ConnConfig struct {
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	HeartbeatInterval time.Duration
}

func (c *ConnConfig) defaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 1 * time.Second
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// ============================================================================
// Event Dispatcher
// ============================================================================

// EventHandler is the generic event callback type.
type EventHandler func(eventType string, payload json.RawMessage)

type eventDispatcher struct {
	mu             sync.RWMutex
	generic        map[string][]EventHandler
	onNotification []func(Notification)
	onMessage      []func(Message)
	onError        []func(ErrorPayload)
	onConnected    []func()
	onDisconnected []func(reason string)
	onAuthRejected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		generic: make(map[string][]EventHandler),
	}
}

// dispatch invokes handlers synchronously so that push-event handlers
// mutating the same cache entry are never reentrant with each other.
func (d *eventDispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Type {
	case EventNotificationCreated:
		var p Notification
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onNotification {
				h(p)
			}
		}
	case EventMessageCreated:
		var p Message
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onMessage {
				h(p)
			}
		}
	case eventError:
		var p ErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onError {
				h(p)
			}
		}
	}

	for _, h := range d.generic[env.Type] {
		h(env.Type, env.Payload)
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *eventDispatcher) emitAuthRejected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onAuthRejected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

// reconnector tracks the retry budget. Its fields are touched from the
// reconnect goroutine and from Connect/Disconnect, so every accessor locks.
type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *ConnConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.RetryBaseDelay,
		maxDelay:    config.RetryMaxDelay,
		maxAttempts: config.MaxRetries,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectedAt = time.Now()
}

// nextDelay advances the budget and returns the attempt number it spent
// along with the backoff delay.
func (r *reconnector) nextDelay() (int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return r.attempt, delay
}

func (r *reconnector) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// ConnectionManager
// ============================================================================

// ConnectionManager owns the single realtime connection whose lifecycle is
// a pure function of the SessionManager's state: entering Authenticated
// connects, leaving it disconnects. No other component may open a
// competing connection.
type ConnectionManager struct {
	client  *Client
	session *SessionManager
	config  *ConnConfig

	mu          sync.Mutex
	state       ConnState
	conn        *websocket.Conn
	cancelFn    context.CancelFunc
	intentional bool

	dispatcher *eventDispatcher
	recon      *reconnector
}

// NewConnectionManager creates a connection manager gated by the session.
// Pass nil config for defaults.
func NewConnectionManager(session *SessionManager, client *Client, config *ConnConfig) *ConnectionManager {
	cfg := ConnConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()

	m := &ConnectionManager{
		client:     client,
		session:    session,
		config:     &cfg,
		state:      ConnDisconnected,
		dispatcher: newEventDispatcher(),
		recon:      newReconnector(&cfg),
	}

	session.OnChange(func(state SessionState) {
		if state == SessionAuthenticated {
			go func() {
				if err := m.Connect(context.Background()); err != nil && !errors.Is(err, ErrUnauthorized) {
					m.scheduleReconnect()
				}
			}()
		} else {
			m.Disconnect()
		}
	})

	return m
}

// State returns the current connection state.
func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnNotification registers a handler for notification push events.
func (m *ConnectionManager) OnNotification(h func(Notification)) {
	m.dispatcher.mu.Lock()
	m.dispatcher.onNotification = append(m.dispatcher.onNotification, h)
	m.dispatcher.mu.Unlock()
}

// OnMessage registers a handler for chat message push events.
func (m *ConnectionManager) OnMessage(h func(Message)) {
	m.dispatcher.mu.Lock()
	m.dispatcher.onMessage = append(m.dispatcher.onMessage, h)
	m.dispatcher.mu.Unlock()
}

// OnError registers a handler for non-auth connection errors.
func (m *ConnectionManager) OnError(h func(ErrorPayload)) {
	m.dispatcher.mu.Lock()
	m.dispatcher.onError = append(m.dispatcher.onError, h)
	m.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (m *ConnectionManager) OnConnected(h func()) {
	m.dispatcher.mu.Lock()
	m.dispatcher.onConnected = append(m.dispatcher.onConnected, h)
	m.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (m *ConnectionManager) OnDisconnected(h func(reason string)) {
	m.dispatcher.mu.Lock()
	m.dispatcher.onDisconnected = append(m.dispatcher.onDisconnected, h)
	m.dispatcher.mu.Unlock()
}

// OnAuthRejected registers a handler fired when the handshake or the live
// connection reports an authentication rejection. Distinct from OnError so
// callers can surface a message different from a plain network error.
func (m *ConnectionManager) OnAuthRejected(h func(reason string)) {
	m.dispatcher.mu.Lock()
	m.dispatcher.onAuthRejected = append(m.dispatcher.onAuthRejected, h)
	m.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (m *ConnectionManager) OnReconnecting(h func(attempt int, delay time.Duration)) {
	m.dispatcher.mu.Lock()
	m.dispatcher.onReconnecting = append(m.dispatcher.onReconnecting, h)
	m.dispatcher.mu.Unlock()
}

// On registers a generic event handler.
func (m *ConnectionManager) On(eventType string, h EventHandler) {
	m.dispatcher.mu.Lock()
	m.dispatcher.generic[eventType] = append(m.dispatcher.generic[eventType], h)
	m.dispatcher.mu.Unlock()
}

// Connect performs the authenticated handshake and room join. It is a
// no-op if a live connection already exists, so overlapping triggers never
// produce a second connection.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == ConnConnected || m.state == ConnConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = ConnConnecting
	m.intentional = false
	m.mu.Unlock()

	session := m.session.Current()
	token := m.session.Token()
	if session == nil || token == "" {
		m.mu.Lock()
		m.state = ConnDisconnected
		m.mu.Unlock()
		return fmt.Errorf("connect: no authenticated session")
	}

	wsURL := m.client.RealtimeURL() + "?token=" + token

	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			m.rejectAuth("auth: handshake rejected")
			return fmt.Errorf("websocket dial: %w", ErrUnauthorized)
		}
		m.mu.Lock()
		m.state = ConnDisconnected
		m.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	// The first envelope settles the handshake: "authenticated" on
	// success, an "error" envelope otherwise.
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		m.mu.Lock()
		m.state = ConnDisconnected
		m.mu.Unlock()
		return fmt.Errorf("read handshake: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		m.mu.Lock()
		m.state = ConnDisconnected
		m.mu.Unlock()
		return fmt.Errorf("malformed handshake: %w", err)
	}

	if env.Type == eventError {
		var p ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		conn.Close(websocket.StatusPolicyViolation, "")
		if isAuthRejection(p.Message) {
			m.rejectAuth(p.Message)
			return fmt.Errorf("handshake: %w", ErrUnauthorized)
		}
		m.mu.Lock()
		m.state = ConnDisconnected
		m.mu.Unlock()
		return fmt.Errorf("handshake: %s", p.Message)
	}

	if env.Type != eventAuthenticated {
		conn.Close(websocket.StatusNormalClosure, "")
		m.mu.Lock()
		m.state = ConnDisconnected
		m.mu.Unlock()
		return fmt.Errorf("expected %q, got %q", eventAuthenticated, env.Type)
	}

	// Join the subject-scoped room so pushes addressed to this user are
	// delivered.
	join := &Command{
		Type:      "room.join",
		Payload:   map[string]string{"room": "user:" + session.UserID},
		RequestID: uuid.NewString(),
	}
	joinData, _ := json.Marshal(join)
	if err := conn.Write(ctx, websocket.MessageText, joinData); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		m.mu.Lock()
		m.state = ConnDisconnected
		m.mu.Unlock()
		return fmt.Errorf("join room: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.intentional {
		// A Disconnect landed while the handshake was in flight; the
		// session is no longer entitled to a connection.
		m.state = ConnDisconnected
		m.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	m.conn = conn
	m.state = ConnConnected
	m.cancelFn = cancel
	m.mu.Unlock()
	m.recon.markConnected()

	m.dispatcher.emitConnected()

	go m.readLoop(connCtx, conn)
	go m.heartbeatLoop(connCtx, conn)

	return nil
}

// Disconnect tears down the connection. Internal event delivery stops
// before the transport closes, so no event reaches a torn-down cache.
// Idempotent.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.intentional = true
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	conn := m.conn
	m.conn = nil
	wasConnected := m.state == ConnConnected
	m.state = ConnDisconnected
	m.mu.Unlock()

	m.recon.reset()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if wasConnected {
		m.dispatcher.emitDisconnected("client disconnect")
	}
}

// Send sends a raw command over the connection.
func (m *ConnectionManager) Send(ctx context.Context, cmd *Command) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// rejectAuth handles an authentication rejection: no retry, socket torn
// down, session force-invalidated, and a distinct event surfaced.
func (m *ConnectionManager) rejectAuth(reason string) {
	m.mu.Lock()
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	conn := m.conn
	m.conn = nil
	m.state = ConnAuthRejected
	m.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusPolicyViolation, "auth rejected")
	}

	m.dispatcher.emitAuthRejected(reason)

	m.mu.Lock()
	m.state = ConnDisconnected
	m.mu.Unlock()

	m.session.ForceInvalidate(reason)
}

func (m *ConnectionManager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.mu.Lock()
			intentional := m.intentional
			stale := m.conn != conn
			m.mu.Unlock()
			if intentional || stale {
				return
			}

			m.mu.Lock()
			m.state = ConnDisconnected
			m.conn = nil
			// Stop the heartbeat of the dead connection too.
			if m.cancelFn != nil {
				m.cancelFn()
				m.cancelFn = nil
			}
			m.mu.Unlock()

			m.dispatcher.emitDisconnected(err.Error())
			m.scheduleReconnect()
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		if env.Type == eventError {
			var p ErrorPayload
			if json.Unmarshal(env.Payload, &p) == nil && isAuthRejection(p.Message) {
				m.rejectAuth(p.Message)
				return
			}
		}

		m.dispatcher.dispatch(env)
	}
}

func (m *ConnectionManager) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

// scheduleReconnect retries a dropped connection with bounded, jittered
// backoff. Giving up is silent: the session itself may still be valid, so
// no forced logout happens here.
func (m *ConnectionManager) scheduleReconnect() {
	for m.recon.shouldReconnect() {
		if !m.session.IsAuthenticated() {
			return
		}

		attempt, delay := m.recon.nextDelay()
		m.dispatcher.emitReconnecting(attempt, delay)
		time.Sleep(delay)

		m.mu.Lock()
		if m.intentional {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		err := m.Connect(context.Background())
		if err == nil {
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			// rejectAuth already ran; never retry an auth rejection.
			return
		}
	}
}
