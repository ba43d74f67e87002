package reclaim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Session Types
// ============================================================================

// SessionState is the authentication state machine position.
type SessionState string

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticating  SessionState = "authenticating"
	SessionAuthenticated   SessionState = "authenticated"
)

// Session holds the decoded view of the credential plus refreshed profile
// attributes. It is derived entirely from the token; only the raw token
// string is ever persisted.
type Session struct {
	UserID      string
	Username    string
	DisplayName string
	AvatarURL   string
	Roles       []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// HasRole reports whether the decoded role set contains role.
func (s *Session) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AdminRole is the capability required by AdminLogin.
const AdminRole = "admin"

type sessionClaims struct {
	Roles       []string `json:"roles"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName"`
	jwt.RegisteredClaims
}

// decodeToken parses the bearer token without signature verification. The
// client holds no signing key; trust comes from the server having issued
// the token over an authenticated channel.
func decodeToken(token string) (*Session, error) {
	var claims sessionClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("decode token: missing subject")
	}
	s := &Session{
		UserID:      claims.Subject,
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
		Roles:       claims.Roles,
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

func (s *Session) expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// ============================================================================
// Token Store
// ============================================================================

// TokenStore persists the raw credential string. It is the single canonical
// store; the SDK never keeps a second copy of the token anywhere else.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// MemoryTokenStore is a process-local TokenStore.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (s *MemoryTokenStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryTokenStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

// ============================================================================
// SessionManager
// ============================================================================

// SessionManager owns the credential and is the single source of truth for
// "is this user authenticated". All credential mutation goes through it;
// the Client and ConnectionManager only read.
type SessionManager struct {
	client *Client
	store  TokenStore

	mu      sync.Mutex
	state   SessionState
	session *Session

	onChange      []func(SessionState)
	onInvalidated []func(reason string)
}

// NewSessionManager creates a session manager bound to a client and a token
// store. It registers itself as the client's auth-failure hook so that a
// rejected credential at the REST boundary tears the session down.
func NewSessionManager(client *Client, store TokenStore) *SessionManager {
	m := &SessionManager{
		client: client,
		store:  store,
		state:  SessionUnauthenticated,
	}
	client.OnAuthFailure(func() {
		m.ForceInvalidate("session expired")
	})
	return m
}

// OnChange registers a listener for state transitions. The ConnectionManager
// subscribes here to gate the realtime connection.
func (m *SessionManager) OnChange(h func(SessionState)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, h)
	m.mu.Unlock()
}

// OnInvalidated registers a listener fired at most once per forced
// teardown, for surfacing a user-visible notice. It never fires on plain
// Logout or when already unauthenticated.
func (m *SessionManager) OnInvalidated(h func(reason string)) {
	m.mu.Lock()
	m.onInvalidated = append(m.onInvalidated, h)
	m.mu.Unlock()
}

// State returns the current state.
func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsAuthenticated reports whether a non-expired, successfully decoded
// credential is held.
func (m *SessionManager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == SessionAuthenticated && m.session != nil && !m.session.expired()
}

// Current returns a copy of the decoded session, or nil.
func (m *SessionManager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	s.Roles = append([]string{}, m.session.Roles...)
	return &s
}

// Token returns the raw credential, or "".
func (m *SessionManager) Token() string {
	return m.client.Token()
}

func (m *SessionManager) setState(state SessionState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	handlers := append([]func(SessionState){}, m.onChange...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(state)
	}
}

// ============================================================================
// Operations
// ============================================================================

// Login authenticates with the server and adopts the returned credential.
// A network failure leaves the state unchanged; a server-side rejection
// surfaces the server-provided error and purges any partial credential.
func (m *SessionManager) Login(ctx context.Context, username, password string) error {
	return m.login(ctx, username, password, false)
}

// AdminLogin behaves like Login plus a post-decode authorization check:
// if the decoded role set lacks the administrative capability the stored
// credential is synchronously undone, even though authentication itself
// succeeded.
func (m *SessionManager) AdminLogin(ctx context.Context, username, password string) error {
	return m.login(ctx, username, password, true)
}

func (m *SessionManager) login(ctx context.Context, username, password string, admin bool) error {
	m.setState(SessionAuthenticating)

	var res *Result
	var err error
	if admin {
		res, err = m.client.Auth.AdminLogin(ctx, username, password)
	} else {
		res, err = m.client.Auth.Login(ctx, username, password)
	}
	if err != nil {
		m.setState(SessionUnauthenticated)
		return err
	}
	if err := res.Err(); err != nil {
		m.purge()
		m.setState(SessionUnauthenticated)
		return err
	}

	var data LoginData
	if err := res.Decode(&data); err != nil || data.Token == "" {
		m.purge()
		m.setState(SessionUnauthenticated)
		return fmt.Errorf("login: malformed token response")
	}

	session, err := m.adopt(data.Token)
	if err != nil {
		m.purge()
		m.setState(SessionUnauthenticated)
		return err
	}

	if admin && !session.HasRole(AdminRole) {
		m.purge()
		m.setState(SessionUnauthenticated)
		return fmt.Errorf("admin login: %w", ErrForbidden)
	}

	m.setState(SessionAuthenticated)

	// Best effort: stale claims from the credential remain valid if the
	// profile refresh fails.
	m.refreshProfile(ctx)
	return nil
}

// RestoreSession adopts a stored credential at process start. A valid,
// non-expired token yields Authenticated without network access; an
// expired or undecodable one is purged. The profile refresh runs in the
// background and never blocks startup.
func (m *SessionManager) RestoreSession(ctx context.Context) error {
	token, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if token == "" {
		return nil
	}

	session, err := decodeToken(token)
	if err != nil || session.expired() {
		// Decode failure is treated as expiry.
		m.purge()
		return nil
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	m.client.SetToken(token)
	m.setState(SessionAuthenticated)

	go m.refreshProfile(ctx)
	return nil
}

// Logout purges the credential and transitions to Unauthenticated,
// unconditionally and idempotently.
func (m *SessionManager) Logout() {
	m.purge()
	m.setState(SessionUnauthenticated)
}

// ForceInvalidate is the trust-signal teardown entry point, callable from
// the HTTP boundary or the ConnectionManager when the credential is
// rejected server-side. Safe to call when already unauthenticated: a no-op,
// not an error, and no duplicate notice is surfaced.
func (m *SessionManager) ForceInvalidate(reason string) {
	m.mu.Lock()
	if m.state == SessionUnauthenticated {
		m.mu.Unlock()
		return
	}
	handlers := append([]func(string){}, m.onInvalidated...)
	m.mu.Unlock()

	m.purge()
	m.setState(SessionUnauthenticated)
	for _, h := range handlers {
		h(reason)
	}
}

// adopt decodes and stores a fresh credential. Caller handles state.
func (m *SessionManager) adopt(token string) (*Session, error) {
	session, err := decodeToken(token)
	if err != nil {
		return nil, err
	}
	if session.expired() {
		return nil, fmt.Errorf("adopt token: already expired")
	}
	if err := m.store.Save(token); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}
	m.client.SetToken(token)
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	return session, nil
}

func (m *SessionManager) purge() {
	m.client.SetToken("")
	_ = m.store.Clear()
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
}

// refreshProfile overlays /user/me attributes onto the decoded claims.
// Failure is ignored; the claims stay authoritative.
func (m *SessionManager) refreshProfile(ctx context.Context) {
	res, err := m.client.Auth.Me(ctx)
	if err != nil || !res.OK {
		return
	}
	var user User
	if err := res.Decode(&user); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		// Session torn down while the refresh was in flight.
		return
	}
	if user.Username != "" {
		m.session.Username = user.Username
	}
	if user.DisplayName != "" {
		m.session.DisplayName = user.DisplayName
	}
	if user.AvatarURL != "" {
		m.session.AvatarURL = user.AvatarURL
	}
}
