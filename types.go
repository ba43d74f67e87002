package reclaim

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a server-reported error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Err returns the server error if the result is not OK, or nil.
func (r *Result) Err() error {
	if r.OK {
		return nil
	}
	if r.Error != nil {
		return r.Error
	}
	return &APIError{Code: "UNKNOWN", Message: "request failed"}
}

// ============================================================================
// Auth Types
// ============================================================================

// LoginData is the payload returned by the login endpoints.
type LoginData struct {
	Token string `json:"token"`
}

// User holds the profile attributes consumed by the session layer.
type User struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName"`
	AvatarURL   string   `json:"avatarUrl,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

// ============================================================================
// Notification Types
// ============================================================================

// Notification is a single server-side notification.
//
// Exactly one copy per ID may exist in the client cache regardless of how
// many times it was delivered (initial fetch, push event, re-fetch).
type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Type      string          `json:"type"`
	Content   string          `json:"content"`
	Read      bool            `json:"read"`
	CreatedAt string          `json:"createdAt"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// ============================================================================
// Chat Types
// ============================================================================

// Participant is a member of a chat thread.
type Participant struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

// Thread is a chat conversation scoped to one lost/found post.
type Thread struct {
	ID           string        `json:"id"`
	PostID       string        `json:"postId"`
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	CreatedAt    string        `json:"createdAt,omitempty"`
}

// Message is a single chat message. SenderID is nil for system messages.
// A message is immutable once admitted into the cache.
type Message struct {
	ID        string  `json:"id"`
	ThreadID  string  `json:"threadId"`
	SenderID  *string `json:"senderId"`
	Text      string  `json:"text"`
	ImageURL  string  `json:"imageUrl,omitempty"`
	System    bool    `json:"system,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

// before reports whether m sorts before other in thread order.
// Messages within a thread are totally ordered by (createdAt, id) ascending.
func (m *Message) before(other *Message) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt < other.CreatedAt
	}
	return m.ID < other.ID
}
