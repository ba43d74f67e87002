package reclaim

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// ============================================================================
// Bearer attachment
// ============================================================================

func TestBearerAttachment(t *testing.T) {
	t.Run("token attached when held", func(t *testing.T) {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("Authorization")
			writeJSON(w, okResult(t, []Notification{}))
		}))
		defer srv.Close()

		client := NewClient(WithBaseURL(srv.URL + "/api"))
		client.SetToken("tok-123")
		if _, err := client.Notifications.List(context.Background()); err != nil {
			t.Fatalf("List: %v", err)
		}
		if got != "Bearer tok-123" {
			t.Errorf("expected bearer header, got %q", got)
		}
	})

	t.Run("no header without token", func(t *testing.T) {
		var got string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("Authorization")
			writeJSON(w, okResult(t, []Notification{}))
		}))
		defer srv.Close()

		client := NewClient(WithBaseURL(srv.URL + "/api"))
		if _, err := client.Notifications.List(context.Background()); err != nil {
			t.Fatalf("List: %v", err)
		}
		if got != "" {
			t.Errorf("expected no auth header, got %q", got)
		}
	})
}

// ============================================================================
// Status interception
// ============================================================================

func TestInterceptor(t *testing.T) {
	t.Run("401 forces session invalidation once", func(t *testing.T) {
		token := makeToken(t, "u1", nil, time.Hour)
		mux := http.NewServeMux()
		mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		client, session, store := newTestSession(srv)
		store.Save(token)
		if err := session.RestoreSession(context.Background()); err != nil {
			t.Fatalf("RestoreSession: %v", err)
		}

		notices := 0
		session.OnInvalidated(func(reason string) { notices++ })

		_, err := client.Notifications.List(context.Background())
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		if session.IsAuthenticated() {
			t.Error("expected session torn down")
		}

		// A second rejected call must not queue a second notice.
		_, _ = client.Notifications.List(context.Background())
		if notices != 1 {
			t.Errorf("expected one notice, got %d", notices)
		}
	})

	t.Run("429 surfaces distinctly and leaves the session alone", func(t *testing.T) {
		token := makeToken(t, "u1", nil, time.Hour)
		mux := http.NewServeMux()
		mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "slow down", http.StatusTooManyRequests)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		client, session, store := newTestSession(srv)
		store.Save(token)
		if err := session.RestoreSession(context.Background()); err != nil {
			t.Fatalf("RestoreSession: %v", err)
		}

		_, err := client.Notifications.List(context.Background())
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if !session.IsAuthenticated() {
			t.Error("rate limiting must not affect session state")
		}
	})

	t.Run("403 rejects the action without teardown", func(t *testing.T) {
		token := makeToken(t, "u1", nil, time.Hour)
		mux := http.NewServeMux()
		mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		client, session, store := newTestSession(srv)
		store.Save(token)
		if err := session.RestoreSession(context.Background()); err != nil {
			t.Fatalf("RestoreSession: %v", err)
		}

		_, err := client.Notifications.List(context.Background())
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		if !session.IsAuthenticated() {
			t.Error("authorization failure must not touch session state")
		}
	})

	t.Run("other statuses return the body to the caller", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			writeJSON(w, errResult("CONFLICT", "already reported"))
		}))
		defer srv.Close()

		client := NewClient(WithBaseURL(srv.URL + "/api"))
		res, err := client.Notifications.List(context.Background())
		if err != nil {
			t.Fatalf("expected decodable result, got %v", err)
		}
		if res.OK || res.Error == nil || res.Error.Code != "CONFLICT" {
			t.Errorf("expected server error surfaced in result, got %+v", res)
		}
	})
}

// ============================================================================
// Realtime URL derivation
// ============================================================================

func TestRealtimeURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.reclaim.example/api", "wss://api.reclaim.example/ws"},
		{"http://localhost:8080/api", "ws://localhost:8080/ws"},
		{"https://api.reclaim.example", "wss://api.reclaim.example/ws"},
	}
	for _, tc := range cases {
		client := NewClient(WithBaseURL(tc.base))
		if got := client.RealtimeURL(); got != tc.want {
			t.Errorf("RealtimeURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}
