package reclaim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pushNotif(id, createdAt string) Notification {
	return Notification{
		ID:        id,
		UserID:    "u1",
		Type:      "match",
		Content:   "possible match for your post",
		CreatedAt: createdAt,
	}
}

// notifServer serves a fixed list plus mutation endpoints whose success is
// controlled by the fail switch.
func notifServer(t *testing.T, list []Notification, fail *bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/notifications", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, okResult(t, list))
	})
	mutation := func(w http.ResponseWriter, r *http.Request) {
		if *fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeJSON(w, okResult(t, map[string]bool{"done": true}))
	}
	mux.HandleFunc("/api/notifications/", mutation)
	mux.HandleFunc("/api/notifications/read-all", mutation)
	return httptest.NewServer(mux)
}

func TestNotificationMergeIdempotence(t *testing.T) {
	fail := false
	fetched := []Notification{
		pushNotif("n2", "2026-08-01T10:00:00Z"),
		pushNotif("n1", "2026-08-01T09:00:00Z"),
	}
	srv := notifServer(t, fetched, &fail)
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL + "/api"))

	t.Run("push before fetch", func(t *testing.T) {
		stream := NewNotificationStream(client)
		stream.OnPush(pushNotif("n3", "2026-08-01T11:00:00Z"))
		if err := stream.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		stream.OnPush(pushNotif("n3", "2026-08-01T11:00:00Z"))

		// Initialize replaces wholesale; the re-pushed n3 is admitted once.
		if got := len(stream.List()); got != 3 {
			t.Fatalf("expected 3 entries, got %d", got)
		}
	})

	t.Run("duplicate delivery counts unread once", func(t *testing.T) {
		stream := NewNotificationStream(client)
		if err := stream.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		before := stream.Unread()

		n := pushNotif("n9", "2026-08-01T12:00:00Z")
		stream.OnPush(n)
		stream.OnPush(n) // redelivery after reconnect

		if got := stream.Unread(); got != before+1 {
			t.Errorf("expected unread %d, got %d", before+1, got)
		}
		seen := map[string]int{}
		for _, entry := range stream.List() {
			seen[entry.ID]++
		}
		for id, count := range seen {
			if count != 1 {
				t.Errorf("id %s appears %d times", id, count)
			}
		}
	})

	t.Run("push raced against fetch is ignored when already fetched", func(t *testing.T) {
		stream := NewNotificationStream(client)
		if err := stream.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		unread := stream.Unread()
		stream.OnPush(fetched[0]) // same id as a fetched entry
		if got := stream.Unread(); got != unread {
			t.Errorf("expected unread unchanged (%d), got %d", unread, got)
		}
	})
}

func TestNotificationOrdering(t *testing.T) {
	fail := false
	srv := notifServer(t, []Notification{
		pushNotif("n1", "2026-08-01T09:00:00Z"),
		pushNotif("n2", "2026-08-01T10:00:00Z"),
	}, &fail)
	defer srv.Close()

	stream := NewNotificationStream(NewClient(WithBaseURL(srv.URL + "/api")))
	if err := stream.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	stream.OnPush(pushNotif("n3", "2026-08-01T11:00:00Z"))

	list := stream.List()
	want := []string{"n3", "n2", "n1"}
	if len(list) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, list[i].ID)
		}
	}
}

func TestNotificationOptimisticMutations(t *testing.T) {
	t.Run("markRead reverts on failure", func(t *testing.T) {
		fail := true
		srv := notifServer(t, []Notification{pushNotif("n1", "2026-08-01T09:00:00Z")}, &fail)
		defer srv.Close()

		stream := NewNotificationStream(NewClient(WithBaseURL(srv.URL + "/api")))
		if err := stream.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if stream.Unread() != 1 {
			t.Fatalf("expected 1 unread, got %d", stream.Unread())
		}

		if err := stream.MarkRead(context.Background(), "n1"); err == nil {
			t.Fatal("expected error")
		}
		if stream.Unread() != 1 {
			t.Errorf("expected unread restored to 1, got %d", stream.Unread())
		}
		if stream.List()[0].Read {
			t.Error("expected read flag reverted")
		}
	})

	t.Run("markRead commits on success", func(t *testing.T) {
		fail := false
		srv := notifServer(t, []Notification{pushNotif("n1", "2026-08-01T09:00:00Z")}, &fail)
		defer srv.Close()

		stream := NewNotificationStream(NewClient(WithBaseURL(srv.URL + "/api")))
		if err := stream.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if err := stream.MarkRead(context.Background(), "n1"); err != nil {
			t.Fatalf("MarkRead: %v", err)
		}
		if stream.Unread() != 0 {
			t.Errorf("expected 0 unread, got %d", stream.Unread())
		}
	})

	t.Run("markAllRead reverts only the flipped entries", func(t *testing.T) {
		fail := true
		already := pushNotif("n1", "2026-08-01T09:00:00Z")
		already.Read = true
		srv := notifServer(t, []Notification{already, pushNotif("n2", "2026-08-01T10:00:00Z")}, &fail)
		defer srv.Close()

		stream := NewNotificationStream(NewClient(WithBaseURL(srv.URL + "/api")))
		if err := stream.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}

		if err := stream.MarkAllRead(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if stream.Unread() != 1 {
			t.Errorf("expected unread restored to 1, got %d", stream.Unread())
		}
		for _, n := range stream.List() {
			if n.ID == "n1" && !n.Read {
				t.Error("pre-read entry must stay read after revert")
			}
		}
	})

	t.Run("delete reverts on failure", func(t *testing.T) {
		fail := true
		srv := notifServer(t, []Notification{pushNotif("n1", "2026-08-01T09:00:00Z")}, &fail)
		defer srv.Close()

		stream := NewNotificationStream(NewClient(WithBaseURL(srv.URL + "/api")))
		if err := stream.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if err := stream.Delete(context.Background(), "n1"); err == nil {
			t.Fatal("expected error")
		}
		if len(stream.List()) != 1 {
			t.Error("expected entry reinserted after failed delete")
		}
	})

	t.Run("delete commits on success", func(t *testing.T) {
		fail := false
		srv := notifServer(t, []Notification{pushNotif("n1", "2026-08-01T09:00:00Z")}, &fail)
		defer srv.Close()

		stream := NewNotificationStream(NewClient(WithBaseURL(srv.URL + "/api")))
		if err := stream.Initialize(context.Background()); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		if err := stream.Delete(context.Background(), "n1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if len(stream.List()) != 0 {
			t.Error("expected entry removed")
		}
	})
}
