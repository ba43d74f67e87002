package reclaim

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func chatMsg(id, threadID, createdAt, text string) Message {
	sender := "u2"
	return Message{
		ID:        id,
		ThreadID:  threadID,
		SenderID:  &sender,
		Text:      text,
		CreatedAt: createdAt,
	}
}

// chatServer serves thread creation, listing, and per-thread history for a
// single thread t1.
func chatServer(t *testing.T, history []Message, sent *[]map[string]string) *httptest.Server {
	t.Helper()
	thread := Thread{ID: "t1", PostID: "p1", CreatedAt: "2026-08-01T08:00:00Z"}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/chats/thread", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, okResult(t, thread))
	})
	mux.HandleFunc("/api/chats/threads", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, okResult(t, []Thread{thread}))
	})
	mux.HandleFunc("/api/chats/t1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			var fields map[string]string
			json.Unmarshal(body, &fields)
			if sent != nil {
				*sent = append(*sent, fields)
			}
			writeJSON(w, okResult(t, chatMsg("m-server", "t1", "2026-08-01T12:00:00Z", fields["text"])))
			return
		}
		writeJSON(w, okResult(t, history))
	})
	return httptest.NewServer(mux)
}

func TestMessageMergeOrderIndependence(t *testing.T) {
	history := []Message{
		chatMsg("m1", "t1", "2026-08-01T09:00:00Z", "hello"),
		chatMsg("m2", "t1", "2026-08-01T10:00:00Z", "is this yours?"),
	}
	srv := chatServer(t, history, nil)
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL + "/api"))
	want := []string{"m1", "m2", "m3"}

	check := func(t *testing.T, cache *ChatThreadCache) {
		t.Helper()
		got := cache.Messages("t1")
		if len(got) != len(want) {
			t.Fatalf("expected %d messages, got %d", len(want), len(got))
		}
		for i, id := range want {
			if got[i].ID != id {
				t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
			}
		}
	}

	t.Run("fetch then push", func(t *testing.T) {
		cache := NewChatThreadCache(client)
		if err := cache.LoadThread(context.Background(), "t1"); err != nil {
			t.Fatalf("LoadThread: %v", err)
		}
		cache.OnPushMessage(chatMsg("m3", "t1", "2026-08-01T11:00:00Z", "yes!"))
		cache.OnPushMessage(history[1]) // overlap with fetched history
		check(t, cache)
	})

	t.Run("push then fetch", func(t *testing.T) {
		cache := NewChatThreadCache(client)
		cache.OnPushMessage(chatMsg("m3", "t1", "2026-08-01T11:00:00Z", "yes!"))
		cache.OnPushMessage(history[1])
		if err := cache.LoadThread(context.Background(), "t1"); err != nil {
			t.Fatalf("LoadThread: %v", err)
		}
		check(t, cache)
	})
}

func TestMessageOrderingTieBreak(t *testing.T) {
	cache := NewChatThreadCache(NewClient())
	// Same timestamp: the id decides, and arrival order does not.
	cache.OnPushMessage(chatMsg("b", "t1", "2026-08-01T09:00:00Z", "second"))
	cache.OnPushMessage(chatMsg("a", "t1", "2026-08-01T09:00:00Z", "first"))

	got := cache.Messages("t1")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("expected [a b], got %v", got)
	}
}

func TestPushIgnoresIncompleteMessages(t *testing.T) {
	cache := NewChatThreadCache(NewClient())
	cache.OnPushMessage(Message{ThreadID: "t1", Text: "no id"})
	cache.OnPushMessage(Message{ID: "m1", Text: "no thread"})

	if len(cache.Messages("t1")) != 0 {
		t.Error("expected id-less message dropped")
	}
	if len(cache.Threads()) != 0 {
		t.Error("expected no thread tracked")
	}
}

func TestGetOrCreateThreadIdempotent(t *testing.T) {
	srv := chatServer(t, nil, nil)
	defer srv.Close()

	cache := NewChatThreadCache(NewClient(WithBaseURL(srv.URL + "/api")))

	first, err := cache.GetOrCreateThread(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetOrCreateThread: %v", err)
	}
	second, err := cache.GetOrCreateThread(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetOrCreateThread: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected the same thread, got %s and %s", first.ID, second.ID)
	}
	if len(cache.Threads()) != 1 {
		t.Errorf("expected one tracked thread, got %d", len(cache.Threads()))
	}
}

func TestUnreadAndFocus(t *testing.T) {
	cache := NewChatThreadCache(NewClient())
	drawer := NewDrawerController(cache)

	cache.OnPushMessage(chatMsg("m1", "t1", "2026-08-01T09:00:00Z", "hello"))
	if !cache.Unread("t1") {
		t.Fatal("expected unread indicator on unfocused thread")
	}
	if cache.UnreadCount() != 1 {
		t.Errorf("expected unread count 1, got %d", cache.UnreadCount())
	}

	drawer.Open("t1")
	if id, open := drawer.Current(); !open || id != "t1" {
		t.Errorf("expected drawer on t1, got %q open=%v", id, open)
	}
	if cache.Unread("t1") {
		t.Error("opening the drawer must clear the indicator")
	}

	cache.OnPushMessage(chatMsg("m2", "t1", "2026-08-01T09:01:00Z", "again"))
	if cache.Unread("t1") {
		t.Error("focused thread must not accumulate unread")
	}
	if len(drawer.Messages()) != 2 {
		t.Errorf("expected 2 messages in the drawer, got %d", len(drawer.Messages()))
	}

	// An unfocused sibling thread still accumulates.
	cache.OnPushMessage(chatMsg("m3", "t2", "2026-08-01T09:02:00Z", "other"))
	if !cache.Unread("t2") {
		t.Error("expected unread indicator on the other thread")
	}

	drawer.Close()
	cache.OnPushMessage(chatMsg("m4", "t1", "2026-08-01T09:03:00Z", "later"))
	if !cache.Unread("t1") {
		t.Error("closed drawer must restore unread accumulation")
	}
}

func TestSendMessageNotInsertedLocally(t *testing.T) {
	var sent []map[string]string
	srv := chatServer(t, nil, &sent)
	defer srv.Close()

	cache := NewChatThreadCache(NewClient(WithBaseURL(srv.URL + "/api")))
	if err := cache.SendMessage(context.Background(), "t1", "on my way", ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if len(cache.Messages("t1")) != 0 {
		t.Error("sent message must not appear before the push echo")
	}
	if len(sent) != 1 || sent[0]["text"] != "on my way" {
		t.Errorf("expected the message posted once, got %v", sent)
	}

	// Server echoes the stored message back through the push path; only
	// then does it enter the sequence, exactly once.
	echo := chatMsg("m-server", "t1", "2026-08-01T12:00:00Z", "on my way")
	cache.OnPushMessage(echo)
	cache.OnPushMessage(echo)
	if got := len(cache.Messages("t1")); got != 1 {
		t.Errorf("expected one message after echo, got %d", got)
	}
}

func TestPushUnknownThreadStartsTracking(t *testing.T) {
	cache := NewChatThreadCache(NewClient())
	cache.OnPushMessage(chatMsg("m1", "t9", "2026-08-01T09:00:00Z", "new conversation"))

	if cache.Thread("t9") == nil {
		t.Fatal("expected the unknown thread to be tracked")
	}
	if !cache.Unread("t9") {
		t.Error("expected unread indicator on the new thread")
	}
	if len(cache.Messages("t9")) != 1 {
		t.Errorf("expected 1 message, got %d", len(cache.Messages("t9")))
	}
}
