package reclaim

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type threadEntry struct {
	thread   Thread
	messages map[string]*Message
	unread   bool
}

// ChatThreadCache merges server-pushed chat messages with REST-fetched
// thread history per thread. Per-thread storage is keyed by message id, so
// repeated delivery of the same message is a no-op and merge order never
// matters; the sorted sequence is materialized on read.
//
// ChatThreadCache is the only writer into its storage. Sent messages are
// never synthesized locally: the server pushes the message back to the
// sender's own room, making OnPushMessage the single insertion path.
type ChatThreadCache struct {
	client *Client

	mu      sync.Mutex
	threads map[string]*threadEntry
	focused string
}

// NewChatThreadCache creates an empty cache backed by the client.
func NewChatThreadCache(client *Client) *ChatThreadCache {
	return &ChatThreadCache{
		client:  client,
		threads: make(map[string]*threadEntry),
	}
}

// Bind subscribes the cache to the connection manager's message push
// events.
func (c *ChatThreadCache) Bind(conn *ConnectionManager) {
	conn.OnMessage(c.OnPushMessage)
}

func (c *ChatThreadCache) entryLocked(threadID string) *threadEntry {
	e, ok := c.threads[threadID]
	if !ok {
		e = &threadEntry{
			thread:   Thread{ID: threadID},
			messages: make(map[string]*Message),
		}
		c.threads[threadID] = e
	}
	return e
}

func (c *ChatThreadCache) mergeThreadLocked(t Thread) *threadEntry {
	e := c.entryLocked(t.ID)
	if t.PostID != "" {
		e.thread.PostID = t.PostID
	}
	if len(t.Participants) > 0 {
		e.thread.Participants = t.Participants
	}
	if t.CreatedAt != "" {
		e.thread.CreatedAt = t.CreatedAt
	}
	if t.LastMessage != nil {
		e.thread.LastMessage = t.LastMessage
	}
	return e
}

// ListThreads fetches the caller's threads and merges them into the cache.
func (c *ChatThreadCache) ListThreads(ctx context.Context) ([]Thread, error) {
	res, err := c.client.Chats.Threads(ctx)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	var list []Thread
	if err := res.Decode(&list); err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, t := range list {
		c.mergeThreadLocked(t)
	}
	c.mu.Unlock()
	return list, nil
}

// LoadThread fetches the full message history for a thread and merges it
// into the per-thread sequence, deduplicating by message id.
func (c *ChatThreadCache) LoadThread(ctx context.Context, threadID string) error {
	res, err := c.client.Chats.Messages(ctx, threadID)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}

	var list []Message
	if err := res.Decode(&list); err != nil {
		return err
	}

	c.mu.Lock()
	e := c.entryLocked(threadID)
	for i := range list {
		m := list[i]
		if _, ok := e.messages[m.ID]; ok {
			continue
		}
		e.messages[m.ID] = &m
	}
	c.mu.Unlock()
	return nil
}

// OnPushMessage admits a push-delivered message. Unknown threads start
// being tracked (a brand-new thread created by the other party); duplicate
// ids are ignored; the thread's unread indicator is set unless the thread
// is currently focused.
func (c *ChatThreadCache) OnPushMessage(m Message) {
	if m.ID == "" || m.ThreadID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(m.ThreadID)
	if _, ok := e.messages[m.ID]; ok {
		return
	}
	e.messages[m.ID] = &m
	if c.focused != m.ThreadID {
		e.unread = true
	}
}

// GetOrCreateThread ensures a thread exists for the caller and the post's
// owner before the first message is sent. Idempotent from the caller's
// perspective: an existing thread is returned, never duplicated, and the
// same id arriving from concurrent double-invocation collapses into one
// cache entry.
func (c *ChatThreadCache) GetOrCreateThread(ctx context.Context, postID string) (*Thread, error) {
	res, err := c.client.Chats.CreateThread(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	var t Thread
	if err := res.Decode(&t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		return nil, fmt.Errorf("create thread: missing thread id")
	}
	if t.PostID == "" {
		t.PostID = postID
	}

	c.mu.Lock()
	e := c.mergeThreadLocked(t)
	out := e.thread
	c.mu.Unlock()
	return &out, nil
}

// SendMessage posts a message to a thread. The sent message is not
// inserted locally; it arrives through the server's push echo.
func (c *ChatThreadCache) SendMessage(ctx context.Context, threadID, text, imageURL string) error {
	res, err := c.client.Chats.Send(ctx, threadID, text, imageURL)
	if err != nil {
		return err
	}
	return res.Err()
}

// Messages returns the thread's sequence sorted by (createdAt, id)
// ascending, with no duplicate ids.
func (c *ChatThreadCache) Messages(threadID string) []Message {
	c.mu.Lock()
	e, ok := c.threads[threadID]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	out := make([]Message, 0, len(e.messages))
	for _, m := range e.messages {
		out = append(out, *m)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].before(&out[j])
	})
	return out
}

// Thread returns the cached thread metadata, or nil if untracked.
func (c *ChatThreadCache) Thread(threadID string) *Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.threads[threadID]
	if !ok {
		return nil
	}
	t := e.thread
	return &t
}

// Threads returns all tracked threads.
func (c *ChatThreadCache) Threads() []Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Thread, 0, len(c.threads))
	for _, e := range c.threads {
		out = append(out, e.thread)
	}
	return out
}

// Unread reports the thread's unread indicator.
func (c *ChatThreadCache) Unread(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.threads[threadID]
	return ok && e.unread
}

// UnreadCount returns the number of threads with unread messages.
func (c *ChatThreadCache) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, e := range c.threads {
		if e.unread {
			count++
		}
	}
	return count
}

// setFocused is called by the DrawerController; the focused thread never
// accumulates an unread indicator.
func (c *ChatThreadCache) setFocused(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focused = threadID
	if threadID == "" {
		return
	}
	if e, ok := c.threads[threadID]; ok {
		e.unread = false
	}
}
