package reclaim

import (
	"context"
	"sort"
	"sync"
)

// NotificationStream merges server-pushed notification events with
// REST-fetched notification lists into one ordered, deduplicated view.
//
// The cache is a mapping keyed by notification id, so merges are naturally
// idempotent regardless of how the push/fetch race resolves; the ordered
// view is materialized on read. NotificationStream is the only writer into
// its storage.
type NotificationStream struct {
	client *Client

	mu   sync.Mutex
	byID map[string]*Notification
}

// NewNotificationStream creates an empty stream backed by the client.
func NewNotificationStream(client *Client) *NotificationStream {
	return &NotificationStream{
		client: client,
		byID:   make(map[string]*Notification),
	}
}

// Bind subscribes the stream to the connection manager's notification
// push events.
func (s *NotificationStream) Bind(conn *ConnectionManager) {
	conn.OnNotification(s.OnPush)
}

// Initialize fetches the current notification list and replaces the cache
// wholesale.
func (s *NotificationStream) Initialize(ctx context.Context) error {
	res, err := s.client.Notifications.List(ctx)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}

	var list []Notification
	if err := res.Decode(&list); err != nil {
		return err
	}

	s.mu.Lock()
	s.byID = make(map[string]*Notification, len(list))
	for i := range list {
		n := list[i]
		s.byID[n.ID] = &n
	}
	s.mu.Unlock()
	return nil
}

// OnPush admits a push-delivered notification. If an entry with that id
// already exists the event is ignored, which covers the case where the
// REST fetch and the push race.
func (s *NotificationStream) OnPush(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[n.ID]; ok {
		return
	}
	s.byID[n.ID] = &n
}

// List returns the visible sequence, newest-first by (createdAt, id).
// Push-delivered entries are by construction newer than anything fetched,
// so they sort to the front regardless of arrival timing.
func (s *NotificationStream) List() []Notification {
	s.mu.Lock()
	out := make([]Notification, 0, len(s.byID))
	for _, n := range s.byID {
		out = append(out, *n)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Unread returns the count of entries with read=false.
func (s *NotificationStream) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.byID {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkRead optimistically sets the read flag, issues the REST call, and
// reverts the local change on failure.
func (s *NotificationStream) MarkRead(ctx context.Context, id string) error {
	s.mu.Lock()
	n, ok := s.byID[id]
	if !ok || n.Read {
		s.mu.Unlock()
		return nil
	}
	n.Read = true
	s.mu.Unlock()

	res, err := s.client.Notifications.MarkRead(ctx, id)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		s.mu.Lock()
		if n, ok := s.byID[id]; ok {
			n.Read = false
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// MarkAllRead optimistically marks everything read, issues the REST call,
// and reverts exactly the entries it flipped on failure.
func (s *NotificationStream) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	var flipped []string
	for id, n := range s.byID {
		if !n.Read {
			n.Read = true
			flipped = append(flipped, id)
		}
	}
	s.mu.Unlock()

	if len(flipped) == 0 {
		return nil
	}

	res, err := s.client.Notifications.MarkAllRead(ctx)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		s.mu.Lock()
		for _, id := range flipped {
			if n, ok := s.byID[id]; ok {
				n.Read = false
			}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Delete optimistically removes the entry, issues the REST call, and
// reinserts it on failure.
func (s *NotificationStream) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	removed, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.byID, id)
	s.mu.Unlock()

	res, err := s.client.Notifications.Delete(ctx, id)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		s.mu.Lock()
		if _, exists := s.byID[id]; !exists {
			s.byID[id] = removed
		}
		s.mu.Unlock()
		return err
	}
	return nil
}
