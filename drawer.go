package reclaim

import "sync"

// DrawerController holds the thin UI-facing state: which thread, if any,
// is currently focused. It depends on ChatThreadCache only for data;
// presentation code reads through it.
type DrawerController struct {
	cache *ChatThreadCache

	mu       sync.Mutex
	open     bool
	threadID string
}

// NewDrawerController creates a drawer over the given cache.
func NewDrawerController(cache *ChatThreadCache) *DrawerController {
	return &DrawerController{cache: cache}
}

// Open focuses a thread. The focused thread's unread indicator clears and
// stays clear while focused.
func (d *DrawerController) Open(threadID string) {
	d.mu.Lock()
	d.open = true
	d.threadID = threadID
	d.mu.Unlock()
	d.cache.setFocused(threadID)
}

// Close clears the focus.
func (d *DrawerController) Close() {
	d.mu.Lock()
	d.open = false
	d.threadID = ""
	d.mu.Unlock()
	d.cache.setFocused("")
}

// Current returns the focused thread id and whether the drawer is open.
func (d *DrawerController) Current() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threadID, d.open
}

// Messages returns the focused thread's messages, or nil when closed.
func (d *DrawerController) Messages() []Message {
	id, open := d.Current()
	if !open {
		return nil
	}
	return d.cache.Messages(id)
}
