package workspace

import "sync"

// ChangeOrigin distinguishes edits the file service made itself from changes
// observed on disk.
type ChangeOrigin int

const (
	// OriginApply marks a change written by an apply operation.
	OriginApply ChangeOrigin = iota
	// OriginExternal marks a change detected by the watcher.
	OriginExternal
)

// FileChange describes one file mutation, keyed by workspace-relative path.
type FileChange struct {
	Path    string
	Origin  ChangeOrigin
	Deleted bool
	Created bool
}

// ChangeHandler receives file change batches. Handlers run on the publisher's
// goroutine and must not block.
type ChangeHandler func(changes []FileChange)

// Bus fans file change notifications out to subscribers. The file service
// publishes; the server registry and cache subscribe. Both sides depend only
// on the bus, never on each other.
type Bus struct {
	mu   sync.RWMutex
	subs []ChangeHandler
}

// NewBus returns an empty bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers a handler for all future publishes.
func (b *Bus) Subscribe(h ChangeHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, h)
}

// Publish delivers a batch to every subscriber.
func (b *Bus) Publish(changes []FileChange) {
	if len(changes) == 0 {
		return
	}
	b.mu.RLock()
	subs := make([]ChangeHandler, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	for _, h := range subs {
		h(changes)
	}
}
