package scrollsync

import (
	"sort"
	"sync"

	"github.com/tOgg1/scrollsync/internal/models"
)

// Entry is one registry mapping captured by Snapshot.
type Entry struct {
	Key    models.ClassificationKey
	Handle *Handle
}

// Registry maps each ClassificationKey to the latest Handle registered for
// it. It is safe for concurrent use from any number of viewport contexts.
// Construct one per process in the composition root and pass it to every
// Synchronizer.
type Registry struct {
	mu      sync.RWMutex
	entries map[models.ClassificationKey]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[models.ClassificationKey]*Handle),
	}
}

// Register inserts h under its key, replacing any current entry, and returns
// the replaced handle (nil if none). Last writer wins.
func (r *Registry) Register(h *Handle) *Handle {
	if h == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prior := r.entries[h.key]
	r.entries[h.key] = h
	if prior == h {
		return nil
	}
	return prior
}

// Lookup returns the handle currently registered under key.
func (r *Registry) Lookup(key models.ClassificationKey) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.entries[key]
	return h, ok
}

// Snapshot returns a point-in-time copy of all entries ordered by key. Entries
// may be replaced right after the copy is taken; fan-out tolerates that.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.entries))
	for key, h := range r.entries {
		entries = append(entries, Entry{Key: key, Handle: h})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.String() < entries[j].Key.String()
	})
	return entries
}

// Remove deletes the entry for key only if it still maps to expected, so a
// handle that has since been legitimately replaced is left alone.
func (r *Registry) Remove(key models.ClassificationKey, expected *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[key]
	if !ok || current != expected {
		return false
	}
	delete(r.entries, key)
	return true
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Prune removes every entry whose viewport is gone and returns the removed
// entries. A dead handle still holding a pending scroll target is kept so a
// replacement can inherit it. An entry re-registered between the liveness
// check and the removal is kept too.
func (r *Registry) Prune() []Entry {
	var dead []Entry
	for _, entry := range r.Snapshot() {
		if entry.Handle.Alive() {
			continue
		}
		if _, pending := entry.Handle.pending.Peek(); pending {
			continue
		}
		dead = append(dead, entry)
	}

	removed := dead[:0]
	for _, entry := range dead {
		if r.Remove(entry.Key, entry.Handle) {
			removed = append(removed, entry)
		}
	}
	return removed
}
