package scrollsync

import (
	"sync"
	"time"
)

// PendingSlot holds the position an instance should scroll to once it is
// ready. It survives instance replacement: a new handle registered under the
// same key inherits its predecessor's slot.
type PendingSlot struct {
	mu  sync.Mutex
	at  time.Time
	set bool
}

// Store records t, replacing any earlier target.
func (p *PendingSlot) Store(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.at = t
	p.set = true
}

// Peek returns the target without clearing it.
func (p *PendingSlot) Peek() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.at, p.set
}

// Take returns the target and clears the slot.
func (p *PendingSlot) Take() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.at, p.set
	p.at, p.set = time.Time{}, false
	return at, ok
}

// Clear empties the slot.
func (p *PendingSlot) Clear() {
	p.mu.Lock()
	p.at, p.set = time.Time{}, false
	p.mu.Unlock()
}
