package viewport

import (
	"context"
	"sync"
)

// Tracker counts tasks queued or running across a group of viewports. Tasks
// are only posted by running tasks or by outside callers, so a zero count
// means the whole group is quiet.
type Tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

// NewTracker creates an idle Tracker.
func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{idle: idle}
}

func (t *Tracker) add(delta int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	was := t.n
	t.n += delta
	if t.n < 0 {
		t.n = 0
	}
	switch {
	case was == 0 && t.n > 0:
		t.idle = make(chan struct{})
	case was > 0 && t.n == 0:
		close(t.idle)
	}
}

// Outstanding returns the number of queued or running tasks.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Wait blocks until no task is queued or running, or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
