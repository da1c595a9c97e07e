package scrollsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tOgg1/scrollsync/internal/models"
)

var errHostClosed = errors.New("host closed")

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// hours returns n hourly timestamps starting at epoch.
func hours(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = epoch.Add(time.Duration(i) * time.Hour)
	}
	return out
}

// fakeHost is a single-threaded viewport. Work posted to its context sits in
// queue until the test drains it.
type fakeHost struct {
	key      models.ClassificationKey
	alive    bool
	history  []time.Time
	from     int
	first    int
	pageSize int

	loads      int
	loadErr    error
	onLoad     func()
	panicOnRun bool
	// inline fires the scroll handler from inside ApplyScroll instead of
	// queueing it.
	inline bool

	queue       []func()
	handler     func(time.Time)
	annotations map[string]string
}

// newFakeHost buffers the newest `buffered` records of history and shows the
// newest one.
func newFakeHost(key models.ClassificationKey, history []time.Time, buffered, pageSize int) *fakeHost {
	if buffered > len(history) {
		buffered = len(history)
	}
	return &fakeHost{
		key:         key,
		alive:       true,
		history:     history,
		from:        len(history) - buffered,
		first:       len(history) - 1,
		pageSize:    pageSize,
		annotations: make(map[string]string),
	}
}

func (h *fakeHost) Key() models.ClassificationKey { return h.key }

func (h *fakeHost) Alive() bool { return h.alive }

func (h *fakeHost) SetScrollHandler(fn func(time.Time)) { h.handler = fn }

func (h *fakeHost) ApplyScroll(t time.Time) {
	buffered := h.history[h.from:]
	idx := h.from + sort.Search(len(buffered), func(i int) bool { return !buffered[i].Before(t) })
	if idx >= len(h.history) {
		idx = len(h.history) - 1
	}
	if idx == h.first {
		return
	}
	h.first = idx
	at := h.history[idx]
	if h.inline {
		if h.handler != nil {
			h.handler(at)
		}
		return
	}
	h.queue = append(h.queue, func() {
		if h.handler != nil {
			h.handler(at)
		}
	})
}

func (h *fakeHost) FirstVisibleTime() (time.Time, bool) {
	if len(h.history) == 0 {
		return time.Time{}, false
	}
	return h.history[h.first], true
}

func (h *fakeHost) EarliestBufferedTime() (time.Time, bool) {
	if h.from >= len(h.history) {
		return time.Time{}, false
	}
	return h.history[h.from], true
}

func (h *fakeHost) LoadOlderPage(ctx context.Context) (int, error) {
	h.loads++
	if h.onLoad != nil {
		h.onLoad()
	}
	if h.loadErr != nil {
		return 0, h.loadErr
	}
	n := min(h.pageSize, h.from)
	h.from -= n
	return n, nil
}

func (h *fakeHost) RunOnOwnContext(fn func()) error {
	if h.panicOnRun {
		panic("viewport torn down")
	}
	if !h.alive {
		return errHostClosed
	}
	h.queue = append(h.queue, fn)
	return nil
}

func (h *fakeHost) DrawPersistentError(name, message string) {
	h.annotations[name] = message
}

// userScroll simulates the user dragging the viewport to t.
func (h *fakeHost) userScroll(t time.Time) { h.ApplyScroll(t) }

func (h *fakeHost) close() {
	h.alive = false
	h.queue = nil
}

func (h *fakeHost) step() bool {
	if len(h.queue) == 0 {
		return false
	}
	fn := h.queue[0]
	h.queue = h.queue[1:]
	fn()
	return true
}

func (h *fakeHost) leftmost(t *testing.T) time.Time {
	t.Helper()
	at, ok := h.FirstVisibleTime()
	if !ok {
		t.Fatal("host has no visible records")
	}
	return at
}

// drain runs every queued task on every host until all queues are empty.
func drain(hosts ...*fakeHost) {
	for {
		progress := false
		for _, h := range hosts {
			if h.step() {
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []*models.SyncEvent
}

func (r *recordingSink) Publish(_ context.Context, event *models.SyncEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// count returns how many events of eventType were emitted, optionally only by
// the given instance.
func (r *recordingSink) count(eventType models.SyncEventType, instanceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type != eventType {
			continue
		}
		if instanceID != "" && e.InstanceID != instanceID {
			continue
		}
		n++
	}
	return n
}
