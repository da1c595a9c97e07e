package scrollsync

import (
	"context"
	"time"

	"github.com/tOgg1/scrollsync/internal/models"
)

// Host is the viewport a Synchronizer drives. Every method except
// RunOnOwnContext and Alive must be called on the viewport's own context.
type Host interface {
	// Key returns the viewport's classification attributes.
	Key() models.ClassificationKey

	// Alive reports whether the viewport still exists.
	Alive() bool

	// SetScrollHandler installs the callback fired whenever the leftmost
	// visible timestamp changes, by user action or by ApplyScroll. The
	// callback may fire from inside ApplyScroll or later on the same context.
	SetScrollHandler(fn func(leftmost time.Time))

	// ApplyScroll moves the visible window so its leftmost record is the
	// one at t, or the closest available.
	ApplyScroll(t time.Time)

	// FirstVisibleTime returns the leftmost visible timestamp.
	FirstVisibleTime() (time.Time, bool)

	// EarliestBufferedTime returns the oldest buffered timestamp.
	EarliestBufferedTime() (time.Time, bool)

	// LoadOlderPage buffers one page of older history and returns the
	// number of new records. Zero means history is exhausted.
	LoadOlderPage(ctx context.Context) (int, error)

	// RunOnOwnContext schedules fn on the viewport's context. It never runs
	// fn inline and returns an error once the viewport is gone.
	RunOnOwnContext(fn func()) error

	// DrawPersistentError shows a named annotation that stays until replaced.
	DrawPersistentError(name, message string)
}

// EventSink receives synchronizer diagnostics. *events.InMemoryPublisher
// satisfies it.
type EventSink interface {
	Publish(ctx context.Context, event *models.SyncEvent)
}
