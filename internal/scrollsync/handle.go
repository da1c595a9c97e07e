package scrollsync

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tOgg1/scrollsync/internal/models"
)

// Handle is the registry's reference to one Synchronizer. The instance behind
// it may disappear at any time, so callers check it through Alive and
// deliver, never by assuming it exists.
type Handle struct {
	id      string
	key     models.ClassificationKey
	sync    *Synchronizer
	pending PendingSlot
}

func newHandle(key models.ClassificationKey, s *Synchronizer) *Handle {
	return &Handle{
		id:   uuid.NewString(),
		key:  key,
		sync: s,
	}
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() string { return h.id }

// Key returns the classification the handle was registered under.
func (h *Handle) Key() models.ClassificationKey { return h.key }

// Pending returns the handle's pending-position slot.
func (h *Handle) Pending() *PendingSlot { return &h.pending }

// Alive reports whether the underlying viewport still exists.
func (h *Handle) Alive() bool {
	if h == nil || h.sync == nil || h.sync.host == nil {
		return false
	}
	return h.sync.host.Alive()
}

// deliver posts req onto the target's own context. It never blocks on the
// target and converts every failure, including a panicking host, into
// ErrStaleHandle.
func (h *Handle) deliver(req scrollRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: delivery panicked: %v", ErrStaleHandle, r)
		}
	}()

	if !h.Alive() {
		return ErrStaleHandle
	}
	target := h.sync
	if err := target.host.RunOnOwnContext(func() { target.receive(req) }); err != nil {
		return fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	return nil
}
