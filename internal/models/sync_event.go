package models

import "time"

// SyncEventType categorizes synchronizer diagnostics.
type SyncEventType string

const (
	// Lifecycle events
	SyncEventInstanceRegistered SyncEventType = "instance.registered"
	SyncEventInstanceReplaced   SyncEventType = "instance.replaced"
	SyncEventInstanceDetached   SyncEventType = "instance.detached"

	// Scroll events
	SyncEventBroadcast      SyncEventType = "scroll.broadcast"
	SyncEventApplied        SyncEventType = "scroll.applied"
	SyncEventEchoSuppressed SyncEventType = "scroll.echo_suppressed"
	SyncEventDebounced      SyncEventType = "scroll.debounced"

	// Failure events
	SyncEventStaleHandle      SyncEventType = "handle.stale"
	SyncEventHistoryExhausted SyncEventType = "history.exhausted"

	// Hand-off events
	SyncEventPendingResumed SyncEventType = "pending.resumed"
)

// SyncEvent is one diagnostic record emitted by a synchronizer.
type SyncEvent struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type SyncEventType `json:"type"`

	// InstanceID is the handle ID of the emitting synchronizer.
	InstanceID string `json:"instance_id"`

	// Key is the emitting synchronizer's classification.
	Key ClassificationKey `json:"key"`

	// Target is the timeline position the event concerns, if any.
	Target *time.Time `json:"target,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}
