package scrollsync

import "errors"

var (
	// ErrStaleHandle reports that a registered instance can no longer be reached.
	ErrStaleHandle = errors.New("instance handle is stale")

	// ErrHistoryExhausted reports that no older records are available.
	ErrHistoryExhausted = errors.New("history exhausted")

	// ErrAlreadyAttached is returned by a second Attach call.
	ErrAlreadyAttached = errors.New("synchronizer already attached")

	// ErrNotAttached is returned by Detach before Attach.
	ErrNotAttached = errors.New("synchronizer not attached")
)
