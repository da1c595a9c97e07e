// Package scrollsync keeps independent viewports scrolled to the same
// position on a shared timeline.
//
// Every viewport owns one Synchronizer. Synchronizers find each other through
// a Registry keyed by models.ClassificationKey. A local scroll makes the
// instance the leader for that moment: it selects followers with the
// configured models.SyncMode and posts a scroll request onto each follower's
// own execution context. Followers page in older history when needed, apply
// the scroll and absorb the resulting echo notification instead of
// broadcasting it again.
//
// Wiring, from a host's composition root:
//
//	reg := scrollsync.NewRegistry()
//	s := scrollsync.New(reg, host, scrollsync.WithMode(models.SyncModeSameInstrument))
//	if err := s.Attach(ctx); err != nil {
//		return err
//	}
//
// All Synchronizer state except the suppression budget is owned by the
// viewport's execution context; the host must invoke OnScrollChanged there.
package scrollsync
