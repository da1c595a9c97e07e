package scrollsync

import (
	"strconv"
	"time"

	"github.com/tOgg1/scrollsync/internal/models"
)

// OnScrollChanged handles the host's scroll notification for this viewport.
// It must run on the viewport's own context.
//
// The notification is absorbed when it is the echo of a follower scroll this
// instance applied, whether the host raises it later or from inside
// ApplyScroll, or when it repeats the last position seen. Otherwise the
// instance leads: it broadcasts leftmost to every matching follower and
// returns without waiting for them.
func (s *Synchronizer) OnScrollChanged(leftmost time.Time) {
	if s.handle == nil {
		return
	}

	if s.consumeInline() || s.consumeEcho(leftmost) {
		s.last, s.hasLast = leftmost, true
		s.metrics.ObserveEcho()
		s.logger.Debug().Time("at", leftmost).Msg("echo suppressed")
		s.emit(models.SyncEventEchoSuppressed, &leftmost, nil)
		return
	}

	if s.hasLast && s.last.Equal(leftmost) {
		s.metrics.ObserveDebounce()
		s.logger.Debug().Time("at", leftmost).Msg("redundant scroll notification ignored")
		s.emit(models.SyncEventDebounced, &leftmost, nil)
		return
	}

	s.last, s.hasLast = leftmost, true
	s.handle.pending.Clear()
	s.broadcast(leftmost)
}

// consumeInline absorbs a notification raised from inside ApplyScroll. Only
// the first one counts against the leader's budget.
func (s *Synchronizer) consumeInline() bool {
	if s.applying == nil {
		return false
	}
	if !s.applying.consumed {
		s.applying.consumed = true
		s.applying.token.settle()
	}
	return true
}

// consumeEcho removes the first expected echo at the given position and
// settles it against the originating leader's budget.
func (s *Synchronizer) consumeEcho(at time.Time) bool {
	for i, echo := range s.echoes {
		if !echo.at.Equal(at) {
			continue
		}
		s.echoes = append(s.echoes[:i], s.echoes[i+1:]...)
		echo.token.settle()
		return true
	}
	return false
}

// broadcast fans at out to every follower selected by the mode filter. A new
// episode overwrites the suppression budget under a fresh epoch, so echoes of
// an overtaken episode cannot drain it.
func (s *Synchronizer) broadcast(at time.Time) {
	targets := SelectTargets(s.registry.Snapshot(), s.handle, s.mode)
	epoch := s.budget.reset(len(targets))

	s.metrics.ObserveBroadcast(string(s.mode))
	s.logger.Debug().
		Time("at", at).
		Int("targets", len(targets)).
		Uint32("epoch", epoch).
		Msg("broadcasting scroll")
	s.emit(models.SyncEventBroadcast, &at, map[string]string{
		"mode":    string(s.mode),
		"targets": strconv.Itoa(len(targets)),
	})

	for _, target := range targets {
		req := scrollRequest{
			at:       at,
			leaderID: s.handle.id,
			token:    echoToken{leader: s, epoch: epoch},
		}
		if err := target.deliver(req); err != nil {
			s.dropTarget(target, req, err)
			continue
		}
		s.metrics.ObserveDispatch(true)
	}
}

// dropTarget handles a follower that could not be reached: it will never
// echo, so its share of the budget is released, and its handle is removed
// unless the key has been re-registered meanwhile.
func (s *Synchronizer) dropTarget(target *Handle, req scrollRequest, err error) {
	req.token.settle()
	removed := s.registry.Remove(target.key, target)
	s.metrics.ObserveDispatch(false)
	s.metrics.ObserveStale()
	s.metrics.SetInstances(s.registry.Len())

	s.logger.Debug().
		Err(err).
		Str("target_id", target.id).
		Str("target_key", target.key.String()).
		Bool("removed", removed).
		Msg("follower unreachable")
	s.emit(models.SyncEventStaleHandle, &req.at, map[string]string{
		"target_id":  target.id,
		"target_key": target.key.String(),
		"removed":    strconv.FormatBool(removed),
	})
}
