package scrollsync

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/tOgg1/scrollsync/internal/models"
)

// catchUpResult is how a history catch-up ended.
type catchUpResult int

const (
	caughtUp catchUpResult = iota
	historyExhausted
	catchUpInterrupted
)

// receive runs a leader's scroll request on this viewport's own context.
func (s *Synchronizer) receive(req scrollRequest) {
	s.handle.pending.Store(req.at)

	result := s.catchUp(req.at)
	if result == catchUpInterrupted || !s.host.Alive() {
		// The viewport is going away. The target stays in the slot so a
		// replacement registered under the same key can inherit it.
		req.token.settle()
		s.logger.Debug().Time("at", req.at).Msg("viewport gone during catch-up, keeping pending target")
		return
	}

	before, hadBefore := s.host.FirstVisibleTime()
	inline := s.applyScroll(req)
	after, ok := s.host.FirstVisibleTime()

	switch {
	case inline:
		// The host already notified us from inside ApplyScroll.
	case ok && (!hadBefore || !before.Equal(after)):
		s.echoes = append(s.echoes, expectedEcho{at: after, token: req.token})
	default:
		// The window did not move, so the host raises no notification.
		req.token.settle()
	}
	s.handle.pending.Clear()

	metadata := map[string]string{"exhausted": strconv.FormatBool(result == historyExhausted)}
	if req.leaderID != "" {
		metadata["leader_id"] = req.leaderID
	}
	if ok {
		metadata["leftmost"] = after.UTC().Format(time.RFC3339)
	}
	s.emit(models.SyncEventApplied, &req.at, metadata)
}

// applyScroll calls ApplyScroll with the request's token armed, so a host that
// fires its scroll callback synchronously has the notification absorbed as an
// echo. It reports whether that happened.
func (s *Synchronizer) applyScroll(req scrollRequest) bool {
	s.applying = &inlineApply{token: req.token}
	defer func() { s.applying = nil }()

	s.host.ApplyScroll(req.at)
	return s.applying.consumed
}

// catchUp pages in history until target is buffered. When history runs out
// the persistent error annotation is drawn and the caller scrolls as far as
// the data allows. A cancelled context means the viewport is shutting down.
func (s *Synchronizer) catchUp(target time.Time) catchUpResult {
	earliest, ok := s.host.EarliestBufferedTime()
	if ok && !target.Before(earliest) {
		return caughtUp
	}

	outcome, err := s.loader.EnsureCovers(s.ctx, target)
	if outcome == Sufficient {
		return caughtUp
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Debug().Err(err).Msg("history catch-up interrupted")
		return catchUpInterrupted
	}

	s.host.DrawPersistentError(ErrorAnnotation, s.errorMessage)
	s.metrics.ObserveExhausted()

	event := s.logger.Warn().Time("target", target)
	if earliest, ok := s.host.EarliestBufferedTime(); ok {
		event = event.Time("earliest", earliest)
	}
	if err != nil && err != ErrHistoryExhausted {
		// A failing page, as opposed to an empty one.
		event = event.Err(err)
	}
	event.Msg("history exhausted before reaching scroll target")

	s.emit(models.SyncEventHistoryExhausted, &target, nil)
	return historyExhausted
}

// resume applies a target inherited from a replaced predecessor. The scroll
// is local hand-off, not a leadership episode: its echo is absorbed like a
// follower echo so it is not broadcast again.
func (s *Synchronizer) resume(at time.Time) {
	if _, ok := s.handle.pending.Peek(); !ok {
		// A user scroll cleared the target before the resume ran.
		return
	}
	s.metrics.ObserveResume()
	s.logger.Info().Time("at", at).Msg("resuming pending scroll target")
	s.emit(models.SyncEventPendingResumed, &at, nil)
	s.receive(scrollRequest{at: at})
}
