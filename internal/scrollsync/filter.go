package scrollsync

import "github.com/tOgg1/scrollsync/internal/models"

// Matches reports whether candidate follows leader under mode.
func Matches(mode models.SyncMode, leader, candidate models.ClassificationKey) bool {
	switch mode {
	case models.SyncModeAll:
		return true
	case models.SyncModeSameGranularity:
		return candidate.Granularity == leader.Granularity
	case models.SyncModeSameInstrument:
		return candidate.InstrumentID == leader.InstrumentID
	default:
		return false
	}
}

// SelectTargets returns the handles in entries that follow self under mode.
// self is always excluded. Liveness is not checked here: a dead target is
// discovered when delivery to it fails.
func SelectTargets(entries []Entry, self *Handle, mode models.SyncMode) []*Handle {
	if self == nil {
		return nil
	}

	var targets []*Handle
	for _, entry := range entries {
		if entry.Handle == nil || entry.Handle == self {
			continue
		}
		if !Matches(mode, self.key, entry.Key) {
			continue
		}
		targets = append(targets, entry.Handle)
	}
	return targets
}
