package models

import (
	"fmt"
	"strings"
)

// SyncMode selects which registered instances follow a leader.
type SyncMode string

const (
	// SyncModeAll targets every other live instance.
	SyncModeAll SyncMode = "all"
	// SyncModeSameGranularity targets instances sharing the leader's granularity.
	SyncModeSameGranularity SyncMode = "same_granularity"
	// SyncModeSameInstrument targets instances sharing the leader's instrument.
	SyncModeSameInstrument SyncMode = "same_instrument"
)

// Valid reports whether m is a known mode.
func (m SyncMode) Valid() bool {
	switch m {
	case SyncModeAll, SyncModeSameGranularity, SyncModeSameInstrument:
		return true
	default:
		return false
	}
}

// ParseSyncMode accepts the snake_case names as well as the CamelCase
// spelling used by host parameter panels (All, SameGranularity, SameInstrument).
// An empty value selects SyncModeAll.
func ParseSyncMode(value string) (SyncMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "", "_", "", " ", "").Replace(normalized)

	switch normalized {
	case "", "all":
		return SyncModeAll, nil
	case "samegranularity", "sametimeframe":
		return SyncModeSameGranularity, nil
	case "sameinstrument", "samesymbol":
		return SyncModeSameInstrument, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSyncMode, value)
	}
}
