// Package models defines the core domain types for scrollsync.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Key validation errors.
var (
	ErrEmptyInstrument     = errors.New("instrument id is required")
	ErrUnknownGranularity  = errors.New("unknown granularity")
	ErrEmptyViewKind       = errors.New("view kind is required")
	ErrUnknownSyncMode     = errors.New("unknown sync mode")
	ErrInvalidBarTimestamp = errors.New("bar open time is required")
)

// Granularity is the bar period of a timeline, e.g. one hour per record.
type Granularity string

const (
	GranularityM1  Granularity = "m1"
	GranularityM5  Granularity = "m5"
	GranularityM15 Granularity = "m15"
	GranularityM30 Granularity = "m30"
	GranularityH1  Granularity = "h1"
	GranularityH4  Granularity = "h4"
	GranularityD1  Granularity = "d1"
	GranularityW1  Granularity = "w1"
)

var granularityDurations = map[Granularity]time.Duration{
	GranularityM1:  time.Minute,
	GranularityM5:  5 * time.Minute,
	GranularityM15: 15 * time.Minute,
	GranularityM30: 30 * time.Minute,
	GranularityH1:  time.Hour,
	GranularityH4:  4 * time.Hour,
	GranularityD1:  24 * time.Hour,
	GranularityW1:  7 * 24 * time.Hour,
}

// Duration returns the period length, or zero for an unknown granularity.
func (g Granularity) Duration() time.Duration {
	return granularityDurations[g]
}

// Valid reports whether g is one of the known granularities.
func (g Granularity) Valid() bool {
	_, ok := granularityDurations[g]
	return ok
}

// ParseGranularity parses a granularity name case-insensitively.
func ParseGranularity(value string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(value)))
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, value)
	}
	return g, nil
}

// ViewKind is the presentation style of a viewport (candles, line, ...).
type ViewKind string

const (
	ViewKindCandlestick ViewKind = "candlestick"
	ViewKindLine        ViewKind = "line"
	ViewKindBar         ViewKind = "bar"
	ViewKindHeikinAshi  ViewKind = "heikin_ashi"
	ViewKindRenko       ViewKind = "renko"
)

// ClassificationKey identifies a synchronization group member.
// It is comparable and used directly as a map key.
type ClassificationKey struct {
	InstrumentID string      `json:"instrument_id" mapstructure:"instrument"`
	Granularity  Granularity `json:"granularity" mapstructure:"granularity"`
	ViewKind     ViewKind    `json:"view_kind" mapstructure:"view_kind"`
}

// NewKey builds a ClassificationKey.
func NewKey(instrumentID string, granularity Granularity, viewKind ViewKind) ClassificationKey {
	return ClassificationKey{
		InstrumentID: instrumentID,
		Granularity:  granularity,
		ViewKind:     viewKind,
	}
}

// String renders the key as instrument/granularity/view.
func (k ClassificationKey) String() string {
	return k.InstrumentID + "/" + string(k.Granularity) + "/" + string(k.ViewKind)
}

// Series returns the bar series this key views. The view kind does not
// change the underlying records.
func (k ClassificationKey) Series() SeriesKey {
	return SeriesKey{InstrumentID: k.InstrumentID, Granularity: k.Granularity}
}

// Validate checks that every component of the key is set.
func (k ClassificationKey) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(k.InstrumentID) == "" {
		validation.Add("instrument_id", ErrEmptyInstrument)
	}
	if !k.Granularity.Valid() {
		validation.Add("granularity", fmt.Errorf("%w: %q", ErrUnknownGranularity, k.Granularity))
	}
	if strings.TrimSpace(string(k.ViewKind)) == "" {
		validation.Add("view_kind", ErrEmptyViewKind)
	}
	return validation.Err()
}

// SeriesKey identifies one stored bar series.
type SeriesKey struct {
	InstrumentID string
	Granularity  Granularity
}

func (s SeriesKey) String() string {
	return s.InstrumentID + "/" + string(s.Granularity)
}
