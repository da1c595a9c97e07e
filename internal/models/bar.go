package models

import "time"

// Bar is one time-ordered record of a timeline.
type Bar struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
}

// Validate checks the bar has a timestamp and a consistent price range.
func (b Bar) Validate() error {
	validation := &ValidationErrors{}
	if b.OpenTime.IsZero() {
		validation.Add("open_time", ErrInvalidBarTimestamp)
	}
	if b.High < b.Low {
		validation.AddMessage("high", "high must not be below low")
	}
	if b.Volume < 0 {
		validation.AddMessage("volume", "volume must not be negative")
	}
	return validation.Err()
}
