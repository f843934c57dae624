// Package ratelimit tracks consumed requests against the Strava API's two
// sliding quota windows (15-minute and daily) and gates new requests at a
// configurable safety margin below the hard limits.
package ratelimit

import (
	"time"
)

// Default Strava application quotas and windows.
const (
	// DefaultShortWindowLimit is the default request quota per 15 minutes.
	DefaultShortWindowLimit = 200

	// DefaultDailyLimit is the default request quota per day.
	DefaultDailyLimit = 2000

	// ShortWindow is the duration of the short quota window.
	ShortWindow = 15 * time.Minute

	// DailyWindow is the duration of the long quota window.
	DailyWindow = 24 * time.Hour

	// DefaultSafetyMargin stops new requests once usage of either window
	// crosses this fraction of its limit. The margin absorbs in-flight
	// concurrent requests that record after the check.
	DefaultSafetyMargin = 0.90
)

// State is a read-only snapshot of the current quota consumption.
type State struct {
	// ShortWindowUsage is the number of requests consumed in the current
	// 15-minute window.
	ShortWindowUsage int `json:"short_window_usage"`

	// ShortWindowLimit is the request quota of the 15-minute window.
	ShortWindowLimit int `json:"short_window_limit"`

	// ShortWindowResetAt is when the 15-minute window rolls over.
	ShortWindowResetAt time.Time `json:"short_window_reset_at"`

	// DailyUsage is the number of requests consumed in the current day.
	DailyUsage int `json:"daily_usage"`

	// DailyLimit is the request quota of the daily window.
	DailyLimit int `json:"daily_limit"`

	// DailyResetAt is when the daily window rolls over.
	DailyResetAt time.Time `json:"daily_reset_at"`
}

// ShortUsagePct returns the 15-minute window usage as a fraction of its
// limit (0.0 to 1.0+).
func (s State) ShortUsagePct() float64 {
	if s.ShortWindowLimit <= 0 {
		return 0
	}
	return float64(s.ShortWindowUsage) / float64(s.ShortWindowLimit)
}

// DailyUsagePct returns the daily window usage as a fraction of its limit.
func (s State) DailyUsagePct() float64 {
	if s.DailyLimit <= 0 {
		return 0
	}
	return float64(s.DailyUsage) / float64(s.DailyLimit)
}

// TimeUntilShortReset returns the duration until the 15-minute window
// resets. Returns 0 if the reset time has already passed.
func (s State) TimeUntilShortReset(now time.Time) time.Duration {
	d := s.ShortWindowResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilDailyReset returns the duration until the daily window resets.
// Returns 0 if the reset time has already passed.
func (s State) TimeUntilDailyReset(now time.Time) time.Duration {
	d := s.DailyResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
