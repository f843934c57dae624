package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	shortWindowUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paceprint_rate_limit_short_window_usage",
		Help: "Requests consumed in the current 15-minute Strava quota window",
	})

	dailyUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paceprint_rate_limit_daily_usage",
		Help: "Requests consumed in the current daily Strava quota window",
	})

	rateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paceprint_rate_limit_blocks_total",
		Help: "Total number of requests blocked by the quota safety margin",
	}, []string{"window"})
)

// Decision is the result of a pre-request quota check.
type Decision struct {
	// CanMakeRequest is false when usage of either window has crossed the
	// safety margin.
	CanMakeRequest bool

	// Reason explains a negative decision; empty otherwise.
	Reason string
}

// Config holds tracker configuration.
type Config struct {
	// ShortWindowLimit is the request quota per 15 minutes.
	ShortWindowLimit int

	// DailyLimit is the request quota per day.
	DailyLimit int

	// SafetyMargin is the fraction of either limit at which new requests
	// are stopped (e.g. 0.90).
	SafetyMargin float64

	// Clock returns the current time. Defaults to time.Now; injectable
	// for tests.
	Clock func() time.Time
}

// DefaultConfig returns the Strava application default quotas.
func DefaultConfig() Config {
	return Config{
		ShortWindowLimit: DefaultShortWindowLimit,
		DailyLimit:       DefaultDailyLimit,
		SafetyMargin:     DefaultSafetyMargin,
		Clock:            time.Now,
	}
}

// Tracker is the process-wide request quota bookkeeper. It performs no I/O
// and is safe for concurrent use: the counters are a single critical
// section guarded by one mutex, kept to one read-modify-write per call.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	logger zerolog.Logger
}

// NewTracker creates a tracker with fresh windows starting now.
func NewTracker(cfg Config, logger zerolog.Logger) *Tracker {
	if cfg.ShortWindowLimit <= 0 {
		cfg.ShortWindowLimit = DefaultShortWindowLimit
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = DefaultDailyLimit
	}
	if cfg.SafetyMargin <= 0 || cfg.SafetyMargin > 1 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	now := cfg.Clock()
	return &Tracker{
		cfg:    cfg,
		logger: logger,
		state: State{
			ShortWindowLimit:   cfg.ShortWindowLimit,
			ShortWindowResetAt: now.Add(ShortWindow),
			DailyLimit:         cfg.DailyLimit,
			DailyResetAt:       now.Add(DailyWindow),
		},
	}
}

// RecordRequest accounts one upstream call against both windows. Failed
// calls consume quota too, so this fires after every round trip regardless
// of outcome. Expired windows roll over before the increment.
func (t *Tracker) RecordRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover(t.cfg.Clock())
	t.state.ShortWindowUsage++
	t.state.DailyUsage++

	shortWindowUsage.Set(float64(t.state.ShortWindowUsage))
	dailyUsage.Set(float64(t.state.DailyUsage))
}

// Info returns a read-only snapshot of the current quota state.
func (t *Tracker) Info() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover(t.cfg.Clock())
	return t.state
}

// Check reports whether a new request may be issued. The decision turns
// negative once usage of either window crosses the safety margin; the
// margin protects against overshoot from concurrent in-flight requests
// that record after this check.
func (t *Tracker) Check() Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.cfg.Clock()
	t.rollover(now)

	if t.state.ShortUsagePct() >= t.cfg.SafetyMargin {
		rateLimitBlocksTotal.WithLabelValues("short").Inc()
		t.logger.Warn().
			Int("usage", t.state.ShortWindowUsage).
			Int("limit", t.state.ShortWindowLimit).
			Dur("reset_in", t.state.TimeUntilShortReset(now)).
			Msg("15-minute quota window near limit - blocking new requests")
		return Decision{
			Reason: fmt.Sprintf("15-minute window near limit (%d/%d used, resets in %s)",
				t.state.ShortWindowUsage, t.state.ShortWindowLimit,
				t.state.TimeUntilShortReset(now).Round(time.Second)),
		}
	}

	if t.state.DailyUsagePct() >= t.cfg.SafetyMargin {
		rateLimitBlocksTotal.WithLabelValues("daily").Inc()
		t.logger.Warn().
			Int("usage", t.state.DailyUsage).
			Int("limit", t.state.DailyLimit).
			Dur("reset_in", t.state.TimeUntilDailyReset(now)).
			Msg("Daily quota window near limit - blocking new requests")
		return Decision{
			Reason: fmt.Sprintf("daily window near limit (%d/%d used, resets in %s)",
				t.state.DailyUsage, t.state.DailyLimit,
				t.state.TimeUntilDailyReset(now).Round(time.Second)),
		}
	}

	return Decision{CanMakeRequest: true}
}

// Seed replaces the current counters and reset times. Intended for tests
// and for restoring externally observed usage (the X-RateLimit-Usage
// response header).
func (t *Tracker) Seed(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state.ShortWindowLimit <= 0 {
		state.ShortWindowLimit = t.cfg.ShortWindowLimit
	}
	if state.DailyLimit <= 0 {
		state.DailyLimit = t.cfg.DailyLimit
	}

	// Header-derived usage often comes without reset times. A zero reset
	// time must start a fresh window, not count as long expired.
	now := t.cfg.Clock()
	if state.ShortWindowResetAt.IsZero() {
		state.ShortWindowResetAt = now.Add(ShortWindow)
	}
	if state.DailyResetAt.IsZero() {
		state.DailyResetAt = now.Add(DailyWindow)
	}
	t.state = state

	shortWindowUsage.Set(float64(t.state.ShortWindowUsage))
	dailyUsage.Set(float64(t.state.DailyUsage))
}

// rollover resets any window whose reset time has passed and advances the
// reset time by whole window durations until it is in the future.
// Caller must hold t.mu.
func (t *Tracker) rollover(now time.Time) {
	if !now.Before(t.state.ShortWindowResetAt) {
		t.state.ShortWindowUsage = 0
		for !now.Before(t.state.ShortWindowResetAt) {
			t.state.ShortWindowResetAt = t.state.ShortWindowResetAt.Add(ShortWindow)
		}
		t.logger.Debug().Time("reset_at", t.state.ShortWindowResetAt).Msg("15-minute quota window rolled over")
	}
	if !now.Before(t.state.DailyResetAt) {
		t.state.DailyUsage = 0
		for !now.Before(t.state.DailyResetAt) {
			t.state.DailyResetAt = t.state.DailyResetAt.Add(DailyWindow)
		}
		t.logger.Debug().Time("reset_at", t.state.DailyResetAt).Msg("Daily quota window rolled over")
	}
}
