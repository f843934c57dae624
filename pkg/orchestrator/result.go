package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/paceprint/paceprint/pkg/ratelimit"
	"github.com/paceprint/paceprint/pkg/store"
)

// Phase labels the progress of a batch job.
type Phase string

const (
	// PhaseFetching is reported while activity ids are being resolved.
	PhaseFetching Phase = "fetching_activities"

	// PhaseComplete is reported once no ids remain.
	PhaseComplete Phase = "complete"
)

// Status is the final outcome of a batch job.
type Status string

const (
	// StatusComplete means every id was resolved (possibly with per-item
	// failures).
	StatusComplete Status = "complete"

	// StatusPartial means quota or deadline exhaustion stopped the job
	// before all ids could be scheduled.
	StatusPartial Status = "partial"
)

// Outcome classifies how one activity id was resolved.
type Outcome string

const (
	// OutcomeFromCache means every requested resource was already cached.
	OutcomeFromCache Outcome = "from_cache"

	// OutcomeFetched means at least one resource was fetched live and all
	// live calls succeeded.
	OutcomeFetched Outcome = "fetched"

	// OutcomeFailed means an upstream or storage error hit the id.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped means the rate-limit margin or the deadline stopped
	// the id from being (fully) processed.
	OutcomeSkipped Outcome = "skipped_rate_limit"
)

// Counters tracks per-outcome accounting of a batch job.
// FromCache + Fetched + Failed + SkippedRateLimit == Total at completion.
type Counters struct {
	Total            int `json:"total"`
	FromCache        int `json:"from_cache"`
	Fetched          int `json:"fetched"`
	Failed           int `json:"failed"`
	SkippedRateLimit int `json:"skipped_rate_limit"`
	Remaining        int `json:"remaining"`
}

// ProgressEvent is delivered to the progress callback after each resolved
// id, in completion order.
type ProgressEvent struct {
	Phase      Phase    `json:"phase"`
	ActivityID int64    `json:"activity_id"`
	Outcome    Outcome  `json:"outcome"`
	Counters   Counters `json:"counters"`
}

// ProgressFunc receives progress events. It is invoked synchronously from
// the job's collector goroutine, never concurrently with itself.
type ProgressFunc func(ProgressEvent)

// Bundle is the aggregate of one activity needed for downstream rendering.
// Fields are nil for resources that were not requested or not resolved.
type Bundle struct {
	Activity json.RawMessage `json:"activity,omitempty"`
	Laps     json.RawMessage `json:"laps,omitempty"`
	Comments json.RawMessage `json:"comments,omitempty"`
	Photos   json.RawMessage `json:"photos,omitempty"`
	Streams  json.RawMessage `json:"streams,omitempty"`

	// FetchedAt is the oldest fetch time among the bundle's resources,
	// zero when any resource came from a live call in this job.
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// set stores a payload under its resource type.
func (b *Bundle) set(resource store.ResourceType, payload json.RawMessage) {
	switch resource {
	case store.ResourceDetail:
		b.Activity = payload
	case store.ResourceLaps:
		b.Laps = payload
	case store.ResourceComments:
		b.Comments = payload
	case store.ResourcePhotos:
		b.Photos = payload
	case store.ResourceStreams:
		b.Streams = payload
	}
}

// Result is the final aggregate returned to the caller.
type Result struct {
	// Status is partial iff SkippedRateLimit > 0.
	Status Status `json:"status"`

	// Counters is the per-outcome accounting.
	Counters Counters `json:"counters"`

	// Bundles holds the resolved data per activity id. Failed and skipped
	// ids may still appear with whatever resources were cached.
	Bundles map[int64]*Bundle `json:"bundles"`

	// RateLimit is the quota state at job completion, so the caller can
	// decide when to retry a partial job.
	RateLimit ratelimit.State `json:"rate_limit"`
}
