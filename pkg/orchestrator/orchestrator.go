package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paceprint/paceprint/pkg/ratelimit"
	"github.com/paceprint/paceprint/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for batch jobs.
var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paceprint_batch_jobs_total",
		Help: "Total batch jobs by final status",
	}, []string{"status"})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paceprint_batch_items_total",
		Help: "Total batch items by outcome",
	}, []string{"outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paceprint_batch_job_duration_seconds",
		Help:    "Batch job duration in seconds by final status",
		Buckets: []float64{0.1, 1, 5, 15, 60, 120, 300},
	}, []string{"status"})
)

// Defaults for batch options.
const (
	// DefaultMaxConcurrent bounds the live-fetch worker pool.
	DefaultMaxConcurrent = 3

	// DefaultDeadline caps the wall-clock duration of one job. On
	// reaching it the job stops scheduling and returns a partial result.
	DefaultDeadline = 4 * time.Minute
)

// Fetcher is the upstream collaborator performing one live call per
// resource. *strava.Client implements it.
type Fetcher interface {
	FetchActivityDetail(ctx context.Context, token string, activityID int64) (json.RawMessage, error)
	FetchLaps(ctx context.Context, token string, activityID int64) (json.RawMessage, error)
	FetchComments(ctx context.Context, token string, activityID int64) (json.RawMessage, error)
	FetchPhotos(ctx context.Context, token string, activityID int64) (json.RawMessage, error)
	FetchStreams(ctx context.Context, token string, activityID int64) (json.RawMessage, error)
}

// Options configures one batch job.
type Options struct {
	// MaxConcurrent bounds the live-fetch worker pool. Defaults to
	// DefaultMaxConcurrent.
	MaxConcurrent int

	// ForceRefresh bypasses the cache and overwrites it with fresh
	// payloads.
	ForceRefresh bool

	// Resources selects which sub-records to assemble per activity.
	// Defaults to all resource types.
	Resources []store.ResourceType

	// Deadline caps the job's wall-clock duration. Defaults to
	// DefaultDeadline.
	Deadline time.Duration

	// OnProgress, if set, receives an event after every resolved id.
	OnProgress ProgressFunc
}

// Orchestrator drives batch retrieval jobs. All dependencies are injected;
// the orchestrator holds no job state between calls.
type Orchestrator struct {
	store   store.Store
	tracker *ratelimit.Tracker
	fetcher Fetcher
	logger  zerolog.Logger
}

// New creates an orchestrator.
func New(st store.Store, tracker *ratelimit.Tracker, fetcher Fetcher, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   st,
		tracker: tracker,
		fetcher: fetcher,
		logger:  logger,
	}
}

// workItem is one cache-miss activity awaiting live fetches.
type workItem struct {
	id      int64
	bundle  *Bundle
	missing []store.ResourceType
}

// itemResult is the resolution of one activity id.
type itemResult struct {
	id      int64
	outcome Outcome
	bundle  *Bundle
}

// Run executes one batch job. It returns an error only for caller misuse;
// per-item failures and quota exhaustion are reported through the result's
// counters and status.
func (o *Orchestrator) Run(ctx context.Context, token string, athleteID int64, ids []int64, opts Options) (*Result, error) {
	if token == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if athleteID <= 0 {
		return nil, fmt.Errorf("athlete id must be positive (got %d)", athleteID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("at least one activity id is required")
	}
	if opts.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max concurrent must not be negative (got %d)", opts.MaxConcurrent)
	}
	if opts.MaxConcurrent == 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if len(opts.Resources) == 0 {
		opts.Resources = store.ResourceTypes
	}
	for _, r := range opts.Resources {
		if !r.Valid() {
			return nil, fmt.Errorf("invalid resource type %q", r)
		}
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Deadline)
	defer cancel()

	start := time.Now()
	unique := dedupe(ids)

	j := &job{
		counters:   Counters{Total: len(unique), Remaining: len(unique)},
		bundles:    make(map[int64]*Bundle, len(unique)),
		onProgress: opts.OnProgress,
		logger:     o.logger,
	}

	o.logger.Info().
		Int64("athlete_id", athleteID).
		Int("activities", len(unique)).
		Int("max_concurrent", opts.MaxConcurrent).
		Bool("force_refresh", opts.ForceRefresh).
		Msg("Starting batch fetch")

	// Cache pass: ids fully served from cache resolve here, synchronously.
	misses := make([]workItem, 0, len(unique))
	for _, id := range unique {
		item := o.loadCached(ctx, athleteID, id, opts)
		if len(item.missing) == 0 {
			j.resolve(item.id, OutcomeFromCache, item.bundle)
			continue
		}
		misses = append(misses, item)
	}

	// Worker pool over the misses: a dispatcher feeds a queue, workers
	// resolve items, the collector serializes accounting and progress
	// events. The cutoff flag (quota margin or deadline) stops the
	// dispatcher; in-flight workers finish their item.
	if len(misses) > 0 {
		queue := make(chan workItem)
		results := make(chan itemResult)
		var cutoff atomic.Bool

		go func() {
			defer close(queue)
			for i := 0; i < len(misses); i++ {
				if cutoff.Load() || ctx.Err() != nil {
					for _, rest := range misses[i:] {
						results <- itemResult{id: rest.id, outcome: OutcomeSkipped, bundle: rest.bundle}
					}
					return
				}
				select {
				case queue <- misses[i]:
				case <-ctx.Done():
					for _, rest := range misses[i:] {
						results <- itemResult{id: rest.id, outcome: OutcomeSkipped, bundle: rest.bundle}
					}
					return
				}
			}
		}()

		var wg sync.WaitGroup
		for w := 0; w < opts.MaxConcurrent; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for item := range queue {
					results <- o.processItem(ctx, token, athleteID, item, &cutoff)
				}
			}()
		}

		for resolved := 0; resolved < len(misses); resolved++ {
			r := <-results
			j.resolve(r.id, r.outcome, r.bundle)
		}
		wg.Wait()
	}

	result := &Result{
		Counters:  j.counters,
		Bundles:   j.bundles,
		RateLimit: o.tracker.Info(),
	}
	result.Status = StatusComplete
	if j.counters.SkippedRateLimit > 0 {
		result.Status = StatusPartial
	}

	jobsTotal.WithLabelValues(string(result.Status)).Inc()
	jobDuration.WithLabelValues(string(result.Status)).Observe(time.Since(start).Seconds())

	o.logger.Info().
		Int64("athlete_id", athleteID).
		Str("status", string(result.Status)).
		Int("from_cache", j.counters.FromCache).
		Int("fetched", j.counters.Fetched).
		Int("failed", j.counters.Failed).
		Int("skipped_rate_limit", j.counters.SkippedRateLimit).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return result, nil
}

// loadCached assembles whatever the cache already holds for one id and
// returns the resources still missing. ForceRefresh marks everything
// missing so every resource is re-fetched and overwritten.
func (o *Orchestrator) loadCached(ctx context.Context, athleteID, id int64, opts Options) workItem {
	item := workItem{id: id, bundle: &Bundle{}}

	if opts.ForceRefresh {
		item.missing = opts.Resources
		return item
	}

	var oldest time.Time
	for _, r := range opts.Resources {
		entry, err := o.store.Get(ctx, store.Key{Resource: r, AthleteID: athleteID, ResourceID: id})
		if err != nil {
			// Miss or unreadable entry: fetch it live.
			item.missing = append(item.missing, r)
			continue
		}
		item.bundle.set(r, entry.Payload)
		if oldest.IsZero() || entry.FetchedAt.Before(oldest) {
			oldest = entry.FetchedAt
		}
	}
	if len(item.missing) == 0 {
		item.bundle.FetchedAt = oldest
	}
	return item
}

// processItem fetches the missing resources of one activity. Every round
// trip is gated by the quota check and recorded afterwards, success or
// failure.
func (o *Orchestrator) processItem(ctx context.Context, token string, athleteID int64, item workItem, cutoff *atomic.Bool) itemResult {
	failed := false

	for _, r := range item.missing {
		if ctx.Err() != nil || cutoff.Load() {
			return itemResult{id: item.id, outcome: OutcomeSkipped, bundle: item.bundle}
		}

		if d := o.tracker.Check(); !d.CanMakeRequest {
			if cutoff.CompareAndSwap(false, true) {
				o.logger.Warn().
					Str("reason", d.Reason).
					Int64("activity_id", item.id).
					Msg("Quota safety margin reached - stopping new fetches")
			}
			return itemResult{id: item.id, outcome: OutcomeSkipped, bundle: item.bundle}
		}

		payload, err := o.fetchResource(ctx, token, item.id, r)
		// A failed call still consumed quota upstream.
		o.tracker.RecordRequest()
		if err != nil {
			o.logger.Warn().
				Err(err).
				Int64("activity_id", item.id).
				Str("resource", string(r)).
				Msg("Resource fetch failed")
			failed = true
			break
		}

		item.bundle.set(r, payload)

		entry := &store.Entry{
			AthleteID:  athleteID,
			ResourceID: item.id,
			Resource:   r,
			Payload:    payload,
			FetchedAt:  time.Now().UTC(),
		}
		if err := o.store.Put(ctx, entry); err != nil {
			// The fresh payload stays in the bundle; the id is counted
			// failed because the cache is not guaranteed to hold it.
			o.logger.Error().
				Err(err).
				Int64("activity_id", item.id).
				Str("resource", string(r)).
				Msg("Cache write failed")
			failed = true
		}
	}

	if failed {
		return itemResult{id: item.id, outcome: OutcomeFailed, bundle: item.bundle}
	}
	return itemResult{id: item.id, outcome: OutcomeFetched, bundle: item.bundle}
}

// fetchResource dispatches one live call to the collaborator.
func (o *Orchestrator) fetchResource(ctx context.Context, token string, id int64, r store.ResourceType) (json.RawMessage, error) {
	switch r {
	case store.ResourceDetail:
		return o.fetcher.FetchActivityDetail(ctx, token, id)
	case store.ResourceLaps:
		return o.fetcher.FetchLaps(ctx, token, id)
	case store.ResourceComments:
		return o.fetcher.FetchComments(ctx, token, id)
	case store.ResourcePhotos:
		return o.fetcher.FetchPhotos(ctx, token, id)
	case store.ResourceStreams:
		return o.fetcher.FetchStreams(ctx, token, id)
	default:
		return nil, fmt.Errorf("unknown resource type %q", r)
	}
}

// job holds the mutable accounting of one run. resolve is only called from
// the goroutine running Run, so no locking is needed.
type job struct {
	counters   Counters
	bundles    map[int64]*Bundle
	onProgress ProgressFunc
	logger     zerolog.Logger
}

// resolve accounts one id and fires the progress callback.
func (j *job) resolve(id int64, outcome Outcome, bundle *Bundle) {
	switch outcome {
	case OutcomeFromCache:
		j.counters.FromCache++
	case OutcomeFetched:
		j.counters.Fetched++
	case OutcomeFailed:
		j.counters.Failed++
	case OutcomeSkipped:
		j.counters.SkippedRateLimit++
	}
	j.counters.Remaining--
	itemsTotal.WithLabelValues(string(outcome)).Inc()

	if bundle != nil && !bundle.empty() {
		j.bundles[id] = bundle
	}

	resolved := j.counters.Total - j.counters.Remaining
	if resolved%25 == 0 {
		j.logger.Info().
			Int("resolved", resolved).
			Int("total", j.counters.Total).
			Msg("Batch progress")
	}

	if j.onProgress != nil {
		phase := PhaseFetching
		if j.counters.Remaining == 0 {
			phase = PhaseComplete
		}
		j.onProgress(ProgressEvent{
			Phase:      phase,
			ActivityID: id,
			Outcome:    outcome,
			Counters:   j.counters,
		})
	}
}

// empty reports whether the bundle holds no payloads at all.
func (b *Bundle) empty() bool {
	return b.Activity == nil && b.Laps == nil && b.Comments == nil &&
		b.Photos == nil && b.Streams == nil
}

// dedupe preserves first-seen order while dropping duplicate ids, so no two
// workers are ever assigned the same resource key within one job.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
