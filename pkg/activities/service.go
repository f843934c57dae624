// Package activities is the top-level facade of the PacePrint library. It
// bundles the cache store, the quota tracker, the Strava client and the batch
// orchestrator behind one service type so callers (the HTTP daemon, the book
// generator, examples) wire a single dependency.
package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/paceprint/paceprint/pkg/orchestrator"
	"github.com/paceprint/paceprint/pkg/ratelimit"
	"github.com/paceprint/paceprint/pkg/store"
	"github.com/rs/zerolog"
)

// Service exposes batch retrieval, single-activity lookup, quota inspection
// and cache administration.
type Service struct {
	store   store.Store
	tracker *ratelimit.Tracker
	orch    *orchestrator.Orchestrator
	logger  zerolog.Logger
}

// NewService creates a service around the given collaborators.
func NewService(st store.Store, tracker *ratelimit.Tracker, fetcher orchestrator.Fetcher, logger zerolog.Logger) *Service {
	return &Service{
		store:   st,
		tracker: tracker,
		orch:    orchestrator.New(st, tracker, fetcher, logger),
		logger:  logger,
	}
}

// BatchFetch runs one batch job over the given activity ids.
func (s *Service) BatchFetch(ctx context.Context, token string, athleteID int64, ids []int64, opts orchestrator.Options) (*orchestrator.Result, error) {
	return s.orch.Run(ctx, token, athleteID, ids, opts)
}

// ComprehensiveActivity is one activity's full record plus its provenance.
type ComprehensiveActivity struct {
	Bundle *orchestrator.Bundle `json:"bundle"`

	// FromCache is true when every resource was served from the cache
	// without a live call.
	FromCache bool `json:"from_cache"`

	// CachedAt is the oldest FetchedAt among the cached resources. Zero
	// when any resource came from a live call.
	CachedAt time.Time `json:"cached_at,omitempty"`
}

// GetComprehensiveActivity assembles one activity's bundle, cache first. It
// is a single-id batch under the hood, so quota gating and caching behave
// exactly as in BatchFetch.
func (s *Service) GetComprehensiveActivity(ctx context.Context, token string, athleteID, activityID int64, forceRefresh bool) (*ComprehensiveActivity, error) {
	result, err := s.orch.Run(ctx, token, athleteID, []int64{activityID}, orchestrator.Options{
		MaxConcurrent: 1,
		ForceRefresh:  forceRefresh,
	})
	if err != nil {
		return nil, err
	}

	bundle, ok := result.Bundles[activityID]
	if !ok {
		if result.Counters.SkippedRateLimit > 0 {
			return nil, fmt.Errorf("activity %d skipped: rate limit safety margin reached", activityID)
		}
		return nil, fmt.Errorf("activity %d could not be fetched", activityID)
	}
	if result.Counters.Failed > 0 {
		return nil, fmt.Errorf("activity %d only partially fetched", activityID)
	}

	ca := &ComprehensiveActivity{
		Bundle:    bundle,
		FromCache: result.Counters.FromCache == 1,
	}
	if ca.FromCache {
		ca.CachedAt = bundle.FetchedAt
	}
	return ca, nil
}

// CacheStats summarizes the cache contents.
type CacheStats struct {
	TotalEntries  int                        `json:"total_entries"`
	PerResource   map[store.ResourceType]int `json:"per_resource"`
	OldestEntryAt time.Time                  `json:"oldest_entry_at,omitempty"`
	NewestEntryAt time.Time                  `json:"newest_entry_at,omitempty"`
}

// GetCacheStats walks the whole cache and aggregates entry counts and age
// bounds.
func (s *Service) GetCacheStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{PerResource: make(map[store.ResourceType]int)}

	err := s.store.Walk(ctx, func(entry *store.Entry) error {
		stats.TotalEntries++
		stats.PerResource[entry.Resource]++
		if stats.OldestEntryAt.IsZero() || entry.FetchedAt.Before(stats.OldestEntryAt) {
			stats.OldestEntryAt = entry.FetchedAt
		}
		if entry.FetchedAt.After(stats.NewestEntryAt) {
			stats.NewestEntryAt = entry.FetchedAt
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

// ListCachedActivityIDs returns the ids with a cached activity detail for the
// athlete, sorted ascending. athleteID 0 lists ids across all athletes.
func (s *Service) ListCachedActivityIDs(ctx context.Context, athleteID int64) ([]int64, error) {
	return s.store.ListIDs(ctx, store.ResourceDetail, athleteID)
}

// ClearAllCache removes every cached entry and returns the number removed.
func (s *Service) ClearAllCache(ctx context.Context) (int, error) {
	n, err := s.store.DeleteAll(ctx)
	if err != nil {
		return n, err
	}
	s.logger.Info().Int("deleted", n).Msg("Cache cleared")
	return n, nil
}

// ClearOldCache removes entries fetched more than the given number of days
// ago and returns the number removed. days below 1 is rejected before any
// I/O happens.
func (s *Service) ClearOldCache(ctx context.Context, days int) (int, error) {
	if days < 1 {
		return 0, fmt.Errorf("days must be at least 1 (got %d)", days)
	}
	n, err := s.store.DeleteOlderThan(ctx, days)
	if err != nil {
		return n, err
	}
	s.logger.Info().Int("deleted", n).Int("days", days).Msg("Old cache entries cleared")
	return n, nil
}

// GetRateLimitInfo returns a snapshot of the quota consumption.
func (s *Service) GetRateLimitInfo() ratelimit.State {
	return s.tracker.Info()
}

// IsNearRateLimit reports whether the next live request would be blocked by
// the safety margin.
func (s *Service) IsNearRateLimit() bool {
	return !s.tracker.Check().CanMakeRequest
}
