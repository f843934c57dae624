// Package orchestrator drives bounded-concurrency batch retrieval of
// activity bundles, merging cache hits with live Strava fetches.
//
// A batch job over a list of activity ids resolves each id exactly once:
//
//   - served entirely from cache (no live calls),
//   - fetched live (cache misses filled through the Strava client and
//     written back to the store),
//   - failed (an upstream or storage error; the batch continues), or
//   - skipped (the rate-limit safety margin or the job deadline was
//     reached before the id could be scheduled).
//
// Quota exhaustion is not an error: the job returns a partial result with
// per-outcome counters and the current rate-limit state, and a later re-run
// with ForceRefresh disabled resumes exactly the skipped and failed ids,
// because everything already fetched is served from cache.
//
// Example usage:
//
//	orch := orchestrator.New(st, tracker, stravaClient, logger)
//	result, err := orch.Run(ctx, token, athleteID, ids, orchestrator.Options{
//		MaxConcurrent: 3,
//		OnProgress: func(ev orchestrator.ProgressEvent) {
//			fmt.Printf("%s %d/%d\n", ev.Phase, ev.Counters.Total-ev.Counters.Remaining, ev.Counters.Total)
//		},
//	})
//
// Progress events fire in completion order, not input order; no ordering is
// promised across concurrently scheduled ids.
package orchestrator
