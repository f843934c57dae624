// Package store provides durable persistence for cached Strava API
// responses, keyed by resource type, athlete and activity id.
//
// Two backends implement the Store contract:
//
//   - FileStore: one JSON file per resource under a per-athlete directory,
//     written atomically (temp file + rename) so readers never observe a
//     torn write. Listing cached ids for one athlete is a single directory
//     enumeration.
//   - RedisStore: the same contract on Redis, for deployments that share a
//     cache across processes.
//
// # Basic Usage
//
//	st, err := store.NewFileStore("/var/lib/paceprint/cache")
//	if err != nil {
//		return err
//	}
//
//	entry := &store.Entry{
//		AthleteID:  4711,
//		ResourceID: 987654321,
//		Resource:   store.ResourceDetail,
//		Payload:    payload,
//		FetchedAt:  time.Now().UTC(),
//	}
//	if err := st.Put(ctx, entry); err != nil {
//		return err
//	}
//
//	got, err := st.Get(ctx, entry.Key())
//	if errors.Is(err, store.ErrCacheMiss) {
//		// not cached - fetch from Strava
//	}
//
// # Semantics
//
// Entries are immutable once written; a later Put for the same key fully
// replaces the previous entry. There is no TTL: entries live until an
// explicit DeleteAll or DeleteOlderThan. Get never fails for a missing key,
// it returns ErrCacheMiss.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - paceprint_cache_hits_total{backend}
//   - paceprint_cache_misses_total
//   - paceprint_cache_errors_total{operation}
//   - paceprint_cache_entries_deleted_total{scope}
package store
