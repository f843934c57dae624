// Package metrics documents the Prometheus metrics exposed by PacePrint.
// All metrics are defined in their respective packages (store, ratelimit,
// strava, orchestrator) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by PacePrint.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - paceprint_rate_limit_short_window_usage (Gauge): Requests consumed in the current 15-minute Strava quota window
//   - paceprint_rate_limit_daily_usage (Gauge): Requests consumed in the current daily Strava quota window
//   - paceprint_rate_limit_blocks_total{window} (Counter): Requests blocked by the quota safety margin
//
// Cache Metrics (pkg/store):
//   - paceprint_cache_hits_total{backend} (Counter): Cache hits by backend (file, redis)
//   - paceprint_cache_misses_total (Counter): Cache misses
//   - paceprint_cache_errors_total{operation} (Counter): Cache operation errors
//   - paceprint_cache_entries_deleted_total{scope} (Counter): Entries removed by admin operations (all, age)
//
// Strava Request Metrics (pkg/strava):
//   - paceprint_strava_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - paceprint_strava_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - paceprint_strava_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Batch Job Metrics (pkg/orchestrator):
//   - paceprint_batch_jobs_total{status} (Counter): Batch jobs by final status (complete, partial)
//   - paceprint_batch_items_total{outcome} (Counter): Batch items by outcome (from_cache, fetched, failed, skipped_rate_limit)
//   - paceprint_batch_job_duration_seconds{status} (Histogram): Batch job wall-clock duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(paceprint_cache_hits_total[5m])) /
//   (sum(rate(paceprint_cache_hits_total[5m])) + sum(rate(paceprint_cache_misses_total[5m])))
//
//   # Quota Headroom (short window)
//   paceprint_rate_limit_short_window_usage / 200
//
//   # Strava Error Rate
//   rate(paceprint_strava_errors_total[5m])
//
//   # P95 Strava Request Latency
//   histogram_quantile(0.95, rate(paceprint_strava_request_duration_seconds_bucket[5m]))
//
//   # Share of Batch Items Served from Cache
//   rate(paceprint_batch_items_total{outcome="from_cache"}[5m]) /
//   sum(rate(paceprint_batch_items_total[5m]))
