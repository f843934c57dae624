package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by backend (file, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paceprint_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"}, // "file", "redis"
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paceprint_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paceprint_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "put", "delete", "list"
	)

	// CacheDeletes tracks admin deletions by scope
	CacheDeletes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paceprint_cache_entries_deleted_total",
			Help: "Total number of cache entries removed by admin operations",
		},
		[]string{"scope"}, // "all", "age"
	)
)
