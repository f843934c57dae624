package store

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a stored entry is corrupted or unreadable.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is the durable persistence contract for cached API responses.
//
// Implementations must make Put atomic from a reader's perspective: a
// concurrent Get for the same key returns either the previous entry or the
// new one, never a torn write. Puts for distinct keys may run in parallel.
type Store interface {
	// Get retrieves an entry by key. Returns ErrCacheMiss if absent.
	Get(ctx context.Context, key Key) (*Entry, error)

	// Put stores an entry, fully replacing any previous entry for the
	// same key.
	Put(ctx context.Context, entry *Entry) error

	// ListIDs returns the cached resource ids for a resource type in
	// ascending order. athleteID 0 lists ids across all athletes.
	ListIDs(ctx context.Context, resource ResourceType, athleteID int64) ([]int64, error)

	// DeleteAll removes every entry and returns the number deleted.
	DeleteAll(ctx context.Context) (int, error)

	// DeleteOlderThan removes entries fetched more than the given number
	// of days ago and returns the number deleted.
	DeleteOlderThan(ctx context.Context, days int) (int, error)

	// Walk calls fn for every stored entry. Enumeration order is not
	// specified. A non-nil error from fn stops the walk and is returned.
	Walk(ctx context.Context, fn func(*Entry) error) error
}
