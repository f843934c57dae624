package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResourceType identifies one independently cached sub-record of an activity.
type ResourceType string

const (
	// ResourceDetail is the full activity detail record.
	ResourceDetail ResourceType = "detail"

	// ResourceLaps is the per-lap split list of an activity.
	ResourceLaps ResourceType = "laps"

	// ResourceComments is the comment list of an activity.
	ResourceComments ResourceType = "comments"

	// ResourcePhotos is the photo set of an activity.
	ResourcePhotos ResourceType = "photos"

	// ResourceStreams is the raw time-series data of an activity.
	ResourceStreams ResourceType = "streams"
)

// ResourceTypes lists all cacheable resource types in a stable order.
var ResourceTypes = []ResourceType{
	ResourceDetail,
	ResourceLaps,
	ResourceComments,
	ResourcePhotos,
	ResourceStreams,
}

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceDetail, ResourceLaps, ResourceComments, ResourcePhotos, ResourceStreams:
		return true
	}
	return false
}

// Key uniquely identifies a cached resource.
type Key struct {
	// Resource is the resource type (detail, laps, comments, photos, streams).
	Resource ResourceType

	// AthleteID is the owning athlete.
	AthleteID int64

	// ResourceID is the activity id the resource belongs to.
	ResourceID int64
}

// String generates a deterministic key string.
// Format: paceprint:resource:athleteID:resourceID
//
// Example:
//
//	paceprint:detail:4711:987654321
func (k Key) String() string {
	return fmt.Sprintf("paceprint:%s:%d:%d", k.Resource, k.AthleteID, k.ResourceID)
}

// Validate checks the key for caller errors before any I/O happens.
func (k Key) Validate() error {
	if !k.Resource.Valid() {
		return fmt.Errorf("invalid resource type %q", k.Resource)
	}
	if k.AthleteID <= 0 {
		return fmt.Errorf("athlete id must be positive (got %d)", k.AthleteID)
	}
	if k.ResourceID <= 0 {
		return fmt.Errorf("resource id must be positive (got %d)", k.ResourceID)
	}
	return nil
}

// Entry is one cached Strava API response.
type Entry struct {
	// AthleteID is the owning athlete.
	AthleteID int64 `json:"athlete_id"`

	// ResourceID is the activity id the payload belongs to.
	ResourceID int64 `json:"resource_id"`

	// Resource is the resource type of the payload.
	Resource ResourceType `json:"resource"`

	// Payload is the raw JSON response body as returned by Strava.
	Payload json.RawMessage `json:"payload"`

	// FetchedAt is when the payload was retrieved from Strava.
	FetchedAt time.Time `json:"fetched_at"`
}

// Key returns the store key for this entry.
func (e *Entry) Key() Key {
	return Key{Resource: e.Resource, AthleteID: e.AthleteID, ResourceID: e.ResourceID}
}

// Age returns how long ago the entry was fetched.
func (e *Entry) Age() time.Duration {
	return time.Since(e.FetchedAt)
}

// OlderThan reports whether the entry was fetched more than the given
// number of days ago.
func (e *Entry) OlderThan(days int) bool {
	return e.Age() > time.Duration(days)*24*time.Hour
}

// Validate checks the entry for caller errors before any I/O happens.
func (e *Entry) Validate() error {
	if e == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if err := e.Key().Validate(); err != nil {
		return err
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("cache entry payload cannot be empty")
	}
	if e.FetchedAt.IsZero() {
		return fmt.Errorf("cache entry fetched_at cannot be zero")
	}
	return nil
}
