package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/paceprint/paceprint/pkg/ratelimit"
	"github.com/paceprint/paceprint/pkg/store"
	"github.com/rs/zerolog"
)

const (
	testToken     = "test-token"
	testAthleteID = int64(4711)
)

type stubFetcher struct {
	mu    sync.Mutex
	total int
}

func (f *stubFetcher) fetch(id int64, resource string) (json.RawMessage, error) {
	f.mu.Lock()
	f.total++
	f.mu.Unlock()
	return json.RawMessage(fmt.Sprintf(`{"id":%d,"resource":%q}`, id, resource)), nil
}

func (f *stubFetcher) FetchActivityDetail(ctx context.Context, token string, id int64) (json.RawMessage, error) {
	return f.fetch(id, "detail")
}

func (f *stubFetcher) FetchLaps(ctx context.Context, token string, id int64) (json.RawMessage, error) {
	return f.fetch(id, "laps")
}

func (f *stubFetcher) FetchComments(ctx context.Context, token string, id int64) (json.RawMessage, error) {
	return f.fetch(id, "comments")
}

func (f *stubFetcher) FetchPhotos(ctx context.Context, token string, id int64) (json.RawMessage, error) {
	return f.fetch(id, "photos")
}

func (f *stubFetcher) FetchStreams(ctx context.Context, token string, id int64) (json.RawMessage, error) {
	return f.fetch(id, "streams")
}

func (f *stubFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func newTestService(t *testing.T) (*Service, store.Store, *stubFetcher, *ratelimit.Tracker) {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := ratelimit.NewTracker(ratelimit.DefaultConfig(), logger)
	fetcher := &stubFetcher{}
	return NewService(s, tracker, fetcher, logger), s, fetcher, tracker
}

func putEntry(t *testing.T, s store.Store, resource store.ResourceType, id int64, fetchedAt time.Time) {
	t.Helper()
	err := s.Put(context.Background(), &store.Entry{
		AthleteID:  testAthleteID,
		ResourceID: id,
		Resource:   resource,
		Payload:    json.RawMessage(fmt.Sprintf(`{"id":%d}`, id)),
		FetchedAt:  fetchedAt,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestGetComprehensiveActivity_FetchThenCacheHit(t *testing.T) {
	svc, _, fetcher, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.GetComprehensiveActivity(ctx, testToken, testAthleteID, 100, false)
	if err != nil {
		t.Fatalf("GetComprehensiveActivity (first): %v", err)
	}
	if first.FromCache {
		t.Error("first lookup should not be served from cache")
	}
	if first.Bundle == nil || first.Bundle.Activity == nil {
		t.Fatal("first lookup returned no activity payload")
	}
	if got := fetcher.totalCalls(); got != 5 {
		t.Errorf("live fetches = %d, want 5 (one per resource)", got)
	}

	second, err := svc.GetComprehensiveActivity(ctx, testToken, testAthleteID, 100, false)
	if err != nil {
		t.Fatalf("GetComprehensiveActivity (second): %v", err)
	}
	if !second.FromCache {
		t.Error("second lookup should be served from cache")
	}
	if second.CachedAt.IsZero() {
		t.Error("cache hit should carry CachedAt")
	}
	if got := fetcher.totalCalls(); got != 5 {
		t.Errorf("second lookup issued %d extra live fetches, want 0", got-5)
	}
}

func TestGetComprehensiveActivity_ForceRefresh(t *testing.T) {
	svc, _, fetcher, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.GetComprehensiveActivity(ctx, testToken, testAthleteID, 100, false); err != nil {
		t.Fatalf("GetComprehensiveActivity (prime): %v", err)
	}

	refreshed, err := svc.GetComprehensiveActivity(ctx, testToken, testAthleteID, 100, true)
	if err != nil {
		t.Fatalf("GetComprehensiveActivity (refresh): %v", err)
	}
	if refreshed.FromCache {
		t.Error("force refresh must not be served from cache")
	}
	if got := fetcher.totalCalls(); got != 10 {
		t.Errorf("live fetches = %d, want 10", got)
	}
}

func TestGetComprehensiveActivity_QuotaExhausted(t *testing.T) {
	svc, _, fetcher, tracker := newTestService(t)

	tracker.Seed(ratelimit.State{
		ShortWindowUsage:   ratelimit.DefaultShortWindowLimit,
		ShortWindowLimit:   ratelimit.DefaultShortWindowLimit,
		ShortWindowResetAt: time.Now().Add(ratelimit.ShortWindow),
		DailyUsage:         0,
		DailyLimit:         ratelimit.DefaultDailyLimit,
		DailyResetAt:       time.Now().Add(ratelimit.DailyWindow),
	})

	if _, err := svc.GetComprehensiveActivity(context.Background(), testToken, testAthleteID, 100, false); err == nil {
		t.Error("expected an error when the quota margin blocks the fetch")
	}
	if fetcher.totalCalls() != 0 {
		t.Errorf("live fetches = %d, want 0", fetcher.totalCalls())
	}
}

func TestGetCacheStats(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()

	empty, err := svc.GetCacheStats(ctx)
	if err != nil {
		t.Fatalf("GetCacheStats (empty): %v", err)
	}
	if empty.TotalEntries != 0 {
		t.Errorf("TotalEntries = %d, want 0 on empty cache", empty.TotalEntries)
	}

	oldest := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Second)
	newest := time.Now().UTC().Truncate(time.Second)
	putEntry(t, s, store.ResourceDetail, 1, oldest)
	putEntry(t, s, store.ResourceDetail, 2, newest)
	putEntry(t, s, store.ResourceLaps, 1, newest)

	stats, err := svc.GetCacheStats(ctx)
	if err != nil {
		t.Fatalf("GetCacheStats: %v", err)
	}

	if stats.TotalEntries != 3 {
		t.Errorf("TotalEntries = %d, want 3", stats.TotalEntries)
	}
	if stats.PerResource[store.ResourceDetail] != 2 {
		t.Errorf("PerResource[detail] = %d, want 2", stats.PerResource[store.ResourceDetail])
	}
	if stats.PerResource[store.ResourceLaps] != 1 {
		t.Errorf("PerResource[laps] = %d, want 1", stats.PerResource[store.ResourceLaps])
	}
	if !stats.OldestEntryAt.Equal(oldest) {
		t.Errorf("OldestEntryAt = %v, want %v", stats.OldestEntryAt, oldest)
	}
	if !stats.NewestEntryAt.Equal(newest) {
		t.Errorf("NewestEntryAt = %v, want %v", stats.NewestEntryAt, newest)
	}
}

func TestListCachedActivityIDs(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	putEntry(t, s, store.ResourceDetail, 30, now)
	putEntry(t, s, store.ResourceDetail, 10, now)
	putEntry(t, s, store.ResourceDetail, 20, now)
	// Sub-resources alone do not make an activity "cached".
	putEntry(t, s, store.ResourceLaps, 99, now)

	ids, err := svc.ListCachedActivityIDs(ctx, testAthleteID)
	if err != nil {
		t.Fatalf("ListCachedActivityIDs: %v", err)
	}

	want := []int64{10, 20, 30}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
}

func TestClearAllCache(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	putEntry(t, s, store.ResourceDetail, 1, now)
	putEntry(t, s, store.ResourceStreams, 1, now)

	n, err := svc.ClearAllCache(ctx)
	if err != nil {
		t.Fatalf("ClearAllCache: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted = %d, want 2", n)
	}

	stats, err := svc.GetCacheStats(ctx)
	if err != nil {
		t.Fatalf("GetCacheStats: %v", err)
	}
	if stats.TotalEntries != 0 {
		t.Errorf("TotalEntries after clear = %d, want 0", stats.TotalEntries)
	}
}

func TestClearOldCache(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()

	putEntry(t, s, store.ResourceDetail, 1, time.Now().UTC().Add(-40*24*time.Hour))
	putEntry(t, s, store.ResourceDetail, 2, time.Now().UTC())

	n, err := svc.ClearOldCache(ctx, 30)
	if err != nil {
		t.Fatalf("ClearOldCache: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	ids, err := svc.ListCachedActivityIDs(ctx, testAthleteID)
	if err != nil {
		t.Fatalf("ListCachedActivityIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("remaining ids = %v, want [2]", ids)
	}
}

func TestClearOldCache_RejectsInvalidDays(t *testing.T) {
	svc, s, _, _ := newTestService(t)
	ctx := context.Background()

	putEntry(t, s, store.ResourceDetail, 1, time.Now().UTC().Add(-40*24*time.Hour))

	for _, days := range []int{0, -1} {
		if _, err := svc.ClearOldCache(ctx, days); err == nil {
			t.Errorf("ClearOldCache(%d) = nil error, want rejection", days)
		}
	}

	// Nothing was deleted by the rejected calls.
	ids, err := svc.ListCachedActivityIDs(ctx, testAthleteID)
	if err != nil {
		t.Fatalf("ListCachedActivityIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("remaining ids = %v, want the old entry untouched", ids)
	}
}

func TestIsNearRateLimit(t *testing.T) {
	svc, _, _, tracker := newTestService(t)

	if svc.IsNearRateLimit() {
		t.Error("fresh tracker should not be near the rate limit")
	}

	tracker.Seed(ratelimit.State{
		ShortWindowUsage:   190,
		ShortWindowLimit:   ratelimit.DefaultShortWindowLimit,
		ShortWindowResetAt: time.Now().Add(ratelimit.ShortWindow),
		DailyUsage:         190,
		DailyLimit:         ratelimit.DefaultDailyLimit,
		DailyResetAt:       time.Now().Add(ratelimit.DailyWindow),
	})

	if !svc.IsNearRateLimit() {
		t.Error("tracker above the safety margin should report near rate limit")
	}

	info := svc.GetRateLimitInfo()
	if info.ShortWindowUsage != 190 {
		t.Errorf("ShortWindowUsage = %d, want 190", info.ShortWindowUsage)
	}
}
