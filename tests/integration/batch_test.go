package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/paceprint/paceprint/internal/testutil"
	"github.com/paceprint/paceprint/pkg/activities"
	"github.com/paceprint/paceprint/pkg/orchestrator"
	"github.com/paceprint/paceprint/pkg/ratelimit"
	"github.com/paceprint/paceprint/pkg/store"
	"github.com/paceprint/paceprint/pkg/strava"
)

const testAthleteID = int64(4711)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func TestRedisStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	st := store.NewRedisStore(redisClient)
	ctx := context.Background()

	t.Run("round_trip", func(t *testing.T) {
		entry := &store.Entry{
			AthleteID:  testAthleteID,
			ResourceID: 100,
			Resource:   store.ResourceDetail,
			Payload:    json.RawMessage(`{"id":100,"name":"Morning Run"}`),
			FetchedAt:  time.Now().UTC().Truncate(time.Second),
		}
		if err := st.Put(ctx, entry); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := st.Get(ctx, entry.Key())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got.Payload) != string(entry.Payload) {
			t.Errorf("Payload = %s, want %s", got.Payload, entry.Payload)
		}
		if !got.FetchedAt.Equal(entry.FetchedAt) {
			t.Errorf("FetchedAt = %v, want %v", got.FetchedAt, entry.FetchedAt)
		}
	})

	t.Run("list_ids", func(t *testing.T) {
		for _, id := range []int64{300, 100, 200} {
			err := st.Put(ctx, &store.Entry{
				AthleteID:  testAthleteID,
				ResourceID: id,
				Resource:   store.ResourceLaps,
				Payload:    json.RawMessage(`[]`),
				FetchedAt:  time.Now().UTC(),
			})
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
		}

		ids, err := st.ListIDs(ctx, store.ResourceLaps, testAthleteID)
		if err != nil {
			t.Fatalf("ListIDs: %v", err)
		}
		want := []int64{100, 200, 300}
		if len(ids) != len(want) {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
			}
		}
	})

	t.Run("delete_older_than", func(t *testing.T) {
		err := st.Put(ctx, &store.Entry{
			AthleteID:  testAthleteID,
			ResourceID: 999,
			Resource:   store.ResourceDetail,
			Payload:    json.RawMessage(`{}`),
			FetchedAt:  time.Now().UTC().Add(-60 * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("Put: %v", err)
		}

		n, err := st.DeleteOlderThan(ctx, 30)
		if err != nil {
			t.Fatalf("DeleteOlderThan: %v", err)
		}
		if n != 1 {
			t.Errorf("deleted = %d, want 1", n)
		}

		if _, err := st.Get(ctx, store.Key{Resource: store.ResourceDetail, AthleteID: testAthleteID, ResourceID: 999}); !errors.Is(err, store.ErrCacheMiss) {
			t.Errorf("Get after prune = %v, want ErrCacheMiss", err)
		}
	})

	t.Run("delete_all", func(t *testing.T) {
		n, err := st.DeleteAll(ctx)
		if err != nil {
			t.Fatalf("DeleteAll: %v", err)
		}
		if n == 0 {
			t.Error("DeleteAll removed nothing, want the remaining entries gone")
		}

		count := 0
		err = st.Walk(ctx, func(*store.Entry) error {
			count++
			return nil
		})
		if err != nil {
			t.Fatalf("Walk: %v", err)
		}
		if count != 0 {
			t.Errorf("entries after DeleteAll = %d, want 0", count)
		}
	})
}

// TestBatchFetch_EndToEnd runs the full stack against a Redis container and
// a mock Strava server.
func TestBatchFetch_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockStrava()
	defer mock.Close()

	for id := int64(1); id <= 3; id++ {
		mock.SetActivityDetail(id, testutil.NewActivityResponse(
			fmt.Sprintf(`{"id":%d,"name":"Run %d"}`, id, id)))
	}

	logger := testLogger()
	st := store.NewRedisStore(redisClient)
	tracker := ratelimit.NewTracker(ratelimit.DefaultConfig(), logger)

	cfg := strava.DefaultConfig()
	cfg.BaseURL = mock.URL()
	client := strava.New(cfg, logger)

	svc := activities.NewService(st, tracker, client, logger)
	ctx := context.Background()

	result, err := svc.BatchFetch(ctx, "test-token", testAthleteID, []int64{1, 2, 3}, orchestrator.Options{})
	if err != nil {
		t.Fatalf("BatchFetch: %v", err)
	}

	if result.Status != orchestrator.StatusComplete {
		t.Errorf("Status = %q, want complete", result.Status)
	}
	if result.Counters.Fetched != 3 {
		t.Errorf("Fetched = %d, want 3", result.Counters.Fetched)
	}
	// 3 activities x 5 resources
	if got := mock.GetRequestCount(); got != 15 {
		t.Errorf("upstream requests = %d, want 15", got)
	}
	if info := tracker.Info(); info.ShortWindowUsage != 15 {
		t.Errorf("ShortWindowUsage = %d, want 15", info.ShortWindowUsage)
	}

	// Second run is served entirely from Redis.
	again, err := svc.BatchFetch(ctx, "test-token", testAthleteID, []int64{1, 2, 3}, orchestrator.Options{})
	if err != nil {
		t.Fatalf("BatchFetch (second): %v", err)
	}
	if again.Counters.FromCache != 3 {
		t.Errorf("second run FromCache = %d, want 3", again.Counters.FromCache)
	}
	if got := mock.GetRequestCount(); got != 15 {
		t.Errorf("second run reached upstream: %d requests, want 15", got)
	}
}
