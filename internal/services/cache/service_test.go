package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/common"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/ternarybob/stockpulse/internal/services/events"
)

func newTestCache(config common.CacheConfig) *Service {
	return NewService(&config, arbor.NewLogger())
}

func counter(calls *int32, value string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func TestGetOrLoad_ReadThrough(t *testing.T) {
	c := newTestCache(common.CacheConfig{Enabled: true, TTL: "1m", MaxEntries: 10})
	ctx := context.Background()
	var calls int32

	v, err := GetOrLoad(ctx, c, "k", counter(&calls, "a"))
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	v, err = GetOrLoad(ctx, c, "k", counter(&calls, "b"))
	require.NoError(t, err)
	assert.Equal(t, "a", v, "second read is served from cache")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestGetOrLoad_TTLExpiry(t *testing.T) {
	c := newTestCache(common.CacheConfig{Enabled: true, TTL: "1m"})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	var calls int32

	_, err := GetOrLoad(context.Background(), c, "k", counter(&calls, "a"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	v, err := GetOrLoad(context.Background(), c, "k", counter(&calls, "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetOrLoad_ErrorsAreNotCached(t *testing.T) {
	c := newTestCache(common.CacheConfig{Enabled: true})
	boom := errors.New("boom")

	_, err := GetOrLoad(context.Background(), c, "k", func(ctx context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	v, err := GetOrLoad(context.Background(), c, "k", func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGetOrLoad_Disabled(t *testing.T) {
	c := newTestCache(common.CacheConfig{Enabled: false})
	var calls int32
	for i := 0; i < 3; i++ {
		_, err := GetOrLoad(context.Background(), c, "k", counter(&calls, "a"))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetOrLoad_CoalescesConcurrentMisses(t *testing.T) {
	c := newTestCache(common.CacheConfig{Enabled: true})
	release := make(chan struct{})
	var calls int32

	load := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := GetOrLoad(context.Background(), c, "k", load)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}

	// Let the goroutines reach the shared load
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInvalidate_FencesInFlightLoads(t *testing.T) {
	c := newTestCache(common.CacheConfig{Enabled: true})
	var calls int32

	_, err := GetOrLoad(context.Background(), c, "k", func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		c.Invalidate() // ingestion finished while the load was running
		return "stale", nil
	})
	require.NoError(t, err)

	v, err := GetOrLoad(context.Background(), c, "k", counter(&calls, "fresh"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestMaxEntriesEvictsOldest(t *testing.T) {
	c := newTestCache(common.CacheConfig{Enabled: true, MaxEntries: 2})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { now = now.Add(time.Second); return now }
	var calls int32

	for _, key := range []string{"a", "b", "c"} {
		_, err := GetOrLoad(context.Background(), c, key, counter(&calls, key))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Stats().Entries)

	_, err := GetOrLoad(context.Background(), c, "a", counter(&calls, "a"))
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "a was evicted")
}

func TestSubscribeToIngestionEvents(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	c := newTestCache(common.CacheConfig{Enabled: true})
	require.NoError(t, c.SubscribeToIngestionEvents(eventService))

	var calls int32
	_, err := GetOrLoad(context.Background(), c, "k", counter(&calls, "a"))
	require.NoError(t, err)

	// A failed run that inserted nothing leaves the cache alone
	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventIngestionFailed,
		Payload: &models.IngestionRun{ID: "r0"},
	}))
	assert.Equal(t, 1, c.Stats().Entries)

	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventIngestionCompleted,
		Payload: &models.IngestionReport{RunID: "r1"},
	}))
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Equal(t, uint64(1), c.Stats().Generation)
}

func TestGetOrLoad_CancelledCallerAbortsSharedLoad(t *testing.T) {
	c := newTestCache(common.CacheConfig{Enabled: true})
	started := make(chan struct{})
	aborted := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := GetOrLoad(ctx, c, "k", func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			close(aborted)
			return "", ctx.Err()
		})
		done <- err
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("caller did not return after cancellation")
	}
	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("load kept running after its only caller left")
	}

	// The aborted load is forgotten and not cached
	v, err := GetOrLoad(context.Background(), c, "k", func(ctx context.Context) (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestGetOrLoad_LoadSurvivesWhileAnotherCallerWaits(t *testing.T) {
	c := newTestCache(common.CacheConfig{Enabled: true})
	release := make(chan struct{})
	var loadCtxErr atomic.Value

	load := func(ctx context.Context) (string, error) {
		<-release
		if err := ctx.Err(); err != nil {
			loadCtxErr.Store(err)
		}
		return "v", nil
	}

	leaving, cancel := context.WithCancel(context.Background())
	leftEarly := make(chan error, 1)
	go func() {
		_, err := GetOrLoad(leaving, c, "k", load)
		leftEarly <- err
	}()

	staying := make(chan string, 1)
	go func() {
		v, err := GetOrLoad(context.Background(), c, "k", load)
		assert.NoError(t, err)
		staying <- v
	}()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		f, ok := c.flights["0|k"]
		return ok && f.waiters == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-leftEarly, context.Canceled)

	close(release)
	assert.Equal(t, "v", <-staying)
	assert.Nil(t, loadCtxErr.Load(), "load was cancelled while a caller still waited")
	assert.Equal(t, 1, c.Stats().Entries)
}
