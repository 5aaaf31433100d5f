// Package cache provides the read-through cache in front of the record store.
// Entries expire on a rolling TTL and are all dropped after every ingestion run.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/common"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	value    interface{}
	storedAt time.Time
}

// flight is one shared load and the callers still waiting on it
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Stats is a point-in-time view of cache usage
type Stats struct {
	Enabled    bool   `json:"enabled"`
	Entries    int    `json:"entries"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Generation uint64 `json:"generation"`
}

// Service caches computed query results by key
type Service struct {
	mu         sync.Mutex
	entries    map[string]entry
	generation uint64
	hits       uint64
	misses     uint64
	group      singleflight.Group
	flights    map[string]*flight

	enabled    bool
	ttl        time.Duration
	maxEntries int
	logger     arbor.ILogger
	now        func() time.Time
}

// NewService creates a cache from configuration
func NewService(config *common.CacheConfig, logger arbor.ILogger) *Service {
	ttl, err := config.TTLDuration()
	if err != nil {
		logger.Warn().Err(err).Str("ttl", config.TTL).Msg("Invalid cache TTL, using default")
		ttl = 5 * time.Minute
	}

	return &Service{
		entries:    make(map[string]entry),
		flights:    make(map[string]*flight),
		enabled:    config.Enabled,
		ttl:        ttl,
		maxEntries: config.MaxEntries,
		logger:     logger,
		now:        time.Now,
	}
}

// GetOrLoad returns the cached value for key or loads, stores and returns it.
// Concurrent misses on the same key share one load, which is cancelled once every
// caller waiting on it has gone. A value loaded while an invalidation happened is
// returned to its callers but not stored.
func GetOrLoad[T any](ctx context.Context, s *Service, key string, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if !s.enabled {
		return load(ctx)
	}

	s.mu.Lock()
	if e, ok := s.entries[key]; ok && s.isFresh(e) {
		s.hits++
		s.mu.Unlock()
		return e.value.(T), nil
	}
	s.misses++
	generation := s.generation
	flightKey := fmt.Sprintf("%d|%s", generation, key)
	f := s.join(flightKey)
	s.mu.Unlock()
	defer s.leave(flightKey, f)

	ch := s.group.DoChan(flightKey, func() (interface{}, error) {
		value, err := load(f.ctx)
		if err != nil {
			return nil, err
		}
		s.store(key, value, generation)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// join registers a waiter on the shared load for flightKey. Caller holds mu.
func (s *Service) join(flightKey string) *flight {
	f, ok := s.flights[flightKey]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		f = &flight{ctx: ctx, cancel: cancel}
		s.flights[flightKey] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter. The last one out cancels the load and forgets the key,
// so a later caller starts a fresh load instead of joining the aborted one.
func (s *Service) leave(flightKey string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.flights[flightKey] == f {
		delete(s.flights, flightKey)
		s.group.Forget(flightKey)
	}
}

// isFresh checks the rolling TTL window; a zero TTL never expires
func (s *Service) isFresh(e entry) bool {
	return s.ttl <= 0 || s.now().Sub(e.storedAt) < s.ttl
}

func (s *Service) store(key string, value interface{}, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		return
	}

	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		if _, exists := s.entries[key]; !exists {
			s.evictOldest()
		}
	}
	s.entries[key] = entry{value: value, storedAt: s.now()}
}

// evictOldest drops the entry stored first. Caller holds mu.
func (s *Service) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range s.entries {
		if oldestKey == "" || e.storedAt.Before(oldest) {
			oldestKey, oldest = k, e.storedAt
		}
	}
	delete(s.entries, oldestKey)
}

// Invalidate drops every entry and fences off loads that started before the call
func (s *Service) Invalidate() {
	s.mu.Lock()
	dropped := len(s.entries)
	s.entries = make(map[string]entry)
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	s.logger.Debug().
		Int("dropped", dropped).
		Int("generation", int(generation)).
		Msg("Cache invalidated")
}

// Stats returns current usage counters
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Enabled:    s.enabled,
		Entries:    len(s.entries),
		Hits:       s.hits,
		Misses:     s.misses,
		Generation: s.generation,
	}
}

// SubscribeToIngestionEvents invalidates the cache after each ingestion batch.
// A failed run may still have inserted rows before it stopped.
func (s *Service) SubscribeToIngestionEvents(eventService interfaces.EventService) error {
	if err := eventService.Subscribe(interfaces.EventIngestionCompleted, func(ctx context.Context, event interfaces.Event) error {
		s.Invalidate()
		return nil
	}); err != nil {
		return err
	}

	return eventService.Subscribe(interfaces.EventIngestionFailed, func(ctx context.Context, event interfaces.Event) error {
		if run, ok := event.Payload.(*models.IngestionRun); ok && run.Inserted == 0 {
			return nil
		}
		s.Invalidate()
		return nil
	})
}
