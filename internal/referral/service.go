package referral

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/backend-lab/internal/lock"
	"github.com/noah-isme/backend-lab/internal/obs"
	"github.com/noah-isme/backend-lab/internal/pricing"
)

const (
	// DefaultTTL is how long a fetched snapshot is served without revalidation.
	DefaultTTL = 5 * time.Minute
	// DefaultTimeout bounds a single backend call.
	DefaultTimeout = 5 * time.Second

	flightKey      = "referral-sources"
	refreshLockKey = "referral-sources:refresh"
)

// Origin names the tier that served a read.
type Origin string

const (
	OriginCache   Origin = "cache"
	OriginShared  Origin = "redis"
	OriginBackend Origin = "backend"
	OriginStale   Origin = "stale"
	OriginStatic  Origin = "static"
)

// Config wires a Service.
type Config struct {
	// Backend is the store of record. Nil serves the static dataset only.
	Backend Backend
	// Shared is an optional cache shared between replicas.
	Shared *RedisCache
	// Lock, when set, lets one replica at a time refresh Shared from the backend.
	Lock *lock.Locker
	// Static is served when nothing better is available.
	Static  []pricing.ReferralSource
	TTL     time.Duration
	Timeout time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Service caches the backend's referral sources for a fixed TTL. Concurrent
// misses share one backend call. Reads never fail: on backend failure the last
// cached snapshot is served, even when expired, and then the static dataset.
type Service struct {
	backend Backend
	shared  *RedisCache
	lock    *lock.Locker
	static  []pricing.ReferralSource
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
	group   singleflight.Group

	mu             sync.RWMutex
	cache          []pricing.ReferralSource
	cacheTimestamp time.Time
	cacheTTL       time.Duration
	generation     uint64
}

type snapshot struct {
	sources []pricing.ReferralSource
	origin  Origin
}

// NewService constructs a Service from cfg.
func NewService(cfg Config) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		backend:  cfg.Backend,
		shared:   cfg.Shared,
		lock:     cfg.Lock,
		static:   slices.Clone(cfg.Static),
		timeout:  timeout,
		logger:   cfg.Logger,
		now:      now,
		cacheTTL: ttl,
	}
}

// Get returns the current referral sources and the tier that served them.
// The returned slice is owned by the caller.
func (s *Service) Get(ctx context.Context) ([]pricing.ReferralSource, Origin) {
	if sources, ok := s.fresh(); ok {
		obs.ObserveReferralFetch(string(OriginCache))
		return sources, OriginCache
	}

	// The flight outlives any single caller; cancellation of the first caller
	// must not fail the others.
	flightCtx := context.WithoutCancel(ctx)
	v, _, _ := s.group.Do(flightKey, func() (any, error) {
		return s.load(flightCtx), nil
	})
	snap := v.(snapshot)
	obs.ObserveReferralFetch(string(snap.origin))
	return slices.Clone(snap.sources), snap.origin
}

// Sources returns the current referral master keyed by id. ok is false when
// only the static dataset could be served. A live snapshot with no sources is
// still reported with ok set.
func (s *Service) Sources(ctx context.Context) (map[string]pricing.ReferralSource, bool) {
	list, origin := s.Get(ctx)
	out := make(map[string]pricing.ReferralSource, len(list))
	for _, src := range list {
		if src.ID == "" {
			continue
		}
		out[src.ID] = src
	}
	return out, origin != OriginStatic
}

// ClearCache drops the local and shared snapshots. A fetch already in flight
// when the cache is cleared does not repopulate it.
func (s *Service) ClearCache(ctx context.Context) error {
	s.mu.Lock()
	s.cache = nil
	s.cacheTimestamp = time.Time{}
	s.generation++
	s.mu.Unlock()
	s.group.Forget(flightKey)
	obs.ObserveReferralInvalidation()

	if err := s.shared.Clear(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("referral_shared_cache_clear_failed")
		return err
	}
	return nil
}

// CachedAt reports when the local snapshot was stored; zero when empty.
func (s *Service) CachedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cacheTimestamp
}

// Create adds a referral source in the backend and invalidates the cache.
func (s *Service) Create(ctx context.Context, src pricing.ReferralSource) (pricing.ReferralSource, error) {
	if s.backend == nil {
		return pricing.ReferralSource{}, ErrReadOnly
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.backend.Create(callCtx, src)
	if err != nil {
		return pricing.ReferralSource{}, err
	}
	s.invalidate(ctx, "create", out.ID)
	return out, nil
}

// Update replaces a referral source in the backend and invalidates the cache.
func (s *Service) Update(ctx context.Context, id string, src pricing.ReferralSource) (pricing.ReferralSource, error) {
	if s.backend == nil {
		return pricing.ReferralSource{}, ErrReadOnly
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.backend.Update(callCtx, id, src)
	if err != nil {
		return pricing.ReferralSource{}, err
	}
	s.invalidate(ctx, "update", id)
	return out, nil
}

// Delete removes a referral source from the backend and invalidates the cache.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s.backend == nil {
		return ErrReadOnly
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.backend.Delete(callCtx, id); err != nil {
		return err
	}
	s.invalidate(ctx, "delete", id)
	return nil
}

func (s *Service) invalidate(ctx context.Context, op, id string) {
	// the mutation already succeeded; a shared-cache failure is logged by ClearCache
	_ = s.ClearCache(ctx)
	s.logger.Info().Str("op", op).Str("referral_source_id", id).Msg("referral_cache_invalidated")
}

func (s *Service) fresh() ([]pricing.ReferralSource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil || s.now().Sub(s.cacheTimestamp) >= s.cacheTTL {
		return nil, false
	}
	return slices.Clone(s.cache), true
}

func (s *Service) load(ctx context.Context) snapshot {
	s.mu.RLock()
	gen := s.generation
	s.mu.RUnlock()

	// a flight that finished just before this one may already have refreshed it
	if sources, ok := s.fresh(); ok {
		return snapshot{sources: sources, origin: OriginCache}
	}
	if s.backend == nil {
		return snapshot{sources: s.static, origin: OriginStatic}
	}

	if sources, ok, err := s.shared.Get(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("referral_shared_cache_read_failed")
	} else if ok {
		s.store(gen, sources)
		return snapshot{sources: sources, origin: OriginShared}
	}

	if s.lock == nil {
		return s.fetch(ctx, gen)
	}
	var snap snapshot
	lockCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := s.lock.Do(lockCtx, refreshLockKey, 2*s.timeout, func(context.Context) error {
		// the previous holder may have refreshed the shared cache while we waited
		if sources, ok, err := s.shared.Get(ctx); err == nil && ok {
			s.store(gen, sources)
			snap = snapshot{sources: sources, origin: OriginShared}
			return nil
		}
		snap = s.fetch(ctx, gen)
		return nil
	})
	if err == nil {
		return snap
	}
	s.logger.Warn().Err(err).Msg("referral_refresh_lock_failed")
	return s.fetch(ctx, gen)
}

// fetch reads the backend, degrading to the stale snapshot and then the
// static dataset when it fails.
func (s *Service) fetch(ctx context.Context, gen uint64) snapshot {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := s.now()
	sources, err := s.backend.List(callCtx)
	elapsed := float64(s.now().Sub(start).Microseconds()) / 1000
	if err == nil {
		obs.ObserveReferralLatency("ok", elapsed)
		if sources == nil {
			sources = []pricing.ReferralSource{}
		}
		s.store(gen, sources)
		if err := s.shared.Set(ctx, sources); err != nil {
			s.logger.Warn().Err(err).Msg("referral_shared_cache_write_failed")
		}
		return snapshot{sources: sources, origin: OriginBackend}
	}

	result := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		result = "timeout"
	}
	obs.ObserveReferralLatency(result, elapsed)

	s.mu.RLock()
	stale := s.cache
	s.mu.RUnlock()
	if stale != nil {
		s.logger.Warn().Err(err).Str("served", string(OriginStale)).Msg("referral_fetch_failed")
		return snapshot{sources: stale, origin: OriginStale}
	}
	s.logger.Warn().Err(err).Str("served", string(OriginStatic)).Msg("referral_fetch_failed")
	return snapshot{sources: s.static, origin: OriginStatic}
}

func (s *Service) store(gen uint64, sources []pricing.ReferralSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.cache = slices.Clone(sources)
	s.cacheTimestamp = s.now()
}
