package referral

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-lab/internal/lock"
	"github.com/noah-isme/backend-lab/internal/obs"
	"github.com/noah-isme/backend-lab/internal/pricing"
)

type fakeBackend struct {
	mu      sync.Mutex
	sources []pricing.ReferralSource
	err     error
	calls   atomic.Int32
	// gate, when set, blocks List until closed or the context ends.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeBackend) List(ctx context.Context) ([]pricing.ReferralSource, error) {
	f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]pricing.ReferralSource(nil), f.sources...), nil
}

func (f *fakeBackend) Create(_ context.Context, src pricing.ReferralSource) (pricing.ReferralSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, src)
	return src, nil
}

func (f *fakeBackend) Update(_ context.Context, id string, src pricing.ReferralSource) (pricing.ReferralSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sources {
		if f.sources[i].ID == id {
			f.sources[i] = src
			return src, nil
		}
	}
	return pricing.ReferralSource{}, ErrNotFound
}

func (f *fakeBackend) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.sources {
		if f.sources[i].ID == id {
			f.sources = append(f.sources[:i], f.sources[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeBackend) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	backendSources = []pricing.ReferralSource{
		{ID: "doctor_001", Name: "Dr. Rao", ReferralType: pricing.ReferralDoctor, DiscountPercentage: 5, IsActive: true},
		{ID: "corporate", Name: "Acme Corp", ReferralType: pricing.ReferralCorporate, DiscountPercentage: 15, IsActive: true},
	}
	staticSources = []pricing.ReferralSource{
		{ID: "self", Name: "Walk-in", ReferralType: pricing.ReferralPatient, IsActive: true},
	}
)

func newTestService(t *testing.T, backend Backend, opts ...func(*Config)) (*Service, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	cfg := Config{
		Backend: backend,
		Static:  staticSources,
		TTL:     5 * time.Minute,
		Timeout: time.Second,
		Now:     clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewService(cfg), clock
}

func ids(sources []pricing.ReferralSource) []string {
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.ID)
	}
	return out
}

func TestServiceCachesWithinTTL(t *testing.T) {
	backend := &fakeBackend{sources: backendSources}
	svc, clock := newTestService(t, backend)

	got, origin := svc.Get(t.Context())
	require.Equal(t, OriginBackend, origin)
	require.Equal(t, []string{"doctor_001", "corporate"}, ids(got))
	require.Equal(t, clock.Now(), svc.CachedAt())

	clock.Advance(4*time.Minute + 59*time.Second)
	_, origin = svc.Get(t.Context())
	require.Equal(t, OriginCache, origin)
	require.EqualValues(t, 1, backend.calls.Load())

	clock.Advance(time.Second)
	_, origin = svc.Get(t.Context())
	require.Equal(t, OriginBackend, origin)
	require.EqualValues(t, 2, backend.calls.Load())
}

func TestServiceReturnsCopies(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{sources: backendSources})

	first, _ := svc.Get(t.Context())
	first[0].DiscountPercentage = 99

	second, origin := svc.Get(t.Context())
	require.Equal(t, OriginCache, origin)
	require.Equal(t, 5.0, second[0].DiscountPercentage)
}

func TestServiceCoalescesConcurrentMisses(t *testing.T) {
	backend := &fakeBackend{
		sources: backendSources,
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	svc, _ := newTestService(t, backend)

	const callers = 32
	var wg sync.WaitGroup
	results := make([]Origin, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, origin := svc.Get(context.Background())
			if len(got) == 2 {
				results[i] = origin
			}
		}(i)
	}

	<-backend.entered
	time.Sleep(20 * time.Millisecond)
	close(backend.gate)
	wg.Wait()

	require.EqualValues(t, 1, backend.calls.Load())
	for _, origin := range results {
		require.Contains(t, []Origin{OriginBackend, OriginCache}, origin)
	}
}

func TestServiceFlightSurvivesCallerCancellation(t *testing.T) {
	backend := &fakeBackend{sources: backendSources, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc, _ := newTestService(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Origin, 1)
	go func() {
		_, origin := svc.Get(ctx)
		done <- origin
	}()
	<-backend.entered
	cancel()
	close(backend.gate)

	require.Equal(t, OriginBackend, <-done)
}

func TestServiceFallsBackToStaleThenStatic(t *testing.T) {
	backend := &fakeBackend{err: errors.New("connection refused")}
	svc, clock := newTestService(t, backend)

	got, origin := svc.Get(t.Context())
	require.Equal(t, OriginStatic, origin)
	require.Equal(t, []string{"self"}, ids(got))

	backend.fail(nil)
	backend.sources = backendSources
	_, origin = svc.Get(t.Context())
	require.Equal(t, OriginBackend, origin)

	clock.Advance(10 * time.Minute)
	backend.fail(errors.New("503"))
	got, origin = svc.Get(t.Context())
	require.Equal(t, OriginStale, origin)
	require.Equal(t, []string{"doctor_001", "corporate"}, ids(got))
}

func TestServiceTimeoutServesStatic(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{})}
	svc, _ := newTestService(t, backend, func(c *Config) { c.Timeout = 20 * time.Millisecond })

	start := time.Now()
	_, origin := svc.Get(t.Context())
	require.Equal(t, OriginStatic, origin)
	require.Less(t, time.Since(start), time.Second)
}

func TestServiceWithoutBackendServesStatic(t *testing.T) {
	svc, _ := newTestService(t, nil)

	got, origin := svc.Get(t.Context())
	require.Equal(t, OriginStatic, origin)
	require.Equal(t, []string{"self"}, ids(got))

	_, err := svc.Create(t.Context(), staticSources[0])
	require.ErrorIs(t, err, ErrReadOnly)
	require.ErrorIs(t, svc.Delete(t.Context(), "self"), ErrReadOnly)
}

func liveSources(t *testing.T, svc *Service) map[string]pricing.ReferralSource {
	t.Helper()
	sources, ok := svc.Sources(t.Context())
	require.True(t, ok)
	return sources
}

func TestServiceSourcesReportsEmptySnapshot(t *testing.T) {
	backend := &fakeBackend{}
	svc, _ := newTestService(t, backend)

	sources, ok := svc.Sources(t.Context())
	require.True(t, ok)
	require.Empty(t, sources)

	static, _ := newTestService(t, nil)
	_, ok = static.Sources(t.Context())
	require.False(t, ok)
}

func TestServiceSourcesKeyedByID(t *testing.T) {
	svc, _ := newTestService(t, &fakeBackend{sources: append(backendSources, pricing.ReferralSource{Name: "no id"})})

	sources, ok := svc.Sources(t.Context())
	require.True(t, ok)
	require.Len(t, sources, 2)
	require.Equal(t, 15.0, sources["corporate"].DiscountPercentage)
}

func TestServiceClearCacheForcesRefetch(t *testing.T) {
	backend := &fakeBackend{sources: backendSources}
	svc, _ := newTestService(t, backend)

	svc.Get(t.Context())
	require.NoError(t, svc.ClearCache(t.Context()))
	require.True(t, svc.CachedAt().IsZero())

	_, origin := svc.Get(t.Context())
	require.Equal(t, OriginBackend, origin)
	require.EqualValues(t, 2, backend.calls.Load())
}

func TestServiceMutationsInvalidate(t *testing.T) {
	backend := &fakeBackend{sources: slices.Clone(backendSources[:1])}
	svc, _ := newTestService(t, backend)
	svc.Get(t.Context())

	_, err := svc.Create(t.Context(), backendSources[1])
	require.NoError(t, err)
	got, origin := svc.Get(t.Context())
	require.Equal(t, OriginBackend, origin)
	require.Equal(t, []string{"doctor_001", "corporate"}, ids(got))

	updated := backendSources[1]
	updated.DiscountPercentage = 25
	_, err = svc.Update(t.Context(), "corporate", updated)
	require.NoError(t, err)
	require.Equal(t, 25.0, liveSources(t, svc)["corporate"].DiscountPercentage)

	require.NoError(t, svc.Delete(t.Context(), "doctor_001"))
	require.NotContains(t, liveSources(t, svc), "doctor_001")

	require.ErrorIs(t, svc.Delete(t.Context(), "missing"), ErrNotFound)
}

func TestServiceInvalidationDuringFlightIsNotOverwritten(t *testing.T) {
	backend := &fakeBackend{sources: backendSources, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc, _ := newTestService(t, backend)

	done := make(chan struct{})
	go func() {
		svc.Get(context.Background())
		close(done)
	}()
	<-backend.entered
	require.NoError(t, svc.ClearCache(t.Context()))
	close(backend.gate)
	<-done

	require.True(t, svc.CachedAt().IsZero(), "a fetch started before invalidation must not repopulate the cache")
}

func TestServiceSharedCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	shared := NewRedisCache(client, 5*time.Minute, "")

	writer := &fakeBackend{sources: backendSources}
	a, _ := newTestService(t, writer, func(c *Config) { c.Shared = shared })
	_, origin := a.Get(t.Context())
	require.Equal(t, OriginBackend, origin)
	require.True(t, mr.Exists(defaultCacheKey))

	reader := &fakeBackend{err: errors.New("should not be called")}
	b, _ := newTestService(t, reader, func(c *Config) { c.Shared = shared })
	got, origin := b.Get(t.Context())
	require.Equal(t, OriginShared, origin)
	require.Equal(t, []string{"doctor_001", "corporate"}, ids(got))
	require.Zero(t, reader.calls.Load())

	require.NoError(t, b.ClearCache(t.Context()))
	require.False(t, mr.Exists(defaultCacheKey))
}

func TestServiceSharedCacheFailureFallsThroughToBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	backend := &fakeBackend{sources: backendSources}
	svc, _ := newTestService(t, backend, func(c *Config) {
		c.Shared = NewRedisCache(client, time.Minute, "")
		c.Lock = &lock.Locker{Client: client}
	})

	_, origin := svc.Get(t.Context())
	require.Equal(t, OriginBackend, origin)
}

func TestServiceRefreshLockCoalescesReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	withRedis := func(c *Config) {
		c.Shared = NewRedisCache(client, 5*time.Minute, "")
		c.Lock = &lock.Locker{Client: client, Retry: 5 * time.Millisecond}
	}

	first := &fakeBackend{sources: backendSources, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	a, _ := newTestService(t, first, withRedis)
	second := &fakeBackend{err: errors.New("should not be called")}
	b, _ := newTestService(t, second, withRedis)

	done := make(chan Origin, 1)
	go func() {
		_, origin := a.Get(t.Context())
		done <- origin
	}()
	<-first.entered

	bDone := make(chan Origin, 1)
	go func() {
		_, origin := b.Get(t.Context())
		bDone <- origin
	}()
	close(first.gate)

	require.Equal(t, OriginBackend, <-done)
	require.Equal(t, OriginShared, <-bDone)
	require.Zero(t, second.calls.Load())
}

func TestServiceRecordsFetchOrigins(t *testing.T) {
	obs.MustRegisterDomainMetrics("referral_test", prometheus.NewRegistry())
	before := testutil.ToFloat64(obs.ReferralFetchTotal.WithLabelValues(string(OriginStatic)))

	svc, _ := newTestService(t, nil)
	svc.Get(t.Context())
	svc.Get(t.Context())

	require.Equal(t, before+2, testutil.ToFloat64(obs.ReferralFetchTotal.WithLabelValues(string(OriginStatic))))
}
