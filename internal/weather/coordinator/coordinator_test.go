package coordinator_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/climaglyph/climaglyph/internal/provider/resilience"
	"github.com/climaglyph/climaglyph/internal/ratestate"
	"github.com/climaglyph/climaglyph/internal/weather"
	"github.com/climaglyph/climaglyph/internal/weather/cache"
	"github.com/climaglyph/climaglyph/internal/weather/coordinator"
)

type stubRequester struct {
	baseURL string
}

func (s stubRequester) Provider() string { return "stub" }

func (s stubRequester) BuildRequest(ctx context.Context, key weather.RequestKey) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+key.String(), nil)
}

func newCoordinator(t *testing.T, interval time.Duration, disk *cache.Disk) *coordinator.Coordinator {
	t.Helper()

	c := coordinator.New(coordinator.Config{
		Logger: zerolog.Nop(),
		Disk:   disk,
		Limiters: map[string]*ratestate.Limiter{
			"stub": ratestate.New(ratestate.Config{Name: "stub", BaseInterval: interval, MaxInterval: time.Second}),
		},
		Clients: map[string]*resilience.Client{
			"stub": resilience.NewClient(resilience.ClientConfig{Name: "stub", RetryDelays: []time.Duration{}}),
		},
		Cooldown: time.Minute,
	})
	t.Cleanup(c.Close)
	return c
}

func TestResolve_DeduplicatesConcurrentCalls(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"daily":{}}`))
	}))
	defer server.Close()

	c := newCoordinator(t, time.Millisecond, nil)
	r := stubRequester{baseURL: server.URL}
	key := weather.DailyKey(43.5, -1.5, 2020, 3, 12)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]coordinator.Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Resolve(context.Background(), r, key)
		}(i)
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.JSONEq(t, `{"daily":{}}`, string(results[i].Payload))
	}

	res, err := c.Resolve(context.Background(), r, key)
	require.NoError(t, err)
	assert.Equal(t, weather.TierMemory, res.Tier)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolve_SpacesDispatches(t *testing.T) {
	const interval = 40 * time.Millisecond
	limiter := ratestate.New(ratestate.Config{Name: "stub", BaseInterval: interval, MaxInterval: time.Second})

	// The worker is blocked on this request inside the handler, so the
	// limiter's last dispatch is the one that sent it.
	var mu sync.Mutex
	var dispatches []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		dispatches = append(dispatches, limiter.LastDispatch())
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := coordinator.New(coordinator.Config{
		Logger:   zerolog.Nop(),
		Limiters: map[string]*ratestate.Limiter{"stub": limiter},
		Clients: map[string]*resilience.Client{
			"stub": resilience.NewClient(resilience.ClientConfig{Name: "stub", RetryDelays: []time.Duration{}}),
		},
	})
	t.Cleanup(c.Close)
	r := stubRequester{baseURL: server.URL}

	var wg sync.WaitGroup
	for year := 2015; year < 2020; year++ {
		wg.Add(1)
		go func(year int) {
			defer wg.Done()
			_, err := c.Resolve(context.Background(), r, weather.DailyKey(43.5, -1.5, year, 3, 12))
			assert.NoError(t, err)
		}(year)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dispatches, 5)
	for i := 1; i < len(dispatches); i++ {
		gap := dispatches[i].Sub(dispatches[i-1])
		assert.GreaterOrEqual(t, gap, interval, "gap %d", i)
	}
}

func TestResolve_RateLimitOpensBreaker(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
		if status.Load() == http.StatusOK {
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	c := newCoordinator(t, time.Millisecond, nil)
	r := stubRequester{baseURL: server.URL}

	_, err := c.Resolve(context.Background(), r, weather.DailyKey(43.5, -1.5, 2020, 3, 12))
	require.ErrorIs(t, err, weather.ErrTemporarilyUnavailable)

	limiter := c.Limiter("stub")
	assert.True(t, limiter.IsDisabled())
	assert.Equal(t, 2*time.Millisecond, limiter.Interval())

	_, err = c.Resolve(context.Background(), r, weather.DailyKey(43.5, -1.5, 2021, 3, 12))
	require.ErrorIs(t, err, weather.ErrTemporarilyUnavailable)
	assert.Equal(t, int32(1), hits.Load(), "breaker suppresses the call")

	status.Store(http.StatusOK)
	require.True(t, c.ResetBreaker("stub"))
	assert.False(t, c.ResetBreaker("unknown"))

	res, err := c.Resolve(context.Background(), r, weather.DailyKey(43.5, -1.5, 2021, 3, 12))
	require.NoError(t, err)
	assert.Equal(t, weather.TierNetwork, res.Tier)
	assert.Equal(t, int32(2), hits.Load())
}

func TestResetBreaker_ClosesCircuitAfterServerErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
		if status.Load() == http.StatusOK {
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	c := newCoordinator(t, time.Millisecond, nil)
	r := stubRequester{baseURL: server.URL}

	for year := 2010; year < 2015; year++ {
		_, err := c.Resolve(context.Background(), r, weather.DailyKey(43.5, -1.5, year, 3, 12))
		require.ErrorIs(t, err, weather.ErrTemporarilyUnavailable)
	}
	require.Equal(t, int32(5), hits.Load())

	status.Store(http.StatusOK)
	_, err := c.Resolve(context.Background(), r, weather.DailyKey(43.5, -1.5, 2015, 3, 12))
	require.ErrorIs(t, err, weather.ErrTemporarilyUnavailable, "open circuit rejects without calling")
	assert.Equal(t, int32(5), hits.Load())

	require.True(t, c.ResetBreaker("stub"))

	res, err := c.Resolve(context.Background(), r, weather.DailyKey(43.5, -1.5, 2015, 3, 12))
	require.NoError(t, err)
	assert.Equal(t, weather.TierNetwork, res.Tier)
	assert.Equal(t, int32(6), hits.Load())
}

func TestResolve_RateLimitRecordedInRegistry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	c := coordinator.New(coordinator.Config{
		Logger: zerolog.Nop(),
		Limiters: map[string]*ratestate.Limiter{
			"stub": ratestate.New(ratestate.Config{Name: "stub", BaseInterval: time.Millisecond}),
		},
		RetryDelays: []time.Duration{},
		Registry:    registry,
	})
	t.Cleanup(c.Close)

	_, err := c.Resolve(context.Background(), stubRequester{baseURL: server.URL}, weather.DailyKey(43.5, -1.5, 2020, 3, 12))
	require.ErrorIs(t, err, weather.ErrTemporarilyUnavailable)

	health := registry.Health("stub")
	require.NotNil(t, health, "the default client registers itself")
	assert.Equal(t, 1, health.RateLimited)
}

func TestResolve_DiskTier(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"daily":{"time":["2020-03-12"]}}`))
	}))
	defer server.Close()

	disk, err := cache.NewDisk(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	key := weather.DailyKey(43.5, -1.5, 2020, 3, 12)
	r := stubRequester{baseURL: server.URL}

	first := newCoordinator(t, time.Millisecond, disk)
	res, err := first.Resolve(context.Background(), r, key)
	require.NoError(t, err)
	assert.Equal(t, weather.TierNetwork, res.Tier)

	second := newCoordinator(t, time.Millisecond, disk)
	res, err = second.Resolve(context.Background(), r, key)
	require.NoError(t, err)
	assert.Equal(t, weather.TierDisk, res.Tier)

	res, err = second.Resolve(context.Background(), r, key)
	require.NoError(t, err)
	assert.Equal(t, weather.TierMemory, res.Tier)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolve_MalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer server.Close()

	c := newCoordinator(t, time.Millisecond, nil)
	_, err := c.Resolve(context.Background(), stubRequester{baseURL: server.URL}, weather.DailyKey(43.5, -1.5, 2020, 3, 12))
	require.ErrorIs(t, err, weather.ErrMalformedResponse)
	assert.True(t, weather.IsInsufficient(err))
}

func TestResolve_RejectedStatusIsInsufficient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := newCoordinator(t, time.Millisecond, nil)
	_, err := c.Resolve(context.Background(), stubRequester{baseURL: server.URL}, weather.DailyKey(43.5, -1.5, 2020, 3, 12))
	require.ErrorIs(t, err, weather.ErrInsufficientData)
	assert.False(t, c.Limiter("stub").IsDisabled())
}

func TestResolve_CallerCancellationLetsFetchFinish(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newCoordinator(t, time.Millisecond, nil)
	r := stubRequester{baseURL: server.URL}
	key := weather.DailyKey(43.5, -1.5, 2020, 3, 12)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Resolve(ctx, r, key)
	require.ErrorIs(t, err, weather.ErrTemporarilyUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.Eventually(t, func() bool { return c.Status().MemoryEntries == 1 }, time.Second, 5*time.Millisecond)

	res, err := c.Resolve(context.Background(), r, key)
	require.NoError(t, err)
	assert.Equal(t, weather.TierMemory, res.Tier)
}

func TestClose_FailsNewRequests(t *testing.T) {
	c := coordinator.New(coordinator.Config{Logger: zerolog.Nop()})
	c.Close()

	_, err := c.Resolve(context.Background(), stubRequester{baseURL: "http://127.0.0.1:1"}, weather.DailyKey(0, 0, 2020, 1, 1))
	require.ErrorIs(t, err, coordinator.ErrClosed)
	require.ErrorIs(t, err, weather.ErrTemporarilyUnavailable)
}

func TestStatus_ListsProviders(t *testing.T) {
	c := newCoordinator(t, time.Millisecond, nil)
	_ = c.Limiter("zeta")

	s := c.Status()
	require.Len(t, s.Providers, 2)
	assert.Equal(t, "stub", s.Providers[0].Provider)
	assert.Equal(t, "zeta", s.Providers[1].Provider)
	assert.Equal(t, 0, s.Pending)
	assert.Equal(t, 0, s.Queued)
}

func counterValues(t *testing.T, reader sdkmetric.Reader, name, attr string) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key(attr))
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestResolve_RecordsMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"daily":{}}`))
	}))
	defer server.Close()

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	c := coordinator.New(coordinator.Config{
		Logger: zerolog.Nop(),
		Meter:  meter,
		Limiters: map[string]*ratestate.Limiter{
			"stub": ratestate.New(ratestate.Config{Name: "stub", BaseInterval: time.Millisecond}),
		},
		Clients: map[string]*resilience.Client{
			"stub": resilience.NewClient(resilience.ClientConfig{Name: "stub", RetryDelays: []time.Duration{}}),
		},
	})
	t.Cleanup(c.Close)

	r := stubRequester{baseURL: server.URL}
	key := weather.DailyKey(43.5, -1.5, 2020, 3, 12)
	for i := 0; i < 3; i++ {
		_, err := c.Resolve(context.Background(), r, key)
		require.NoError(t, err)
	}

	assert.Equal(t, map[string]int64{"network": 1, "memory": 2},
		counterValues(t, reader, "climaglyph.coordinator.resolves", "tier"))
	assert.Equal(t, map[string]int64{"ok": 1},
		counterValues(t, reader, "climaglyph.coordinator.fetches", "outcome"))
}
