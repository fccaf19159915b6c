package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climaglyph/climaglyph/internal/provider/resilience"
)

var fastLadder = []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}

func newRequest(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	return req
}

func lenientBreaker(name string) *resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig(name)
	cfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.Requests >= 100
	}
	return &cfg
}

func TestClient_SuccessfulRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.DefaultClientConfig("test"))

	body, err := client.Fetch(context.Background(), newRequest(t, server.URL))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestClient_RetryOn5xx(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{
		Name:           "test-retry",
		RetryDelays:    fastLadder,
		CircuitBreaker: lenientBreaker("test-retry"),
	})

	_, err := client.Fetch(context.Background(), newRequest(t, server.URL))
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load(), "should have retried until success")
}

func TestClient_RateLimitedExhaustsLadder(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{
		Name:        "test-429",
		RetryDelays: fastLadder,
	})

	_, err := client.Fetch(context.Background(), newRequest(t, server.URL))
	assert.ErrorIs(t, err, resilience.ErrRateLimited)
	assert.Equal(t, int32(len(fastLadder)+1), attempts.Load())
	assert.Equal(t, gobreaker.StateClosed, client.CircuitBreakerState(), "rate limiting does not trip the breaker")
}

func TestClient_CircuitBreakerTrips(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cbConfig := resilience.CircuitBreakerConfig{
		Name:        "test-trip",
		MaxRequests: 1,
		Timeout:     time.Second,
		ReadyToTrip: resilience.DefaultReadyToTrip,
	}

	client := resilience.NewClient(resilience.ClientConfig{
		Name:           "test-trip",
		Timeout:        time.Second,
		RetryDelays:    []time.Duration{},
		CircuitBreaker: &cbConfig,
	})

	for i := 0; i < 5; i++ {
		_, err := client.Fetch(context.Background(), newRequest(t, server.URL))
		var serverErr *resilience.ServerError
		assert.ErrorAs(t, err, &serverErr)
	}

	assert.Equal(t, gobreaker.StateOpen, client.CircuitBreakerState())

	_, err := client.Fetch(context.Background(), newRequest(t, server.URL))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(5), attempts.Load(), "open breaker does not call the provider")
}

func TestClient_ResetClosesBreaker(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{
		Name:        "test-reset",
		Timeout:     time.Second,
		RetryDelays: []time.Duration{},
	})

	for i := 0; i < 5; i++ {
		_, _ = client.Fetch(context.Background(), newRequest(t, server.URL))
	}
	require.Equal(t, gobreaker.StateOpen, client.CircuitBreakerState())

	status.Store(http.StatusOK)
	client.Reset()
	assert.Equal(t, gobreaker.StateClosed, client.CircuitBreakerState())
	assert.Zero(t, client.CircuitBreakerCounts().Requests)

	_, err := client.Fetch(context.Background(), newRequest(t, server.URL))
	require.NoError(t, err)
}

func TestClient_TimeoutHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{
		Name:           "test-timeout",
		Timeout:        50 * time.Millisecond,
		RetryDelays:    []time.Duration{},
		CircuitBreaker: lenientBreaker("test-timeout"),
	})

	_, err := client.Fetch(context.Background(), newRequest(t, server.URL))
	assert.ErrorIs(t, err, resilience.ErrTransport)
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.DefaultClientConfig("test-cancel"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.Fetch(ctx, newRequest(t, server.URL))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_4xxNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := resilience.NewClient(resilience.ClientConfig{
		Name:        "test-4xx",
		RetryDelays: fastLadder,
	})

	_, err := client.Fetch(context.Background(), newRequest(t, server.URL))

	var statusErr *resilience.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, int32(1), attempts.Load(), "should not retry 4xx errors")
}

func TestLadder(t *testing.T) {
	l := resilience.NewLadder([]time.Duration{time.Second, 2 * time.Second})

	assert.Equal(t, time.Second, l.NextBackOff())
	assert.Equal(t, 2*time.Second, l.NextBackOff())
	assert.Less(t, l.NextBackOff(), time.Duration(0), "stop after the last rung")

	l.Reset()
	assert.Equal(t, time.Second, l.NextBackOff())
}

func TestDefaultRetryDelays(t *testing.T) {
	assert.Equal(t, []time.Duration{
		2 * time.Second, 5 * time.Second, 10 * time.Second,
		20 * time.Second, 40 * time.Second, 80 * time.Second,
	}, resilience.DefaultRetryDelays)
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := resilience.DefaultCircuitBreakerConfig("test")

	assert.Equal(t, "test", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.NotNil(t, cfg.ReadyToTrip)
}

func TestDefaultReadyToTrip(t *testing.T) {
	tests := []struct {
		name     string
		counts   gobreaker.Counts
		expected bool
	}{
		{"no requests", gobreaker.Counts{}, false},
		{"not enough requests", gobreaker.Counts{Requests: 4, TotalFailures: 4}, false},
		{"enough requests but low failure rate", gobreaker.Counts{Requests: 10, TotalFailures: 4}, false},
		{"enough requests and high failure rate", gobreaker.Counts{Requests: 10, TotalFailures: 5}, true},
		{"exactly 5 requests all failing", gobreaker.Counts{Requests: 5, TotalFailures: 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resilience.DefaultReadyToTrip(tt.counts))
		})
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := resilience.DefaultClientConfig("test-client")

	assert.Equal(t, "test-client", cfg.Name)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, resilience.DefaultRetryDelays, cfg.RetryDelays)
	assert.NotNil(t, cfg.CircuitBreaker)
}

func TestServerError(t *testing.T) {
	err := &resilience.ServerError{StatusCode: http.StatusInternalServerError}
	assert.Contains(t, err.Error(), "Internal Server Error")
}
