package flight_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climaglyph/climaglyph/internal/flight"
)

func TestGroup_DeduplicatesConcurrentCalls(t *testing.T) {
	var g flight.Group[[]byte]
	var calls atomic.Int32
	release := make(chan struct{})

	const n = 20
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = g.Do(context.Background(), "k", func() ([]byte, error) {
				calls.Add(1)
				<-release
				return []byte("payload"), nil
			})
		}(i)
	}

	require.Eventually(t, func() bool { return g.InFlight("k") }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "payload", string(results[i]))
	}
	assert.Equal(t, 0, g.Pending())
}

func TestGroup_SharesErrors(t *testing.T) {
	var g flight.Group[int]
	boom := errors.New("boom")
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = g.Do(context.Background(), "k", func() (int, error) {
				<-release
				return 0, boom
			})
		}(i)
	}

	require.Eventually(t, func() bool { return g.InFlight("k") }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, boom)
	}
}

func TestGroup_CallerMayStopWaiting(t *testing.T) {
	var g flight.Group[string]
	release := make(chan struct{})
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := g.Do(ctx, "k", func() (string, error) {
		defer close(done)
		<-release
		return "late", nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	<-done
	require.Eventually(t, func() bool { return g.Pending() == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	v, _, err := g.Do(context.Background(), "k", func() (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v, "completed flights are forgotten")
}
