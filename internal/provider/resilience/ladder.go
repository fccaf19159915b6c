package resilience

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetryDelays is the wait before each retry of a rejected or failed
// provider call.
var DefaultRetryDelays = []time.Duration{
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	20 * time.Second,
	40 * time.Second,
	80 * time.Second,
}

// Ladder is a backoff.BackOff that walks a fixed list of delays and then
// stops. A ladder of n delays allows n+1 attempts.
type Ladder struct {
	mu     sync.Mutex
	delays []time.Duration
	next   int
}

var _ backoff.BackOff = (*Ladder)(nil)

// NewLadder returns a ladder over delays.
func NewLadder(delays []time.Duration) *Ladder {
	return &Ladder{delays: append([]time.Duration(nil), delays...)}
}

// NextBackOff returns the next delay or backoff.Stop once exhausted.
func (l *Ladder) NextBackOff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.next >= len(l.delays) {
		return backoff.Stop
	}
	d := l.delays[l.next]
	l.next++
	return d
}

// Reset rewinds the ladder.
func (l *Ladder) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next = 0
}
