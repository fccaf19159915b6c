// Package flight provides a typed single-flight group: at most one call per
// key is in flight, and every caller that asks for the key while it runs
// receives the same result.
package flight

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group de-duplicates concurrent calls by key. The zero value is ready to use.
type Group[V any] struct {
	g singleflight.Group

	mu      sync.Mutex
	pending map[string]struct{}
}

// Do runs fn once for all concurrent callers of key and returns its result.
// shared reports whether the result was delivered to more than one caller.
//
// When ctx ends before fn returns, Do returns ctx.Err() but fn keeps running
// so later callers still benefit from its result.
func (g *Group[V]) Do(ctx context.Context, key string, fn func() (V, error)) (v V, shared bool, err error) {
	ch := g.g.DoChan(key, func() (any, error) {
		g.track(key, true)
		defer g.track(key, false)
		return fn()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		val, ok := res.Val.(V)
		if !ok && res.Val != nil {
			return v, res.Shared, fmt.Errorf("flight: unexpected result type %T", res.Val)
		}
		return val, res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

func (g *Group[V]) track(key string, start bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if start {
		if g.pending == nil {
			g.pending = make(map[string]struct{})
		}
		g.pending[key] = struct{}{}
		return
	}
	delete(g.pending, key)
}

// Pending returns the number of keys with a call in flight.
func (g *Group[V]) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// InFlight reports whether key currently has a call in flight.
func (g *Group[V]) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[key]
	return ok
}
