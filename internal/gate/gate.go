// Package gate implements bounded-capacity admission control for a shared
// GPU execution context.
//
// The gate is a fixed-size token pool. Every call into the interpolation
// engine acquires one token first and releases it unconditionally afterward,
// so the engine is never invoked by more than its configured number of
// concurrent callers — and a failing call can never leak a token.
//
// There is no timeout and no fairness guarantee beyond the runtime's channel
// semantics: a caller waits as long as it takes. In practice the wait is
// bounded by the host runtime's own cap on concurrently live frame
// computations.
package gate

import (
	"fmt"
	"sync/atomic"
)

// Gate is a fixed-capacity token pool. The zero value is not usable; use New.
type Gate struct {
	tokens chan struct{}

	// Instrumentation, read by Stats() and the concurrency tests.
	inFlight  atomic.Int64
	highWater atomic.Int64
}

// New creates a gate with the given capacity (≥ 1).
func New(capacity int) (*Gate, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("gate capacity must be at least 1, got %d", capacity)
	}
	return &Gate{tokens: make(chan struct{}, capacity)}, nil
}

// Do runs fn while holding one token.
//
// Acquisition blocks until a token is free. Release is guaranteed on every
// exit path: normal return, error return, and panic propagation. The gate
// serializes nothing but the engine call itself — callers keep all other
// state on their own stack.
func (g *Gate) Do(fn func() error) error {
	g.tokens <- struct{}{}
	defer func() {
		g.inFlight.Add(-1)
		<-g.tokens
	}()

	n := g.inFlight.Add(1)
	for {
		hw := g.highWater.Load()
		if n <= hw || g.highWater.CompareAndSwap(hw, n) {
			break
		}
	}

	return fn()
}

// Capacity returns the fixed pool size.
func (g *Gate) Capacity() int { return cap(g.tokens) }

// InFlight returns the number of tokens currently held.
func (g *Gate) InFlight() int { return int(g.inFlight.Load()) }

// HighWater returns the maximum number of tokens ever held simultaneously.
func (g *Gate) HighWater() int { return int(g.highWater.Load()) }
