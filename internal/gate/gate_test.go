package gate_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visiona/framesynth/internal/gate"
)

// --- Test 1: Capacity Bound ---

// TestDoBoundsConcurrency hammers the gate with far more goroutines than
// tokens and verifies the observed concurrency never exceeds capacity.
//
// Contract: at most Capacity() callers are inside fn at any instant.
func TestDoBoundsConcurrency(t *testing.T) {
	const capacity = 3
	const callers = 50

	g, err := gate.New(capacity)
	if err != nil {
		t.Fatalf("New(%d) failed: %v", capacity, err)
	}

	var inside atomic.Int64
	var peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(func() error {
				n := inside.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > capacity {
		t.Fatalf("observed %d concurrent callers, capacity is %d", p, capacity)
	}
	if g.InFlight() != 0 {
		t.Fatalf("InFlight() = %d after all callers returned, want 0", g.InFlight())
	}
	if hw := g.HighWater(); hw < 1 || hw > capacity {
		t.Errorf("HighWater() = %d, want within [1, %d]", hw, capacity)
	}

	t.Logf("✅ %d callers bounded to %d concurrent, high water %d", callers, capacity, g.HighWater())
}

// --- Test 2: Token Return on Failure ---

// TestDoReleasesOnError verifies a failing fn returns its token: more
// consecutive failures than capacity must all run, and the error must
// surface unchanged.
func TestDoReleasesOnError(t *testing.T) {
	g, err := gate.New(1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sentinel := errors.New("engine rejected frame")
	for i := 0; i < 5; i++ {
		if got := g.Do(func() error { return sentinel }); !errors.Is(got, sentinel) {
			t.Fatalf("call %d: Do returned %v, want sentinel", i, got)
		}
	}
	if g.InFlight() != 0 {
		t.Fatalf("InFlight() = %d after failures, want 0", g.InFlight())
	}
}

// TestDoReleasesOnPanic verifies the token survives a panicking fn: the
// panic propagates to the caller and the gate stays usable afterward.
func TestDoReleasesOnPanic(t *testing.T) {
	g, err := gate.New(1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic did not propagate out of Do")
			}
		}()
		_ = g.Do(func() error { panic("engine crashed") })
	}()

	// The single token must be back in the pool.
	done := make(chan struct{})
	go func() {
		_ = g.Do(func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gate deadlocked after panic: token was not returned")
	}

	t.Logf("✅ panic propagated and token returned")
}

// --- Test 3: Construction ---

func TestNewRejectsInvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := gate.New(capacity); err == nil {
			t.Errorf("New(%d) succeeded, want error", capacity)
		}
	}
	g, err := gate.New(4)
	if err != nil {
		t.Fatalf("New(4) failed: %v", err)
	}
	if g.Capacity() != 4 {
		t.Errorf("Capacity() = %d, want 4", g.Capacity())
	}
}
