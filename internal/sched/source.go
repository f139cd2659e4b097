package sched

import "github.com/visiona/framesynth/internal/frame"

// FetchResult is the single outcome of a pending frame fetch.
type FetchResult struct {
	Frame *frame.Frame
	Err   error
}

// ScoreResult is the single outcome of a pending similarity-score fetch.
type ScoreResult struct {
	Score float64
	Err   error
}

// Source supplies source frames on demand.
//
// Fetch is the request half of the two-phase production handshake: it
// declares intent and returns immediately with a pending result. The
// returned channel delivers exactly one FetchResult and the send MUST NOT
// block (use a buffered channel of capacity 1). The producer issues all of
// its Fetch calls up front, then suspends until every pending result has
// arrived; it performs no frame I/O of its own between those phases.
//
// Implementations must tolerate concurrent Fetch calls for unrelated
// indices: the host runtime produces output frames in parallel.
type Source interface {
	// NumFrames returns the length of the source sequence. Constant for the
	// lifetime of the source.
	NumFrames() int

	// Fetch requests the frame at index. index is always within
	// [0, NumFrames()) — the planner guarantees it.
	Fetch(index int) <-chan FetchResult
}

// MetricSource supplies similarity scores aligned with the first frame of
// each candidate pair: the score at index i compares source frames i and
// i+1. Same pending-result contract as Source.Fetch.
type MetricSource interface {
	Fetch(index int) <-chan ScoreResult
}

// Interpolator is the external GPU-resident interpolation engine.
//
// Blend synthesizes the frame at fractional position timestep ∈ (0, 1)
// between a and b. Implementations must be safe for as many concurrent
// calls as the concurrency gate admits; the producer never invokes Blend
// without holding a gate token.
type Interpolator interface {
	Blend(a, b *frame.Frame, timestep float32) (*frame.Frame, error)
}

// StreamInfo is optionally implemented by Sources that know their frame
// rate. When present, the output descriptor carries the rescaled rate.
type StreamInfo interface {
	FPS() (num, den int64)
}
