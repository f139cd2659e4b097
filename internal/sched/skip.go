package sched

// Decision is the outcome of evaluating the skip signals for an
// interpolation candidate.
type Decision int

const (
	// PassThrough emits a copy of the first source frame of the pair.
	// Always the first, never the second — output determinism depends on it.
	PassThrough Decision = iota

	// Synthesize invokes the interpolation engine.
	Synthesize
)

// String returns the decision name for logs.
func (d Decision) String() string {
	if d == PassThrough {
		return "passthrough"
	}
	return "synthesize"
}

// SkipSignal carries the per-candidate evidence for the skip decision.
// It is populated from frame metadata fetched alongside the source frames
// and discarded once the decision is made.
type SkipSignal struct {
	// SceneChange is the hard-cut flag, read from the second frame of the
	// candidate pair. Only meaningful when scene-change detection is on.
	SceneChange bool

	// Score is the similarity score aligned with the first frame of the
	// pair. Only meaningful when HasScore is true.
	Score float64

	// HasScore is true when skip-by-metric is enabled and a score was
	// fetched for this candidate.
	HasScore bool

	// Threshold is the configured similarity threshold.
	Threshold float64
}

// Decide evaluates the skip rule for an interpolation candidate, in strict
// precedence:
//
//  1. A detected scene change wins unconditionally — blending across a hard
//     cut is always wrong, whatever the similarity score says.
//  2. A similarity score at or above the threshold (inclusive) means the
//     source frames are already close enough that synthesis is not worth
//     the cost.
//  3. Otherwise, synthesize.
//
// Only called for plans with NeedsSecond set; every other plan is already
// a forced pass-through.
func Decide(sig SkipSignal) Decision {
	if sig.SceneChange {
		return PassThrough
	}
	if sig.HasScore && sig.Score >= sig.Threshold {
		return PassThrough
	}
	return Synthesize
}
