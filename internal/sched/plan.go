package sched

import "github.com/visiona/framesynth/internal/timeline"

// Plan describes everything the producer must fetch and decide for one
// output frame. Plans are derived deterministically from the output index and
// the rate ratio, are immutable once computed, and are never persisted —
// recomputing one is cheaper than caching it.
type Plan struct {
	// OutputIndex is the output frame index this plan was computed for.
	OutputIndex int

	// SourceIndex is the first (and possibly only) source frame required.
	SourceIndex int

	// BlendNum is the blend-fraction numerator; the fraction itself is
	// BlendNum/Multiplier ∈ [0, 1). Zero means the output frame coincides
	// with SourceIndex exactly.
	BlendNum int

	// Multiplier is the blend-fraction denominator, carried so the plan is
	// self-contained.
	Multiplier int

	// Boundary is true when interpolation would need a source frame beyond
	// the last available one. A boundary plan forces pass-through regardless
	// of the blend fraction.
	Boundary bool

	// NeedsSecond is true when SourceIndex+1 must also be fetched: the blend
	// fraction is non-zero and the plan is not at the sequence boundary.
	NeedsSecond bool

	// WantScore is true when the similarity-score frame at SourceIndex must
	// be fetched as well. Only set when skip-by-metric is enabled and the
	// frame is a real interpolation candidate — scoring a pass-through
	// candidate would be wasted work.
	WantScore bool
}

// Aligned reports whether the output frame coincides with a source frame.
func (p Plan) Aligned() bool { return p.BlendNum == 0 }

// Timestep returns the blend fraction as the float the engine consumes.
func (p Plan) Timestep() float32 {
	return float32(p.BlendNum) / float32(p.Multiplier)
}

// Planner derives fetch plans for output frames. It is immutable after
// construction and safe for concurrent use.
type Planner struct {
	// Ratio is the validated rate-change ratio.
	Ratio timeline.Ratio

	// OutputFrames is the total output frame count (precomputed once at
	// configuration time together with the overflow check).
	OutputFrames int

	// SkipEnabled is true when a similarity-score source is configured.
	SkipEnabled bool
}

// Plan computes the plan for output index n.
//
// The boundary rule matches the timeline mapping: within the final
// `multiplier` output indices a non-aligned frame would interpolate toward a
// source frame that does not exist, so the plan degrades to pass-through of
// the first frame.
func (pl Planner) Plan(n int) Plan {
	src, blend := pl.Ratio.Map(n)
	p := Plan{
		OutputIndex: n,
		SourceIndex: src,
		BlendNum:    blend,
		Multiplier:  pl.Ratio.Multiplier,
	}
	if blend != 0 {
		if n >= pl.OutputFrames-pl.Ratio.Multiplier {
			p.Boundary = true
		} else {
			p.NeedsSecond = true
			p.WantScore = pl.SkipEnabled
		}
	}
	return p
}
