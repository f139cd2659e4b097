// Package sched implements the temporal resampling and
// conditional-interpolation scheduler: per-output-frame planning, the skip
// decision, and the two-phase demand-driven production protocol that feeds
// the external interpolation engine through a bounded concurrency gate.
//
// Philosophy: "Plan everything, fetch once, never block inside compute."
//
// Design:
//   - Request phase declares every needed frame as a pending fetch
//   - Suspension happens only while awaiting those pendings
//   - Compute never touches frame I/O and holds a gate token only around
//     the engine call itself
//   - Output indices are independent: any may complete before any other
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/visiona/framesynth/internal/frame"
	"github.com/visiona/framesynth/internal/gate"
	"github.com/visiona/framesynth/internal/timeline"
)

// state tracks a single production through the protocol. States exist for
// observability only; the transitions are linear.
type state int

const (
	stateAwaitingSource state = iota
	stateAwaitingSecondAndMetric
	stateComputing
	stateDone
)

func (s state) String() string {
	switch s {
	case stateAwaitingSource:
		return "awaiting_source"
	case stateAwaitingSecondAndMetric:
		return "awaiting_second_and_metric"
	case stateComputing:
		return "computing"
	default:
		return "done"
	}
}

// Config wires a Producer. All fields are validated by the facade before
// they reach this package.
type Config struct {
	Ratio        timeline.Ratio
	OutputFrames int

	Source Source
	Metric MetricSource // nil disables skip-by-metric
	Engine Interpolator
	Gate   *gate.Gate

	// SceneChange enables reading the hard-cut flag from the second frame
	// of each candidate pair.
	SceneChange bool

	// SkipThreshold is the inclusive similarity threshold for
	// skip-by-metric. Ignored when Metric is nil.
	SkipThreshold float64
}

// Producer orchestrates one output frame per Produce call. It owns no
// mutable state beyond its atomic counters and the shared gate, so any
// number of Produce calls may run concurrently from host worker goroutines.
type Producer struct {
	planner Planner
	cfg     Config

	produced        atomic.Uint64
	synthesized     atomic.Uint64
	passAligned     atomic.Uint64
	passBoundary    atomic.Uint64
	passSceneChange atomic.Uint64
	passMetric      atomic.Uint64
	fetchErrors     atomic.Uint64
	engineErrors    atomic.Uint64
}

// Stats is a snapshot of producer counters, split by the cause of each
// pass-through so drop-in monitoring can tell "healthy skip" from "boundary
// noise".
type Stats struct {
	// Produced counts output frames successfully emitted.
	Produced uint64 `json:"produced"`

	// Synthesized counts frames produced by the engine.
	Synthesized uint64 `json:"synthesized"`

	// PassThroughAligned counts frames that coincided with a source frame.
	PassThroughAligned uint64 `json:"passthrough_aligned"`

	// PassThroughBoundary counts forced pass-throughs at the sequence tail.
	PassThroughBoundary uint64 `json:"passthrough_boundary"`

	// PassThroughSceneChange counts candidates skipped across a hard cut.
	PassThroughSceneChange uint64 `json:"passthrough_scene_change"`

	// PassThroughMetric counts candidates skipped by similarity score.
	PassThroughMetric uint64 `json:"passthrough_metric"`

	// FetchErrors counts productions abandoned because a source or metric
	// fetch failed.
	FetchErrors uint64 `json:"fetch_errors"`

	// EngineErrors counts failed engine invocations.
	EngineErrors uint64 `json:"engine_errors"`

	// MaxConcurrentBlends is the gate's high-water mark: the largest number
	// of engine calls ever simultaneously in flight.
	MaxConcurrentBlends int `json:"max_concurrent_blends"`

	// GateCapacity is the configured concurrency limit.
	GateCapacity int `json:"gate_capacity"`
}

// New creates a Producer. cfg must already be validated.
func New(cfg Config) *Producer {
	return &Producer{
		planner: Planner{
			Ratio:        cfg.Ratio,
			OutputFrames: cfg.OutputFrames,
			SkipEnabled:  cfg.Metric != nil,
		},
		cfg: cfg,
	}
}

// Planner returns the producer's planner (used by the facade for
// descriptor-level queries).
func (p *Producer) Planner() Planner { return p.planner }

// Produce runs the full protocol for output index n and returns the
// finished frame.
//
// Phases:
//   - request: declare every fetch the plan needs (source frame, optional
//     second frame, optional metric score)
//   - suspension: await all pendings; this is the only point where the call
//     yields for frame availability
//   - compute: decide pass-through vs. synthesis, invoke the engine under a
//     gate token if synthesizing, rescale duration metadata
//
// Any fetch or engine failure abandons this index only: the error is
// returned to the caller's per-frame error channel and no frame is emitted.
// Other in-flight productions are unaffected. Gate tokens cannot leak across
// failures (gate.Do releases on every exit path) and are never held while
// awaiting fetches.
func (p *Producer) Produce(ctx context.Context, n int) (*frame.Frame, error) {
	plan := p.planner.Plan(n)
	trace := uuid.New().String()

	// Request phase: declare all dependencies before touching any of them.
	st := stateAwaitingSource
	pendFirst := p.cfg.Source.Fetch(plan.SourceIndex)
	var pendSecond <-chan FetchResult
	var pendScore <-chan ScoreResult
	if plan.NeedsSecond {
		pendSecond = p.cfg.Source.Fetch(plan.SourceIndex + 1)
	}
	if plan.WantScore {
		pendScore = p.cfg.Metric.Fetch(plan.SourceIndex)
	}

	slog.Debug("produce: requested",
		"state", st.String(),
		"output_index", n,
		"source_index", plan.SourceIndex,
		"blend_num", plan.BlendNum,
		"needs_second", plan.NeedsSecond,
		"want_score", plan.WantScore,
		"boundary", plan.Boundary,
		"trace_id", trace,
	)

	// Suspension: all-ready resume. No partial execution between phases.
	first, err := awaitFetch(ctx, pendFirst)
	if err != nil {
		p.fetchErrors.Add(1)
		return nil, fmt.Errorf("fetch source frame %d: %w", plan.SourceIndex, err)
	}

	var second *frame.Frame
	var sig SkipSignal
	if plan.NeedsSecond {
		st = stateAwaitingSecondAndMetric
		slog.Debug("produce: state", "output_index", n, "state", st.String(), "trace_id", trace)
		second, err = awaitFetch(ctx, pendSecond)
		if err != nil {
			p.fetchErrors.Add(1)
			return nil, fmt.Errorf("fetch source frame %d: %w", plan.SourceIndex+1, err)
		}
		sig.Threshold = p.cfg.SkipThreshold
		if p.cfg.SceneChange {
			sig.SceneChange = second.SceneChange
		}
		if plan.WantScore {
			res, ok := recvScore(ctx, pendScore)
			if !ok {
				p.fetchErrors.Add(1)
				return nil, fmt.Errorf("fetch similarity score %d: %w", plan.SourceIndex, ctx.Err())
			}
			if res.Err != nil {
				p.fetchErrors.Add(1)
				return nil, fmt.Errorf("fetch similarity score %d: %w", plan.SourceIndex, res.Err)
			}
			sig.Score, sig.HasScore = res.Score, true
		}
	}

	// Compute phase. From here on nothing blocks on frame availability.
	st = stateComputing
	slog.Debug("produce: state", "output_index", n, "state", st.String(), "trace_id", trace)
	var dst *frame.Frame
	switch {
	case !plan.NeedsSecond:
		dst = first.PassThrough()
		if plan.Boundary {
			p.passBoundary.Add(1)
		} else {
			p.passAligned.Add(1)
		}

	case Decide(sig) == PassThrough:
		// Always the first frame of the pair, never the second.
		dst = first.PassThrough()
		if sig.SceneChange {
			p.passSceneChange.Add(1)
		} else {
			p.passMetric.Add(1)
		}
		slog.Debug("produce: candidate skipped",
			"output_index", n,
			"scene_change", sig.SceneChange,
			"score", sig.Score,
			"threshold", sig.Threshold,
			"trace_id", trace,
		)

	default:
		blendErr := p.cfg.Gate.Do(func() error {
			out, err := p.cfg.Engine.Blend(first, second, plan.Timestep())
			if err != nil {
				return err
			}
			dst = out
			return nil
		})
		if blendErr != nil {
			p.engineErrors.Add(1)
			return nil, fmt.Errorf("blend output frame %d (t=%d/%d): %w",
				n, plan.BlendNum, plan.Multiplier, blendErr)
		}
		// Synthesized frames inherit the first source frame's metadata,
		// same as the pass-through path.
		dst.SceneChange = first.SceneChange
		if first.Duration != nil {
			d := *first.Duration
			dst.Duration = &d
		}
		p.synthesized.Add(1)
	}

	// Duration metadata follows the new rate; absent metadata stays absent.
	if dst.Duration != nil {
		d := p.cfg.Ratio.RescaleDuration(*dst.Duration)
		dst.Duration = &d
	}
	dst.TraceID = trace

	st = stateDone
	slog.Debug("produce: state", "output_index", n, "state", st.String(), "trace_id", trace)
	p.produced.Add(1)
	return dst, nil
}

// Stats returns a counter snapshot. Safe for concurrent use; the snapshot
// is not atomic across fields.
func (p *Producer) Stats() Stats {
	return Stats{
		Produced:               p.produced.Load(),
		Synthesized:            p.synthesized.Load(),
		PassThroughAligned:     p.passAligned.Load(),
		PassThroughBoundary:    p.passBoundary.Load(),
		PassThroughSceneChange: p.passSceneChange.Load(),
		PassThroughMetric:      p.passMetric.Load(),
		FetchErrors:            p.fetchErrors.Load(),
		EngineErrors:           p.engineErrors.Load(),
		MaxConcurrentBlends:    p.cfg.Gate.HighWater(),
		GateCapacity:           p.cfg.Gate.Capacity(),
	}
}

// awaitFetch blocks on one pending fetch, honoring cancellation while the
// production is suspended in the request/resume handshake.
func awaitFetch(ctx context.Context, pend <-chan FetchResult) (*frame.Frame, error) {
	select {
	case res := <-pend:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func recvScore(ctx context.Context, pend <-chan ScoreResult) (ScoreResult, bool) {
	select {
	case res := <-pend:
		return res, true
	case <-ctx.Done():
		return ScoreResult{}, false
	}
}
