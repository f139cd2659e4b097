package framesynth

import (
	"github.com/visiona/framesynth/internal/engine"
	"github.com/visiona/framesynth/internal/frame"
	"github.com/visiona/framesynth/internal/sched"
	"github.com/visiona/framesynth/internal/timeline"
)

// Public API - re-export internal types as the stable contract.

// Frame is the planar float32 RGB frame exchanged with sources and the
// engine. See internal/frame for the immutability contract.
type Frame = frame.Frame

// Rational is an exact num/den pair used for durations and frame rates.
type Rational = timeline.Rational

// Source supplies source frames on demand (request phase of the production
// handshake). See internal/sched for the full pending-result contract.
type Source = sched.Source

// MetricSource supplies similarity scores aligned with the first frame of
// each candidate pair.
type MetricSource = sched.MetricSource

// Interpolator is the external GPU-resident interpolation engine.
type Interpolator = sched.Interpolator

// FetchResult is the single outcome of a pending frame fetch.
type FetchResult = sched.FetchResult

// ScoreResult is the single outcome of a pending score fetch.
type ScoreResult = sched.ScoreResult

// StreamInfo is optionally implemented by Sources that know their frame rate.
type StreamInfo = sched.StreamInfo

// Stats is a snapshot of scheduler counters.
type Stats = sched.Stats

// Devices is the GPU device registry boundary used for configuration-time
// validation and the list-devices diagnostic.
type Devices = engine.Devices

// InstanceManager reference-counts the process-wide GPU instance.
type InstanceManager = engine.InstanceManager

// SubprocessEngine is an Interpolator adapter driving an out-of-process
// neural engine over a length-prefixed MsgPack pipe.
type SubprocessEngine = engine.Subprocess

// SubprocessEngineConfig configures a SubprocessEngine.
type SubprocessEngineConfig = engine.SubprocessConfig

// NewInstanceManager creates an instance manager around the engine's init
// and teardown hooks.
func NewInstanceManager(initFn func() error, teardown func()) *InstanceManager {
	return engine.NewInstanceManager(initFn, teardown)
}

// NewSubprocessEngine creates a subprocess engine bridge. Call Start before
// handing it to New.
func NewSubprocessEngine(cfg SubprocessEngineConfig) *SubprocessEngine {
	return engine.NewSubprocess(cfg)
}

// ListDevices formats a device registry for diagnostics, one "id: name"
// line per device.
func ListDevices(d Devices) string {
	return engine.List(d)
}
