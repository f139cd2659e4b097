package framesynth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/visiona/framesynth/internal/engine"
	"github.com/visiona/framesynth/internal/gate"
	"github.com/visiona/framesynth/internal/sched"
	"github.com/visiona/framesynth/internal/timeline"
)

// ErrIndexOutOfRange is returned by Produce for an output index outside
// [0, Descriptor().NumFrames).
var ErrIndexOutOfRange = errors.New("output index out of range")

// Config is the construction-time configuration surface. It is validated
// once by New and immutable afterward.
type Config struct {
	// Model selects a model from the catalog (0–9). Ignored when ModelPath
	// is set.
	Model int

	// ModelPath overrides catalog resolution with an explicit directory.
	ModelPath string

	// ModelsRoot is the directory the catalog resolves against. When both
	// ModelsRoot and ModelPath are empty, model resolution and the family/
	// resource checks are skipped: the engine owns its model entirely.
	ModelsRoot string

	// Multiplier and Divisor form the rational rate-change factor:
	// output rate = input rate × Multiplier / Divisor. Multiplier ≥ 2,
	// Divisor ≥ 1.
	Multiplier int
	Divisor    int

	// GPU is the device ID. Negative means the registry default (device 0
	// when no registry is configured).
	GPU int

	// GPUThreads bounds concurrent engine invocations (the gate capacity).
	GPUThreads int

	// TTA enables test-time augmentation. Incompatible with v4 models.
	TTA bool

	// UHD enables half-resolution flow estimation.
	UHD bool

	// SceneChange suppresses interpolation across detected hard cuts.
	SceneChange bool

	// Skip enables skip-by-metric. Requires a MetricSource (WithMetricSource).
	Skip bool

	// SkipThreshold is the inclusive similarity threshold for Skip, within
	// [0, 60].
	SkipThreshold float64
}

// DefaultConfig returns the defaults: 2×/1 rate change on model 5 with two
// GPU threads and a skip threshold of 60.
func DefaultConfig() Config {
	return Config{
		Model:         5,
		Multiplier:    2,
		Divisor:       1,
		GPU:           -1,
		GPUThreads:    2,
		SkipThreshold: 60.0,
	}
}

// Option configures optional collaborators for New.
type Option func(*options)

type options struct {
	metric   sched.MetricSource
	devices  engine.Devices
	instance *engine.InstanceManager
}

// WithMetricSource supplies the similarity-score provider required when
// cfg.Skip is enabled.
func WithMetricSource(ms MetricSource) Option {
	return func(o *options) { o.metric = ms }
}

// WithDevices supplies a GPU device registry, enabling device-ID and
// thread-count validation against real hardware limits.
func WithDevices(d Devices) Option {
	return func(o *options) { o.devices = d }
}

// WithInstanceManager attaches the process-wide GPU instance manager. New
// acquires one reference and Close releases it; a failed New releases the
// reference on its way out.
func WithInstanceManager(m *InstanceManager) Option {
	return func(o *options) { o.instance = m }
}

// OutputDescriptor describes the produced stream.
type OutputDescriptor struct {
	// NumFrames is floor(sourceFrames × multiplier / divisor).
	NumFrames int

	// FPS is the rescaled frame rate, or zero when the source rate is
	// unknown (Source does not implement StreamInfo).
	FPS Rational
}

// Synthesizer is the temporal upsampling filter instance: it owns the
// validated configuration, the concurrency gate and the producer, and is
// safe for concurrent Produce calls from host worker goroutines.
//
// Lifecycle: New → Produce (any order, any concurrency) → Close.
type Synthesizer struct {
	cfg      Config
	desc     OutputDescriptor
	producer *sched.Producer
	instance *engine.InstanceManager
	closed   atomic.Bool
}

// New validates cfg once, fail-fast, and builds the filter instance.
// Validation failures return a single descriptive error and leave no
// partially initialized state behind: a GPU instance reference acquired
// during construction is released on every failure path.
func New(cfg Config, source Source, eng Interpolator, opts ...Option) (*Synthesizer, error) {
	if source == nil {
		return nil, fmt.Errorf("framesynth: source is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("framesynth: interpolator is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// The GPU instance exists for the whole validation phase, exactly as
	// the engine expects; it must be returned if anything below fails.
	if o.instance != nil {
		if err := o.instance.Acquire(); err != nil {
			return nil, fmt.Errorf("framesynth: %w", err)
		}
	}
	release := func() {
		if o.instance != nil {
			o.instance.Release()
		}
	}

	if err := validate(&cfg, source, &o); err != nil {
		release()
		return nil, fmt.Errorf("framesynth: %w", err)
	}

	ratio := timeline.Ratio{Multiplier: cfg.Multiplier, Divisor: cfg.Divisor}
	outputFrames, err := ratio.OutputCount(source.NumFrames())
	if err != nil {
		release()
		return nil, fmt.Errorf("framesynth: %w", err)
	}

	g, err := gate.New(cfg.GPUThreads)
	if err != nil {
		release()
		return nil, fmt.Errorf("framesynth: %w", err)
	}

	desc := OutputDescriptor{NumFrames: outputFrames}
	if si, ok := source.(StreamInfo); ok {
		if num, den := si.FPS(); num > 0 && den > 0 {
			desc.FPS = ratio.RescaleFPS(Rational{Num: num, Den: den})
		}
	}

	var metric sched.MetricSource
	if cfg.Skip {
		metric = o.metric
	}

	s := &Synthesizer{
		cfg:      cfg,
		desc:     desc,
		instance: o.instance,
		producer: sched.New(sched.Config{
			Ratio:         ratio,
			OutputFrames:  outputFrames,
			Source:        source,
			Metric:        metric,
			Engine:        eng,
			Gate:          g,
			SceneChange:   cfg.SceneChange,
			SkipThreshold: cfg.SkipThreshold,
		}),
	}

	slog.Info("framesynth: filter configured",
		"source_frames", source.NumFrames(),
		"output_frames", outputFrames,
		"multiplier", cfg.Multiplier,
		"divisor", cfg.Divisor,
		"gpu_threads", cfg.GPUThreads,
		"scene_change", cfg.SceneChange,
		"skip", cfg.Skip,
	)
	return s, nil
}

// validate applies the full configuration-time rule set. It may rewrite
// defaults into cfg (GPU registry default, resolved model path).
func validate(cfg *Config, source Source, o *options) error {
	ratio := timeline.Ratio{Multiplier: cfg.Multiplier, Divisor: cfg.Divisor}
	if err := ratio.Validate(); err != nil {
		return err
	}

	if cfg.GPU < 0 {
		if o.devices != nil {
			cfg.GPU = o.devices.Default()
		} else {
			cfg.GPU = 0
		}
	}
	if o.devices != nil {
		if err := engine.ValidateDevice(o.devices, cfg.GPU, cfg.GPUThreads); err != nil {
			return err
		}
	} else if cfg.GPUThreads < 1 {
		return fmt.Errorf("gpu_thread must be at least 1")
	}

	if cfg.SkipThreshold < 0 || cfg.SkipThreshold > 60 {
		return fmt.Errorf("skip_threshold must be between 0.0 and 60.0 (inclusive)")
	}
	if cfg.Skip && o.metric == nil {
		return fmt.Errorf("skip requires a similarity-score source")
	}

	// Short/overflowing sources fail here rather than at the first Produce.
	if _, err := ratio.OutputCount(source.NumFrames()); err != nil {
		return err
	}

	// Model checks apply only when a model location is configured; an
	// engine that owns its model skips them.
	if cfg.ModelPath != "" || cfg.ModelsRoot != "" {
		path, err := engine.ResolveModelPath(cfg.ModelsRoot, cfg.Model, cfg.ModelPath)
		if err != nil {
			return err
		}
		if err := engine.CheckModelResource(path); err != nil {
			return err
		}
		family, err := engine.DetectFamily(path)
		if err != nil {
			return err
		}
		if err := engine.CheckFamilyConstraints(family, cfg.Multiplier, cfg.Divisor, cfg.TTA); err != nil {
			return err
		}
		cfg.ModelPath = path
	}

	return nil
}

// Descriptor returns the output stream descriptor.
func (s *Synthesizer) Descriptor() OutputDescriptor { return s.desc }

// Produce runs the production protocol for output index n. Safe for
// concurrent use; indices complete in any order and a failure on one index
// never halts the others.
func (s *Synthesizer) Produce(ctx context.Context, n int) (*Frame, error) {
	if n < 0 || n >= s.desc.NumFrames {
		return nil, fmt.Errorf("framesynth: %w: %d not in [0, %d)", ErrIndexOutOfRange, n, s.desc.NumFrames)
	}
	return s.producer.Produce(ctx, n)
}

// Stats returns a scheduler counter snapshot.
func (s *Synthesizer) Stats() Stats { return s.producer.Stats() }

// Close releases the filter's GPU instance reference. Idempotent. The
// caller remains responsible for closing the engine it supplied.
func (s *Synthesizer) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.instance != nil {
		s.instance.Release()
	}
	return nil
}
