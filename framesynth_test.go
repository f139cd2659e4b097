package framesynth_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/visiona/framesynth"
)

// --- Test Fakes ---

// memSource serves frames from a slice and reports a fixed frame rate.
type memSource struct {
	frames []*framesynth.Frame
	fps    [2]int64
}

func (s *memSource) NumFrames() int { return len(s.frames) }

func (s *memSource) Fetch(index int) <-chan framesynth.FetchResult {
	ch := make(chan framesynth.FetchResult, 1)
	ch <- framesynth.FetchResult{Frame: s.frames[index]}
	return ch
}

func (s *memSource) FPS() (num, den int64) { return s.fps[0], s.fps[1] }

// scoreMap is a fixed index→score table.
type scoreMap map[int]float64

func (m scoreMap) Fetch(index int) <-chan framesynth.ScoreResult {
	ch := make(chan framesynth.ScoreResult, 1)
	ch <- framesynth.ScoreResult{Score: m[index]}
	return ch
}

// midpoint is a CPU stand-in engine: it averages toward the timestep.
type midpoint struct{}

func (midpoint) Blend(a, b *framesynth.Frame, timestep float32) (*framesynth.Frame, error) {
	out := &framesynth.Frame{
		Width:  a.Width,
		Height: a.Height,
		R:      make([]float32, len(a.R)),
		G:      make([]float32, len(a.G)),
		B:      make([]float32, len(a.B)),
	}
	for i := range out.R {
		out.R[i] = a.R[i] + timestep*(b.R[i]-a.R[i])
		out.G[i] = a.G[i] + timestep*(b.G[i]-a.G[i])
		out.B[i] = a.B[i] + timestep*(b.B[i]-a.B[i])
	}
	return out, nil
}

func flat(value float32) *framesynth.Frame {
	f := &framesynth.Frame{
		Width: 2, Height: 2,
		R: make([]float32, 4), G: make([]float32, 4), B: make([]float32, 4),
	}
	for i := range f.R {
		f.R[i], f.G[i], f.B[i] = value, value, value
	}
	f.Duration = &framesynth.Rational{Num: 1, Den: 24}
	return f
}

func newSource(values ...float32) *memSource {
	s := &memSource{fps: [2]int64{24, 1}}
	for _, v := range values {
		s.frames = append(s.frames, flat(v))
	}
	return s
}

// --- Test 1: Configuration Validation ---

// TestNewValidation walks the fail-fast rule set: each invalid configuration
// must be rejected with its documented message, before any Produce call.
func TestNewValidation(t *testing.T) {
	src := newSource(0, 0.5, 1)

	cases := []struct {
		name    string
		cfg     framesynth.Config
		opts    []framesynth.Option
		wantMsg string
	}{
		{
			name:    "multiplier too small",
			cfg:     framesynth.Config{Multiplier: 1, Divisor: 1, GPUThreads: 1},
			wantMsg: "multiplier must be greater than 1",
		},
		{
			name:    "zero divisor",
			cfg:     framesynth.Config{Multiplier: 2, Divisor: 0, GPUThreads: 1},
			wantMsg: "divisor must be greater than 0",
		},
		{
			name:    "zero gpu threads",
			cfg:     framesynth.Config{Multiplier: 2, Divisor: 1, GPUThreads: 0},
			wantMsg: "gpu_thread must be at least 1",
		},
		{
			name:    "threshold above range",
			cfg:     framesynth.Config{Multiplier: 2, Divisor: 1, GPUThreads: 1, SkipThreshold: 60.1},
			wantMsg: "skip_threshold must be between 0.0 and 60.0 (inclusive)",
		},
		{
			name:    "negative threshold",
			cfg:     framesynth.Config{Multiplier: 2, Divisor: 1, GPUThreads: 1, SkipThreshold: -0.1},
			wantMsg: "skip_threshold must be between 0.0 and 60.0 (inclusive)",
		},
		{
			name:    "skip without metric",
			cfg:     framesynth.Config{Multiplier: 2, Divisor: 1, GPUThreads: 1, Skip: true},
			wantMsg: "skip requires a similarity-score source",
		},
	}

	for _, tc := range cases {
		_, err := framesynth.New(tc.cfg, src, midpoint{}, tc.opts...)
		if err == nil {
			t.Errorf("%s: New succeeded, want error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.wantMsg) {
			t.Errorf("%s: error = %q, want substring %q", tc.name, err.Error(), tc.wantMsg)
		}
	}

	t.Logf("✅ %d invalid configurations rejected with documented messages", len(cases))
}

func TestNewRejectsShortSource(t *testing.T) {
	cfg := framesynth.DefaultConfig()
	_, err := framesynth.New(cfg, newSource(0.5), midpoint{})
	if err == nil || !strings.Contains(err.Error(), "clip's number of frames must be at least 2") {
		t.Fatalf("New on a 1-frame source: error = %v, want too-short message", err)
	}
}

func TestNewRejectsNilCollaborators(t *testing.T) {
	cfg := framesynth.DefaultConfig()
	if _, err := framesynth.New(cfg, nil, midpoint{}); err == nil {
		t.Error("New with nil source succeeded")
	}
	if _, err := framesynth.New(cfg, newSource(0, 1), nil); err == nil {
		t.Error("New with nil interpolator succeeded")
	}
}

// TestNewModelChecks exercises the model rule set against a real model
// directory layout.
func TestNewModelChecks(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"rife-v2.3", "rife-v4"} {
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(root, name, "flownet.param"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	src := newSource(0, 0.5, 1)

	// Model 5 (rife-v2.3) at 2/1 is valid.
	cfg := framesynth.DefaultConfig()
	cfg.ModelsRoot = root
	s, err := framesynth.New(cfg, src, midpoint{})
	if err != nil {
		t.Fatalf("valid model config rejected: %v", err)
	}
	_ = s.Close()

	// A custom ratio demands the v4 family.
	cfg = framesynth.DefaultConfig()
	cfg.ModelsRoot = root
	cfg.Multiplier, cfg.Divisor = 3, 1
	if _, err := framesynth.New(cfg, src, midpoint{}); err == nil ||
		!strings.Contains(err.Error(), "only rife-v4 model supports custom multiplier") {
		t.Errorf("custom ratio on v2: error = %v, want family message", err)
	}

	cfg.Model = 9 // rife-v4
	if s, err := framesynth.New(cfg, src, midpoint{}); err != nil {
		t.Errorf("custom ratio on v4 rejected: %v", err)
	} else {
		_ = s.Close()
	}

	// TTA is incompatible with v4.
	cfg.TTA = true
	if _, err := framesynth.New(cfg, src, midpoint{}); err == nil ||
		!strings.Contains(err.Error(), "rife-v4 model does not support TTA mode") {
		t.Errorf("TTA on v4: error = %v, want TTA message", err)
	}

	// A missing network definition fails at configuration time.
	cfg = framesynth.DefaultConfig()
	cfg.ModelPath = filepath.Join(root, "rife-v3.1") // never created
	if _, err := framesynth.New(cfg, src, midpoint{}); err == nil ||
		!strings.Contains(err.Error(), "failed to load model") {
		t.Errorf("missing model dir: error = %v, want load message", err)
	}
}

// --- Test 2: Descriptor ---

// TestDescriptor verifies the output frame count and the exactly-rescaled
// frame rate.
func TestDescriptor(t *testing.T) {
	cfg := framesynth.DefaultConfig()
	s, err := framesynth.New(cfg, newSource(0, 0.5, 1), midpoint{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	d := s.Descriptor()
	if d.NumFrames != 6 {
		t.Errorf("NumFrames = %d, want 6", d.NumFrames)
	}
	if d.FPS != (framesynth.Rational{Num: 48, Den: 1}) {
		t.Errorf("FPS = %d/%d, want 48/1", d.FPS.Num, d.FPS.Den)
	}
}

// --- Test 3: End-to-End Doubling ---

// TestProduceEndToEnd doubles a three-frame source through the full facade
// and checks the output sequence: pass-throughs at even indices, midpoint
// blends between them, a boundary pass-through at the tail, and rescaled
// durations throughout.
func TestProduceEndToEnd(t *testing.T) {
	src := newSource(0, 0.5, 1)
	cfg := framesynth.DefaultConfig()
	s, err := framesynth.New(cfg, src, midpoint{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	wantSamples := []float32{0, 0.25, 0.5, 0.75, 1, 1}
	for n, want := range wantSamples {
		out, err := s.Produce(ctx, n)
		if err != nil {
			t.Fatalf("Produce(%d) failed: %v", n, err)
		}
		if out.R[0] != want {
			t.Errorf("output %d sample = %v, want %v", n, out.R[0], want)
		}
		if out.Duration == nil || *out.Duration != (framesynth.Rational{Num: 1, Den: 48}) {
			t.Errorf("output %d duration = %v, want 1/48", n, out.Duration)
		}
	}

	st := s.Stats()
	if st.Produced != 6 || st.Synthesized != 2 {
		t.Errorf("stats = %+v, want 6 produced with 2 synthesized", st)
	}

	t.Logf("✅ 24fps three-frame clip doubled to 48fps, %d blends", st.Synthesized)
}

// TestProduceIndexRange verifies out-of-range indices fail with the sentinel
// and touch no source frame.
func TestProduceIndexRange(t *testing.T) {
	cfg := framesynth.DefaultConfig()
	s, err := framesynth.New(cfg, newSource(0, 0.5, 1), midpoint{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	for _, n := range []int{-1, 6, 100} {
		_, err := s.Produce(context.Background(), n)
		if !errors.Is(err, framesynth.ErrIndexOutOfRange) {
			t.Errorf("Produce(%d) error = %v, want ErrIndexOutOfRange", n, err)
		}
	}
}

// --- Test 4: Skip Wiring ---

// TestSkipThroughFacade verifies the Skip flag routes the metric source into
// the scheduler: a high-similarity candidate passes through, a dissimilar
// one synthesizes.
func TestSkipThroughFacade(t *testing.T) {
	src := newSource(0, 0.5, 1, 0.2)
	cfg := framesynth.DefaultConfig()
	cfg.Skip = true
	cfg.SkipThreshold = 60

	s, err := framesynth.New(cfg, src, midpoint{},
		framesynth.WithMetricSource(scoreMap{0: 60, 1: 10}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	out, err := s.Produce(ctx, 1) // score 60 ⇒ skip, emits frame 0
	if err != nil {
		t.Fatalf("Produce(1) failed: %v", err)
	}
	if out.R[0] != 0 {
		t.Errorf("skipped output sample = %v, want first frame's 0", out.R[0])
	}

	if _, err := s.Produce(ctx, 3); err != nil { // score 10 ⇒ synthesize
		t.Fatalf("Produce(3) failed: %v", err)
	}

	st := s.Stats()
	if st.PassThroughMetric != 1 || st.Synthesized != 1 {
		t.Errorf("stats = %+v, want 1 metric skip and 1 synthesis", st)
	}
}

// --- Test 5: Instance Lifecycle ---

// TestInstanceReference verifies New acquires exactly one GPU instance
// reference, failed construction returns it, and Close releases it once no
// matter how many times it runs.
func TestInstanceReference(t *testing.T) {
	inits, teardowns := 0, 0
	m := framesynth.NewInstanceManager(
		func() error { inits++; return nil },
		func() { teardowns++ },
	)

	cfg := framesynth.DefaultConfig()
	s, err := framesynth.New(cfg, newSource(0, 0.5, 1), midpoint{},
		framesynth.WithInstanceManager(m))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if inits != 1 {
		t.Errorf("init ran %d times, want 1", inits)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_ = s.Close()
	if teardowns != 1 {
		t.Errorf("teardown ran %d times after double Close, want 1", teardowns)
	}

	// A validation failure must return the reference it took.
	bad := framesynth.DefaultConfig()
	bad.Multiplier = 1
	if _, err := framesynth.New(bad, newSource(0, 0.5, 1), midpoint{},
		framesynth.WithInstanceManager(m)); err == nil {
		t.Fatal("invalid config accepted")
	}
	if teardowns != 2 {
		t.Errorf("teardown ran %d times after failed New, want 2", teardowns)
	}
}

// --- Test 6: Device Registry ---

type twoDevices struct{}

func (twoDevices) Count() int            { return 2 }
func (twoDevices) Name(id int) string    { return [...]string{"discrete", "integrated"}[id] }
func (twoDevices) QueueCount(id int) int { return [...]int{8, 1}[id] }
func (twoDevices) Default() int          { return 1 }

func TestDeviceValidationThroughFacade(t *testing.T) {
	src := newSource(0, 0.5, 1)

	// Negative GPU resolves to the registry default; its queue range then
	// bounds the thread count.
	cfg := framesynth.DefaultConfig() // GPU -1, GPUThreads 2
	_, err := framesynth.New(cfg, src, midpoint{}, framesynth.WithDevices(twoDevices{}))
	if err == nil || !strings.Contains(err.Error(), "gpu_thread must be between 1 and 1 (inclusive)") {
		t.Errorf("threads beyond default device's queues: error = %v, want range message", err)
	}

	cfg.GPU, cfg.GPUThreads = 0, 8
	s, err := framesynth.New(cfg, src, midpoint{}, framesynth.WithDevices(twoDevices{}))
	if err != nil {
		t.Fatalf("valid device config rejected: %v", err)
	}
	_ = s.Close()

	cfg.GPU = 5
	if _, err := framesynth.New(cfg, src, midpoint{}, framesynth.WithDevices(twoDevices{})); err == nil ||
		!strings.Contains(err.Error(), "invalid GPU device") {
		t.Errorf("out-of-range device: error = %v, want invalid-device message", err)
	}
}

func TestListDevices(t *testing.T) {
	want := "0: discrete\n1: integrated\n"
	if got := framesynth.ListDevices(twoDevices{}); got != want {
		t.Errorf("ListDevices = %q, want %q", got, want)
	}
}
