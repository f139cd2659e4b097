// framesynthd is the offline temporal upsampling daemon: it decodes a clip,
// runs the interpolation scheduler over every output index with a bounded
// worker pool, writes the finished frames as PNGs, and optionally publishes
// scheduler stats over MQTT while it works.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/visiona/framesynth"
	"github.com/visiona/framesynth/internal/capture"
	"github.com/visiona/framesynth/internal/emitter"
	"github.com/visiona/framesynth/internal/timeline"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "config/framesynthd.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("framesynthd %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if err := run(*configPath); err != nil {
		slog.Error("framesynthd failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting framesynthd",
		"config", configPath,
		"input", cfg.Input.Location,
		"multiplier", cfg.Rate.Multiplier,
		"divisor", cfg.Rate.Divisor,
		"workers", cfg.Workers,
	)

	// Decode the whole clip up front: the scheduler needs random access.
	store, err := capture.Decode(ctx, capture.Config{
		Location: cfg.Input.Location,
		Width:    cfg.Input.Width,
		Height:   cfg.Input.Height,
		FPS:      timeline.Rational{Num: cfg.Input.FPSNum, Den: cfg.Input.FPSDen},
	})
	if err != nil {
		return err
	}

	// External engine process.
	eng := framesynth.NewSubprocessEngine(framesynth.SubprocessEngineConfig{
		Command:    cfg.Engine.Command,
		ModelPath:  cfg.Engine.ModelPath,
		GPU:        cfg.Engine.GPU,
		GPUThreads: cfg.Engine.GPUThreads,
		TTA:        cfg.Engine.TTA,
		UHD:        cfg.Engine.UHD,
	})
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Close()

	opts := []framesynth.Option{}
	if cfg.Skip.Skip {
		opts = append(opts, framesynth.WithMetricSource(newPSNRMetric(store)))
	}

	synth, err := framesynth.New(cfg.FilterConfig(), store, eng, opts...)
	if err != nil {
		return err
	}
	defer synth.Close()

	desc := synth.Descriptor()
	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	// Optional stats telemetry.
	var done atomic.Uint64
	if cfg.MQTT.Broker != "" {
		em := emitter.New(emitter.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		})
		if err := em.Connect(); err != nil {
			// Telemetry is best-effort; the upsampling run matters more.
			slog.Warn("stats emitter unavailable", "error", err)
		} else {
			defer em.Close()
			ticker := time.NewTicker(time.Duration(cfg.MQTT.IntervalS) * time.Second)
			defer ticker.Stop()
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						progress := float64(done.Load()) / float64(desc.NumFrames)
						if err := em.Publish(synth.Stats(), progress); err != nil {
							slog.Debug("stats publish failed", "error", err)
						}
					}
				}
			}()
		}
	}

	// Produce all output indices with a bounded worker pool. Indices
	// complete out of order; the filename carries the ordering.
	indices := make(chan int)
	var wg sync.WaitGroup
	var failures atomic.Uint64

	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range indices {
				f, err := synth.Produce(ctx, n)
				if err != nil {
					failures.Add(1)
					slog.Error("frame production failed", "output_index", n, "error", err)
					continue
				}
				if err := writePNG(cfg.Output.Dir, n, f); err != nil {
					failures.Add(1)
					slog.Error("frame write failed", "output_index", n, "error", err)
					continue
				}
				done.Add(1)
			}
		}()
	}

	start := time.Now()
feed:
	for n := 0; n < desc.NumFrames; n++ {
		select {
		case indices <- n:
		case <-ctx.Done():
			slog.Warn("shutdown requested, draining workers")
			break feed
		}
	}
	close(indices)
	wg.Wait()

	stats := synth.Stats()
	slog.Info("upsampling complete",
		"output_frames", desc.NumFrames,
		"written", done.Load(),
		"failures", failures.Load(),
		"synthesized", stats.Synthesized,
		"passthrough_aligned", stats.PassThroughAligned,
		"passthrough_boundary", stats.PassThroughBoundary,
		"passthrough_scene_change", stats.PassThroughSceneChange,
		"passthrough_metric", stats.PassThroughMetric,
		"max_concurrent_blends", stats.MaxConcurrentBlends,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if failures.Load() > 0 {
		return fmt.Errorf("%d of %d output frames failed", failures.Load(), desc.NumFrames)
	}
	return nil
}

// writePNG converts a planar float frame to 8-bit RGBA and writes it under
// a zero-padded frame number.
func writePNG(dir string, n int, f *framesynth.Frame) error {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i := 0; i < f.Width*f.Height; i++ {
		img.Pix[4*i] = clamp8(f.R[i])
		img.Pix[4*i+1] = clamp8(f.G[i])
		img.Pix[4*i+2] = clamp8(f.B[i])
		img.Pix[4*i+3] = 0xff
	}

	path := filepath.Join(dir, fmt.Sprintf("frame_%08d.png", n))
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return png.Encode(file, img)
}

func clamp8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}
