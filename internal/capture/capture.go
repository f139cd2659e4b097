// Package capture decodes a video file into an in-memory, random-access
// frame store via GStreamer.
//
// The interpolation scheduler consumes frames through a demand-driven,
// random-access protocol, while GStreamer delivers them as a push stream.
// This package bridges the two: it runs a decode pipeline to completion,
// converts each interleaved RGB sample into the planar float layout the
// engine expects, and serves the result as a Source.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/visiona/framesynth/internal/frame"
	"github.com/visiona/framesynth/internal/timeline"
)

// Config describes the decode pipeline.
type Config struct {
	// Location is the input file path.
	Location string

	// Width and Height are the target decode dimensions; the pipeline
	// scales to them.
	Width  int
	Height int

	// FPS is the source frame rate as an exact rational. When non-zero,
	// every captured frame carries a Duration of FPS.Den/FPS.Num and the
	// store reports the rate to the output descriptor.
	FPS timeline.Rational
}

// Decode runs the pipeline to EOS and returns the populated store.
//
// Pipeline structure:
//
//	filesrc → decodebin → videoconvert → videoscale →
//	capsfilter(RGB,WxH) → appsink
//
// decodebin has dynamic pads, linked in the pad-added callback. The whole
// sequence is held in memory: this is an offline tool, and the scheduler
// needs random access to arbitrary source indices.
func Decode(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Location == "" {
		return nil, fmt.Errorf("capture: input location is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("capture: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}

	// Safe to call multiple times.
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create pipeline: %w", err)
	}

	filesrc, err := gst.NewElement("filesrc")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create filesrc: %w", err)
	}
	filesrc.SetProperty("location", cfg.Location)

	decodebin, err := gst.NewElement("decodebin")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create decodebin: %w", err)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0) // auto-detect cores

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", cfg.Width, cfg.Height)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("capture: failed to create appsink: %w", err)
	}
	// Offline decode: never drop, let the sink apply backpressure instead.
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 4)
	appsink.SetProperty("drop", false)

	pipeline.AddMany(filesrc, decodebin, converter, scaler, capsfilter, appsink.Element)

	if err := filesrc.Link(decodebin); err != nil {
		return nil, fmt.Errorf("capture: failed to link filesrc to decodebin: %w", err)
	}
	if err := gst.ElementLinkMany(converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("capture: failed to link pipeline elements: %w", err)
	}

	// decodebin pads appear once the demuxer has sniffed the container.
	decodebin.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := converter.GetStaticPad("sink")
		if sinkPad == nil {
			slog.Error("capture: failed to get sink pad from videoconvert")
			return
		}
		if sinkPad.IsLinked() {
			// Secondary stream (audio, subtitles); ignore.
			return
		}
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			slog.Error("capture: failed to link decodebin pad",
				"pad", srcPad.GetName(),
				"ret", ret,
			)
		}
	})

	store := &Store{fps: cfg.FPS}
	var duration *timeline.Rational
	if cfg.FPS.Num > 0 && cfg.FPS.Den > 0 {
		duration = &timeline.Rational{Num: cfg.FPS.Den, Den: cfg.FPS.Num}
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return store.onNewSample(sink, cfg.Width, cfg.Height, duration)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("capture: failed to start pipeline: %w", err)
	}
	defer pipeline.SetState(gst.StateNull)

	// Drain the bus until EOS. Poll with a short timeout so cancellation
	// stays responsive.
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("capture: cancelled: %w", ctx.Err())
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			n := store.NumFrames()
			slog.Info("capture: decode complete",
				"location", cfg.Location,
				"frames", n,
				"resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
			)
			if n == 0 {
				return nil, fmt.Errorf("capture: no video frames decoded from %s", cfg.Location)
			}
			return store, nil
		case gst.MessageError:
			gerr := msg.ParseError()
			return nil, fmt.Errorf("capture: pipeline error: %s", gerr.Error())
		}
	}
}

// onNewSample converts one interleaved RGB sample into a planar float frame
// and appends it to the store.
func (s *Store) onNewSample(sink *app.Sink, width, height int, duration *timeline.Rational) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("capture: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("capture: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) < width*height*3 {
		buffer.Unmap()
		slog.Warn("capture: short buffer received",
			"got_bytes", len(data),
			"want_bytes", width*height*3,
		)
		return gst.FlowOK
	}

	f := frame.New(width, height)
	for i := 0; i < width*height; i++ {
		f.R[i] = float32(data[3*i]) / 255
		f.G[i] = float32(data[3*i+1]) / 255
		f.B[i] = float32(data[3*i+2]) / 255
	}
	buffer.Unmap()

	f.TraceID = uuid.New().String()
	if duration != nil {
		d := *duration
		f.Duration = &d
	}

	s.append(f)
	return gst.FlowOK
}
