// Package frame defines the planar float RGB frame exchanged between the
// scheduler, the frame sources and the interpolation engine.
//
// IMMUTABILITY CONTRACT:
//   - Sources MUST NOT modify plane data after handing a frame out
//   - The scheduler and the engine treat source planes as read-only
//   - Pass-through frames share plane slices with their source frame
//     (zero-copy); only the metadata is fresh
//
// Enforcement is documentation-based, matching the rest of the pipeline:
// runtime copying would defeat the zero-copy pass-through path.
package frame

import (
	"encoding/binary"
	"math"

	"github.com/visiona/framesynth/internal/timeline"
)

// Frame is a full-resolution planar float32 RGB frame plus the timing and
// decision metadata the scheduler reads and writes.
type Frame struct {
	// Width and Height in pixels.
	Width  int
	Height int

	// R, G, B are the planar float32 channels, Width×Height samples each,
	// row-major. Shared by reference on pass-through (see package doc).
	R, G, B []float32

	// Duration is the per-frame duration as an exact rational, or nil when
	// the source carries no timing metadata. The scheduler rescales it by
	// the rate-change ratio; it never fabricates a duration that was absent.
	Duration *timeline.Rational

	// SceneChange marks a frame that begins a new scene: there is a hard cut
	// between the previous source frame and this one. Read from the second
	// frame of a candidate pair to suppress blending across the cut.
	SceneChange bool

	// TraceID is a unique identifier for distributed tracing. Assigned by
	// whatever produced the frame (capture, scheduler, engine adapter).
	TraceID string
}

// New allocates a zeroed frame of the given dimensions.
func New(width, height int) *Frame {
	n := width * height
	return &Frame{
		Width:  width,
		Height: height,
		R:      make([]float32, n),
		G:      make([]float32, n),
		B:      make([]float32, n),
	}
}

// PassThrough returns a duplicate of f that shares the plane data but owns
// fresh metadata. This is the zero-copy emit path for output frames that
// coincide with (or fall back to) an existing source frame.
func (f *Frame) PassThrough() *Frame {
	dup := &Frame{
		Width:       f.Width,
		Height:      f.Height,
		R:           f.R,
		G:           f.G,
		B:           f.B,
		SceneChange: f.SceneChange,
	}
	if f.Duration != nil {
		d := *f.Duration
		dup.Duration = &d
	}
	return dup
}

// PlaneBytes serializes a float32 plane to little-endian bytes for the
// engine wire format.
func PlaneBytes(plane []float32) []byte {
	out := make([]byte, 4*len(plane))
	for i, v := range plane {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// PlaneFromBytes deserializes a little-endian byte plane produced by
// PlaneBytes (or by the engine on the far side of the pipe).
func PlaneFromBytes(data []byte) []float32 {
	plane := make([]float32, len(data)/4)
	for i := range plane {
		plane[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return plane
}
