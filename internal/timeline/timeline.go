// Package timeline implements the pure arithmetic core of temporal
// upsampling: mapping output frame indices onto the source timeline and
// rescaling rational timing metadata by the same rate-change ratio.
//
// Everything here is pure and total over the validated domain. Overflow
// safety is a construction-time precondition (see Ratio.Validate and
// OutputCount): once a ratio/source-length pair is accepted, every Map call
// for indices below the output count fits comfortably in 64-bit
// intermediates.
package timeline

import "fmt"

// Ratio is the rational rate-change factor. Output rate = input rate ×
// Multiplier / Divisor.
type Ratio struct {
	// Multiplier is the frame-count multiplier (≥ 2).
	Multiplier int
	// Divisor is the frame-count divisor (≥ 1).
	Divisor int
}

// Validate checks the ratio bounds. The messages mirror the configuration
// surface: they are returned to the caller verbatim.
func (r Ratio) Validate() error {
	if r.Multiplier < 2 {
		return fmt.Errorf("multiplier must be greater than 1")
	}
	if r.Divisor < 1 {
		return fmt.Errorf("divisor must be greater than 0")
	}
	return nil
}

// Map resolves an output frame index to its source frame index and blend
// numerator.
//
// Contract:
//   - sourceIndex = floor(n × divisor / multiplier)
//   - blendNum    = (n × divisor) mod multiplier
//
// The blend fraction is blendNum/multiplier, a rational in [0, 1).
// blendNum == 0 means the output frame coincides with a source frame and
// needs no synthesis. Intermediates are 64-bit so the mapping never
// overflows for any index admitted by OutputCount.
func (r Ratio) Map(outputIndex int) (sourceIndex, blendNum int) {
	prod := int64(outputIndex) * int64(r.Divisor)
	return int(prod / int64(r.Multiplier)), int(prod % int64(r.Multiplier))
}

// OutputCount computes the total output frame count for a source sequence:
// floor(sourceFrames × multiplier / divisor).
//
// Returns an error when the source is too short to interpolate (< 2 frames)
// or so long that the output count would overflow a signed 32-bit range.
// This is the single overflow guard for the whole timeline; Map relies on it.
func (r Ratio) OutputCount(sourceFrames int) (int, error) {
	if sourceFrames < 2 {
		return 0, fmt.Errorf("clip's number of frames must be at least 2")
	}
	if sourceFrames/r.Divisor > int(int32(1<<31-1))/r.Multiplier {
		return 0, fmt.Errorf("resulting clip is too long")
	}
	return int(int64(sourceFrames) * int64(r.Multiplier) / int64(r.Divisor)), nil
}

// Rational is an exact num/den integer pair used for per-frame durations and
// frame rates. Denominator is always kept positive.
type Rational struct {
	Num int64
	Den int64
}

// MulDiv multiplies a rational by mul/div and reduces the result to lowest
// terms. The arithmetic is exact: no float is involved at any point.
func (q Rational) MulDiv(mul, div int64) Rational {
	num := q.Num * mul
	den := q.Den * div
	g := gcd(num, den)
	if g > 1 {
		num /= g
		den /= g
	}
	if den < 0 {
		num, den = -num, -den
	}
	return Rational{Num: num, Den: den}
}

// RescaleDuration applies the rate change to a per-frame duration. More
// output frames in the same wall-clock span means each frame covers
// proportionally less time, so the duration scales by divisor/multiplier —
// the inverse of the frame-count rescale.
func (r Ratio) RescaleDuration(d Rational) Rational {
	return d.MulDiv(int64(r.Divisor), int64(r.Multiplier))
}

// RescaleFPS applies the rate change to a frame rate: multiplier/divisor,
// the same direction as the frame-count rescale.
func (r Ratio) RescaleFPS(fps Rational) Rational {
	return fps.MulDiv(int64(r.Multiplier), int64(r.Divisor))
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
