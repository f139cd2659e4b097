package main

import (
	"math"

	"github.com/visiona/framesynth"
)

// psnrMetric is a host-side similarity provider: the score for index i is
// the luma PSNR between source frames i and i+1, capped at 60 dB. Identical
// frames therefore score exactly 60, which is also the upper bound of the
// configurable skip threshold.
type psnrMetric struct {
	source framesynth.Source
}

func newPSNRMetric(source framesynth.Source) *psnrMetric {
	return &psnrMetric{source: source}
}

// Fetch computes the score from the two already-decoded source frames. The
// work happens synchronously before the pending result is handed back; for
// an in-memory store that is a pure CPU pass with no I/O.
func (m *psnrMetric) Fetch(index int) <-chan framesynth.ScoreResult {
	ch := make(chan framesynth.ScoreResult, 1)

	resA := <-m.source.Fetch(index)
	if resA.Err != nil {
		ch <- framesynth.ScoreResult{Err: resA.Err}
		return ch
	}
	resB := <-m.source.Fetch(index + 1)
	if resB.Err != nil {
		ch <- framesynth.ScoreResult{Err: resB.Err}
		return ch
	}

	ch <- framesynth.ScoreResult{Score: lumaPSNR(resA.Frame, resB.Frame)}
	return ch
}

// lumaPSNR computes PSNR over the BT.709 luma of two frames, capped at 60.
func lumaPSNR(a, b *framesynth.Frame) float64 {
	n := a.Width * a.Height
	var mse float64
	for i := 0; i < n; i++ {
		ya := 0.2126*float64(a.R[i]) + 0.7152*float64(a.G[i]) + 0.0722*float64(a.B[i])
		yb := 0.2126*float64(b.R[i]) + 0.7152*float64(b.G[i]) + 0.0722*float64(b.B[i])
		d := ya - yb
		mse += d * d
	}
	mse /= float64(n)
	if mse == 0 {
		return 60.0
	}
	psnr := 10 * math.Log10(1/mse)
	if psnr > 60 {
		return 60.0
	}
	return psnr
}
