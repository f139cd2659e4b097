// Package framesynth performs temporal upsampling of a video stream: given
// a source frame sequence and a rational rate-change factor
// (multiplier/divisor), it produces an output sequence at a higher frame
// rate by synthesizing intermediate frames with an external neural
// interpolation engine.
//
// Philosophy: "Plan everything, fetch once, never block inside compute."
//
// Design:
//   - Pure timeline mapping: every output index resolves deterministically
//     to a source index plus a rational blend fraction
//   - Conditional synthesis: aligned frames, sequence-boundary frames,
//     hard cuts and near-identical pairs all pass the source frame through
//     instead of paying for the engine
//   - Bounded engine admission: a fixed token pool caps concurrent GPU
//     calls; tokens cannot leak across failures and are never held while
//     waiting for frames
//   - Demand-driven production: each output frame declares its fetches up
//     front, suspends until all are ready, then computes without further I/O
//
// Usage:
//
//	cfg := framesynth.DefaultConfig()
//	cfg.Multiplier = 2
//
//	s, err := framesynth.New(cfg, source, engine)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	for n := 0; n < s.Descriptor().NumFrames; n++ {
//	    frame, err := s.Produce(ctx, n)
//	    // ...
//	}
//
// Produce is safe for concurrent use: the host may work on many output
// indices at once, and no ordering between indices is required or assumed.
//
// Public API stability: the types and interfaces re-exported in api.go are
// the stable contract. Internal packages can evolve freely.
package framesynth
