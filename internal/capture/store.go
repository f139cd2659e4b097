package capture

import (
	"fmt"
	"sync"

	"github.com/visiona/framesynth/internal/frame"
	"github.com/visiona/framesynth/internal/sched"
	"github.com/visiona/framesynth/internal/timeline"
)

// Store is an in-memory random-access frame sequence. It implements the
// scheduler's Source contract: Fetch returns immediately with a pending
// result that is already satisfied, which makes the request phase of the
// production protocol effectively free for offline input.
//
// Frames follow the package-level immutability contract: once the decode
// finishes, the store is read-only and safe for any number of concurrent
// Fetch calls.
type Store struct {
	mu     sync.Mutex
	frames []*frame.Frame
	fps    timeline.Rational
}

// append is only called from the decode callback, before the store is
// handed to the scheduler.
func (s *Store) append(f *frame.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

// NumFrames returns the decoded sequence length.
func (s *Store) NumFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Fetch satisfies the demand-driven fetch protocol with an immediately
// resolved pending result.
func (s *Store) Fetch(index int) <-chan sched.FetchResult {
	ch := make(chan sched.FetchResult, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.frames) {
		ch <- sched.FetchResult{Err: fmt.Errorf("capture: frame index %d out of range [0, %d)", index, len(s.frames))}
		return ch
	}
	ch <- sched.FetchResult{Frame: s.frames[index]}
	return ch
}

// FPS reports the source frame rate when the decode config carried one.
func (s *Store) FPS() (num, den int64) {
	return s.fps.Num, s.fps.Den
}
