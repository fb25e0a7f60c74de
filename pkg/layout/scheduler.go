package layout

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Scheduler serializes layout passes. A request arriving while a pass
// is running never starts a second pass; it marks the running pass
// dirty so exactly one follow-up pass executes once the current one
// completes. Any number of requests during a pass coalesce into that
// single rerun, which breaks the feedback loop between node size
// changes and relayout.
type Scheduler struct {
	mu      sync.Mutex
	running bool
	pending bool
	passes  int64
	run     func()
}

func NewScheduler(run func()) *Scheduler {
	return &Scheduler{run: run}
}

// Request executes the pass on the calling goroutine. When another pass
// is already in flight the request is recorded and Request returns
// immediately; the in-flight caller reruns the pass once.
func (s *Scheduler) Request() {
	s.mu.Lock()
	if s.running {
		s.pending = true
		s.mu.Unlock()
		log.Trace().Msg("layout pass in progress, coalescing request")
		return
	}
	s.running = true
	s.mu.Unlock()

	for {
		atomic.AddInt64(&s.passes, 1)
		s.run()

		s.mu.Lock()
		if !s.pending {
			s.running = false
			s.mu.Unlock()
			return
		}
		s.pending = false
		s.mu.Unlock()
	}
}

// Passes reports how many passes have executed.
func (s *Scheduler) Passes() int64 {
	return atomic.LoadInt64(&s.passes)
}

// Running reports whether a pass is executing right now.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
