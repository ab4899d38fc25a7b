package mesh

import "sync"

// Scheduler moves work on and off the event loop.
type Scheduler interface {
	// Go runs op off the loop. The continuation op returns, if any, is then
	// posted to the loop.
	Go(op func() func())
	// Post queues fn to run on the loop. Posted functions run in order.
	Post(fn func())
}

// loopScheduler is the production Scheduler: an unbounded FIFO drained by
// the session loop. Post never blocks, so transport callbacks can post while
// the loop is busy closing that same transport.
type loopScheduler struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
}

func newLoopScheduler() *loopScheduler {
	return &loopScheduler{wake: make(chan struct{}, 1)}
}

func (s *loopScheduler) Go(op func() func()) {
	go func() {
		if next := op(); next != nil {
			s.Post(next)
		}
	}()
}

func (s *loopScheduler) Post(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *loopScheduler) drain() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}

func (s *loopScheduler) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}
