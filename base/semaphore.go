package base

import (
	"sync"
	"time"
)

// ByteSemaphore bounds a resource counted in bytes rather than fixed-size
// tokens: callers acquire and release variable-sized chunks, which a plain
// counting channel semaphore cannot do atomically. It is the admission
// control primitive behind the oplog buffer's byte cap.
type ByteSemaphore struct {
	mu    sync.Mutex
	cond  *sync.Cond
	limit int64
	used  int64
}

func NewByteSemaphore(limit int64) *ByteSemaphore {
	if limit <= 0 {
		limit = 1
	}
	s := &ByteSemaphore{limit: limit}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until n bytes are available or d elapses, returning false on
// timeout. d <= 0 means block indefinitely.
// A single acquisition may exceed the limit (e.g. one oversized document);
// it is admitted once the budget is completely drained rather than blocked
// forever.
func (s *ByteSemaphore) Acquire(n int64, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d <= 0 {
		for s.used > 0 && s.used+n > s.limit {
			s.cond.Wait()
		}
		s.used += n
		return true
	}

	deadline := time.Now().Add(d)
	for s.used > 0 && s.used+n > s.limit {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		s.waitWithTimeout(remaining)
	}
	s.used += n
	return true
}

// TryAcquire admits n bytes only if they fit within the budget right now,
// returning false instead of waiting. Used by callers that must never block
// the calling goroutine, such as the run thread delivering an oplog batch.
func (s *ByteSemaphore) TryAcquire(n int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used > 0 && s.used+n > s.limit {
		return false
	}
	s.used += n
	return true
}

// Force adds n bytes to the used count unconditionally, without checking the
// limit. Used to restore accounting for bytes that were already admitted
// once and only briefly left the budget (a requeued batch), not for new
// admission, so it must never be gated by the limit the way Acquire is.
func (s *ByteSemaphore) Force(n int64) {
	s.mu.Lock()
	s.used += n
	s.mu.Unlock()
}

// waitWithTimeout blocks on the condition variable until either a Release
// broadcasts or remaining elapses. Must be called with s.mu held; the
// caller's loop re-checks the admission condition on return either way.
func (s *ByteSemaphore) waitWithTimeout(remaining time.Duration) {
	timer := time.AfterFunc(remaining, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()
	s.cond.Wait()
}

func (s *ByteSemaphore) Release(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used -= n
	if s.used < 0 {
		s.used = 0
	}
	s.cond.Broadcast()
}

func (s *ByteSemaphore) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *ByteSemaphore) Limit() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

func (s *ByteSemaphore) SetLimit(limit int64) {
	if limit <= 0 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
	s.cond.Broadcast()
}
