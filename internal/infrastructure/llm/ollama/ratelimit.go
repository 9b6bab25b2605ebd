package ollama

import (
	"fmt"
	"sync"
	"time"
)

// SlidingWindowLimiter admits at most limit calls in any trailing window. It never queues:
// a call over the ceiling is rejected immediately.
type SlidingWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	calls []time.Time
}

func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		calls:  make([]time.Time, 0, max(limit, 0)),
	}
}

func (l *SlidingWindowLimiter) Allow() error {
	if l.limit <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	keep := 0
	for keep < len(l.calls) && !l.calls[keep].After(cutoff) {
		keep++
	}
	l.calls = l.calls[keep:]

	if len(l.calls) >= l.limit {
		retryIn := l.calls[0].Add(l.window).Sub(now)
		return fmt.Errorf("%d calls per %s exceeded, retry in %s", l.limit, l.window, retryIn.Round(time.Second))
	}
	l.calls = append(l.calls, now)
	return nil
}

// InWindow reports how many admitted calls are still inside the window.
func (l *SlidingWindowLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	n := 0
	for _, t := range l.calls {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
