package clock

import (
	"fmt"
	"time"
)

// Hourglass is a renewable timeout budget.
//
// Capacity is the full budget fixed at construction. Timeout is the target
// of the current window, measured from the last flip or renewal. Flipping
// before the sand has run out carries the unused budget over: the next
// window is shortened by what was left, so repeated flips stay locked to
// the original phase. Flipping an expired hourglass starts a full window.
//
// An Hourglass is not safe for concurrent use.
type Hourglass struct {
	stopwatch Stopwatch
	capacity  time.Duration
	timeout   time.Duration
}

// NewHourglass creates an Hourglass holding capacity and starts it.
// It panics if capacity is negative.
func NewHourglass(capacity time.Duration, src TimeSource) *Hourglass {
	if capacity < 0 {
		panic("clock: negative hourglass capacity")
	}
	return &Hourglass{
		stopwatch: NewStopwatch(src),
		capacity:  capacity,
		timeout:   capacity,
	}
}

// Capacity returns the full budget.
func (h *Hourglass) Capacity() time.Duration {
	return h.capacity
}

// Timeout returns the target of the current window.
func (h *Hourglass) Timeout() time.Duration {
	return h.timeout
}

// Renew restores a full window and restarts it.
func (h *Hourglass) Renew(src TimeSource) {
	h.timeout = h.capacity
	h.stopwatch.Reset(src)
}

// Flip starts the next window and returns the budget that was left in the
// current one. The next window lasts capacity minus that remainder.
func (h *Hourglass) Flip(src TimeSource) time.Duration {
	left := h.Left(src)
	h.timeout = h.capacity - left
	if h.timeout < 0 {
		// Only reachable after Delay pushed the window past capacity.
		h.timeout = 0
	}
	h.stopwatch.Reset(src)
	return left
}

// Delay extends the current window without restarting it.
// Capacity is unchanged. Negative values are ignored.
func (h *Hourglass) Delay(extra time.Duration) {
	if extra <= 0 {
		return
	}
	h.timeout += extra
}

// Elapsed returns the time spent in the current window.
func (h *Hourglass) Elapsed(src TimeSource) time.Duration {
	return h.stopwatch.Elapsed(src)
}

// Left returns the budget remaining in the current window, never negative.
func (h *Hourglass) Left(src TimeSource) time.Duration {
	left := h.timeout - h.stopwatch.Elapsed(src)
	if left < 0 {
		return 0
	}
	return left
}

// IsExpired reports whether the current window has run out.
func (h *Hourglass) IsExpired(src TimeSource) bool {
	return h.Left(src) == 0
}

// FlipIfExpired flips the hourglass if it has run out and reports whether
// it did. An unexpired hourglass is left untouched.
func (h *Hourglass) FlipIfExpired(src TimeSource) bool {
	if !h.IsExpired(src) {
		return false
	}
	h.Flip(src)
	return true
}

// String renders "(timeout, capacity)" in seconds.
func (h *Hourglass) String() string {
	return fmt.Sprintf("(%g, %g)", h.timeout.Seconds(), h.capacity.Seconds())
}
