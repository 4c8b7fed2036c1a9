// Package clock provides the time abstractions the sampler is built on.
// Production code uses System, tests can inject Fake for deterministic behavior.
package clock

import (
	"sync"
	"time"
)

// TimeSource reports monotonic elapsed time since its own reference point.
// Readings are only meaningful relative to each other.
type TimeSource interface {
	// Elapsed returns the time since the source was created.
	// It never returns a negative duration.
	Elapsed() time.Duration
}

// Sleeper blocks the calling goroutine for a duration.
type Sleeper interface {
	Sleep(d time.Duration)
}

// now is replaced in tests to simulate a misbehaving clock.
var now = time.Now

// System implements TimeSource using the monotonic reading carried by time.Time.
type System struct {
	start time.Time
}

// NewSystem creates a System anchored at the current instant.
func NewSystem() *System {
	return &System{start: now()}
}

// Elapsed implements TimeSource. A reading that would be negative
// degrades to zero.
func (s *System) Elapsed() time.Duration {
	d := now().Sub(s.start)
	if d < 0 {
		return 0
	}
	return d
}

// Sleep implements Sleeper using time.Sleep.
func (s *System) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}

// Fake is a TimeSource that only moves when told to.
// Sleep advances the fake time instead of blocking.
type Fake struct {
	mu      sync.Mutex
	elapsed time.Duration
}

// NewFake creates a Fake reading zero.
func NewFake() *Fake {
	return &Fake{}
}

// Elapsed implements TimeSource.
func (f *Fake) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elapsed
}

// Advance moves the fake time forward. Negative values are ignored so the
// reading stays non-decreasing.
func (f *Fake) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.elapsed += d
	f.mu.Unlock()
}

// Set jumps the fake time to an absolute reading. Negative readings are
// clamped to zero. Set may move time backwards, which is how tests
// exercise the clamping in Stopwatch and Hourglass.
func (f *Fake) Set(d time.Duration) {
	if d < 0 {
		d = 0
	}
	f.mu.Lock()
	f.elapsed = d
	f.mu.Unlock()
}

// Sleep implements Sleeper by advancing the fake time.
func (f *Fake) Sleep(d time.Duration) {
	f.Advance(d)
}
