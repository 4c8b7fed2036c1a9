package clock

import "time"

// Stopwatch measures time since its last reset against a TimeSource.
// The zero value is a stopwatch reset at reading zero.
// A Stopwatch is not safe for concurrent use.
type Stopwatch struct {
	t0 time.Duration
}

// NewStopwatch returns a Stopwatch reset against src.
func NewStopwatch(src TimeSource) Stopwatch {
	return Stopwatch{t0: src.Elapsed()}
}

// Reset captures the current reading of src as the new baseline.
func (w *Stopwatch) Reset(src TimeSource) {
	w.t0 = src.Elapsed()
}

// Baseline returns the reading captured at the last reset.
func (w *Stopwatch) Baseline() time.Duration {
	return w.t0
}

// Elapsed returns the time since the last reset, never negative.
func (w *Stopwatch) Elapsed(src TimeSource) time.Duration {
	d := src.Elapsed() - w.t0
	if d < 0 {
		return 0
	}
	return d
}

// Restart returns the elapsed time and resets the stopwatch.
func (w *Stopwatch) Restart(src TimeSource) time.Duration {
	elapsed := w.Elapsed(src)
	w.Reset(src)
	return elapsed
}
