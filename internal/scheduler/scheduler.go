// Package scheduler runs a unit of work at a fixed cadence, sleeping only
// for whatever part of the interval the work did not use.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/mescon/cadence/internal/clock"
)

var (
	// ErrInvalidInterval is returned by New for a non-positive interval.
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")
	// ErrAlreadyStarted is returned when Run is called more than once.
	ErrAlreadyStarted = errors.New("scheduler: already started")
)

// State is the lifecycle position of a Scheduler.
type State int32

const (
	Idle State = iota
	Running
	Working
	Sleeping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Working:
		return "working"
	case Sleeping:
		return "sleeping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Work is invoked once per tick on the scheduler's goroutine.
type Work func()

// Tick describes one completed iteration.
type Tick struct {
	Seq     uint64        // 1-based iteration number
	Start   time.Duration // source reading when the tick started
	Work    time.Duration // time spent in the work callback
	Slept   time.Duration // compensating sleep, zero on overrun
	Overrun bool          // work took at least the whole interval
}

// Period is the start-to-start length of the tick.
func (t Tick) Period() time.Duration {
	return t.Work + t.Slept
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSleeper replaces the blocking wait between ticks.
func WithSleeper(sl clock.Sleeper) Option {
	return func(s *Scheduler) {
		s.sleeper = sl
	}
}

// WithObserver registers a function called on the scheduler's goroutine
// after every tick, once its sleep has completed.
func WithObserver(fn func(Tick)) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

type sleepFunc func(time.Duration)

func (f sleepFunc) Sleep(d time.Duration) { f(d) }

// Scheduler drives Work at a fixed interval. Cadence is measured from the
// start of each tick: an overrun lengthens that one period and is never
// made up later.
//
// Only Stop, State, Ticks and Overruns may be called from other goroutines.
type Scheduler struct {
	interval  time.Duration
	source    clock.TimeSource
	sleeper   clock.Sleeper
	observer  func(Tick)
	stopwatch clock.Stopwatch

	running  *atomic.Bool
	state    *atomic.Int32
	ticks    *atomic.Uint64
	overruns *atomic.Uint64
}

// New creates a Scheduler ticking every interval against source.
// Unless WithSleeper is given, the source is used for sleeping when it
// implements clock.Sleeper, and time.Sleep otherwise.
func New(interval time.Duration, source clock.TimeSource, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidInterval, interval)
	}

	s := &Scheduler{
		interval: interval,
		source:   source,
		running:  atomic.NewBool(true),
		state:    atomic.NewInt32(int32(Idle)),
		ticks:    atomic.NewUint64(0),
		overruns: atomic.NewUint64(0),
	}
	if sl, ok := source.(clock.Sleeper); ok {
		s.sleeper = sl
	} else {
		s.sleeper = sleepFunc(time.Sleep)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Interval returns the configured cadence.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Ticks returns the number of completed iterations.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

// Overruns returns the number of iterations whose work used the whole interval.
func (s *Scheduler) Overruns() uint64 {
	return s.overruns.Load()
}

// Stop asks the loop to finish. It never blocks and may be called any
// number of times from any goroutine, including before Run. The loop
// notices at the top of its next iteration, so the current tick, sleep
// included, always completes.
func (s *Scheduler) Stop() {
	s.running.Store(false)
}

// Run executes work every interval on the calling goroutine until Stop is
// called. It returns ErrAlreadyStarted if the scheduler has run before.
func (s *Scheduler) Run(work Work) error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return ErrAlreadyStarted
	}
	defer s.state.Store(int32(Stopped))

	for s.running.Load() {
		s.tick(work)
	}
	return nil
}

// RunContext is Run with ctx cancellation mapped onto Stop. The context is
// not awaited during a tick: cancellation takes effect at the next
// iteration boundary like any other Stop.
func (s *Scheduler) RunContext(ctx context.Context, work Work) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-done:
		}
	}()

	return s.Run(work)
}

func (s *Scheduler) tick(work Work) {
	s.state.Store(int32(Working))
	s.stopwatch.Reset(s.source)
	start := s.stopwatch.Baseline()

	work()

	t := Tick{
		Seq:   s.ticks.Load() + 1,
		Start: start,
		Work:  s.stopwatch.Elapsed(s.source),
	}
	if t.Work < s.interval {
		t.Slept = s.interval - t.Work
		s.state.Store(int32(Sleeping))
		s.sleeper.Sleep(t.Slept)
	} else {
		t.Overrun = true
		s.overruns.Inc()
	}

	s.ticks.Inc()
	s.state.Store(int32(Running))

	if s.observer != nil {
		s.observer(t)
	}
}
