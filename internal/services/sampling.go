package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/mescon/cadence/internal/clock"
	"github.com/mescon/cadence/internal/domain"
	"github.com/mescon/cadence/internal/eventbus"
	"github.com/mescon/cadence/internal/logger"
	"github.com/mescon/cadence/internal/sampler"
	"github.com/mescon/cadence/internal/scheduler"
)

// Probe produces one snapshot per call.
type Probe interface {
	Sample() (sampler.Sample, error)
}

// SamplingConfig is the subset of configuration the sampling service uses.
type SamplingConfig struct {
	Interval     time.Duration
	RunFor       time.Duration // 0 runs until stopped
	SummaryEvery time.Duration // 0 disables summaries
	Format       string
}

// Status is a point-in-time view of a run, safe to serve over HTTP.
type Status struct {
	RunID          string   `json:"run_id"`
	State          string   `json:"state"`
	IntervalSecs   float64  `json:"interval_seconds"`
	ElapsedSecs    float64  `json:"elapsed_seconds"`
	BudgetLeftSecs *float64 `json:"budget_left_seconds,omitempty"`
	Ticks          uint64   `json:"ticks"`
	Overruns       uint64   `json:"overruns"`
	Samples        uint64   `json:"samples"`
	Failures       uint64   `json:"failures"`
}

// summaryWindow accumulates samples between two summary flips.
type summaryWindow struct {
	samples  int
	failures int
	loadSum  float64
	loadPeak float64
}

// SamplingService samples the host once per interval, writes a report line
// for every tick and publishes what happened on the event bus.
type SamplingService struct {
	cfg      SamplingConfig
	probe    Probe
	source   clock.TimeSource
	eventBus eventbus.Publisher
	out      reporter
	runID    string
	sched    *scheduler.Scheduler

	// Owned by the scheduler goroutine.
	summary      *clock.Hourglass
	summaryWatch clock.Stopwatch
	window       summaryWindow

	mu       sync.RWMutex
	runWatch clock.Stopwatch
	budget   *clock.Hourglass
	started  bool
	latest   *Report

	samples  *atomic.Uint64
	failures *atomic.Uint64
}

// NewSamplingService wires a probe to a scheduler. Reports go to out in
// cfg.Format; events go to eb.
func NewSamplingService(cfg SamplingConfig, probe Probe, source clock.TimeSource, eb eventbus.Publisher, out io.Writer) (*SamplingService, error) {
	if cfg.RunFor < 0 || cfg.SummaryEvery < 0 {
		return nil, fmt.Errorf("run budget and summary period must not be negative")
	}
	rep, err := newReporter(cfg.Format, out)
	if err != nil {
		return nil, err
	}

	s := &SamplingService{
		cfg:      cfg,
		probe:    probe,
		source:   source,
		eventBus: eb,
		out:      rep,
		runID:    uuid.New().String(),
		samples:  atomic.NewUint64(0),
		failures: atomic.NewUint64(0),
	}

	s.sched, err = scheduler.New(cfg.Interval, source, scheduler.WithObserver(s.observe))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return s, nil
}

// RunID identifies this service's run in events and status.
func (s *SamplingService) RunID() string {
	return s.runID
}

// Run samples until ctx is cancelled, Stop is called or the run budget is
// used up. It blocks on the calling goroutine.
func (s *SamplingService) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return scheduler.ErrAlreadyStarted
	}
	s.started = true
	s.runWatch = clock.NewStopwatch(s.source)
	if s.cfg.RunFor > 0 {
		s.budget = clock.NewHourglass(s.cfg.RunFor, s.source)
	}
	s.mu.Unlock()

	if s.cfg.SummaryEvery > 0 {
		s.summary = clock.NewHourglass(s.cfg.SummaryEvery, s.source)
		s.summaryWatch = clock.NewStopwatch(s.source)
	}

	logger.Infof("Sampling started (run %s, interval %s, run for %s, summary every %s)",
		s.runID, s.cfg.Interval, durationOrNone(s.cfg.RunFor), durationOrNone(s.cfg.SummaryEvery))
	s.publish(domain.RunStarted, map[string]interface{}{
		"interval_seconds":      s.cfg.Interval.Seconds(),
		"run_for_seconds":       s.cfg.RunFor.Seconds(),
		"summary_every_seconds": s.cfg.SummaryEvery.Seconds(),
		"format":                s.cfg.Format,
	})

	err := s.sched.RunContext(ctx, s.tick)

	st := s.Status()
	logger.Infof("Sampling stopped after %s (%d ticks, %d overruns, %d samples, %d failures)",
		s.elapsed().Round(time.Millisecond), st.Ticks, st.Overruns, st.Samples, st.Failures)
	s.publish(domain.RunStopped, map[string]interface{}{
		"elapsed_seconds": st.ElapsedSecs,
		"ticks":           st.Ticks,
		"overruns":        st.Overruns,
		"samples":         st.Samples,
		"failures":        st.Failures,
	})
	return err
}

// Stop asks the run to end after the current tick. Safe from any goroutine.
func (s *SamplingService) Stop() {
	s.sched.Stop()
}

// Status reports progress so far.
func (s *SamplingService) Status() Status {
	st := Status{
		RunID:        s.runID,
		State:        s.sched.State().String(),
		IntervalSecs: s.cfg.Interval.Seconds(),
		Ticks:        s.sched.Ticks(),
		Overruns:     s.sched.Overruns(),
		Samples:      s.samples.Load(),
		Failures:     s.failures.Load(),
	}

	st.ElapsedSecs = s.elapsed().Seconds()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.budget != nil {
		left := s.budget.Left(s.source).Seconds()
		st.BudgetLeftSecs = &left
	}
	return st
}

// Latest returns the most recent successful report.
func (s *SamplingService) Latest() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Report{}, false
	}
	return *s.latest, true
}

// elapsed is the time since Run started, zero before that.
func (s *SamplingService) elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return 0
	}
	return s.runWatch.Elapsed(s.source)
}

// tick is the scheduler's unit of work.
func (s *SamplingService) tick() {
	elapsed := s.elapsed()

	report := Report{
		RunID:          s.runID,
		Seq:            s.sched.Ticks() + 1,
		Elapsed:        elapsed,
		ElapsedSeconds: elapsed.Seconds(),
	}

	sample, err := s.probe.Sample()
	if err != nil {
		s.failures.Inc()
		s.window.failures++
		report.Error = err.Error()
		logger.Warnf("Sampling: tick %d failed: %v", report.Seq, err)
		s.publish(domain.SampleFailed, map[string]interface{}{
			"seq":             report.Seq,
			"elapsed_seconds": elapsed.Seconds(),
			"error":           err.Error(),
		})
	} else {
		s.samples.Inc()
		s.window.samples++
		s.window.loadSum += sample.CPU.Load
		s.window.loadPeak = math.Max(s.window.loadPeak, sample.CPU.Load)
		report.Sample = &sample

		s.mu.Lock()
		latest := report
		s.latest = &latest
		s.mu.Unlock()

		s.publish(domain.SampleCollected, domain.SampleEventData{
			ElapsedSeconds: elapsed.Seconds(),
			CPULoad:        sample.CPU.Load,
			CPUSys:         sample.CPU.Sys,
			CPUIdle:        sample.CPU.Idle,
			MemUsed:        sample.Mem.Used,
			MemFree:        sample.Mem.Free,
			NetUp:          sample.Net.Up,
			NetDown:        sample.Net.Down,
		}.Map())
	}

	if err := s.out.Write(report); err != nil {
		logger.Errorf("Sampling: failed to write report: %v", err)
	}

	s.maybeSummarize()
}

// maybeSummarize logs a summary whenever the summary hourglass runs out.
// Flipping carries any overshoot into the next window.
func (s *SamplingService) maybeSummarize() {
	if s.summary == nil || !s.summary.FlipIfExpired(s.source) {
		return
	}
	span := s.summaryWatch.Restart(s.source)
	w := s.window
	s.window = summaryWindow{}

	var avg float64
	if w.samples > 0 {
		avg = w.loadSum / float64(w.samples)
	}
	logger.Infof("Summary: %d samples in %s, cpu avg %.1f%% peak %.1f%%, %d failures",
		w.samples, span.Round(time.Millisecond), avg*100, w.loadPeak*100, w.failures)
	s.publish(domain.SummaryReported, map[string]interface{}{
		"window_seconds": span.Seconds(),
		"samples":        w.samples,
		"failures":       w.failures,
		"cpu_load_avg":   avg,
		"cpu_load_peak":  w.loadPeak,
	})
}

// checkBudget stops the scheduler once the run budget is used up. It runs
// after a tick's sleep, so no tick starts at or past the budget.
func (s *SamplingService) checkBudget() {
	s.mu.RLock()
	budget := s.budget
	s.mu.RUnlock()
	if budget == nil || !budget.IsExpired(s.source) {
		return
	}
	logger.Infof("Sampling: run budget of %s used up, stopping", budget.Capacity())
	s.publish(domain.BudgetExhausted, map[string]interface{}{
		"run_for_seconds": budget.Capacity().Seconds(),
	})
	s.sched.Stop()
}

// observe runs after every tick, once its sleep has completed.
func (s *SamplingService) observe(t scheduler.Tick) {
	data := domain.TickEventData{
		Seq:          int64(t.Seq),
		WorkSeconds:  t.Work.Seconds(),
		SleptSeconds: t.Slept.Seconds(),
		Overrun:      t.Overrun,
	}
	s.publish(domain.TickCompleted, data.Map())
	if t.Overrun {
		logger.Warnf("Sampling: tick %d took %s, longer than the %s interval", t.Seq, t.Work, s.cfg.Interval)
		s.publish(domain.TickOverrun, data.Map())
	}
	s.checkBudget()
}

func (s *SamplingService) publish(eventType domain.EventType, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	err := s.eventBus.Publish(domain.Event{
		RunID:     s.runID,
		EventType: eventType,
		EventData: data,
	})
	if err != nil && !errors.Is(err, eventbus.ErrClosed) {
		logger.Errorf("Sampling: failed to publish %s: %v", eventType, err)
	}
}

func durationOrNone(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.String()
}
