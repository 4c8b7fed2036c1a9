package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/cadence/internal/clock"
	"github.com/mescon/cadence/internal/config"
	"github.com/mescon/cadence/internal/domain"
	"github.com/mescon/cadence/internal/sampler"
	"github.com/mescon/cadence/internal/scheduler"
	"github.com/mescon/cadence/internal/testutil"
)

// =============================================================================
// Test helpers
// =============================================================================

type harness struct {
	clock *clock.Fake
	probe *testutil.MockProbe
	bus   *testutil.MockEventBus
	out   *testutil.RecordingWriter
	svc   *SamplingService
}

func newHarness(t *testing.T, cfg SamplingConfig) *harness {
	t.Helper()
	h := &harness{
		clock: clock.NewFake(),
		bus:   testutil.NewMockEventBus(),
		out:   &testutil.RecordingWriter{},
	}
	h.probe = &testutil.MockProbe{
		Clock:   h.clock,
		Samples: []sampler.Sample{testutil.NewSample(0.25)},
	}
	svc, err := NewSamplingService(cfg, h.probe, h.clock, h.bus, h.out)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		h.svc.Stop()
		t.Fatal("Run did not return")
	}
}

// =============================================================================
// Construction tests
// =============================================================================

func TestNewSamplingService_InvalidInterval(t *testing.T) {
	_, err := NewSamplingService(SamplingConfig{}, &testutil.MockProbe{}, clock.NewFake(), nil, &testutil.RecordingWriter{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, scheduler.ErrInvalidInterval))
}

func TestNewSamplingService_UnknownFormat(t *testing.T) {
	_, err := NewSamplingService(SamplingConfig{Interval: time.Second, Format: "xml"},
		&testutil.MockProbe{}, clock.NewFake(), nil, &testutil.RecordingWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown report format")
}

func TestNewSamplingService_NegativeBudget(t *testing.T) {
	_, err := NewSamplingService(SamplingConfig{Interval: time.Second, RunFor: -time.Second},
		&testutil.MockProbe{}, clock.NewFake(), nil, &testutil.RecordingWriter{})
	assert.Error(t, err)
}

func TestSamplingService_StatusBeforeRun(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second, RunFor: time.Minute})

	st := h.svc.Status()
	assert.Equal(t, h.svc.RunID(), st.RunID)
	assert.Equal(t, "idle", st.State)
	assert.Zero(t, st.ElapsedSecs)
	assert.Nil(t, st.BudgetLeftSecs, "budget starts with the run")

	_, ok := h.svc.Latest()
	assert.False(t, ok)
}

// =============================================================================
// Run budget tests
// =============================================================================

func TestSamplingService_RunBudgetStopsLoop(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second, RunFor: 3 * time.Second})
	h.probe.Work = 100 * time.Millisecond

	h.run(t)

	// Ticks start at 0s, 1s and 2s; the budget is spent when the third sleep ends.
	assert.Equal(t, 3, h.probe.CallCount("Sample"))
	lines := h.out.Lines()
	require.Len(t, lines, 3)
	for i, prefix := range []string{"0s: cpu 25.0%", "1s: cpu 25.0%", "2s: cpu 25.0%"} {
		assert.True(t, strings.HasPrefix(lines[i], prefix), "line %d = %q", i, lines[i])
	}

	assert.Equal(t, 1, h.bus.EventCount(domain.BudgetExhausted))
	assert.Equal(t, 3*time.Second, h.clock.Elapsed(), "the run ends exactly at the budget")

	st := h.svc.Status()
	assert.Equal(t, "stopped", st.State)
	assert.Equal(t, uint64(3), st.Ticks)
	assert.Equal(t, uint64(3), st.Samples)
	assert.InDelta(t, 3.0, st.ElapsedSecs, 1e-9)
	require.NotNil(t, st.BudgetLeftSecs)
	assert.Zero(t, *st.BudgetLeftSecs)
}

func TestSamplingService_RunBudgetNotMultipleOfInterval(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second, RunFor: 2500 * time.Millisecond})

	h.run(t)

	// The tick starting at 2s is still inside the budget; its sleep overshoots it.
	assert.Equal(t, 3, h.probe.CallCount("Sample"))
	assert.Equal(t, 3*time.Second, h.clock.Elapsed())
}

func TestSamplingService_EventSequence(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second, RunFor: 2 * time.Second})

	h.run(t)

	assert.Equal(t, []domain.EventType{
		domain.RunStarted,
		domain.SampleCollected,
		domain.TickCompleted,
		domain.SampleCollected,
		domain.TickCompleted,
		domain.BudgetExhausted,
		domain.RunStopped,
	}, h.bus.EventTypes())

	for _, e := range h.bus.GetAllEvents() {
		assert.Equal(t, h.svc.RunID(), e.RunID)
	}

	started := h.bus.GetEvents(domain.RunStarted)[0]
	assert.Equal(t, 1.0, started.GetFloat64Or("interval_seconds", 0))

	stopped := h.bus.LastEvent()
	assert.Equal(t, int64(2), stopped.GetInt64Or("ticks", 0))
}

// =============================================================================
// Drift and overrun tests
// =============================================================================

func TestSamplingService_OverrunPublishesEvent(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: 100 * time.Millisecond, RunFor: 250 * time.Millisecond})
	h.probe.WorkFunc = func(call int) time.Duration {
		if call == 2 {
			return 150 * time.Millisecond
		}
		return 30 * time.Millisecond
	}

	h.run(t)

	ticks := h.bus.GetEvents(domain.TickCompleted)
	require.Len(t, ticks, 2)

	first, ok := ticks[0].ParseTickEventData()
	require.True(t, ok)
	assert.InDelta(t, 0.03, first.WorkSeconds, 1e-9)
	assert.InDelta(t, 0.07, first.SleptSeconds, 1e-9)
	assert.False(t, first.Overrun)

	overruns := h.bus.GetEvents(domain.TickOverrun)
	require.Len(t, overruns, 1)
	data, ok := overruns[0].ParseTickEventData()
	require.True(t, ok)
	assert.Equal(t, int64(2), data.Seq)
	assert.Zero(t, data.SleptSeconds, "no compensating sleep after an overrun")

	assert.Equal(t, uint64(1), h.svc.Status().Overruns)
}

func TestSamplingService_ReportElapsedFollowsCadence(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: 500 * time.Millisecond, RunFor: 1500 * time.Millisecond})
	h.probe.Work = 200 * time.Millisecond

	h.run(t)

	lines := h.out.Lines()
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "0s: "))
	assert.True(t, strings.HasPrefix(lines[1], "500ms: "))
	assert.True(t, strings.HasPrefix(lines[2], "1s: "))
}

// =============================================================================
// Failure handling tests
// =============================================================================

func TestSamplingService_ProbeErrorStillReports(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second, RunFor: 3 * time.Second})
	h.probe.Errors = []error{nil, errors.New("failed to read meminfo: boom")}

	h.run(t)

	lines := h.out.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "1s: sample failed: failed to read meminfo: boom", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "2s: cpu"))

	failed := h.bus.GetEvents(domain.SampleFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "failed to read meminfo: boom", failed[0].GetStringOr("error", ""))

	st := h.svc.Status()
	assert.Equal(t, uint64(2), st.Samples)
	assert.Equal(t, uint64(1), st.Failures)
	assert.Equal(t, uint64(3), st.Ticks)
}

func TestSamplingService_LatestSkipsFailures(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second, RunFor: 2 * time.Second})
	h.probe.Samples = []sampler.Sample{testutil.NewSample(0.1)}
	h.probe.Errors = []error{nil, errors.New("boom")}

	h.run(t)

	latest, ok := h.svc.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), latest.Seq)
	require.NotNil(t, latest.Sample)
	assert.InDelta(t, 0.1, latest.Sample.CPU.Load, 1e-9)
	assert.Empty(t, latest.Error)
}

func TestSamplingService_PublishErrorDoesNotStopRun(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second, RunFor: 2 * time.Second})
	h.bus.PublishErr = errors.New("bus down")

	h.run(t)

	assert.Len(t, h.out.Lines(), 2)
}

// =============================================================================
// Summary tests
// =============================================================================

func TestSamplingService_PeriodicSummary(t *testing.T) {
	h := newHarness(t, SamplingConfig{
		Interval:     time.Second,
		RunFor:       5 * time.Second,
		SummaryEvery: 2 * time.Second,
	})
	h.probe.Samples = []sampler.Sample{
		testutil.NewSample(0.2),
		testutil.NewSample(0.4),
		testutil.NewSample(0.6),
		testutil.NewSample(0.1),
		testutil.NewSample(0.3),
	}

	h.run(t)

	summaries := h.bus.GetEvents(domain.SummaryReported)
	require.Len(t, summaries, 2)

	// First window closes at 2s and holds the samples taken at 0s, 1s and 2s.
	assert.Equal(t, int64(3), summaries[0].GetInt64Or("samples", 0))
	assert.InDelta(t, 0.4, summaries[0].GetFloat64Or("cpu_load_avg", 0), 1e-9)
	assert.InDelta(t, 0.6, summaries[0].GetFloat64Or("cpu_load_peak", 0), 1e-9)
	assert.InDelta(t, 2.0, summaries[0].GetFloat64Or("window_seconds", 0), 1e-9)

	// Second window closes at 4s with the samples from 3s and 4s.
	assert.Equal(t, int64(2), summaries[1].GetInt64Or("samples", 0))
	assert.InDelta(t, 0.2, summaries[1].GetFloat64Or("cpu_load_avg", 0), 1e-9)
	assert.InDelta(t, 0.3, summaries[1].GetFloat64Or("cpu_load_peak", 0), 1e-9)
}

func TestSamplingService_SummaryDisabled(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second, RunFor: 3 * time.Second})

	h.run(t)

	assert.Zero(t, h.bus.EventCount(domain.SummaryReported))
}

// =============================================================================
// Stop / cancellation tests
// =============================================================================

func TestSamplingService_StopDuringWork(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second})
	h.probe.OnSample = func(call int) {
		if call == 2 {
			h.svc.Stop()
		}
	}

	h.run(t)

	assert.Equal(t, 2, h.probe.CallCount("Sample"))
	assert.Len(t, h.out.Lines(), 2, "the interrupted tick still reports")
	assert.Equal(t, 1, h.bus.EventCount(domain.RunStopped))
}

func TestSamplingService_ContextCancel(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.probe.OnSample = func(call int) {
		if call == 3 {
			cancel()
		}
	}

	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.GreaterOrEqual(t, h.probe.CallCount("Sample"), 3)
}

func TestSamplingService_RunTwice(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second, RunFor: time.Second})
	h.run(t)

	err := h.svc.Run(context.Background())
	assert.True(t, errors.Is(err, scheduler.ErrAlreadyStarted))
}

func TestSamplingService_NilEventBus(t *testing.T) {
	fake := clock.NewFake()
	out := &testutil.RecordingWriter{}
	svc, err := NewSamplingService(SamplingConfig{Interval: time.Second, RunFor: 2 * time.Second},
		&testutil.MockProbe{Clock: fake}, fake, nil, out)
	require.NoError(t, err)

	require.NoError(t, svc.Run(context.Background()))
	assert.Len(t, out.Lines(), 2)
}

// =============================================================================
// Report format tests
// =============================================================================

func TestSamplingService_JSONReports(t *testing.T) {
	h := newHarness(t, SamplingConfig{Interval: time.Second, RunFor: 2 * time.Second, Format: config.FormatJSON})
	h.probe.Errors = []error{nil, errors.New("boom")}

	h.run(t)

	lines := h.out.Lines()
	require.Len(t, lines, 2)

	var ok Report
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
	assert.Equal(t, h.svc.RunID(), ok.RunID)
	assert.Equal(t, uint64(1), ok.Seq)
	require.NotNil(t, ok.Sample)
	assert.InDelta(t, 0.25, ok.Sample.CPU.Load, 1e-9)

	var failed Report
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failed))
	assert.Equal(t, 1.0, failed.ElapsedSeconds)
	assert.Nil(t, failed.Sample)
	assert.Equal(t, "boom", failed.Error)
}
