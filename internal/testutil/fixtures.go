package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/mescon/cadence/internal/domain"
	"github.com/mescon/cadence/internal/sampler"
)

// NewSample builds a two-core sample with the given aggregate load.
func NewSample(load float64) sampler.Sample {
	cpu := sampler.CPU{Load: load, Sys: load / 4, Idle: 1 - load}
	return sampler.Sample{
		CPU:  cpu,
		CPUs: []sampler.CPU{cpu, cpu},
		Mem:  sampler.Mem{Used: 8 << 20, Free: 4 << 20},
		Net:  sampler.Net{Up: 1024, Down: 2048},
		NICs: []sampler.NIC{{Name: "eth0", Net: sampler.Net{Up: 1024, Down: 2048}}},
	}
}

// EventOption is a functional option for configuring test events.
type EventOption func(*domain.Event)

// WithRunID sets a specific run ID.
func WithRunID(id string) EventOption {
	return func(e *domain.Event) {
		e.RunID = id
	}
}

// WithCreatedAt sets the event creation time.
func WithCreatedAt(t time.Time) EventOption {
	return func(e *domain.Event) {
		e.CreatedAt = t
	}
}

// WithEventData merges additional data into EventData.
func WithEventData(data map[string]interface{}) EventOption {
	return func(e *domain.Event) {
		if e.EventData == nil {
			e.EventData = make(map[string]interface{})
		}
		for k, v := range data {
			e.EventData[k] = v
		}
	}
}

func newEvent(eventType domain.EventType, data map[string]interface{}, opts []EventOption) domain.Event {
	e := domain.Event{
		RunID:     uuid.New().String(),
		EventType: eventType,
		EventData: data,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// NewSampleCollectedEvent creates a SampleCollected event for s.
func NewSampleCollectedEvent(s sampler.Sample, elapsed time.Duration, opts ...EventOption) domain.Event {
	data := domain.SampleEventData{
		ElapsedSeconds: elapsed.Seconds(),
		CPULoad:        s.CPU.Load,
		CPUSys:         s.CPU.Sys,
		CPUIdle:        s.CPU.Idle,
		MemUsed:        s.Mem.Used,
		MemFree:        s.Mem.Free,
		NetUp:          s.Net.Up,
		NetDown:        s.Net.Down,
	}
	return newEvent(domain.SampleCollected, data.Map(), opts)
}

// NewTickEvent creates a TickCompleted event, or TickOverrun when overrun is set.
func NewTickEvent(seq int64, work, slept time.Duration, overrun bool, opts ...EventOption) domain.Event {
	eventType := domain.TickCompleted
	if overrun {
		eventType = domain.TickOverrun
	}
	data := domain.TickEventData{
		Seq:          seq,
		WorkSeconds:  work.Seconds(),
		SleptSeconds: slept.Seconds(),
		Overrun:      overrun,
	}
	return newEvent(eventType, data.Map(), opts)
}
