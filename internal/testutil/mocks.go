// Package testutil provides test utilities including mocks and fixtures.
package testutil

import (
	"bufio"
	"bytes"
	"strings"
	"sync"
	"time"

	"github.com/mescon/cadence/internal/clock"
	"github.com/mescon/cadence/internal/domain"
	"github.com/mescon/cadence/internal/eventbus"
	"github.com/mescon/cadence/internal/sampler"
)

// =============================================================================
// MockProbe - Mock for the sampling service's probe
// =============================================================================

// MockProbe returns canned samples and errors in call order. When Clock is
// set, every call advances it by Work to simulate the time a real read takes.
type MockProbe struct {
	mu sync.Mutex

	Samples []sampler.Sample // returned in order, the last one repeats
	Errors  []error          // per call; nil entries and calls past the end succeed

	Clock *clock.Fake
	Work  time.Duration
	// WorkFunc, if set, overrides Work for the given 1-based call number.
	WorkFunc func(call int) time.Duration

	// OnSample runs after each call, on the caller's goroutine.
	OnSample func(call int)

	Calls []MockCall
}

// MockCall records a single method call for verification.
type MockCall struct {
	Method string
	Args   []interface{}
}

func (m *MockProbe) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// CallCount returns the number of times a method was called.
func (m *MockProbe) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.Calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Sample implements the probe contract.
func (m *MockProbe) Sample() (sampler.Sample, error) {
	m.recordCall("Sample")
	call := m.CallCount("Sample")

	if m.Clock != nil {
		work := m.Work
		if m.WorkFunc != nil {
			work = m.WorkFunc(call)
		}
		m.Clock.Advance(work)
	}
	if m.OnSample != nil {
		defer m.OnSample(call)
	}

	if call <= len(m.Errors) && m.Errors[call-1] != nil {
		return sampler.Sample{}, m.Errors[call-1]
	}
	switch {
	case len(m.Samples) == 0:
		return sampler.Sample{}, nil
	case call <= len(m.Samples):
		return m.Samples[call-1], nil
	default:
		return m.Samples[len(m.Samples)-1], nil
	}
}

// =============================================================================
// RecordingWriter - captures report output
// =============================================================================

// RecordingWriter is a concurrency-safe io.Writer that keeps everything written.
type RecordingWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *RecordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

// String returns everything written so far.
func (w *RecordingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// Lines returns the written output split into lines, without terminators.
func (w *RecordingWriter) Lines() []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(w.String()))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

// =============================================================================
// MockEventBus - synchronous Publisher
// =============================================================================

// MockEventBus provides a simple in-memory event bus for testing.
// It captures all published events and allows synchronous subscription.
// Implements eventbus.Publisher interface.
type MockEventBus struct {
	mu              sync.Mutex
	PublishedEvents []domain.Event
	Subscribers     map[domain.EventType][]func(domain.Event)

	// PublishErr, if set, is returned from every Publish after recording.
	PublishErr error
}

// Compile-time assertion that MockEventBus implements eventbus.Publisher
var _ eventbus.Publisher = (*MockEventBus)(nil)

// NewMockEventBus creates a new mock event bus.
func NewMockEventBus() *MockEventBus {
	return &MockEventBus{
		Subscribers: make(map[domain.EventType][]func(domain.Event)),
	}
}

// Publish stores the event and notifies subscribers synchronously.
func (m *MockEventBus) Publish(event domain.Event) error {
	m.mu.Lock()
	event.ID = int64(len(m.PublishedEvents) + 1)
	m.PublishedEvents = append(m.PublishedEvents, event)
	subscribers := m.Subscribers[event.EventType]
	err := m.PublishErr
	m.mu.Unlock()

	for _, handler := range subscribers {
		handler(event)
	}
	return err
}

// Subscribe registers a handler for the given event type.
func (m *MockEventBus) Subscribe(eventType domain.EventType, handler func(domain.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscribers[eventType] = append(m.Subscribers[eventType], handler)
}

// GetEvents returns all published events of a given type.
func (m *MockEventBus) GetEvents(eventType domain.EventType) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Event
	for _, e := range m.PublishedEvents {
		if e.EventType == eventType {
			result = append(result, e)
		}
	}
	return result
}

// GetAllEvents returns all published events.
func (m *MockEventBus) GetAllEvents() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.Event, len(m.PublishedEvents))
	copy(result, m.PublishedEvents)
	return result
}

// EventTypes returns the types of all published events in order.
func (m *MockEventBus) EventTypes() []domain.EventType {
	events := m.GetAllEvents()
	types := make([]domain.EventType, len(events))
	for i, e := range events {
		types[i] = e.EventType
	}
	return types
}

// EventCount returns the number of events of a given type.
func (m *MockEventBus) EventCount(eventType domain.EventType) int {
	return len(m.GetEvents(eventType))
}

// LastEvent returns the most recently published event, or nil if none.
func (m *MockEventBus) LastEvent() *domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.PublishedEvents) == 0 {
		return nil
	}
	e := m.PublishedEvents[len(m.PublishedEvents)-1]
	return &e
}
