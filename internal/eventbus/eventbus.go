package eventbus

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/mescon/cadence/internal/domain"
	"github.com/mescon/cadence/internal/logger"
)

// ErrClosed is returned by Publish after Shutdown.
var ErrClosed = errors.New("eventbus: closed")

// subscriberBuffer is the number of events a slow subscriber may lag behind
// before further events are dropped for it.
const subscriberBuffer = 100

// Publisher defines the interface for publishing events.
// This interface enables testing with mock implementations.
type Publisher interface {
	Publish(event domain.Event) error
	Subscribe(eventType domain.EventType, handler func(domain.Event))
}

// Ensure EventBus implements Publisher
var _ Publisher = (*EventBus)(nil)

// EventBus fans events out to in-memory subscribers. Publishing never
// blocks the caller: a subscriber whose buffer is full misses the event.
type EventBus struct {
	subscribers map[domain.EventType][]chan domain.Event
	mu          sync.RWMutex
	stopChan    chan struct{}
	wg          sync.WaitGroup

	seq     *atomic.Int64
	dropped *atomic.Uint64
	closed  *atomic.Bool
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[domain.EventType][]chan domain.Event),
		stopChan:    make(chan struct{}),
		seq:         atomic.NewInt64(0),
		dropped:     atomic.NewUint64(0),
		closed:      atomic.NewBool(false),
	}
}

func (eb *EventBus) Publish(event domain.Event) error {
	if eb.closed.Load() {
		return ErrClosed
	}

	event.ID = eb.seq.Inc()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	logger.Debugf("EventBus: Publishing event %s (ID: %d, RunID: %s)", event.EventType, event.ID, event.RunID)

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[event.EventType] {
		select {
		case ch <- event:
		default:
			eb.dropped.Inc()
		}
	}

	return nil
}

func (eb *EventBus) Subscribe(eventType domain.EventType, handler func(domain.Event)) {
	ch := make(chan domain.Event, subscriberBuffer)

	eb.mu.Lock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	eb.mu.Unlock()

	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		for {
			select {
			case event := <-ch:
				handler(event)
			case <-eb.stopChan:
				eb.drain(ch, handler)
				return
			}
		}
	}()
}

// drain delivers whatever is still buffered for one subscriber.
func (eb *EventBus) drain(ch chan domain.Event, handler func(domain.Event)) {
	for {
		select {
		case event := <-ch:
			handler(event)
		default:
			return
		}
	}
}

// Published returns the number of events accepted so far.
func (eb *EventBus) Published() int64 {
	return eb.seq.Load()
}

// Dropped returns how many deliveries were skipped because a subscriber
// buffer was full.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

// Shutdown delivers events already buffered, then stops all subscriber
// goroutines and waits for them to finish.
// Calling it more than once is a no-op.
func (eb *EventBus) Shutdown() {
	if !eb.closed.CompareAndSwap(false, true) {
		return
	}
	close(eb.stopChan)
	eb.wg.Wait()
	logger.Infof("EventBus shutdown complete (%d published, %d dropped)", eb.Published(), eb.Dropped())
}
