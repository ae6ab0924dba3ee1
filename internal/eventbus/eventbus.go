// Package eventbus implements the subscribe(event_kind, handler) API
// (spec.md §4.10 "Events"), adapted from the teacher's AsyncEmitter:
// buffered, non-blocking publish with drop-and-log on backpressure, and
// drain-on-stop for a clean shutdown.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind enumerates the event kinds a core operation can publish
// (spec.md §4.10).
type Kind string

const (
	RuleEnabled     Kind = "RuleEnabled"
	RuleDisabled    Kind = "RuleDisabled"
	BackendSwitched Kind = "BackendSwitched"
	SyncCompleted   Kind = "SyncCompleted"
	MigrationDone   Kind = "MigrationDone"
	ValidationRunCompleted Kind = "ValidationRunCompleted"
)

// Event is the payload delivered to a subscriber.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Data      map[string]any
}

// Handler receives events of the kind(s) it subscribed to. Handlers run
// on the bus's single dispatch goroutine and must not block for long.
type Handler func(Event)

const defaultBufferSize = 256

// Bus is a non-blocking, buffered, in-process publish/subscribe bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	buffer   chan Event
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	log      *slog.Logger
}

// New creates a Bus and starts its dispatch goroutine.
func New(log *slog.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		handlers: make(map[Kind][]Handler),
		buffer:   make(chan Event, defaultBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

func (b *Bus) loop() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.buffer:
			b.dispatch(ev)
		case <-b.ctx.Done():
			b.drain()
			return
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.Kind]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (b *Bus) drain() {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-b.buffer:
			b.dispatch(ev)
		case <-deadline:
			if remaining := len(b.buffer); remaining > 0 {
				b.log.Warn("eventbus: dropped events at shutdown", "count", remaining)
			}
			return
		default:
			return
		}
	}
}

// Subscribe registers handler for the given event kind (spec.md §4.10
// "subscribe(event_kind, handler)").
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Publish queues an event for asynchronous delivery. Non-blocking: if the
// buffer is full, the event is dropped and logged rather than stalling
// the caller's write path.
func (b *Bus) Publish(kind Kind, data map[string]any) {
	ev := Event{Kind: kind, Timestamp: time.Now().UTC(), Data: data}
	select {
	case b.buffer <- ev:
	default:
		b.log.Warn("eventbus: buffer full, dropping event", "kind", kind)
	}
}

// Stop drains the buffer and stops the dispatch goroutine.
func (b *Bus) Stop() {
	b.cancel()
	b.wg.Wait()
}
