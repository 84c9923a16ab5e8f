// Package eventbus carries committed state changes to observers.
//
// Publishing never blocks and never fails: a subscriber whose buffer is full
// misses the event and the drop is counted.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Kind names the state change an event reports.
type Kind string

const (
	KindAdmission        Kind = "admission"
	KindDischarge        Kind = "discharge"
	KindRoomCall         Kind = "room_call"
	KindRoomRelease      Kind = "room_release"
	KindQueueUpdate      Kind = "queue_update"
	KindCleaningStarted  Kind = "cleaning_started"
	KindUnitReady        Kind = "unit_ready"
	KindSurgeryStarted   Kind = "surgery_started"
	KindSurgeryExtended  Kind = "surgery_extended"
	KindSurgeryCompleted Kind = "surgery_completed"
)

// Event is one committed state change.
type Event struct {
	Kind       Kind           `json:"kind"`
	Category   string         `json:"category,omitempty"`
	UnitID     string         `json:"unit_id,omitempty"`
	EntryID    string         `json:"entry_id,omitempty"`
	State      string         `json:"state,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
	// Origin identifies the process that produced the event.
	Origin string `json:"origin,omitempty"`
}

// Publisher accepts events. Implementations must return promptly.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) { f(ctx, event) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) {})

// Bus is an in-process fan-out to channel subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	dropped atomic.Int64
	logger  zerolog.Logger
	onDrop  func()
}

// NewBus creates an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]chan Event),
		logger: logger,
	}
}

// OnDrop registers a hook invoked for each dropped delivery.
func (b *Bus) OnDrop(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe registers an observer with the given buffer size. The returned
// function unregisters it and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers event to every subscriber without blocking.
func (b *Bus) Publish(_ context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
			b.logger.Warn().Str("kind", string(event.Kind)).Str("unit_id", event.UnitID).Msg("subscriber buffer full, event dropped")
		}
	}
}

// Subscribers returns the number of registered observers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of deliveries skipped because a buffer was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Multi fans an event out to several publishers in order.
func Multi(pubs ...Publisher) Publisher {
	return PublisherFunc(func(ctx context.Context, event Event) {
		for _, p := range pubs {
			p.Publish(ctx, event)
		}
	})
}

// Safe shields the caller from a publisher that panics.
func Safe(p Publisher, logger zerolog.Logger) Publisher {
	return PublisherFunc(func(ctx context.Context, event Event) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Str("kind", string(event.Kind)).Msg("event publisher panicked")
			}
		}()
		p.Publish(ctx, event)
	})
}
