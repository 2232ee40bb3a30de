package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/perchlabs/perch/pkg/logger"
)

// EventHandler consumes one classified inbound event.
type EventHandler func(ctx context.Context, ev InboundEvent)

// EventBus routes classified platform events to registered handlers.
// Dispatch is keyed by the closed EventKind set; each handler runs on its
// own goroutine so a slow or failing subscriber never blocks the stream
// read loop or its sibling subscribers.
type EventBus struct {
	handlers  map[EventKind][]EventHandler
	all       []EventHandler
	closed    bool
	published atomic.Uint64
	dropped   atomic.Uint64
	mu        sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventKind][]EventHandler),
	}
}

// Subscribe registers handler for a single event kind. Multiple handlers
// per kind are allowed and are all invoked for each event.
func (b *EventBus) Subscribe(kind EventKind, handler EventHandler) error {
	if !ValidKind(kind) {
		return fmt.Errorf("subscribe: unknown event kind %q", kind)
	}
	if handler == nil {
		return fmt.Errorf("subscribe: nil handler for kind %q", kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
	return nil
}

// SubscribeAll registers handler for every event kind.
func (b *EventBus) SubscribeAll(handler EventHandler) error {
	if handler == nil {
		return fmt.Errorf("subscribe all: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
	return nil
}

// Publish delivers ev to every subscriber registered for its kind.
// Events with no subscriber are counted as dropped. Publish never blocks
// on handler execution.
func (b *EventBus) Publish(ctx context.Context, ev InboundEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	targets := make([]EventHandler, 0, len(b.handlers[ev.Kind])+len(b.all))
	targets = append(targets, b.handlers[ev.Kind]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	if len(targets) == 0 {
		b.dropped.Add(1)
		return
	}

	b.published.Add(1)
	for _, handler := range targets {
		h := handler
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorCF("bus", "Event handler panicked", map[string]any{
						"kind":     string(ev.Kind),
						"event_id": ev.ID,
						"panic":    fmt.Sprintf("%v", r),
					})
				}
			}()
			h(ctx, ev)
		}()
	}
}

// Close makes further publishes no-ops. Handlers already dispatched
// continue to run.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *EventBus) Published() uint64 { return b.published.Load() }
func (b *EventBus) Dropped() uint64   { return b.dropped.Load() }
