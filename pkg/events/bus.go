package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gookitEvent "github.com/gookit/event"
	applogger "github.com/vpanel/core/pkg/logger"
)

// gookitEventBus implements EventBus using gookit/event as the underlying implementation
type gookitEventBus struct {
	manager     *gookitEvent.Manager
	logger      *applogger.Logger
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	closed      bool
}

// NewBus creates a new in-process event bus backed by gookit/event
func NewBus(logger *applogger.Logger) EventBus {
	return &gookitEventBus{
		manager:     gookitEvent.NewManager("vpanel"),
		logger:      logger.WithComponent("events.bus"),
		subscribers: make(map[string][]EventHandler),
	}
}

// Publish publishes an event to the bus
func (b *gookitEventBus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("event bus is closed")
	}
	b.mu.RUnlock()

	b.logger.DebugContext(ctx, "publishing event",
		slog.String("type", event.Type()),
		slog.String("id", event.ID()))

	err, _ := b.manager.Fire(event.Type(), gookitEvent.M{"payload": event})
	if err != nil {
		b.logger.ErrorCtx(ctx, "failed to publish event", err,
			slog.String("type", event.Type()),
			slog.String("id", event.ID()))
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Subscribe registers a handler for events of a specific type
func (b *gookitEventBus) Subscribe(eventType string, handler EventHandler) (UnsubscribeFunc, error) {
	return b.SubscribeWithPriority(eventType, handler, PriorityNormal)
}

// SubscribeWithPriority registers a handler with a specific priority
func (b *gookitEventBus) SubscribeWithPriority(eventType string, handler EventHandler, priority Priority) (UnsubscribeFunc, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	gookitPriority := gookitEvent.Normal
	switch priority {
	case PriorityHigh:
		gookitPriority = gookitEvent.High
	case PriorityLow:
		gookitPriority = gookitEvent.Low
	}

	listener := gookitEvent.ListenerFunc(func(e gookitEvent.Event) error {
		if payload, ok := e.Get("payload").(Event); ok {
			return handler(context.Background(), payload)
		}
		return fmt.Errorf("invalid event payload type: %T", e.Get("payload"))
	})

	b.manager.On(eventType, listener, gookitPriority)
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)

	b.logger.Debug("subscribed to event type",
		slog.String("type", eventType),
		slog.Int("priority", int(priority)))

	unsubscribeFn := func() error {
		return b.unsubscribe(eventType, handler, listener)
	}

	return unsubscribeFn, nil
}

// unsubscribe detaches the listener from the manager and removes the
// handler from the bookkeeping map
func (b *gookitEventBus) unsubscribe(eventType string, handler EventHandler, listener gookitEvent.ListenerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, exists := b.subscribers[eventType]
	if !exists {
		return fmt.Errorf("no handlers found for event type: %s", eventType)
	}

	b.manager.RemoveListener(eventType, listener)

	for i, h := range handlers {
		if fmt.Sprintf("%p", h) == fmt.Sprintf("%p", handler) {
			b.subscribers[eventType] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}

	if len(b.subscribers[eventType]) == 0 {
		delete(b.subscribers, eventType)
	}

	return nil
}

// Close gracefully shuts down the event bus
func (b *gookitEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.subscribers = make(map[string][]EventHandler)
	b.manager.Clear()
	b.closed = true

	return nil
}
