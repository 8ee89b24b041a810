// Package events provides the in-process event bus used to decouple the
// provisioning pipeline and the subscription lifecycle from their observers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the contract every published event satisfies
type Event interface {
	// Type returns the event type identifier (e.g., "deploy.completed")
	Type() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// Metadata returns additional context-specific data
	Metadata() map[string]any
	// ID returns a unique identifier for this event
	ID() string
}

// EventHandler processes events of a specific type
type EventHandler func(ctx context.Context, event Event) error

// UnsubscribeFunc removes a previously registered handler
type UnsubscribeFunc func() error

// Priority defines event handler execution priority
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// EventBus provides a generic interface for publishing and subscribing to events
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for events of a specific type.
	// Returns an unsubscribe function.
	Subscribe(eventType string, handler EventHandler) (UnsubscribeFunc, error)

	// SubscribeWithPriority registers a handler with a specific priority.
	// Higher priority handlers are called first.
	SubscribeWithPriority(eventType string, handler EventHandler, priority Priority) (UnsubscribeFunc, error)

	// Close gracefully shuts down the event bus
	Close() error
}

// Deployment lifecycle events
const (
	EventDeployRequested = "deploy.requested"
	EventDeployProgress  = "deploy.progress"
	EventDeployCompleted = "deploy.completed"
	EventDeployFailed    = "deploy.failed"
)

// Subscription lifecycle events
const (
	EventSubscriptionExpiring      = "subscription.expiring"
	EventSubscriptionExpired       = "subscription.expired"
	EventSubscriptionRenewed       = "subscription.renewed"
	EventSubscriptionRenewalFailed = "subscription.renewal_failed"
)

// BaseEvent provides a common implementation of the Event interface
type BaseEvent struct {
	id        string
	eventType string
	timestamp time.Time
	metadata  map[string]any
}

// NewBaseEvent creates a new base event
func NewBaseEvent(eventType string, metadata map[string]any) *BaseEvent {
	return &BaseEvent{
		id:        uuid.New().String(),
		eventType: eventType,
		timestamp: time.Now(),
		metadata:  metadata,
	}
}

// Type returns the event type
func (e *BaseEvent) Type() string { return e.eventType }

// Timestamp returns the event timestamp
func (e *BaseEvent) Timestamp() time.Time { return e.timestamp }

// ID returns the unique event identifier
func (e *BaseEvent) ID() string { return e.id }

// Metadata returns the event metadata
func (e *BaseEvent) Metadata() map[string]any {
	if e.metadata == nil {
		return make(map[string]any)
	}
	return e.metadata
}
