// Package notify defines the notification collaborator for subscription
// reminders and renewal outcomes.
package notify

import (
	"context"
	"log/slog"

	apperrors "github.com/vpanel/core/pkg/errors"
	"github.com/vpanel/core/pkg/events"
	applogger "github.com/vpanel/core/pkg/logger"
)

// Message kinds
const (
	KindExpiring      = "subscription_expiring"
	KindRenewed       = "subscription_renewed"
	KindRenewalFailed = "subscription_renewal_failed"
)

// Message is one user-facing notification
type Message struct {
	UserID         string
	SubscriptionID string
	Kind           string
	Body           string
}

// Notifier delivers a message to the user. Delivery failures are returned
// so the caller can decide whether to stamp the reminder as sent.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// BusNotifier publishes notifications on the event bus so delivery channels
// (bot frontends, email senders) can subscribe without the scheduler knowing
// about them.
type BusNotifier struct {
	bus    events.EventBus
	logger *applogger.Logger
}

// NewBusNotifier creates a notifier that publishes to the event bus
func NewBusNotifier(bus events.EventBus, logger *applogger.Logger) *BusNotifier {
	return &BusNotifier{
		bus:    bus,
		logger: logger.WithComponent("notify.bus"),
	}
}

func (n *BusNotifier) Send(ctx context.Context, msg Message) error {
	eventType := events.EventSubscriptionExpiring
	switch msg.Kind {
	case KindRenewed:
		eventType = events.EventSubscriptionRenewed
	case KindRenewalFailed:
		eventType = events.EventSubscriptionRenewalFailed
	}

	err := n.bus.Publish(ctx, events.NewBaseEvent(eventType, map[string]any{
		"user_id":         msg.UserID,
		"subscription_id": msg.SubscriptionID,
		"kind":            msg.Kind,
		"body":            msg.Body,
	}))
	if err != nil {
		return apperrors.NewBillingError(apperrors.ErrCodeNotificationFailed, "failed to publish notification", true, err)
	}

	n.logger.DebugContext(ctx, "notification published",
		slog.String("user_id", msg.UserID),
		slog.String("kind", msg.Kind))
	return nil
}

var _ Notifier = (*BusNotifier)(nil)

// LogNotifier writes notifications to the log only. Used in development and
// as a fallback when no event bus is wired.
type LogNotifier struct {
	logger *applogger.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *applogger.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.WithComponent("notify.log")}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification",
		slog.String("user_id", msg.UserID),
		slog.String("subscription_id", msg.SubscriptionID),
		slog.String("kind", msg.Kind),
		slog.String("body", msg.Body))
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
