package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vpanel/core/internal/panel/billing"
	"github.com/vpanel/core/internal/panel/config"
	"github.com/vpanel/core/internal/panel/db"
	"github.com/vpanel/core/internal/panel/notify"
	apperrors "github.com/vpanel/core/pkg/errors"
	"github.com/vpanel/core/pkg/events"
	applogger "github.com/vpanel/core/pkg/logger"
)

// Lifecycle owns the three subscription reconciliations. Each is idempotent
// and safe to overlap with itself or the others; conflicting work on the
// same subscription is serialized through per-subscription locks.
type Lifecycle struct {
	store    db.Store
	gateway  billing.PaymentGateway
	notifier notify.Notifier
	bus      events.EventBus
	logger   *applogger.Logger
	cfg      config.LifecycleConfig

	locks keyedLocks

	// test seam; defaults to time.Now
	now func() time.Time
}

// New creates the subscription lifecycle service
func New(
	store db.Store,
	gateway billing.PaymentGateway,
	notifier notify.Notifier,
	bus events.EventBus,
	logger *applogger.Logger,
	cfg config.LifecycleConfig,
) *Lifecycle {
	return &Lifecycle{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		bus:      bus,
		logger:   logger.WithComponent("lifecycle"),
		cfg:      cfg,
		now:      time.Now,
	}
}

// RefreshStatuses recomputes every subscription's status from its expiry.
// Pure recomputation; it never touches billing. Runs every refresh interval
// and once at startup.
func (l *Lifecycle) RefreshStatuses(ctx context.Context) error {
	subs, err := l.store.ListSubscriptions(ctx)
	if err != nil {
		return apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to list subscriptions", true, err)
	}

	now := l.now()
	updated := 0
	for _, sub := range subs {
		if err := l.refreshOne(ctx, sub, now); err != nil {
			l.logger.ErrorCtx(ctx, "status refresh failed for subscription", err,
				slog.String("subscription_id", sub.ID))
			continue
		}
		if ComputeStatus(sub.ExpiresAt, now, l.cfg.WarningWindow) != sub.Status {
			updated++
		}
	}

	l.logger.DebugContext(ctx, "status refresh finished",
		slog.Int("total", len(subs)),
		slog.Int("updated", updated))
	return nil
}

func (l *Lifecycle) refreshOne(ctx context.Context, sub db.Subscription, now time.Time) error {
	unlock := l.locks.lock(sub.ID)
	defer unlock()

	next := ComputeStatus(sub.ExpiresAt, now, l.cfg.WarningWindow)
	if next == sub.Status {
		return nil
	}
	if err := l.store.UpdateSubscriptionStatus(ctx, sub.ID, next); err != nil {
		return err
	}

	if next == db.SubscriptionStatusExpired {
		l.publish(ctx, events.EventSubscriptionExpired, sub)
	}
	l.logger.InfoContext(ctx, "subscription status changed",
		slog.String("subscription_id", sub.ID),
		slog.String("from", sub.Status),
		slog.String("to", next))
	return nil
}

// DispatchReminders notifies users whose subscriptions are expiring soon.
// Gated by the global auto-renew flag; a subscription is reminded at most
// once per cooldown window even when ticks overlap.
func (l *Lifecycle) DispatchReminders(ctx context.Context) error {
	if !l.cfg.AutoRenewEnabled {
		return nil
	}

	subs, err := l.store.ListSubscriptionsByStatus(ctx, db.SubscriptionStatusExpiringSoon)
	if err != nil {
		return apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to list expiring subscriptions", true, err)
	}

	sent := 0
	for _, sub := range subs {
		ok, err := l.remindOne(ctx, sub)
		if err != nil {
			l.logger.ErrorCtx(ctx, "reminder dispatch failed for subscription", err,
				slog.String("subscription_id", sub.ID))
			continue
		}
		if ok {
			sent++
		}
	}

	l.logger.DebugContext(ctx, "reminder dispatch finished",
		slog.Int("candidates", len(subs)),
		slog.Int("sent", sent))
	return nil
}

func (l *Lifecycle) remindOne(ctx context.Context, sub db.Subscription) (bool, error) {
	unlock := l.locks.lock(sub.ID)
	defer unlock()

	// Re-read under the lock: an overlapping tick may have stamped the
	// reminder or renewed the subscription after our listing.
	fresh, err := l.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		return false, err
	}
	if fresh.Status != db.SubscriptionStatusExpiringSoon {
		return false, nil
	}
	now := l.now()
	if !reminderDue(fresh, now, l.cfg.ReminderCooldown) {
		return false, nil
	}

	msg := notify.Message{
		UserID:         fresh.UserID,
		SubscriptionID: fresh.ID,
		Kind:           notify.KindExpiring,
		Body:           fmt.Sprintf("Your subscription expires at %s.", fresh.ExpiresAt.Format(time.RFC1123)),
	}
	if err := l.notifier.Send(ctx, msg); err != nil {
		// Not stamped, so the next tick retries after the failure.
		return false, err
	}
	if err := l.store.StampReminder(ctx, fresh.ID, now); err != nil {
		return false, err
	}

	l.publish(ctx, events.EventSubscriptionExpiring, fresh)
	return true, nil
}

// ProcessRenewals attempts one charge per eligible subscription. Eligible
// means auto-renew is on and the subscription is expiring soon or expired.
// On success the expiry is extended by the plan period; on failure the
// outcome is recorded and the status is left for the next refresh.
func (l *Lifecycle) ProcessRenewals(ctx context.Context) error {
	if !l.cfg.AutoRenewEnabled {
		return nil
	}

	subs, err := l.store.ListSubscriptions(ctx)
	if err != nil {
		return apperrors.NewDatabaseError(apperrors.ErrCodeDatabase, "failed to list subscriptions", true, err)
	}

	renewed, failed := 0, 0
	for _, sub := range subs {
		if !sub.AutoRenew {
			continue
		}
		if sub.Status != db.SubscriptionStatusExpiringSoon && sub.Status != db.SubscriptionStatusExpired {
			continue
		}
		ok, err := l.renewOne(ctx, sub)
		if err != nil {
			failed++
			l.logger.ErrorCtx(ctx, "renewal failed for subscription", err,
				slog.String("subscription_id", sub.ID))
			continue
		}
		if ok {
			renewed++
		}
	}

	l.logger.InfoContext(ctx, "renewal processing finished",
		slog.Int("renewed", renewed),
		slog.Int("failed", failed))
	return nil
}

func (l *Lifecycle) renewOne(ctx context.Context, sub db.Subscription) (bool, error) {
	unlock := l.locks.lock(sub.ID)
	defer unlock()

	fresh, err := l.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		return false, err
	}
	// An overlapping tick may have already renewed it.
	if fresh.Status == db.SubscriptionStatusActive {
		return false, nil
	}

	now := l.now()
	receipt, err := l.gateway.Charge(ctx, billing.Charge{
		SubscriptionID: fresh.ID,
		UserID:         fresh.UserID,
		AmountCents:    fresh.PriceCents,
		PeriodDays:     fresh.PlanPeriodDays,
	})
	if err != nil {
		outcome := fmt.Sprintf("failed: %v", err)
		if dbErr := l.store.RecordRenewalFailure(ctx, fresh.ID, outcome, now); dbErr != nil {
			return false, dbErr
		}
		l.publish(ctx, events.EventSubscriptionRenewalFailed, fresh)
		l.notifyOutcome(ctx, fresh, notify.KindRenewalFailed, "We could not renew your subscription. Please update your payment method.")
		return false, apperrors.NewBillingError(apperrors.ErrCodePaymentFailed, "charge declined", false, err)
	}

	// Extend from expiry when renewing early, from now when already lapsed.
	base := fresh.ExpiresAt
	if base.Before(now) {
		base = now
	}
	newExpiry := base.AddDate(0, 0, fresh.PlanPeriodDays)

	if err := l.store.RenewSubscription(ctx, db.RenewSubscriptionParams{
		ID:        fresh.ID,
		ExpiresAt: newExpiry,
		At:        receipt.ChargedAt,
	}); err != nil {
		return false, err
	}

	l.publish(ctx, events.EventSubscriptionRenewed, fresh)
	l.notifyOutcome(ctx, fresh, notify.KindRenewed,
		fmt.Sprintf("Your subscription was renewed until %s.", newExpiry.Format(time.RFC1123)))

	l.logger.InfoContext(ctx, "subscription renewed",
		slog.String("subscription_id", fresh.ID),
		slog.String("transaction_id", receipt.TransactionID),
		slog.Time("new_expiry", newExpiry))
	return true, nil
}

func (l *Lifecycle) notifyOutcome(ctx context.Context, sub db.Subscription, kind, body string) {
	err := l.notifier.Send(ctx, notify.Message{
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Kind:           kind,
		Body:           body,
	})
	if err != nil {
		l.logger.WarnContext(ctx, "failed to send renewal notification",
			slog.String("subscription_id", sub.ID),
			slog.String("error", err.Error()))
	}
}

func (l *Lifecycle) publish(ctx context.Context, eventType string, sub db.Subscription) {
	if l.bus == nil {
		return
	}
	err := l.bus.Publish(ctx, events.NewBaseEvent(eventType, map[string]any{
		"subscription_id": sub.ID,
		"user_id":         sub.UserID,
	}))
	if err != nil {
		l.logger.WarnContext(ctx, "failed to publish event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}

// keyedLocks serializes work per subscription id
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
