// Package lifecycle runs the recurring subscription reconciliations:
// status refresh, reminder dispatch, and auto-renewal processing.
package lifecycle

import (
	"time"

	"github.com/vpanel/core/internal/panel/db"
)

// ComputeStatus derives the subscription status from expiry and now. Pure;
// every reconciliation and test goes through this single definition so the
// thresholds cannot drift apart.
func ComputeStatus(expiresAt, now time.Time, warningWindow time.Duration) string {
	switch {
	case !now.Before(expiresAt):
		return db.SubscriptionStatusExpired
	case expiresAt.Sub(now) <= warningWindow:
		return db.SubscriptionStatusExpiringSoon
	default:
		return db.SubscriptionStatusActive
	}
}

// reminderDue reports whether a reminder may be sent now, honoring the
// cooldown since the last one
func reminderDue(sub db.Subscription, now time.Time, cooldown time.Duration) bool {
	if !sub.LastReminderAt.Valid {
		return true
	}
	return now.Sub(sub.LastReminderAt.Time) >= cooldown
}
