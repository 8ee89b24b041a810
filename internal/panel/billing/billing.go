// Package billing defines the payment collaborator used by auto-renewal.
// The scheduler only sees the PaymentGateway interface; real gateways live
// behind it so renewal logic stays testable without network calls.
package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	applogger "github.com/vpanel/core/pkg/logger"
)

// Charge describes one renewal payment attempt
type Charge struct {
	SubscriptionID string
	UserID         string
	AmountCents    int
	PeriodDays     int
}

// Receipt is the successful outcome of a charge
type Receipt struct {
	TransactionID string
	ChargedAt     time.Time
}

// PaymentGateway attempts a charge against the user's stored payment method.
// An error means the charge did not happen; the scheduler records the
// outcome and moves on, it never retries within the same tick.
type PaymentGateway interface {
	Charge(ctx context.Context, charge Charge) (Receipt, error)
}

// LogGateway approves every charge and logs it. Used in development and as
// the default when no real gateway is configured.
type LogGateway struct {
	logger *applogger.Logger
}

// NewLogGateway creates a gateway that approves all charges
func NewLogGateway(logger *applogger.Logger) *LogGateway {
	return &LogGateway{logger: logger.WithComponent("billing.log")}
}

func (g *LogGateway) Charge(ctx context.Context, charge Charge) (Receipt, error) {
	receipt := Receipt{
		TransactionID: uuid.New().String(),
		ChargedAt:     time.Now(),
	}
	g.logger.InfoContext(ctx, "charge approved",
		slog.String("subscription_id", charge.SubscriptionID),
		slog.String("user_id", charge.UserID),
		slog.Int("amount_cents", charge.AmountCents),
		slog.String("transaction_id", receipt.TransactionID))
	return receipt, nil
}

var _ PaymentGateway = (*LogGateway)(nil)
