package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpanel/core/internal/panel/billing"
	"github.com/vpanel/core/internal/panel/config"
	"github.com/vpanel/core/internal/panel/db"
	"github.com/vpanel/core/internal/panel/notify"
	applogger "github.com/vpanel/core/pkg/logger"
)

type fakeGateway struct {
	mu      sync.Mutex
	charges []billing.Charge
	decline bool
}

func (g *fakeGateway) Charge(ctx context.Context, charge billing.Charge) (billing.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, charge)
	if g.decline {
		return billing.Receipt{}, errors.New("card declined")
	}
	return billing.Receipt{TransactionID: "tx-1", ChargedAt: time.Now()}, nil
}

func (g *fakeGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.charges)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	fail     bool
}

func (n *fakeNotifier) Send(ctx context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("delivery failed")
	}
	n.messages = append(n.messages, msg)
	return nil
}

func (n *fakeNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.messages {
		if m.Kind == kind {
			c++
		}
	}
	return c
}

func testLifecycleConfig() config.LifecycleConfig {
	return config.LifecycleConfig{
		RefreshInterval:  30 * time.Minute,
		ReminderInterval: time.Hour,
		RenewalInterval:  6 * time.Hour,
		WarningWindow:    72 * time.Hour,
		ReminderCooldown: 24 * time.Hour,
		AutoRenewEnabled: true,
	}
}

type lifecycleFixture struct {
	lc       *Lifecycle
	store    db.Store
	gateway  *fakeGateway
	notifier *fakeNotifier
	now      time.Time
}

func newFixture(t *testing.T, cfg config.LifecycleConfig) *lifecycleFixture {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	store, err := db.NewStoreFromDB(conn)
	require.NoError(t, err)

	f := &lifecycleFixture{
		store:    store,
		gateway:  &fakeGateway{},
		notifier: &fakeNotifier{},
		now:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	f.lc = New(store, f.gateway, f.notifier, nil, applogger.NewDevelopment("test"), cfg)
	f.lc.now = func() time.Time { return f.now }
	return f
}

func (f *lifecycleFixture) addSubscription(t *testing.T, expiresIn time.Duration, autoRenew bool) db.Subscription {
	t.Helper()
	sub, err := f.store.CreateSubscription(context.Background(), db.CreateSubscriptionParams{
		ID:             uuid.New().String(),
		UserID:         uuid.New().String(),
		ClientID:       uuid.New().String(),
		PlanPeriodDays: 30,
		PriceCents:     500,
		ExpiresAt:      f.now.Add(expiresIn),
		AutoRenew:      autoRenew,
	})
	require.NoError(t, err)
	return sub
}

func (f *lifecycleFixture) reload(t *testing.T, id string) db.Subscription {
	t.Helper()
	sub, err := f.store.GetSubscription(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func TestComputeStatus(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	window := 72 * time.Hour

	tests := []struct {
		name      string
		expiresAt time.Time
		want      string
	}{
		{"far future", now.Add(30 * 24 * time.Hour), db.SubscriptionStatusActive},
		{"just outside window", now.Add(window + time.Second), db.SubscriptionStatusActive},
		{"at window boundary", now.Add(window), db.SubscriptionStatusExpiringSoon},
		{"inside window", now.Add(time.Hour), db.SubscriptionStatusExpiringSoon},
		{"exactly now", now, db.SubscriptionStatusExpired},
		{"past", now.Add(-time.Minute), db.SubscriptionStatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeStatus(tt.expiresAt, now, window))
		})
	}
}

func TestRefreshStatuses(t *testing.T) {
	f := newFixture(t, testLifecycleConfig())
	ctx := context.Background()

	healthy := f.addSubscription(t, 30*24*time.Hour, true)
	expiring := f.addSubscription(t, 24*time.Hour, true)
	lapsed := f.addSubscription(t, -time.Hour, true)

	require.NoError(t, f.lc.RefreshStatuses(ctx))

	assert.Equal(t, db.SubscriptionStatusActive, f.reload(t, healthy.ID).Status)
	assert.Equal(t, db.SubscriptionStatusExpiringSoon, f.reload(t, expiring.ID).Status)
	assert.Equal(t, db.SubscriptionStatusExpired, f.reload(t, lapsed.ID).Status)

	// a second refresh with no time passing changes nothing
	require.NoError(t, f.lc.RefreshStatuses(ctx))
	assert.Equal(t, db.SubscriptionStatusExpiringSoon, f.reload(t, expiring.ID).Status)

	// refresh never touches billing
	assert.Zero(t, f.gateway.chargeCount())
}

func TestDispatchRemindersHonorsCooldown(t *testing.T) {
	f := newFixture(t, testLifecycleConfig())
	ctx := context.Background()

	sub := f.addSubscription(t, 24*time.Hour, true)
	require.NoError(t, f.lc.RefreshStatuses(ctx))

	require.NoError(t, f.lc.DispatchReminders(ctx))
	assert.Equal(t, 1, f.notifier.count(notify.KindExpiring))
	assert.True(t, f.reload(t, sub.ID).LastReminderAt.Valid)

	// a second tick inside the cooldown must not re-notify
	f.now = f.now.Add(time.Hour)
	require.NoError(t, f.lc.DispatchReminders(ctx))
	assert.Equal(t, 1, f.notifier.count(notify.KindExpiring))

	// past the cooldown the reminder goes out again
	f.now = f.now.Add(24 * time.Hour)
	require.NoError(t, f.lc.RefreshStatuses(ctx))
	require.NoError(t, f.lc.DispatchReminders(ctx))
	assert.Equal(t, 2, f.notifier.count(notify.KindExpiring))
}

func TestDispatchRemindersGatedByFlag(t *testing.T) {
	cfg := testLifecycleConfig()
	cfg.AutoRenewEnabled = false
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.addSubscription(t, 24*time.Hour, true)
	require.NoError(t, f.lc.RefreshStatuses(ctx))

	require.NoError(t, f.lc.DispatchReminders(ctx))
	assert.Zero(t, f.notifier.count(notify.KindExpiring))
}

func TestDispatchRemindersRetriesAfterDeliveryFailure(t *testing.T) {
	f := newFixture(t, testLifecycleConfig())
	ctx := context.Background()

	sub := f.addSubscription(t, 24*time.Hour, true)
	require.NoError(t, f.lc.RefreshStatuses(ctx))

	f.notifier.fail = true
	require.NoError(t, f.lc.DispatchReminders(ctx))
	assert.False(t, f.reload(t, sub.ID).LastReminderAt.Valid)

	// delivery recovered; the reminder is not lost
	f.notifier.fail = false
	require.NoError(t, f.lc.DispatchReminders(ctx))
	assert.Equal(t, 1, f.notifier.count(notify.KindExpiring))
}

func TestRemindOneSkipsRenewedSubscription(t *testing.T) {
	f := newFixture(t, testLifecycleConfig())
	ctx := context.Background()

	sub := f.addSubscription(t, 24*time.Hour, true)
	require.NoError(t, f.lc.RefreshStatuses(ctx))

	// stale holds the expiring_soon row as a reminder listing would have
	// seen it
	stale := f.reload(t, sub.ID)
	require.Equal(t, db.SubscriptionStatusExpiringSoon, stale.Status)

	// a renewal lands between the listing and the reminder
	require.NoError(t, f.lc.ProcessRenewals(ctx))
	require.Equal(t, db.SubscriptionStatusActive, f.reload(t, sub.ID).Status)

	sent, err := f.lc.remindOne(ctx, stale)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Zero(t, f.notifier.count(notify.KindExpiring))
	assert.False(t, f.reload(t, sub.ID).LastReminderAt.Valid)
}

func TestProcessRenewalsSuccess(t *testing.T) {
	f := newFixture(t, testLifecycleConfig())
	ctx := context.Background()

	sub := f.addSubscription(t, 24*time.Hour, true)
	require.NoError(t, f.lc.RefreshStatuses(ctx))

	require.NoError(t, f.lc.ProcessRenewals(ctx))

	got := f.reload(t, sub.ID)
	assert.Equal(t, db.SubscriptionStatusActive, got.Status)
	// early renewal extends from the old expiry, the user loses nothing
	wantExpiry := sub.ExpiresAt.AddDate(0, 0, sub.PlanPeriodDays)
	assert.WithinDuration(t, wantExpiry, got.ExpiresAt, time.Second)
	assert.Equal(t, "success", got.LastRenewalOutcome.String)
	assert.Equal(t, 1, f.gateway.chargeCount())
	assert.Equal(t, 1, f.notifier.count(notify.KindRenewed))
}

func TestProcessRenewalsLapsedExtendsFromNow(t *testing.T) {
	f := newFixture(t, testLifecycleConfig())
	ctx := context.Background()

	sub := f.addSubscription(t, -48*time.Hour, true)
	require.NoError(t, f.lc.RefreshStatuses(ctx))

	require.NoError(t, f.lc.ProcessRenewals(ctx))

	got := f.reload(t, sub.ID)
	wantExpiry := f.now.AddDate(0, 0, sub.PlanPeriodDays)
	assert.WithinDuration(t, wantExpiry, got.ExpiresAt, time.Second)
	assert.Equal(t, db.SubscriptionStatusActive, got.Status)
}

func TestProcessRenewalsFailure(t *testing.T) {
	f := newFixture(t, testLifecycleConfig())
	ctx := context.Background()

	sub := f.addSubscription(t, 24*time.Hour, true)
	require.NoError(t, f.lc.RefreshStatuses(ctx))

	f.gateway.decline = true
	require.NoError(t, f.lc.ProcessRenewals(ctx))

	got := f.reload(t, sub.ID)
	assert.Equal(t, db.SubscriptionStatusExpiringSoon, got.Status)
	assert.Equal(t, sub.ExpiresAt.Unix(), got.ExpiresAt.Unix())
	assert.Contains(t, got.LastRenewalOutcome.String, "failed")
	assert.Equal(t, 1, f.notifier.count(notify.KindRenewalFailed))

	// one attempt per tick, the same tick never retries
	assert.Equal(t, 1, f.gateway.chargeCount())
}

func TestProcessRenewalsSkipsIneligible(t *testing.T) {
	f := newFixture(t, testLifecycleConfig())
	ctx := context.Background()

	f.addSubscription(t, 24*time.Hour, false)   // auto-renew off
	f.addSubscription(t, 30*24*time.Hour, true) // not expiring
	require.NoError(t, f.lc.RefreshStatuses(ctx))

	require.NoError(t, f.lc.ProcessRenewals(ctx))
	assert.Zero(t, f.gateway.chargeCount())
}

func TestProcessRenewalsGatedByFlag(t *testing.T) {
	cfg := testLifecycleConfig()
	cfg.AutoRenewEnabled = false
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.addSubscription(t, 24*time.Hour, true)
	require.NoError(t, f.lc.RefreshStatuses(ctx))

	require.NoError(t, f.lc.ProcessRenewals(ctx))
	assert.Zero(t, f.gateway.chargeCount())
}

func TestRenewalIsolatedPerRecord(t *testing.T) {
	f := newFixture(t, testLifecycleConfig())
	ctx := context.Background()

	bad := f.addSubscription(t, 24*time.Hour, true)
	good := f.addSubscription(t, 24*time.Hour, true)
	require.NoError(t, f.lc.RefreshStatuses(ctx))

	// delete the first record behind the scheduler's back so its renewal
	// errors; the second must still be processed
	require.NoError(t, f.store.DeleteSubscription(ctx, bad.ID))

	require.NoError(t, f.lc.ProcessRenewals(ctx))
	assert.Equal(t, db.SubscriptionStatusActive, f.reload(t, good.ID).Status)
}
