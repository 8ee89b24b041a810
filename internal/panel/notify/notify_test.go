package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpanel/core/pkg/events"
	applogger "github.com/vpanel/core/pkg/logger"
)

func testMessage(kind string) Message {
	return Message{
		UserID:         "user-1",
		SubscriptionID: "sub-1",
		Kind:           kind,
		Body:           "your subscription expires in 3 days",
	}
}

func TestBusNotifierMapsKindsToEvents(t *testing.T) {
	tests := []struct {
		kind      string
		eventType string
	}{
		{KindExpiring, events.EventSubscriptionExpiring},
		{KindRenewed, events.EventSubscriptionRenewed},
		{KindRenewalFailed, events.EventSubscriptionRenewalFailed},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			logger := applogger.NewDevelopment("test")
			bus := events.NewBus(logger)
			defer bus.Close()

			var received events.Event
			_, err := bus.Subscribe(tt.eventType, func(ctx context.Context, e events.Event) error {
				received = e
				return nil
			})
			require.NoError(t, err)

			notifier := NewBusNotifier(bus, logger)
			require.NoError(t, notifier.Send(context.Background(), testMessage(tt.kind)))

			require.NotNil(t, received)
			assert.Equal(t, tt.eventType, received.Type())
			assert.Equal(t, "user-1", received.Metadata()["user_id"])
			assert.Equal(t, "sub-1", received.Metadata()["subscription_id"])
		})
	}
}

func TestBusNotifierClosedBus(t *testing.T) {
	logger := applogger.NewDevelopment("test")
	bus := events.NewBus(logger)
	require.NoError(t, bus.Close())

	notifier := NewBusNotifier(bus, logger)
	err := notifier.Send(context.Background(), testMessage(KindExpiring))
	require.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	notifier := NewLogNotifier(applogger.NewDevelopment("test"))
	assert.NoError(t, notifier.Send(context.Background(), testMessage(KindRenewed)))
}
