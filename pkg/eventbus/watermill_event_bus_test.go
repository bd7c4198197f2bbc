package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triggerfi/chainflow/pkg/channels/gochannel"
	"github.com/triggerfi/chainflow/pkg/events"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)

	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestPublishAndHandleTriggerFired(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	defer cancel()

	var (
		mu       sync.Mutex
		received *events.TriggerFired
	)

	err := bus.Handle(events.TriggerFiredEvent, func(_ context.Context, event any) error {
		fired, ok := event.(*events.TriggerFired)
		if !ok {
			t.Errorf("unexpected event type %T", event)

			return nil
		}

		mu.Lock()
		received = fired
		mu.Unlock()

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	fired := events.TriggerFired{
		BaseEvent:    events.NewBaseEvent(events.TriggerFiredEvent, "wf-1"),
		FiringID:     "f-1",
		TriggerKind:  "price",
		Token:        "GAS",
		CurrentPrice: 4.5,
		TargetPrice:  5.0,
	}
	require.NoError(t, bus.Publish(ctx, "wf-1", fired))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return received != nil
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "wf-1", received.WorkflowID)
	assert.Equal(t, "f-1", received.FiringID)
	assert.InDelta(t, 4.5, received.CurrentPrice, 1e-9)
}

func TestUnhandledEventTypeIsAcked(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for this type; publish must not block or error.
	cancelled := events.TriggerCancelled{
		BaseEvent: events.NewBaseEvent(events.TriggerCancelledEvent, "wf-1"),
		Reason:    "operator request",
	}
	assert.NoError(t, bus.Publish(ctx, "wf-1", cancelled))
}

func TestGenerateIDUnique(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
