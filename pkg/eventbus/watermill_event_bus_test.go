package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbarbosa/gantry/pkg/channels/gochannel"
	"github.com/mbarbosa/gantry/pkg/eventbus"
	"github.com/mbarbosa/gantry/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.ExecutionRequested, 1)

	err := bus.Handle(events.ExecutionRequestedEvent, func(_ context.Context, event any) error {
		requested, ok := event.(*events.ExecutionRequested)
		if ok {
			received <- requested
		}

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(t.Context()))

	sent := events.ExecutionRequested{
		BaseEvent:   events.NewBaseEvent(events.ExecutionRequestedEvent, "wf-1"),
		ExecutionID: "exec-1",
		TriggeredBy: "alice",
	}
	require.NoError(t, bus.Publish(t.Context(), "exec-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, "wf-1", got.WorkflowID)
		assert.Equal(t, "alice", got.TriggeredBy)
		assert.Equal(t, events.ExecutionRequestedEvent, got.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestSubscribeSkipsUnhandledEventTypes(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan struct{}, 2)

	err := bus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, _ any) error {
		received <- struct{}{}

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(t.Context()))

	// No handler registered for this type; it must be acked and dropped.
	require.NoError(t, bus.Publish(t.Context(), "exec-1", events.ExecutionRequested{
		BaseEvent: events.NewBaseEvent(events.ExecutionRequestedEvent, "wf-1"),
	}))
	require.NoError(t, bus.Publish(t.Context(), "exec-1", events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, "wf-1"),
		ExecutionID: "exec-1",
	}))

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("completed event was not delivered")
	}

	assert.Empty(t, received)
}

func TestGenerateIDIsUnique(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
