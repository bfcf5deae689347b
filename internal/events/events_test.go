package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusPublishSubscribe(t *testing.T) {
	bus := NewEventBus()

	var received []*Event
	bus.Subscribe(EventOperationQueued, func(event *Event) error {
		received = append(received, event)
		return nil
	})

	bus.Publish(&Event{Type: EventOperationQueued, Payload: []byte(`{"id":"op-1"}`)})
	bus.Publish(&Event{Type: EventSyncFinished})

	require.Len(t, received, 1)
	assert.Equal(t, EventOperationQueued, received[0].Type)
	assert.False(t, received[0].CreatedAt.IsZero())
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()

	calls := 0
	bus.Subscribe(EventStatusChanged, func(event *Event) error {
		calls++
		return nil
	})
	bus.Subscribe(EventStatusChanged, func(event *Event) error {
		calls++
		return errors.New("handler failure must not stop delivery")
	})
	bus.Subscribe(EventStatusChanged, func(event *Event) error {
		calls++
		return nil
	})

	bus.Publish(&Event{Type: EventStatusChanged})
	assert.Equal(t, 3, calls)
}

func TestEventBusPublishJSON(t *testing.T) {
	bus := NewEventBus()

	var payload map[string]any
	bus.Subscribe(EventSyncStarted, func(event *Event) error {
		return json.Unmarshal(event.Payload, &payload)
	})

	require.NoError(t, bus.PublishJSON(EventSyncStarted, map[string]string{"run_id": "run-1"}))
	require.NotNil(t, payload)
	assert.Equal(t, "run-1", payload["run_id"])
}

func TestEventBusPublishJSONNilBus(t *testing.T) {
	var bus *EventBus
	assert.NoError(t, bus.PublishJSON(EventSyncStarted, "ignored"))
}

func TestEventBusPublishJSONMarshalError(t *testing.T) {
	bus := NewEventBus()
	assert.Error(t, bus.PublishJSON(EventSyncStarted, make(chan int)))
}
