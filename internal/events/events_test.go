package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventTaskCompleted, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventTaskCompleted, TaskEventPayload{TaskID: 7, Kind: "detail"})
	require.NoError(t, err)

	assert.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, EventTaskCompleted, received.Type)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded TaskEventPayload
	require.NoError(t, received.Decode(&decoded))
	assert.Equal(t, int64(7), decoded.TaskID)
	assert.Equal(t, "detail", decoded.Kind)
}

func TestEventBusOrderAndErrors(t *testing.T) {
	bus := NewEventBus()

	var order []int
	var reported []error
	bus.OnError(func(_ *Event, err error) { reported = append(reported, err) })

	bus.Subscribe("event", func(_ *Event) error { order = append(order, 1); return errors.New("first failed") })
	bus.Subscribe("event", func(_ *Event) error { order = append(order, 2); return nil })

	bus.Publish(&Event{Type: "event"})

	// a failing handler does not stop the next one
	assert.Equal(t, []int{1, 2}, order)
	require.Len(t, reported, 1)
	assert.EqualError(t, reported[0], "first failed")
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NotPanics(t, func() { bus.Publish(&Event{Type: "unknown"}) })
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON(EventItemScraped, ItemEventPayload{}))
}

func TestNewJSONEvent(t *testing.T) {
	event, err := NewJSONEvent(EventItemScraped, ItemEventPayload{ItemID: 123, Title: "Heat"})
	require.NoError(t, err)
	assert.Equal(t, EventItemScraped, event.Type)

	var decoded ItemEventPayload
	require.NoError(t, event.Decode(&decoded))
	assert.Equal(t, int64(123), decoded.ItemID)
	assert.Equal(t, "Heat", decoded.Title)

	_, err = NewJSONEvent("bad", make(chan int))
	assert.Error(t, err)
}
