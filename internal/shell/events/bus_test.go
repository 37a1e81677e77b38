package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackpilot/stackpilot/internal/core/lifecycle"
)

func TestBus_DeliversToSubscribersInOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []int

	bus.Subscribe(StatusChanged, func(Event) { order = append(order, 1) })
	bus.Subscribe(StatusChanged, func(Event) { order = append(order, 2) })
	bus.Subscribe(Output, func(Event) { order = append(order, 99) })

	bus.Publish(StatusChanged, StatusPayload{Signal: lifecycle.SignalEngineStarted, Message: "started"})

	assert.Equal(t, []int{1, 2}, order)
}

func TestBus_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(nil)
	var delivered []string

	bus.Subscribe(Output, func(Event) { delivered = append(delivered, "first") })
	bus.Subscribe(Output, func(Event) { panic("subscriber blew up") })
	bus.Subscribe(Output, func(Event) { delivered = append(delivered, "third") })

	require.NotPanics(t, func() {
		bus.Publish(Output, OutputPayload{Source: "up", Chunk: "line"})
	})

	assert.Equal(t, []string{"first", "third"}, delivered)
}

func TestBus_SubscribeAllSeesEveryEvent(t *testing.T) {
	bus := NewBus(nil)
	var seen []Name

	bus.SubscribeAll(func(e Event) { seen = append(seen, e.Name) })

	bus.Publish(StatusChanged, nil)
	bus.Publish(Output, nil)
	bus.Publish(HealthStatusChanged, nil)

	assert.Equal(t, []Name{StatusChanged, Output, HealthStatusChanged}, seen)
}

func TestBus_PayloadCarriesTypedSignal(t *testing.T) {
	bus := NewBus(nil)
	var got StatusPayload

	bus.Subscribe(StatusChanged, func(e Event) {
		got = e.Payload.(StatusPayload)
	})

	bus.Publish(StatusChanged, StatusPayload{
		Signal:  lifecycle.SignalServicesUnhealthy,
		Message: "db went down",
	})

	assert.Equal(t, lifecycle.SignalServicesUnhealthy, got.Signal)
	assert.Equal(t, "db went down", got.Message)
}
