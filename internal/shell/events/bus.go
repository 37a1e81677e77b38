// Package events provides the publish/subscribe surface the coordinator
// and the probe engine emit on. Delivery is fire-and-forget with no
// back-pressure: a subscriber that panics is isolated and logged, and
// never blocks delivery to the rest.
package events

import (
	"log/slog"
	"sync"

	"github.com/stackpilot/stackpilot/internal/core/health"
	"github.com/stackpilot/stackpilot/internal/core/lifecycle"
)

// =============================================================================
// Event Types
// =============================================================================

// Name identifies an event stream.
type Name string

const (
	// StatusChanged carries a DeploymentStatus snapshot plus the typed
	// lifecycle signal that produced it.
	StatusChanged Name = "status-changed"

	// Output carries raw text chunks streamed from the engine CLI.
	Output Name = "output"

	// HealthStatusChanged carries the per-service health map.
	HealthStatusChanged Name = "health-status-changed"
)

// StatusPayload is the status-changed payload. The Signal travels with
// the message so observers never have to parse the text.
type StatusPayload struct {
	Signal  lifecycle.Signal `json:"signal"`
	Message string           `json:"message"`
	Status  any              `json:"status,omitempty"`
}

// OutputPayload is a raw output chunk from a child process.
type OutputPayload struct {
	Source string `json:"source"` // e.g. "pull", "up", "down"
	Chunk  string `json:"chunk"`
}

// HealthPayload is the per-service health map payload.
type HealthPayload struct {
	Services map[string]health.ServiceHealth `json:"services"`
}

// Event is one published event.
type Event struct {
	Name    Name
	Payload any
}

// =============================================================================
// Bus
// =============================================================================

// Handler consumes events. Handlers run synchronously on the publisher's
// goroutine; slow handlers slow publishing but panics are contained.
type Handler func(Event)

// Bus is an in-process publish/subscribe bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
	all      []Handler
	logger   *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Name][]Handler),
		logger:   logger.With("component", "event_bus"),
	}
}

// Subscribe registers a handler for one event name.
func (b *Bus) Subscribe(name Name, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers the event to all matching handlers in subscription
// order. One panicking handler does not stop the others.
func (b *Bus) Publish(name Name, payload any) {
	b.mu.RLock()
	matched := make([]Handler, 0, len(b.handlers[name])+len(b.all))
	matched = append(matched, b.handlers[name]...)
	matched = append(matched, b.all...)
	b.mu.RUnlock()

	evt := Event{Name: name, Payload: payload}
	for _, h := range matched {
		b.deliver(h, evt)
	}
}

func (b *Bus) deliver(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", string(evt.Name), "panic", r)
		}
	}()
	h(evt)
}
