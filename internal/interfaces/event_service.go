package interfaces

import (
	"context"

	"github.com/ternarybob/colligo/internal/models"
)

// EventHandler is a function that handles job events
type EventHandler func(ctx context.Context, event models.JobEvent) error

// EventService manages the in-process pub/sub event bus. The orchestrator
// publishes job lifecycle events; the WebSocket handler subscribes.
type EventService interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType models.EventType, handler EventHandler) error

	// Publish delivers an event to all subscribers asynchronously
	Publish(ctx context.Context, event models.JobEvent) error

	// PublishSync delivers an event and waits for all handlers to complete
	PublishSync(ctx context.Context, event models.JobEvent) error

	// Close shuts down the event service
	Close() error
}
