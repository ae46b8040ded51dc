package publication

import (
	"context"
	"time"

	"github.com/wonny/tally/internal/contracts"
)

// EventType labels a publication event
type EventType string

const (
	EventPublished   EventType = "publication.published"
	EventUnpublished EventType = "publication.unpublished"
)

// Event is broadcast after a publication flag changes
type Event struct {
	Type  EventType                  `json:"type"`
	Unit  contracts.UnitRef          `json:"unit"`
	State contracts.PublicationState `json:"state"`
	Actor string                     `json:"actor"`
	At    time.Time                  `json:"at"`
}

// Sink receives publication events. Notify must not block the caller;
// delivery is best effort.
type Sink interface {
	Notify(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, ev Event)

// Notify calls f
func (f SinkFunc) Notify(ctx context.Context, ev Event) {
	f(ctx, ev)
}

func eventTypeFor(state contracts.PublicationState) EventType {
	if state == contracts.Published {
		return EventPublished
	}
	return EventUnpublished
}
