package event

import "context"

// Store persists and retrieves events. Implementations are bound to the
// unit of work that produced them, so appended events commit or roll back
// together with the state change they describe.
type Store interface {
	// Append persists one or more events.
	Append(ctx context.Context, events ...Event) error
	// Load returns all events for an aggregate in creation order.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// LoadByType returns events filtered by type in creation order.
	LoadByType(ctx context.Context, eventType Type) ([]Event, error)
}
