package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auctiond/internal/event"
)

// EventStore implements event.Store inside a ledger transaction.
type EventStore struct {
	q sqlx.ExtContext
}

const eventColumns = `id, aggregate_id, type, data, created_at`

func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	for _, e := range events {
		// lib/pq encodes []byte as bytea, so the JSON goes over as text.
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO events (id, aggregate_id, type, data, created_at) VALUES ($1, $2, $3, $4, $5)`,
			e.ID, e.AggregateID, e.Type, string(e.Data), e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting event (aggregate=%s, type=%s): %w", e.AggregateID, e.Type, err)
		}
	}
	return nil
}

func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	var events []event.Event
	err := sqlx.SelectContext(ctx, s.q, &events,
		`SELECT `+eventColumns+` FROM events WHERE aggregate_id = $1 ORDER BY seq ASC`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return events, nil
}

func (s *EventStore) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	var events []event.Event
	err := sqlx.SelectContext(ctx, s.q, &events,
		`SELECT `+eventColumns+` FROM events WHERE type = $1 ORDER BY seq ASC`, eventType)
	if err != nil {
		return nil, fmt.Errorf("loading events by type: %w", err)
	}
	return events, nil
}
