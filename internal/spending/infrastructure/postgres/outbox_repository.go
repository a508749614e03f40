package postgres

import (
	"context"
	"fmt"
	"time"

	"cardcrm/internal/common/events"
	vo "cardcrm/internal/common/value_objects"
	"cardcrm/internal/spending/domain"
)

// OutboxRepository implements domain.OutboxRepository using PostgreSQL.
//
// Events are written to the outbox within the same transaction as domain changes,
// then published asynchronously by the outbox relay.
type OutboxRepository struct {
	db Querier
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db Querier) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Append adds an event to the outbox as part of the current transaction.
func (r *OutboxRepository) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO spending.outbox (
			event_id, event_type, aggregate_type, aggregate_id,
			correlation_id, payload, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID.String(), entry.EventType, entry.AggregateType, entry.AggregateID,
		nullableString(entry.CorrelationID.String()), entry.Payload, entry.OccurredAt,
	)
	return err
}

// FetchUnpublished retrieves unpublished events in insertion order.
// It locks rows with FOR UPDATE SKIP LOCKED so concurrent relays do not
// publish the same event twice.
func (r *OutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT event_id, event_type, aggregate_type, aggregate_id,
			correlation_id, payload, occurred_at, published_at
		FROM spending.outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*domain.OutboxEntry, 0, limit)
	for rows.Next() {
		var (
			eventID     string
			entry       domain.OutboxEntry
			correlation *string
			publishedAt *time.Time
		)
		if err := rows.Scan(
			&eventID, &entry.EventType, &entry.AggregateType, &entry.AggregateID,
			&correlation, &entry.Payload, &entry.OccurredAt, &publishedAt,
		); err != nil {
			return nil, err
		}

		entry.ID, err = events.ParseEventID(eventID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid event_id: %v", domain.ErrCorruptData, err)
		}
		if correlation != nil {
			entry.CorrelationID, err = vo.ParseCorrelationID(*correlation)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid correlation_id: %v", domain.ErrCorruptData, err)
			}
		}
		entry.PublishedAt = publishedAt
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// MarkPublished marks events as published.
// It is a no-op when the input list is empty.
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []events.EventID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	stringIDs := make([]string, len(ids))
	for i, id := range ids {
		stringIDs[i] = id.String()
	}

	_, err := r.db.Exec(ctx,
		`UPDATE spending.outbox SET published_at = $1 WHERE event_id = ANY($2)`,
		at, stringIDs,
	)
	return err
}

// Verify interface implementation.
var _ domain.OutboxRepository = (*OutboxRepository)(nil)
