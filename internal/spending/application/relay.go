package application

import (
	"context"
	"time"

	"cardcrm/internal/common/events"
	"cardcrm/internal/common/logging"
	"cardcrm/internal/common/metrics"
	"cardcrm/internal/spending/domain"
)

// EventPublisher hands one event to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, event events.EventEnvelope) error
}

// OutboxRelay moves committed outbox entries to the broker.
type OutboxRelay struct {
	store     domain.AtomicExecutor
	publisher EventPublisher
	batchSize int
	now       func() time.Time
}

// NewOutboxRelay creates a relay publishing up to batchSize events per run.
func NewOutboxRelay(store domain.AtomicExecutor, publisher EventPublisher, batchSize int) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{store: store, publisher: publisher, batchSize: batchSize, now: time.Now}
}

// RelayOnce publishes pending events oldest first and marks them published.
// It stops at the first publish failure so ordering is preserved; the failed
// event is retried on the next run.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	var published, pending, failed int

	err := r.store.Atomic(ctx, func(repos domain.Repositories) error {
		entries, err := repos.Outbox().FetchUnpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}

		ids := make([]events.EventID, 0, len(entries))
		for _, entry := range entries {
			if err := r.publisher.Publish(ctx, entry.Envelope()); err != nil {
				failed = 1
				logging.WarnContext(ctx, "outbox publish failed",
					"event_id", entry.ID.String(), "event_type", entry.EventType, "error", err)
				break
			}
			ids = append(ids, entry.ID)
		}

		published = len(ids)
		pending = len(entries) - published
		return repos.Outbox().MarkPublished(ctx, ids, r.now())
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordOutboxRun(pending, published, failed)
	if published > 0 {
		logging.InfoContext(ctx, "outbox events published", "count", published)
	}
	return published, nil
}
