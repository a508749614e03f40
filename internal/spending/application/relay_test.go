package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vo "cardcrm/internal/common/value_objects"
	"cardcrm/internal/spending/application"
	"cardcrm/internal/spending/domain"
	"cardcrm/internal/spending/infrastructure/memory"
)

func seedOutbox(t *testing.T, store *memory.DataStore, n int) []domain.OutboxEntry {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	profile, err := domain.NewLimitProfile(domain.ProfileParams{
		Name:   "Teen",
		Limits: domain.LimitSet{Daily: usd("50")},
	}, now)
	require.NoError(t, err)
	profile.AssignID(1)

	var seeded []domain.OutboxEntry
	for i := 0; i < n; i++ {
		entry, err := domain.NewProfileOutboxEntry(domain.EventTypeProfileUpdated, profile, vo.NewCorrelationID(), now)
		require.NoError(t, err)
		require.NoError(t, store.Outbox().Append(ctx, entry))
		seeded = append(seeded, *entry)
	}
	return seeded
}

func TestOutboxRelay_RelayOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes in order and marks published", func(t *testing.T) {
		store := memory.NewDataStore()
		seeded := seedOutbox(t, store, 3)
		publisher := &recordingPublisher{failAfter: -1}
		relay := application.NewOutboxRelay(store, publisher, 10)

		n, err := relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		require.Len(t, publisher.published, 3)
		for i, e := range publisher.published {
			assert.Equal(t, seeded[i].ID, e.EventID)
			assert.Equal(t, "limit_profile", e.AggregateType)
		}

		n, err = relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("stops at first failure and retries later", func(t *testing.T) {
		store := memory.NewDataStore()
		seeded := seedOutbox(t, store, 3)
		publisher := &recordingPublisher{failAfter: 1}
		relay := application.NewOutboxRelay(store, publisher, 10)

		n, err := relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		pending, err := store.Outbox().FetchUnpublished(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, seeded[1].ID, pending[0].ID)

		publisher.failAfter = -1
		n, err = relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("respects batch size", func(t *testing.T) {
		store := memory.NewDataStore()
		seedOutbox(t, store, 5)
		relay := application.NewOutboxRelay(store, &recordingPublisher{failAfter: -1}, 2)

		n, err := relay.RelayOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}
