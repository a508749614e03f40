package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cardcrm/internal/common/metrics"
	"cardcrm/internal/spending/domain"
)

// Querier is what the repositories need from pgx. Both the pool and an open
// transaction satisfy it; DataStore hands one or the other to each repository.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DataStore is the Postgres implementation of domain.AtomicExecutor.
// Repositories returned outside Atomic run each statement in its own implicit
// transaction.
type DataStore struct {
	pool            *pgxpool.Pool
	profileRepo     *ProfileRepository
	cardRepo        *CardRepository
	transactionRepo *TransactionRepository
	outboxRepo      *OutboxRepository
}

// NewDataStore creates a new DataStore with the given connection pool.
func NewDataStore(pool *pgxpool.Pool) *DataStore {
	return &DataStore{
		pool:            pool,
		profileRepo:     NewProfileRepository(pool),
		cardRepo:        NewCardRepository(pool),
		transactionRepo: NewTransactionRepository(pool),
		outboxRepo:      NewOutboxRepository(pool),
	}
}

// Profiles returns the limit profile repository.
func (ds *DataStore) Profiles() domain.ProfileRepository {
	return ds.profileRepo
}

// Cards returns the card repository.
func (ds *DataStore) Cards() domain.CardRepository {
	return ds.cardRepo
}

// Transactions returns the transaction repository.
func (ds *DataStore) Transactions() domain.TransactionRepository {
	return ds.transactionRepo
}

// Outbox returns the outbox repository.
func (ds *DataStore) Outbox() domain.OutboxRepository {
	return ds.outboxRepo
}

// withTx creates a new DataStore whose repositories share the transaction.
func (ds *DataStore) withTx(tx pgx.Tx) *DataStore {
	return &DataStore{
		pool:            ds.pool,
		profileRepo:     NewProfileRepository(tx),
		cardRepo:        NewCardRepository(tx),
		transactionRepo: NewTransactionRepository(tx),
		outboxRepo:      NewOutboxRepository(tx),
	}
}

// Atomic executes the callback within a database transaction.
// If the callback returns nil, the transaction is committed.
// If the callback returns an error or panics, the transaction is rolled back.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) (err error) {
	start := time.Now()
	tx, err := ds.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
			}
			metrics.RecordTransactionDuration("rollback", time.Since(start))
			return
		}
		if err = tx.Commit(ctx); err != nil {
			err = fmt.Errorf("commit transaction: %w", err)
		}
		metrics.RecordTransactionDuration("commit", time.Since(start))
	}()

	err = fn(ds.withTx(tx))
	return
}

// PoolStats reports connection pool usage to the metrics gauges.
func (ds *DataStore) PoolStats() {
	stat := ds.pool.Stat()
	metrics.RecordPoolStats(stat.AcquiredConns(), stat.IdleConns())
}

// Verify interface implementations.
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
	_ Querier               = (*pgxpool.Pool)(nil)
	_ Querier               = (pgx.Tx)(nil)
)
