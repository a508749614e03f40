package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"cardcrm/internal/spending/domain"
)

// DataStore implements domain.AtomicExecutor and domain.Repositories in memory.
// Atomic runs the callback against a private copy of the state and swaps it in
// on success, so a failed callback leaves nothing behind. Entities are cloned
// on the way in and out; callers never share pointers with the store.
// Concurrency: all access is guarded by a single mutex.
type DataStore struct {
	mu    sync.Mutex
	state *state
	seq   sequences
}

type state struct {
	profiles     map[domain.ProfileID]*domain.LimitProfile
	cards        map[domain.CardID]*domain.Card
	transactions []*domain.Transaction
	outbox       []*domain.OutboxEntry
}

// sequences hand out IDs like database sequences do: values consumed by a
// rolled-back transaction are not reused.
type sequences struct {
	profile, card, transaction int64
}

// NewDataStore creates a new, empty in-memory DataStore.
func NewDataStore() *DataStore {
	return &DataStore{
		state: &state{
			profiles: make(map[domain.ProfileID]*domain.LimitProfile),
			cards:    make(map[domain.CardID]*domain.Card),
		},
	}
}

func (s *state) clone() *state {
	outbox := make([]*domain.OutboxEntry, len(s.outbox))
	for i, e := range s.outbox {
		c := *e
		outbox[i] = &c
	}
	return &state{
		profiles:     maps.Clone(s.profiles),
		cards:        maps.Clone(s.cards),
		transactions: slices.Clone(s.transactions),
		outbox:       outbox,
	}
}

// scope routes repository calls either to a transaction's private state
// (lock already held by Atomic) or to the committed state under the lock.
type scope struct {
	ds *DataStore
	tx *state
}

func (sc scope) run(fn func(st *state) error) error {
	if sc.tx != nil {
		return fn(sc.tx)
	}
	sc.ds.mu.Lock()
	defer sc.ds.mu.Unlock()
	return fn(sc.ds.state)
}

// Profiles returns a non-transactional profile repository.
func (ds *DataStore) Profiles() domain.ProfileRepository {
	return &ProfileRepository{scope: scope{ds: ds}}
}

// Cards returns a non-transactional card repository.
func (ds *DataStore) Cards() domain.CardRepository {
	return &CardRepository{scope: scope{ds: ds}}
}

// Transactions returns a non-transactional transaction repository.
func (ds *DataStore) Transactions() domain.TransactionRepository {
	return &TransactionRepository{scope: scope{ds: ds}}
}

// Outbox returns a non-transactional outbox repository.
func (ds *DataStore) Outbox() domain.OutboxRepository {
	return &OutboxRepository{scope: scope{ds: ds}}
}

// Atomic executes the callback atomically.
// Concurrency: the store is locked for the duration of the callback.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	tx := &txRepositories{scope: scope{ds: ds, tx: ds.state.clone()}}
	if err := fn(tx); err != nil {
		return err
	}

	ds.state = tx.scope.tx
	return nil
}

type txRepositories struct {
	scope scope
}

func (r *txRepositories) Profiles() domain.ProfileRepository {
	return &ProfileRepository{scope: r.scope}
}

func (r *txRepositories) Cards() domain.CardRepository {
	return &CardRepository{scope: r.scope}
}

func (r *txRepositories) Transactions() domain.TransactionRepository {
	return &TransactionRepository{scope: r.scope}
}

func (r *txRepositories) Outbox() domain.OutboxRepository {
	return &OutboxRepository{scope: r.scope}
}

// Verify interface implementations
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
	_ domain.Repositories   = (*txRepositories)(nil)
)
