package application

import (
	"context"
	"time"

	"cardcrm/internal/common/logging"
	vo "cardcrm/internal/common/value_objects"
	"cardcrm/internal/spending/domain"
)

// Store is what the service needs from a datastore: atomic units of work plus
// direct repository access for reads.
type Store interface {
	domain.AtomicExecutor
	domain.Repositories
}

// ProfileCache is a ProfileReader that can drop stale entries.
type ProfileCache interface {
	domain.ProfileReader
	Invalidate(ctx context.Context, id domain.ProfileID)
}

// LimitsService coordinates limit configuration changes. Local writes of one
// operation run in a single Atomic callback; issuer calls happen only after
// that commit and never undo it.
type LimitsService struct {
	store      Store
	sync       *AuthRuleSynchronizer
	profiles   ProfileCache
	resolver   *LimitResolver
	aggregator *SpendAggregator
	settlement vo.Currency
	loc        *time.Location
	now        func() time.Time
}

// Option configures a LimitsService.
type Option func(*LimitsService)

// WithProfileCache puts a cache in front of profile reads on the resolve path.
func WithProfileCache(c ProfileCache) Option {
	return func(s *LimitsService) { s.profiles = c }
}

// WithLocation sets the location used for calendar spend windows.
func WithLocation(loc *time.Location) Option {
	return func(s *LimitsService) { s.loc = loc }
}

// WithSettlementCurrency sets the only currency accepted for transactions.
func WithSettlementCurrency(c vo.Currency) Option {
	return func(s *LimitsService) { s.settlement = c }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *LimitsService) { s.now = now }
}

// NewLimitsService wires the service. platform is the card issuer's rule API.
func NewLimitsService(store Store, platform domain.RulePlatform, opts ...Option) *LimitsService {
	s := &LimitsService{
		store:      store,
		sync:       NewAuthRuleSynchronizer(platform),
		profiles:   uncachedProfiles{store.Profiles()},
		settlement: vo.CurrencyUSD,
		loc:        time.Local,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewLimitResolver(s.profiles)
	s.aggregator = NewSpendAggregator(store.Transactions(), s.loc)
	return s
}

type uncachedProfiles struct {
	domain.ProfileReader
}

func (uncachedProfiles) Invalidate(context.Context, domain.ProfileID) {}

func (s *LimitsService) appendEvent(ctx context.Context, repos domain.Repositories, entry *domain.OutboxEntry, err error) error {
	if err != nil {
		return err
	}
	return repos.Outbox().Append(ctx, entry)
}

func correlationID(ctx context.Context) vo.CorrelationID {
	return logging.CorrelationIDFromContext(ctx)
}
