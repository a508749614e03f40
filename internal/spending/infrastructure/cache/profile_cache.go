package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"cardcrm/internal/common/logging"
	"cardcrm/internal/common/metrics"
	"cardcrm/internal/spending/domain"
)

const keyPrefix = "cardcrm:limit_profile:"

// ProfileCache is a read-through Redis cache in front of a ProfileReader.
// It fails safe: any Redis error behaves like a miss and reads go to the
// underlying store. A nil client disables caching.
//
// A failed Invalidate leaves the entry in Redis. This process then bypasses
// the cache for that profile until a retried delete succeeds or the entry
// would have expired anyway. Other instances still see the old entry for at
// most ttl.
type ProfileCache struct {
	client *redis.Client
	next   domain.ProfileReader
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	stale map[domain.ProfileID]time.Time
}

// NewProfileCache wraps next with a cache whose entries live for ttl.
func NewProfileCache(client *redis.Client, next domain.ProfileReader, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		client: client,
		next:   next,
		ttl:    ttl,
		now:    time.Now,
		stale:  make(map[domain.ProfileID]time.Time),
	}
}

type profileSnapshot struct {
	ID                int64               `json:"id"`
	Name              string              `json:"name"`
	Description       string              `json:"description"`
	Daily             decimal.NullDecimal `json:"daily"`
	Monthly           decimal.NullDecimal `json:"monthly"`
	PerTransaction    decimal.NullDecimal `json:"per_transaction"`
	AllowedCategories []string            `json:"allowed_categories"`
	BlockedCategories []string            `json:"blocked_categories"`
	Active            bool                `json:"active"`
	RuleHandle        string              `json:"rule_handle"`
	Version           int                 `json:"version"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

func snapshotOf(p *domain.LimitProfile) profileSnapshot {
	l := p.Limits()
	return profileSnapshot{
		ID:                int64(p.ID()),
		Name:              p.Name(),
		Description:       p.Description(),
		Daily:             l.Daily,
		Monthly:           l.Monthly,
		PerTransaction:    l.PerTransaction,
		AllowedCategories: p.AllowedCategories(),
		BlockedCategories: p.BlockedCategories(),
		Active:            p.Active(),
		RuleHandle:        p.RuleHandle().String(),
		Version:           p.Version(),
		CreatedAt:         p.CreatedAt(),
		UpdatedAt:         p.UpdatedAt(),
	}
}

func (s profileSnapshot) profile() *domain.LimitProfile {
	return domain.ReconstructLimitProfile(
		domain.ProfileID(s.ID), s.Name, s.Description,
		domain.LimitSet{Daily: s.Daily, Monthly: s.Monthly, PerTransaction: s.PerTransaction},
		s.AllowedCategories, s.BlockedCategories, s.Active,
		domain.RuleHandle(s.RuleHandle), s.Version, s.CreatedAt, s.UpdatedAt,
	)
}

func key(id domain.ProfileID) string {
	return keyPrefix + id.String()
}

// FindByID returns the cached profile or loads and caches it.
// Not-found results are not cached.
func (c *ProfileCache) FindByID(ctx context.Context, id domain.ProfileID) (*domain.LimitProfile, error) {
	if c.client == nil || c.bypass(ctx, id) {
		return c.next.FindByID(ctx, id)
	}

	if p, ok := c.get(ctx, id); ok {
		metrics.RecordProfileCacheLookup("hit")
		return p, nil
	}

	p, err := c.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, p)
	return p, nil
}

func (c *ProfileCache) get(ctx context.Context, id domain.ProfileID) (*domain.LimitProfile, bool) {
	raw, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordProfileCacheLookup("miss")
		return nil, false
	}
	if err != nil {
		metrics.RecordProfileCacheLookup("error")
		logging.DebugContext(ctx, "profile cache unavailable", "error", err)
		return nil, false
	}

	var snap profileSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil || snap.ID != int64(id) {
		metrics.RecordProfileCacheLookup("error")
		logging.WarnContext(ctx, "discarding unreadable profile cache entry", "profile_id", id.String())
		return nil, false
	}
	return snap.profile(), true
}

func (c *ProfileCache) set(ctx context.Context, p *domain.LimitProfile) {
	raw, err := json.Marshal(snapshotOf(p))
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(p.ID()), raw, c.ttl).Err(); err != nil {
		logging.DebugContext(ctx, "profile cache write failed", "error", err)
	}
}

// Invalidate drops the cached entry. When Redis refuses the delete the
// profile is marked stale and the delete is retried on the next read.
func (c *ProfileCache) Invalidate(ctx context.Context, id domain.ProfileID) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		logging.WarnContext(ctx, "profile cache invalidation failed", "profile_id", id.String(), "error", err)
		c.mu.Lock()
		c.stale[id] = c.now().Add(c.ttl)
		c.mu.Unlock()
	}
}

// bypass reports whether reads for id must skip Redis because an earlier
// invalidation has not landed yet.
func (c *ProfileCache) bypass(ctx context.Context, id domain.ProfileID) bool {
	c.mu.Lock()
	until, ok := c.stale[id]
	c.mu.Unlock()
	if !ok {
		return false
	}

	if c.now().Before(until) {
		if err := c.client.Del(ctx, key(id)).Err(); err != nil {
			metrics.RecordProfileCacheLookup("bypass")
			return true
		}
	}

	c.mu.Lock()
	if c.stale[id] == until {
		delete(c.stale, id)
	}
	c.mu.Unlock()
	return false
}
