package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"cardcrm/internal/common/metrics"
	"cardcrm/internal/spending/domain"
)

const profileColumns = `id, name, description,
	daily_limit, monthly_limit, per_transaction_limit,
	allowed_categories, blocked_categories, active,
	auth_rule_token, version, created_at, updated_at`

// ProfileRepository implements domain.ProfileRepository using PostgreSQL.
type ProfileRepository struct {
	db Querier
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(db Querier) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create inserts a profile and assigns the generated ID.
func (r *ProfileRepository) Create(ctx context.Context, p *domain.LimitProfile) error {
	l := p.Limits()
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO spending.limit_profiles (
			name, description,
			daily_limit, monthly_limit, per_transaction_limit,
			allowed_categories, blocked_categories, active,
			auth_rule_token, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		p.Name(), p.Description(),
		l.Daily, l.Monthly, l.PerTransaction,
		p.AllowedCategories(), p.BlockedCategories(), p.Active(),
		nullableString(p.RuleHandle().String()), p.Version(), p.CreatedAt(), p.UpdatedAt(),
	).Scan(&id)
	if err != nil {
		return translate(err)
	}
	p.AssignID(domain.ProfileID(id))
	return nil
}

// Save updates a profile using the version column for optimistic locking.
// The entity's version is expected to be one ahead of the stored row.
func (r *ProfileRepository) Save(ctx context.Context, p *domain.LimitProfile) error {
	l := p.Limits()
	tag, err := r.db.Exec(ctx, `
		UPDATE spending.limit_profiles
		SET name = $1,
			description = $2,
			daily_limit = $3,
			monthly_limit = $4,
			per_transaction_limit = $5,
			allowed_categories = $6,
			blocked_categories = $7,
			active = $8,
			version = $9,
			updated_at = $10
		WHERE id = $11 AND version = $12`,
		p.Name(), p.Description(),
		l.Daily, l.Monthly, l.PerTransaction,
		p.AllowedCategories(), p.BlockedCategories(), p.Active(),
		p.Version(), p.UpdatedAt(),
		int64(p.ID()), p.Version()-1,
	)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, p.ID()); err != nil {
			return err
		}
		metrics.RecordOptimisticLockConflict("limit_profiles")
		return domain.ErrOptimisticLock
	}
	return nil
}

// SetRuleHandle stores the issuer rule handle and bumps the version.
func (r *ProfileRepository) SetRuleHandle(ctx context.Context, id domain.ProfileID, handle domain.RuleHandle) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE spending.limit_profiles
		SET auth_rule_token = $1, version = version + 1
		WHERE id = $2`,
		nullableString(handle.String()), int64(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ProfileNotFound(id)
	}
	return nil
}

// FindByID retrieves a profile by ID.
func (r *ProfileRepository) FindByID(ctx context.Context, id domain.ProfileID) (*domain.LimitProfile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM spending.limit_profiles WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ProfileNotFound(id)
	}
	return p, err
}

// FindByName retrieves a profile by its unique name.
func (r *ProfileRepository) FindByName(ctx context.Context, name string) (*domain.LimitProfile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM spending.limit_profiles WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "limit profile", ID: name}
	}
	return p, err
}

// List returns one page of profiles ordered by name, with attached card
// counts, and the total number of matching rows.
func (r *ProfileRepository) List(ctx context.Context, filter domain.ProfileFilter) ([]domain.ProfileSummary, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM spending.limit_profiles
		WHERE $1::boolean IS NULL OR active = $1`,
		filter.Active,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+profileColumns+`,
			(SELECT COUNT(*) FROM spending.cards c WHERE c.profile_id = p.id) AS attached_cards
		FROM spending.limit_profiles p
		WHERE $1::boolean IS NULL OR active = $1
		ORDER BY name
		LIMIT $2 OFFSET $3`,
		filter.Active, limit, filter.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	page := make([]domain.ProfileSummary, 0)
	for rows.Next() {
		var attached int
		p, err := scanProfile(rows, &attached)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, domain.ProfileSummary{Profile: p, AttachedCards: attached})
	}
	return page, total, rows.Err()
}

// Delete removes a profile. The foreign key on cards refuses the delete
// while cards still reference it.
func (r *ProfileRepository) Delete(ctx context.Context, id domain.ProfileID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM spending.limit_profiles WHERE id = $1`, int64(id))
	if isForeignKeyViolation(err) {
		return domain.NewConflict(domain.ReasonProfileHasCards)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ProfileNotFound(id)
	}
	return nil
}

func scanProfile(row pgx.Row, extra ...any) (*domain.LimitProfile, error) {
	var (
		id          int64
		name        string
		description string
		limits      domain.LimitSet
		allowed     []string
		blocked     []string
		active      bool
		ruleToken   *string
		version     int
		createdAt   time.Time
		updatedAt   time.Time
	)
	dest := append([]any{
		&id, &name, &description,
		&limits.Daily, &limits.Monthly, &limits.PerTransaction,
		&allowed, &blocked, &active,
		&ruleToken, &version, &createdAt, &updatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if !limitsWellFormed(limits) {
		return nil, fmt.Errorf("%w: limit profile %d has a negative limit", domain.ErrCorruptData, id)
	}

	return domain.ReconstructLimitProfile(
		domain.ProfileID(id), name, description, limits, allowed, blocked, active,
		domain.RuleHandle(derefString(ruleToken)), version, createdAt, updatedAt,
	), nil
}

func limitsWellFormed(l domain.LimitSet) bool {
	for _, v := range []decimal.NullDecimal{l.Daily, l.Monthly, l.PerTransaction} {
		if v.Valid && v.Decimal.IsNegative() {
			return false
		}
	}
	return true
}

// Verify interface implementation.
var _ domain.ProfileRepository = (*ProfileRepository)(nil)
