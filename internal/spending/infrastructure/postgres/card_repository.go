package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"cardcrm/internal/common/metrics"
	"cardcrm/internal/spending/domain"
)

const cardColumns = `id, card_token, status, profile_id,
	custom_daily_limit, custom_monthly_limit, custom_per_transaction_limit,
	auth_rule_token, version, created_at, updated_at`

// CardRepository implements domain.CardRepository using PostgreSQL.
// The limit source is stored as either profile_id or the custom_* columns;
// a CHECK constraint keeps exactly one of them populated.
type CardRepository struct {
	db Querier
}

// NewCardRepository creates a new CardRepository.
func NewCardRepository(db Querier) *CardRepository {
	return &CardRepository{db: db}
}

type cardSourceColumns struct {
	profileID *int64
	custom    domain.LimitSet
}

func sourceColumns(c *domain.Card) cardSourceColumns {
	var cols cardSourceColumns
	if id, ok := c.ProfileID(); ok {
		v := int64(id)
		cols.profileID = &v
	}
	if limits, ok := c.CustomLimits(); ok {
		cols.custom = limits
	}
	return cols
}

// Create inserts a card and assigns the generated ID.
func (r *CardRepository) Create(ctx context.Context, c *domain.Card) error {
	cols := sourceColumns(c)
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO spending.cards (
			card_token, status, profile_id,
			custom_daily_limit, custom_monthly_limit, custom_per_transaction_limit,
			auth_rule_token, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		c.CardToken(), string(c.Status()), cols.profileID,
		cols.custom.Daily, cols.custom.Monthly, cols.custom.PerTransaction,
		nullableString(c.RuleHandle().String()), c.Version(), c.CreatedAt(), c.UpdatedAt(),
	).Scan(&id)
	if err != nil {
		return r.writeError(c, err)
	}
	c.AssignID(domain.CardID(id))
	return nil
}

// Save updates a card using the version column for optimistic locking.
func (r *CardRepository) Save(ctx context.Context, c *domain.Card) error {
	cols := sourceColumns(c)
	tag, err := r.db.Exec(ctx, `
		UPDATE spending.cards
		SET status = $1,
			profile_id = $2,
			custom_daily_limit = $3,
			custom_monthly_limit = $4,
			custom_per_transaction_limit = $5,
			auth_rule_token = $6,
			version = $7,
			updated_at = $8
		WHERE id = $9 AND version = $10`,
		string(c.Status()), cols.profileID,
		cols.custom.Daily, cols.custom.Monthly, cols.custom.PerTransaction,
		nullableString(c.RuleHandle().String()), c.Version(), c.UpdatedAt(),
		int64(c.ID()), c.Version()-1,
	)
	if err != nil {
		return r.writeError(c, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, c.ID()); err != nil {
			return err
		}
		metrics.RecordOptimisticLockConflict("cards")
		return domain.ErrOptimisticLock
	}
	return nil
}

func (r *CardRepository) writeError(c *domain.Card, err error) error {
	if isForeignKeyViolation(err) {
		id, _ := c.ProfileID()
		return domain.ProfileNotFound(id)
	}
	return translate(err)
}

// SetRuleHandle stores the card's own rule handle and bumps the version. The
// write only lands while the card is unbound and still at version.
func (r *CardRepository) SetRuleHandle(ctx context.Context, id domain.CardID, handle domain.RuleHandle, version int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE spending.cards
		SET auth_rule_token = $1, version = version + 1
		WHERE id = $2 AND version = $3 AND profile_id IS NULL`,
		nullableString(handle.String()), int64(id), version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		metrics.RecordOptimisticLockConflict("cards")
		return domain.ErrOptimisticLock
	}
	return nil
}

// FindByID retrieves a card by ID.
func (r *CardRepository) FindByID(ctx context.Context, id domain.CardID) (*domain.Card, error) {
	c, err := scanCard(r.db.QueryRow(ctx,
		`SELECT `+cardColumns+` FROM spending.cards WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.CardNotFound(id)
	}
	return c, err
}

// CountByProfile counts the cards bound to a profile.
func (r *CardRepository) CountByProfile(ctx context.Context, id domain.ProfileID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM spending.cards WHERE profile_id = $1`, int64(id)).Scan(&n)
	return n, err
}

// ListByProfile returns the cards bound to a profile ordered by ID.
func (r *CardRepository) ListByProfile(ctx context.Context, id domain.ProfileID) ([]*domain.Card, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+cardColumns+` FROM spending.cards WHERE profile_id = $1 ORDER BY id`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cards := make([]*domain.Card, 0)
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func scanCard(row pgx.Row) (*domain.Card, error) {
	var (
		id        int64
		token     string
		status    string
		profileID *int64
		custom    domain.LimitSet
		ruleToken *string
		version   int
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(
		&id, &token, &status, &profileID,
		&custom.Daily, &custom.Monthly, &custom.PerTransaction,
		&ruleToken, &version, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	cardStatus, err := domain.ParseCardStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: card %d: %v", domain.ErrCorruptData, id, err)
	}

	var source domain.LimitSource
	switch {
	case profileID != nil && custom.IsEmpty():
		source = domain.ProfileSource{ProfileID: domain.ProfileID(*profileID)}
	case profileID == nil && !custom.IsEmpty():
		source = domain.CustomSource{Limits: custom}
	default:
		return nil, fmt.Errorf("%w: card %d must have exactly one limit source", domain.ErrCorruptData, id)
	}

	return domain.ReconstructCard(
		domain.CardID(id), token, cardStatus, source,
		domain.RuleHandle(derefString(ruleToken)), version, createdAt, updatedAt,
	), nil
}

// Verify interface implementation.
var _ domain.CardRepository = (*CardRepository)(nil)
