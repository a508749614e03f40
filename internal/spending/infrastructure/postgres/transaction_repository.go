package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cardcrm/internal/spending/domain"
)

// TransactionRepository implements domain.TransactionRepository using PostgreSQL.
type TransactionRepository struct {
	db Querier
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(db Querier) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a transaction and assigns the generated ID.
func (r *TransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO spending.transactions (
			card_id, token, amount, currency,
			merchant_name, merchant_category, status, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		int64(t.CardID()), t.ExternalToken(), t.Amount().Amount, t.Amount().Currency.String(),
		t.MerchantName(), t.MerchantCategory(), string(t.Status()), t.OccurredAt(),
	).Scan(&id)
	if isForeignKeyViolation(err) {
		return domain.CardNotFound(t.CardID())
	}
	if err != nil {
		return translate(err)
	}
	t.AssignID(domain.TransactionID(id))
	return nil
}

// SumSpend totals pending and settled transactions of a card in [from, to).
func (r *TransactionRepository) SumSpend(ctx context.Context, cardID domain.CardID, from, to time.Time) (domain.SpendTotal, error) {
	statuses := make([]string, len(domain.SpendStatuses))
	for i, s := range domain.SpendStatuses {
		statuses[i] = string(s)
	}

	var total domain.SpendTotal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM spending.transactions
		WHERE card_id = $1
			AND status = ANY($2)
			AND occurred_at >= $3
			AND occurred_at < $4`,
		int64(cardID), statuses, from, to,
	).Scan(&total.Total, &total.Count)
	if err != nil {
		return domain.SpendTotal{Total: decimal.Zero}, err
	}
	return total, nil
}

// Verify interface implementation.
var _ domain.TransactionRepository = (*TransactionRepository)(nil)
