package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"cardcrm/internal/spending/domain"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var uniqueReasons = map[string]string{
	"uq_limit_profiles_name": domain.ReasonDuplicateProfileName,
	"uq_cards_card_token":    domain.ReasonDuplicateCardToken,
	"uq_transactions_token":  domain.ReasonDuplicateTransaction,
}

// translate maps unique violations onto conflicts. Other errors pass through
// unchanged.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	if reason, ok := uniqueReasons[pgErr.ConstraintName]; ok {
		return domain.NewConflict(reason)
	}
	return domain.NewConflict(pgErr.ConstraintName)
}

// Postgres reports foreign key failures against the referencing table in both
// directions, so callers decide what the violation means.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
