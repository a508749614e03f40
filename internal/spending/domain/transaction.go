package domain

import (
	"fmt"
	"strings"
	"time"

	vo "cardcrm/internal/common/value_objects"
)

// TransactionStatus follows the issuer's transaction lifecycle.
type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "pending"
	TransactionSettled  TransactionStatus = "settled"
	TransactionDeclined TransactionStatus = "declined"
	TransactionExpired  TransactionStatus = "expired"
)

// CountsTowardSpend reports whether the status consumes limit headroom.
func (s TransactionStatus) CountsTowardSpend() bool {
	return s == TransactionPending || s == TransactionSettled
}

// SpendStatuses are the statuses summed by spend queries.
var SpendStatuses = []TransactionStatus{TransactionPending, TransactionSettled}

// ParseTransactionStatus validates a status string.
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch st := TransactionStatus(strings.ToLower(s)); st {
	case TransactionPending, TransactionSettled, TransactionDeclined, TransactionExpired:
		return st, nil
	default:
		return "", fmt.Errorf("unknown transaction status %q", s)
	}
}

// Transaction is a card transaction reported by the issuer.
type Transaction struct {
	id               TransactionID
	cardID           CardID
	externalToken    string
	amount           vo.Money
	merchantName     string
	merchantCategory string
	status           TransactionStatus
	occurredAt       time.Time
}

// TransactionParams carries the fields of an ingested transaction.
type TransactionParams struct {
	CardID           CardID
	ExternalToken    string
	Amount           vo.Money
	MerchantName     string
	MerchantCategory string
	Status           TransactionStatus
	OccurredAt       time.Time
}

// NewTransaction validates params against the settlement currency.
func NewTransaction(params TransactionParams, settlement vo.Currency) (*Transaction, error) {
	if params.Amount.Currency != settlement {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrCurrencyMismatch, params.Amount.Currency, settlement)
	}

	var violations []Violation
	if strings.TrimSpace(params.ExternalToken) == "" {
		violations = append(violations, Violation{Field: "token", Message: "token is required"})
	}
	if !params.Amount.Amount.IsPositive() {
		violations = append(violations, Violation{Field: "amount", Message: "amount must be positive"})
	}
	if params.MerchantCategory != "" && !mccPattern.MatchString(params.MerchantCategory) {
		violations = append(violations, Violation{Field: "merchant_category", Message: "invalid merchant category code " + params.MerchantCategory})
	}
	if params.OccurredAt.IsZero() {
		violations = append(violations, Violation{Field: "occurred_at", Message: "occurred_at is required"})
	}
	if err := NewValidationError(violations); err != nil {
		return nil, err
	}

	status := params.Status
	if status == "" {
		status = TransactionPending
	}

	return &Transaction{
		cardID:           params.CardID,
		externalToken:    params.ExternalToken,
		amount:           params.Amount,
		merchantName:     params.MerchantName,
		merchantCategory: params.MerchantCategory,
		status:           status,
		occurredAt:       params.OccurredAt,
	}, nil
}

// AssignID is called by repositories once the store has allocated an ID.
func (t *Transaction) AssignID(id TransactionID) {
	t.id = id
}

// Getters

func (t *Transaction) ID() TransactionID         { return t.id }
func (t *Transaction) CardID() CardID            { return t.cardID }
func (t *Transaction) ExternalToken() string     { return t.externalToken }
func (t *Transaction) Amount() vo.Money          { return t.amount }
func (t *Transaction) MerchantName() string      { return t.merchantName }
func (t *Transaction) MerchantCategory() string  { return t.merchantCategory }
func (t *Transaction) Status() TransactionStatus { return t.status }
func (t *Transaction) OccurredAt() time.Time     { return t.occurredAt }
