package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	vo "cardcrm/internal/common/value_objects"
	"cardcrm/internal/spending/application"
	"cardcrm/internal/spending/domain"
)

// Requests. Amounts accept JSON numbers or numeric strings.

type createProfileRequest struct {
	Name                string              `json:"name"`
	Description         string              `json:"description" validate:"max=500"`
	DailyLimit          decimal.NullDecimal `json:"daily_limit"`
	MonthlyLimit        decimal.NullDecimal `json:"monthly_limit"`
	PerTransactionLimit decimal.NullDecimal `json:"per_transaction_limit"`
	AllowedCategories   []string            `json:"allowed_categories"`
	BlockedCategories   []string            `json:"blocked_categories"`
}

func (r createProfileRequest) toApplication() application.CreateProfileRequest {
	return application.CreateProfileRequest{
		Name:        r.Name,
		Description: r.Description,
		Limits: domain.LimitSet{
			Daily:          r.DailyLimit,
			Monthly:        r.MonthlyLimit,
			PerTransaction: r.PerTransactionLimit,
		},
		AllowedCategories: r.AllowedCategories,
		BlockedCategories: r.BlockedCategories,
	}
}

// updateProfileRequest is a partial update: absent fields are untouched,
// a null limit removes that limit.
type updateProfileRequest struct {
	Name                *string            `json:"name"`
	Description         *string            `json:"description" validate:"omitempty,max=500"`
	DailyLimit          domain.AmountPatch `json:"daily_limit"`
	MonthlyLimit        domain.AmountPatch `json:"monthly_limit"`
	PerTransactionLimit domain.AmountPatch `json:"per_transaction_limit"`
	AllowedCategories   *[]string          `json:"allowed_categories"`
	BlockedCategories   *[]string          `json:"blocked_categories"`
	Active              *bool              `json:"active"`
}

func (r updateProfileRequest) toPatch() domain.ProfilePatch {
	return domain.ProfilePatch{
		Name:        r.Name,
		Description: r.Description,
		Limits: domain.LimitPatch{
			Daily:          r.DailyLimit,
			Monthly:        r.MonthlyLimit,
			PerTransaction: r.PerTransactionLimit,
		},
		AllowedCategories: r.AllowedCategories,
		BlockedCategories: r.BlockedCategories,
		Active:            r.Active,
	}
}

type limitsRequest struct {
	Daily          decimal.NullDecimal `json:"daily"`
	Monthly        decimal.NullDecimal `json:"monthly"`
	PerTransaction decimal.NullDecimal `json:"per_transaction"`
}

type createCardRequest struct {
	CardToken    string         `json:"card_token" validate:"required,max=64"`
	Status       string         `json:"status"`
	ProfileID    *int64         `json:"profile_id" validate:"omitempty,gt=0"`
	CustomLimits *limitsRequest `json:"custom_limits"`
}

type updateCardStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active locked cancelled expired"`
}

func (r createCardRequest) toApplication() application.CreateCardRequest {
	req := application.CreateCardRequest{CardToken: r.CardToken, Status: r.Status}
	if r.ProfileID != nil {
		id := domain.ProfileID(*r.ProfileID)
		req.ProfileID = &id
	}
	if r.CustomLimits != nil {
		req.CustomLimits = &domain.LimitSet{
			Daily:          r.CustomLimits.Daily,
			Monthly:        r.CustomLimits.Monthly,
			PerTransaction: r.CustomLimits.PerTransaction,
		}
	}
	return req
}

// optionalID tells an absent profile_id apart from an explicit null.
type optionalID struct {
	Set   bool
	Value *int64
}

func (o *optionalID) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type limitsPatchRequest struct {
	Daily          domain.AmountPatch `json:"daily"`
	Monthly        domain.AmountPatch `json:"monthly"`
	PerTransaction domain.AmountPatch `json:"per_transaction"`
}

type updateCardLimitsRequest struct {
	ProfileID    optionalID          `json:"profile_id"`
	CustomLimits *limitsPatchRequest `json:"custom_limits"`
}

func (r updateCardLimitsRequest) toApplication() (application.UpdateCardLimitsRequest, error) {
	var req application.UpdateCardLimitsRequest
	if r.ProfileID.Set {
		if r.ProfileID.Value == nil {
			req.ClearProfile = true
		} else {
			if *r.ProfileID.Value <= 0 {
				return req, domain.NewValidationError([]domain.Violation{{
					Field:   "profile_id",
					Message: "profile_id must be a positive integer",
				}})
			}
			id := domain.ProfileID(*r.ProfileID.Value)
			req.ProfileID = &id
		}
	}
	if r.CustomLimits != nil {
		req.CustomLimits = &domain.LimitPatch{
			Daily:          r.CustomLimits.Daily,
			Monthly:        r.CustomLimits.Monthly,
			PerTransaction: r.CustomLimits.PerTransaction,
		}
	}
	return req, nil
}

type recordTransactionRequest struct {
	Token            string          `json:"token" validate:"required,max=64"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency" validate:"required,len=3"`
	MerchantName     string          `json:"merchant_name" validate:"max=255"`
	MerchantCategory string          `json:"merchant_category"`
	Status           string          `json:"status"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

func (r recordTransactionRequest) toApplication() (application.RecordTransactionRequest, error) {
	var violations []domain.Violation

	currency, err := vo.ParseCurrency(r.Currency)
	if err != nil {
		violations = append(violations, domain.Violation{Field: "currency", Message: err.Error()})
	}
	if _, err := vo.ToMinorUnits(r.Amount); err != nil {
		violations = append(violations, domain.Violation{Field: "amount", Message: err.Error()})
	}
	var status domain.TransactionStatus
	if r.Status != "" {
		if status, err = domain.ParseTransactionStatus(r.Status); err != nil {
			violations = append(violations, domain.Violation{Field: "status", Message: err.Error()})
		}
	}
	if err := domain.NewValidationError(violations); err != nil {
		return application.RecordTransactionRequest{}, err
	}

	return application.RecordTransactionRequest{
		Token:            r.Token,
		Amount:           vo.New(r.Amount, currency),
		MerchantName:     r.MerchantName,
		MerchantCategory: r.MerchantCategory,
		Status:           status,
		OccurredAt:       r.OccurredAt,
	}, nil
}

// Responses. Amounts are strings with two decimals; absent limits are null.

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(vo.MinorUnitScale)
}

func formatLimit(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := formatAmount(d.Decimal)
	return &s
}

func optionalHandle(h domain.RuleHandle) *string {
	if h.IsEmpty() {
		return nil
	}
	s := h.String()
	return &s
}

type profileResponse struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Description         string    `json:"description"`
	DailyLimit          *string   `json:"daily_limit"`
	MonthlyLimit        *string   `json:"monthly_limit"`
	PerTransactionLimit *string   `json:"per_transaction_limit"`
	AllowedCategories   []string  `json:"allowed_categories"`
	BlockedCategories   []string  `json:"blocked_categories"`
	Active              bool      `json:"active"`
	AuthRuleToken       *string   `json:"auth_rule_token"`
	AttachedCardsCount  int       `json:"attached_cards_count"`
	Version             int       `json:"version"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func newProfileResponse(p *domain.LimitProfile, attached int) profileResponse {
	l := p.Limits()
	return profileResponse{
		ID:                  int64(p.ID()),
		Name:                p.Name(),
		Description:         p.Description(),
		DailyLimit:          formatLimit(l.Daily),
		MonthlyLimit:        formatLimit(l.Monthly),
		PerTransactionLimit: formatLimit(l.PerTransaction),
		AllowedCategories:   nonNil(p.AllowedCategories()),
		BlockedCategories:   nonNil(p.BlockedCategories()),
		Active:              p.Active(),
		AuthRuleToken:       optionalHandle(p.RuleHandle()),
		AttachedCardsCount:  attached,
		Version:             p.Version(),
		CreatedAt:           p.CreatedAt(),
		UpdatedAt:           p.UpdatedAt(),
	}
}

type listProfilesResponse struct {
	Profiles []profileResponse `json:"profiles"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type limitsResponse struct {
	Daily          *string `json:"daily"`
	Monthly        *string `json:"monthly"`
	PerTransaction *string `json:"per_transaction"`
}

type effectiveLimitsResponse struct {
	Daily          *string `json:"daily"`
	Monthly        *string `json:"monthly"`
	PerTransaction *string `json:"per_transaction"`
	Source         string  `json:"source"`
	ProfileID      *int64  `json:"profile_id"`
	ProfileName    string  `json:"profile_name,omitempty"`
}

func newEffectiveLimitsResponse(e domain.EffectiveLimits) effectiveLimitsResponse {
	resp := effectiveLimitsResponse{
		Daily:          formatLimit(e.Daily),
		Monthly:        formatLimit(e.Monthly),
		PerTransaction: formatLimit(e.PerTransaction),
		Source:         string(e.Source),
		ProfileName:    e.ProfileName,
	}
	if !e.ProfileID.IsZero() {
		id := int64(e.ProfileID)
		resp.ProfileID = &id
	}
	return resp
}

type cardSummaryResponse struct {
	ID            int64           `json:"id"`
	CardToken     string          `json:"card_token"`
	Status        string          `json:"status"`
	ProfileID     *int64          `json:"profile_id"`
	CustomLimits  *limitsResponse `json:"custom_limits"`
	AuthRuleToken *string         `json:"auth_rule_token"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newCardSummaryResponse(c *domain.Card) cardSummaryResponse {
	resp := cardSummaryResponse{
		ID:            int64(c.ID()),
		CardToken:     c.CardToken(),
		Status:        string(c.Status()),
		AuthRuleToken: optionalHandle(c.RuleHandle()),
		Version:       c.Version(),
		CreatedAt:     c.CreatedAt(),
		UpdatedAt:     c.UpdatedAt(),
	}
	if id, ok := c.ProfileID(); ok {
		v := int64(id)
		resp.ProfileID = &v
	}
	if l, ok := c.CustomLimits(); ok {
		resp.CustomLimits = &limitsResponse{
			Daily:          formatLimit(l.Daily),
			Monthly:        formatLimit(l.Monthly),
			PerTransaction: formatLimit(l.PerTransaction),
		}
	}
	return resp
}

type cardResponse struct {
	cardSummaryResponse
	EffectiveLimits effectiveLimitsResponse `json:"effective_limits"`
}

func newCardResponse(v *application.CardView) cardResponse {
	return cardResponse{
		cardSummaryResponse: newCardSummaryResponse(v.Card),
		EffectiveLimits:     newEffectiveLimitsResponse(v.Effective),
	}
}

type spendingResponse struct {
	Daily        string `json:"daily"`
	Monthly      string `json:"monthly"`
	DailyCount   int    `json:"daily_transaction_count"`
	MonthlyCount int    `json:"monthly_transaction_count"`
}

type remainingResponse struct {
	Daily   *string `json:"daily"`
	Monthly *string `json:"monthly"`
}

type cardLimitsResponse struct {
	CardID          int64                   `json:"card_id"`
	EffectiveLimits effectiveLimitsResponse `json:"effective_limits"`
	CurrentSpending spendingResponse        `json:"current_spending"`
	RemainingLimits remainingResponse       `json:"remaining_limits"`
}

func newCardLimitsResponse(s *application.CardLimitsSummary) cardLimitsResponse {
	return cardLimitsResponse{
		CardID:          int64(s.Card.ID()),
		EffectiveLimits: newEffectiveLimitsResponse(s.Effective),
		CurrentSpending: spendingResponse{
			Daily:        formatAmount(s.DailySpend.Total),
			Monthly:      formatAmount(s.MonthlySpend.Total),
			DailyCount:   s.DailySpend.Count,
			MonthlyCount: s.MonthlySpend.Count,
		},
		RemainingLimits: remainingResponse{
			Daily:   formatLimit(s.Remaining.Daily),
			Monthly: formatLimit(s.Remaining.Monthly),
		},
	}
}

type transactionResponse struct {
	ID               int64     `json:"id"`
	CardID           int64     `json:"card_id"`
	Token            string    `json:"token"`
	Amount           string    `json:"amount"`
	Currency         string    `json:"currency"`
	MerchantName     string    `json:"merchant_name"`
	MerchantCategory string    `json:"merchant_category"`
	Status           string    `json:"status"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func newTransactionResponse(t *domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:               int64(t.ID()),
		CardID:           int64(t.CardID()),
		Token:            t.ExternalToken(),
		Amount:           formatAmount(t.Amount().Amount),
		Currency:         t.Amount().Currency.String(),
		MerchantName:     t.MerchantName(),
		MerchantCategory: t.MerchantCategory(),
		Status:           string(t.Status()),
		OccurredAt:       t.OccurredAt(),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
