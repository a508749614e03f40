package spending

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"

	vo "cardcrm/internal/common/value_objects"
	"cardcrm/internal/spending/application"
	"cardcrm/internal/spending/domain"
	"cardcrm/internal/spending/infrastructure/issuer"
	"cardcrm/internal/spending/infrastructure/memory"
)

var errIssuerDown = errors.New("issuer unreachable")

// flakyIssuer wraps the stub issuer so scenarios can take it offline.
type flakyIssuer struct {
	*issuer.Stub
	mu    sync.Mutex
	down  bool
	calls int
}

func (f *flakyIssuer) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyIssuer) call() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return errIssuerDown
	}
	return nil
}

func (f *flakyIssuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyIssuer) CreateRule(ctx context.Context, spec domain.RuleSpec) (domain.RuleHandle, error) {
	if err := f.call(); err != nil {
		return "", err
	}
	return f.Stub.CreateRule(ctx, spec)
}

func (f *flakyIssuer) UpdateRule(ctx context.Context, h domain.RuleHandle, spec domain.RuleSpec) (domain.RuleHandle, error) {
	if err := f.call(); err != nil {
		return "", err
	}
	return f.Stub.UpdateRule(ctx, h, spec)
}

func (f *flakyIssuer) DeleteRule(ctx context.Context, h domain.RuleHandle) error {
	if err := f.call(); err != nil {
		return err
	}
	return f.Stub.DeleteRule(ctx, h)
}

func (f *flakyIssuer) AttachRuleToCard(ctx context.Context, h domain.RuleHandle, cardToken string) error {
	if err := f.call(); err != nil {
		return err
	}
	return f.Stub.AttachRuleToCard(ctx, h, cardToken)
}

func (f *flakyIssuer) DetachRuleFromCard(ctx context.Context, h domain.RuleHandle, cardToken string) error {
	if err := f.call(); err != nil {
		return err
	}
	return f.Stub.DetachRuleFromCard(ctx, h, cardToken)
}

type limitsState struct {
	ctx      context.Context
	platform *flakyIssuer
	service  *application.LimitsService
	now      time.Time
	profiles map[string]domain.ProfileID
	cards    map[string]domain.CardID
	txSeq    int
	lastErr  error
}

func InitializeLimitsScenario(sc *godog.ScenarioContext) {
	state := &limitsState{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		state.reset()
		return ctx, nil
	})

	// Issuer
	sc.Step(`^the card issuer is reachable$`, func() error { state.platform.setDown(false); return nil })
	sc.Step(`^the card issuer is unreachable$`, func() error { state.platform.setDown(true); return nil })
	sc.Step(`^the card issuer comes back$`, func() error { state.platform.setDown(false); return nil })
	sc.Step(`^the issuer should have received (\d+) calls$`, state.theIssuerShouldHaveReceivedCalls)

	// Profiles
	sc.Step(`^a limit profile "([^"]*)" with daily (\d+), monthly (\d+) and per-transaction (\d+)$`, state.aLimitProfile)
	sc.Step(`^I create a limit profile "([^"]*)" with daily (\d+), monthly (\d+) and per-transaction (\d+)$`, state.iCreateALimitProfile)
	sc.Step(`^I change the daily limit of profile "([^"]*)" to (\d+(?:\.\d+)?)$`, state.iChangeTheDailyLimitOfProfile)
	sc.Step(`^I delete profile "([^"]*)"$`, state.iDeleteProfile)
	sc.Step(`^profile "([^"]*)" should have no issuer rule$`, state.profileShouldHaveNoIssuerRule)
	sc.Step(`^profile "([^"]*)" should have an issuer rule with a daily limit of (\d+) cents$`, state.profileShouldHaveAnIssuerRuleWithDailyLimit)

	// Cards
	sc.Step(`^a card "([^"]*)" bound to profile "([^"]*)"$`, state.aCardBoundToProfile)
	sc.Step(`^I register card "([^"]*)" with profile "([^"]*)" and custom daily limit (\d+(?:\.\d+)?)$`, state.iRegisterCardWithProfileAndCustomLimit)
	sc.Step(`^I give card "([^"]*)" custom limits with daily (\d+(?:\.\d+)?)$`, state.iGiveCardCustomLimits)
	sc.Step(`^card "([^"]*)" records a "([^"]*)" transaction of (\d+(?:\.\d+)?)$`, state.cardRecordsATransaction)
	sc.Step(`^the rule of profile "([^"]*)" should not be attached to card "([^"]*)"$`, state.theRuleOfProfileShouldNotBeAttachedToCard)
	sc.Step(`^card "([^"]*)" should have its own issuer rule$`, state.cardShouldHaveItsOwnIssuerRule)

	// Limits
	sc.Step(`^the effective daily limit of card "([^"]*)" should be (\d+(?:\.\d+)?) from source "([^"]*)"$`, state.theEffectiveDailyLimitShouldBe)
	sc.Step(`^the remaining daily limit of card "([^"]*)" should be (\d+(?:\.\d+)?)$`, state.theRemainingDailyLimitShouldBe)
	sc.Step(`^the remaining monthly limit of card "([^"]*)" should be (\d+(?:\.\d+)?)$`, state.theRemainingMonthlyLimitShouldBe)

	// Outcomes
	sc.Step(`^the request should succeed$`, state.theRequestShouldSucceed)
	sc.Step(`^the request should fail with (\d+) validation violations$`, state.theRequestShouldFailWithViolations)
	sc.Step(`^the request should fail with conflict "([^"]*)"$`, state.theRequestShouldFailWithConflict)
}

func (s *limitsState) reset() {
	s.ctx = context.Background()
	s.platform = &flakyIssuer{Stub: issuer.NewStub()}
	s.now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s.service = application.NewLimitsService(memory.NewDataStore(), s.platform,
		application.WithLocation(time.UTC),
		application.WithSettlementCurrency(vo.CurrencyUSD),
		application.WithClock(func() time.Time { return s.now }),
	)
	s.profiles = make(map[string]domain.ProfileID)
	s.cards = make(map[string]domain.CardID)
	s.txSeq = 0
	s.lastErr = nil
}

func amount(v string) decimal.NullDecimal {
	return domain.Amount(decimal.RequireFromString(v))
}

func (s *limitsState) profileID(name string) (domain.ProfileID, error) {
	id, ok := s.profiles[name]
	if !ok {
		return 0, fmt.Errorf("profile %q was never created", name)
	}
	return id, nil
}

func (s *limitsState) cardID(token string) (domain.CardID, error) {
	id, ok := s.cards[token]
	if !ok {
		return 0, fmt.Errorf("card %q was never registered", token)
	}
	return id, nil
}

func (s *limitsState) iCreateALimitProfile(name string, daily, monthly, perTx int) error {
	view, err := s.service.CreateProfile(s.ctx, application.CreateProfileRequest{
		Name: name,
		Limits: domain.LimitSet{
			Daily:          domain.Amount(decimal.NewFromInt(int64(daily))),
			Monthly:        domain.Amount(decimal.NewFromInt(int64(monthly))),
			PerTransaction: domain.Amount(decimal.NewFromInt(int64(perTx))),
		},
	})
	s.lastErr = err
	if err == nil {
		s.profiles[name] = view.Profile.ID()
	}
	return nil
}

func (s *limitsState) aLimitProfile(name string, daily, monthly, perTx int) error {
	if err := s.iCreateALimitProfile(name, daily, monthly, perTx); err != nil {
		return err
	}
	return s.lastErr
}

func (s *limitsState) iChangeTheDailyLimitOfProfile(name, daily string) error {
	id, err := s.profileID(name)
	if err != nil {
		return err
	}
	_, s.lastErr = s.service.UpdateProfile(s.ctx, id, domain.ProfilePatch{
		Limits: domain.LimitPatch{Daily: domain.SetAmount(decimal.RequireFromString(daily))},
	})
	return s.lastErr
}

func (s *limitsState) iDeleteProfile(name string) error {
	id, err := s.profileID(name)
	if err != nil {
		return err
	}
	s.lastErr = s.service.DeleteProfile(s.ctx, id)
	return nil
}

func (s *limitsState) profileRule(name string) (domain.RuleHandle, error) {
	id, err := s.profileID(name)
	if err != nil {
		return "", err
	}
	view, err := s.service.GetProfile(s.ctx, id)
	if err != nil {
		return "", err
	}
	return view.Profile.RuleHandle(), nil
}

func (s *limitsState) profileShouldHaveNoIssuerRule(name string) error {
	handle, err := s.profileRule(name)
	if err != nil {
		return err
	}
	if !handle.IsEmpty() {
		return fmt.Errorf("expected no issuer rule, got %s", handle)
	}
	return nil
}

func (s *limitsState) profileShouldHaveAnIssuerRuleWithDailyLimit(name string, cents int) error {
	handle, err := s.profileRule(name)
	if err != nil {
		return err
	}
	if handle.IsEmpty() {
		return errors.New("profile has no issuer rule")
	}
	spec, ok := s.platform.Rule(handle)
	if !ok {
		return fmt.Errorf("issuer does not know rule %s", handle)
	}
	if spec.DailyLimitMinorUnits == nil || *spec.DailyLimitMinorUnits != int64(cents) {
		return fmt.Errorf("expected daily limit of %d cents, got %v", cents, spec.DailyLimitMinorUnits)
	}
	return nil
}

func (s *limitsState) aCardBoundToProfile(token, profile string) error {
	id, err := s.profileID(profile)
	if err != nil {
		return err
	}
	view, err := s.service.CreateCard(s.ctx, application.CreateCardRequest{CardToken: token, ProfileID: &id})
	if err != nil {
		return err
	}
	s.cards[token] = view.Card.ID()
	return nil
}

func (s *limitsState) iRegisterCardWithProfileAndCustomLimit(token, profile, daily string) error {
	id, err := s.profileID(profile)
	if err != nil {
		return err
	}
	limits := domain.LimitSet{Daily: amount(daily)}
	_, s.lastErr = s.service.CreateCard(s.ctx, application.CreateCardRequest{
		CardToken:    token,
		ProfileID:    &id,
		CustomLimits: &limits,
	})
	return nil
}

func (s *limitsState) iGiveCardCustomLimits(token, daily string) error {
	id, err := s.cardID(token)
	if err != nil {
		return err
	}
	_, s.lastErr = s.service.UpdateCardLimits(s.ctx, id, application.UpdateCardLimitsRequest{
		CustomLimits: &domain.LimitPatch{Daily: domain.SetAmount(decimal.RequireFromString(daily))},
	})
	return s.lastErr
}

func (s *limitsState) cardRecordsATransaction(token, status, value string) error {
	id, err := s.cardID(token)
	if err != nil {
		return err
	}
	st, err := domain.ParseTransactionStatus(status)
	if err != nil {
		return err
	}
	s.txSeq++
	_, err = s.service.RecordTransaction(s.ctx, id, application.RecordTransactionRequest{
		Token:            fmt.Sprintf("%s-txn-%d", token, s.txSeq),
		Amount:           vo.New(decimal.RequireFromString(value), vo.CurrencyUSD),
		MerchantName:     "Corner Shop",
		MerchantCategory: "5411",
		Status:           st,
		OccurredAt:       s.now.Add(-2 * time.Hour),
	})
	return err
}

func (s *limitsState) theRuleOfProfileShouldNotBeAttachedToCard(profile, token string) error {
	handle, err := s.profileRule(profile)
	if err != nil {
		return err
	}
	if slices.Contains(s.platform.CardsFor(handle), token) {
		return fmt.Errorf("rule %s is still attached to %s", handle, token)
	}
	return nil
}

func (s *limitsState) cardShouldHaveItsOwnIssuerRule(token string) error {
	id, err := s.cardID(token)
	if err != nil {
		return err
	}
	view, err := s.service.GetCard(s.ctx, id)
	if err != nil {
		return err
	}
	handle := view.Card.RuleHandle()
	if handle.IsEmpty() {
		return errors.New("card has no issuer rule")
	}
	if !slices.Contains(s.platform.CardsFor(handle), token) {
		return fmt.Errorf("card rule %s is not attached to %s", handle, token)
	}
	return nil
}

func (s *limitsState) limits(token string) (*application.CardLimitsSummary, error) {
	id, err := s.cardID(token)
	if err != nil {
		return nil, err
	}
	return s.service.GetCardLimits(s.ctx, id)
}

func expectAmount(label string, got decimal.NullDecimal, want string) error {
	if !got.Valid {
		return fmt.Errorf("expected %s %s, got no limit", label, want)
	}
	if !got.Decimal.Equal(decimal.RequireFromString(want)) {
		return fmt.Errorf("expected %s %s, got %s", label, want, got.Decimal.StringFixed(2))
	}
	return nil
}

func (s *limitsState) theEffectiveDailyLimitShouldBe(token, want, source string) error {
	summary, err := s.limits(token)
	if err != nil {
		return err
	}
	if string(summary.Effective.Source) != source {
		return fmt.Errorf("expected source %q, got %q", source, summary.Effective.Source)
	}
	return expectAmount("daily limit", summary.Effective.Daily, want)
}

func (s *limitsState) theRemainingDailyLimitShouldBe(token, want string) error {
	summary, err := s.limits(token)
	if err != nil {
		return err
	}
	return expectAmount("remaining daily limit", summary.Remaining.Daily, want)
}

func (s *limitsState) theRemainingMonthlyLimitShouldBe(token, want string) error {
	summary, err := s.limits(token)
	if err != nil {
		return err
	}
	return expectAmount("remaining monthly limit", summary.Remaining.Monthly, want)
}

func (s *limitsState) theIssuerShouldHaveReceivedCalls(expected int) error {
	if got := s.platform.callCount(); got != expected {
		return fmt.Errorf("expected %d issuer calls, got %d", expected, got)
	}
	return nil
}

func (s *limitsState) theRequestShouldSucceed() error {
	if s.lastErr != nil {
		return fmt.Errorf("expected success, got: %v", s.lastErr)
	}
	return nil
}

func (s *limitsState) theRequestShouldFailWithViolations(expected int) error {
	var validationErr *domain.ValidationError
	if !errors.As(s.lastErr, &validationErr) {
		return fmt.Errorf("expected a validation error, got: %v", s.lastErr)
	}
	if len(validationErr.Violations) != expected {
		return fmt.Errorf("expected %d violations, got %d: %v", expected, len(validationErr.Violations), validationErr.Messages())
	}
	return nil
}

func (s *limitsState) theRequestShouldFailWithConflict(reason string) error {
	var conflictErr *domain.ConflictError
	if !errors.As(s.lastErr, &conflictErr) {
		return fmt.Errorf("expected a conflict, got: %v", s.lastErr)
	}
	if conflictErr.Reason != reason {
		return fmt.Errorf("expected conflict %q, got %q", reason, conflictErr.Reason)
	}
	return nil
}
