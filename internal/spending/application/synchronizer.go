package application

import (
	"context"
	"fmt"

	"cardcrm/internal/common/logging"
	"cardcrm/internal/common/metrics"
	"cardcrm/internal/spending/domain"
)

// Rule API operation names used in logs and metrics.
const (
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
	opAttach = "attach"
	opDetach = "detach"
)

// ExternalSyncError wraps any failure talking to the card issuer. It is
// logged and counted but never returned to callers: the local commit wins.
type ExternalSyncError struct {
	Operation string
	Handle    domain.RuleHandle
	Err       error
}

func (e *ExternalSyncError) Error() string {
	if e.Handle.IsEmpty() {
		return fmt.Sprintf("auth rule %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("auth rule %s %s: %v", e.Operation, e.Handle, e.Err)
}

func (e *ExternalSyncError) Unwrap() error { return e.Err }

// AuthRuleSynchronizer pushes limit configuration to the card issuer. Every
// call is best-effort: failures come back as an empty handle or false.
// There is no retry; the next successful sync of the same entity converges.
type AuthRuleSynchronizer struct {
	platform domain.RulePlatform
}

// NewAuthRuleSynchronizer creates a synchronizer over the given platform.
func NewAuthRuleSynchronizer(platform domain.RulePlatform) *AuthRuleSynchronizer {
	return &AuthRuleSynchronizer{platform: platform}
}

// SyncProfileRule updates the profile's rule when it already has a handle and
// creates one otherwise. A new handle is recorded on the profile, so a second
// sync updates the rule the first one created. Persisting it is the caller's
// job. Returns the resulting handle, or "" on failure.
func (s *AuthRuleSynchronizer) SyncProfileRule(ctx context.Context, profile *domain.LimitProfile) domain.RuleHandle {
	attrs := []any{"profile_id", profile.ID().String()}

	spec, err := profile.RuleSpec()
	if err != nil {
		s.fail(ctx, opFor(profile.RuleHandle()), profile.RuleHandle(), err, attrs...)
		return ""
	}

	handle := s.upsert(ctx, profile.RuleHandle(), spec, attrs...)
	if !handle.IsEmpty() && handle != profile.RuleHandle() {
		profile.AttachRuleHandle(handle)
	}
	return handle
}

// SyncCardCustomRule does the same for a card's own rule and then applies the
// rule to the card. Attaching is idempotent on the issuer side, so it is
// repeated on every sync.
func (s *AuthRuleSynchronizer) SyncCardCustomRule(ctx context.Context, card *domain.Card, limits domain.LimitSet) domain.RuleHandle {
	attrs := []any{"card_id", card.ID().String()}

	spec, err := domain.NewRuleSpec(limits, nil, nil)
	if err != nil {
		s.fail(ctx, opFor(card.RuleHandle()), card.RuleHandle(), err, attrs...)
		return ""
	}

	handle := s.upsert(ctx, card.RuleHandle(), spec, attrs...)
	if handle.IsEmpty() {
		return ""
	}
	if handle != card.RuleHandle() {
		card.AttachRuleHandle(handle)
	}
	s.AttachRuleToCard(ctx, handle, card.CardToken())
	return handle
}

func (s *AuthRuleSynchronizer) upsert(ctx context.Context, current domain.RuleHandle, spec domain.RuleSpec, attrs ...any) domain.RuleHandle {
	var (
		handle domain.RuleHandle
		err    error
	)
	op := opFor(current)
	if op == opUpdate {
		handle, err = s.platform.UpdateRule(ctx, current, spec)
	} else {
		handle, err = s.platform.CreateRule(ctx, spec)
	}
	if err != nil {
		s.fail(ctx, op, current, err, attrs...)
		return ""
	}
	if handle.IsEmpty() {
		handle = current
	}

	s.succeed(ctx, op, handle, attrs...)
	return handle
}

// AttachRuleToCard applies a rule to a card. Returns false on failure.
func (s *AuthRuleSynchronizer) AttachRuleToCard(ctx context.Context, handle domain.RuleHandle, cardToken string) bool {
	if err := s.platform.AttachRuleToCard(ctx, handle, cardToken); err != nil {
		s.fail(ctx, opAttach, handle, err, "card_token", cardToken)
		return false
	}
	s.succeed(ctx, opAttach, handle, "card_token", cardToken)
	return true
}

// DetachRuleFromCard removes a rule from a card. Returns false on failure.
func (s *AuthRuleSynchronizer) DetachRuleFromCard(ctx context.Context, handle domain.RuleHandle, cardToken string) bool {
	if err := s.platform.DetachRuleFromCard(ctx, handle, cardToken); err != nil {
		s.fail(ctx, opDetach, handle, err, "card_token", cardToken)
		return false
	}
	s.succeed(ctx, opDetach, handle, "card_token", cardToken)
	return true
}

// DeleteRule removes a rule on the issuer. Returns false on failure.
func (s *AuthRuleSynchronizer) DeleteRule(ctx context.Context, handle domain.RuleHandle) bool {
	if err := s.platform.DeleteRule(ctx, handle); err != nil {
		s.fail(ctx, opDelete, handle, err)
		return false
	}
	s.succeed(ctx, opDelete, handle)
	return true
}

func (s *AuthRuleSynchronizer) succeed(ctx context.Context, op string, handle domain.RuleHandle, attrs ...any) {
	metrics.RecordAuthRuleSync(op, "success")
	logging.DebugContext(ctx, "auth rule synced", append([]any{"operation", op, "rule", handle.String()}, attrs...)...)
}

func (s *AuthRuleSynchronizer) fail(ctx context.Context, op string, handle domain.RuleHandle, err error, attrs ...any) {
	metrics.RecordAuthRuleSync(op, "failure")
	syncErr := &ExternalSyncError{Operation: op, Handle: handle, Err: err}
	logging.WarnContext(ctx, "auth rule sync failed", append([]any{"operation", op, "error", syncErr.Error()}, attrs...)...)
}

func opFor(current domain.RuleHandle) string {
	if current.IsEmpty() {
		return opCreate
	}
	return opUpdate
}
