package issuer

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/google/uuid"

	"cardcrm/internal/spending/domain"
)

// Stub is an in-process RulePlatform used when no issuer API key is
// configured. It keeps rules and card attachments in memory.
type Stub struct {
	mu       sync.Mutex
	rules    map[domain.RuleHandle]domain.RuleSpec
	attached map[domain.RuleHandle][]string
}

// NewStub creates an empty stub platform.
func NewStub() *Stub {
	return &Stub{
		rules:    make(map[domain.RuleHandle]domain.RuleSpec),
		attached: make(map[domain.RuleHandle][]string),
	}
}

func (s *Stub) CreateRule(_ context.Context, spec domain.RuleSpec) (domain.RuleHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle := domain.RuleHandle("stub-" + uuid.NewString())
	s.rules[handle] = spec
	return handle, nil
}

func (s *Stub) UpdateRule(_ context.Context, handle domain.RuleHandle, spec domain.RuleSpec) (domain.RuleHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[handle]; !ok {
		return "", &APIError{Status: http.StatusNotFound, Title: http.StatusText(http.StatusNotFound), Detail: fmt.Sprintf("auth rule %s", handle)}
	}
	s.rules[handle] = spec
	return handle, nil
}

func (s *Stub) DeleteRule(_ context.Context, handle domain.RuleHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, handle)
	delete(s.attached, handle)
	return nil
}

func (s *Stub) AttachRuleToCard(_ context.Context, handle domain.RuleHandle, cardToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[handle]; !ok {
		return &APIError{Status: http.StatusNotFound, Title: http.StatusText(http.StatusNotFound), Detail: fmt.Sprintf("auth rule %s", handle)}
	}
	if !slices.Contains(s.attached[handle], cardToken) {
		s.attached[handle] = append(s.attached[handle], cardToken)
	}
	return nil
}

func (s *Stub) DetachRuleFromCard(_ context.Context, handle domain.RuleHandle, cardToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[handle] = slices.DeleteFunc(s.attached[handle], func(t string) bool { return t == cardToken })
	return nil
}

// Rule returns the stored spec of a rule.
func (s *Stub) Rule(handle domain.RuleHandle) (domain.RuleSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.rules[handle]
	return spec, ok
}

// CardsFor returns the card tokens a rule is applied to.
func (s *Stub) CardsFor(handle domain.RuleHandle) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.attached[handle])
}

// Verify interface implementation.
var _ domain.RulePlatform = (*Stub)(nil)
