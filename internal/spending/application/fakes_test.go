package application_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"cardcrm/internal/common/events"
	"cardcrm/internal/spending/domain"
)

var errIssuerDown = errors.New("issuer unreachable")

// fakePlatform records rule API calls and keeps rules and attachments the
// way the issuer would.
type fakePlatform struct {
	mu       sync.Mutex
	down     bool
	next     int
	rules    map[domain.RuleHandle]domain.RuleSpec
	attached map[domain.RuleHandle][]string
	calls    []string
	hold     *createHold
}

// createHold parks the next CreateRule call until released.
type createHold struct {
	entered chan struct{}
	release chan struct{}
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		rules:    make(map[domain.RuleHandle]domain.RuleSpec),
		attached: make(map[domain.RuleHandle][]string),
	}
}

func (f *fakePlatform) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakePlatform) record(call string) error {
	f.calls = append(f.calls, call)
	if f.down {
		return errIssuerDown
	}
	return nil
}

// holdNextCreate makes the next CreateRule block. entered is closed once the
// call is parked; release lets it continue.
func (f *fakePlatform) holdNextCreate() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &createHold{entered: make(chan struct{}), release: make(chan struct{})}
	f.hold = h
	return h.entered, func() { close(h.release) }
}

func (f *fakePlatform) CreateRule(_ context.Context, spec domain.RuleSpec) (domain.RuleHandle, error) {
	f.mu.Lock()
	h := f.hold
	f.hold = nil
	f.mu.Unlock()
	if h != nil {
		close(h.entered)
		<-h.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create"); err != nil {
		return "", err
	}
	f.next++
	handle := domain.RuleHandle(fmt.Sprintf("rule-%d", f.next))
	f.rules[handle] = spec
	return handle, nil
}

func (f *fakePlatform) UpdateRule(_ context.Context, h domain.RuleHandle, spec domain.RuleSpec) (domain.RuleHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("update " + h.String()); err != nil {
		return "", err
	}
	f.rules[h] = spec
	return h, nil
}

func (f *fakePlatform) DeleteRule(_ context.Context, h domain.RuleHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete " + h.String()); err != nil {
		return err
	}
	delete(f.rules, h)
	delete(f.attached, h)
	return nil
}

func (f *fakePlatform) AttachRuleToCard(_ context.Context, h domain.RuleHandle, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("attach " + h.String() + " " + token); err != nil {
		return err
	}
	if !slices.Contains(f.attached[h], token) {
		f.attached[h] = append(f.attached[h], token)
	}
	return nil
}

func (f *fakePlatform) DetachRuleFromCard(_ context.Context, h domain.RuleHandle, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("detach " + h.String() + " " + token); err != nil {
		return err
	}
	f.attached[h] = slices.DeleteFunc(f.attached[h], func(t string) bool { return t == token })
	return nil
}

func (f *fakePlatform) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakePlatform) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakePlatform) attachedTo(h domain.RuleHandle) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.attached[h])
}

func (f *fakePlatform) rule(h domain.RuleHandle) (domain.RuleSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.rules[h]
	return spec, ok
}

// recordingPublisher collects envelopes and fails once failAfter have been published.
type recordingPublisher struct {
	published []events.EventEnvelope
	failAfter int
}

func (p *recordingPublisher) Publish(_ context.Context, e events.EventEnvelope) error {
	if p.failAfter >= 0 && len(p.published) >= p.failAfter {
		return errors.New("broker closed")
	}
	p.published = append(p.published, e)
	return nil
}
