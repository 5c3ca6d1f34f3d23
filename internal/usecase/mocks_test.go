package usecase

import (
	"context"
	"sync"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// mockControlsStore implements domain.ControlsStore for testing
type mockControlsStore struct {
	mu           sync.Mutex
	callbacks    []func(domain.ControlsState)
	subscribeErr error
	unsubscribed int
	familyID     string
	childID      string
}

func (m *mockControlsStore) SubscribeToControls(ctx context.Context, familyID, childID string, onUpdate func(domain.ControlsState)) (domain.Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	m.familyID = familyID
	m.childID = childID
	m.callbacks = append(m.callbacks, onUpdate)
	return func() {
		m.mu.Lock()
		m.unsubscribed++
		m.mu.Unlock()
	}, nil
}

func (m *mockControlsStore) GetControlsOnce(ctx context.Context, familyID, childID string) (domain.ControlsState, error) {
	return domain.DefaultControlsState(), nil
}

// emit delivers state to the most recent subscriber.
func (m *mockControlsStore) emit(state domain.ControlsState) {
	m.latest()(state)
}

func (m *mockControlsStore) latest() func(domain.ControlsState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callbacks[len(m.callbacks)-1]
}

func (m *mockControlsStore) subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callbacks)
}

// mockUsageAggregator implements domain.UsageAggregator for testing
type mockUsageAggregator struct {
	mu           sync.Mutex
	callbacks    []func(domain.UsageSnapshot)
	unsubscribed int
	timezones    []string
	timezoneErr  error
}

func (m *mockUsageAggregator) SubscribeToUsage(onUpdate func(domain.UsageSnapshot)) domain.Unsubscribe {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, onUpdate)
	return func() {
		m.mu.Lock()
		m.unsubscribed++
		m.mu.Unlock()
	}
}

func (m *mockUsageAggregator) SetTimezone(tz string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timezones = append(m.timezones, tz)
	return m.timezoneErr
}

func (m *mockUsageAggregator) emit(snapshot domain.UsageSnapshot) {
	m.mu.Lock()
	cb := m.callbacks[len(m.callbacks)-1]
	m.mu.Unlock()
	cb(snapshot)
}

// mockRemoteStatusStore implements domain.RemoteStatusStore for testing
type mockRemoteStatusStore struct {
	mu           sync.Mutex
	callbacks    []func([]domain.RemoteBlock)
	subscribeErr error
	unsubscribed int
	confirmErr   error
	confirms     []confirmCall
}

type confirmCall struct {
	childID      string
	packageName  string
	confirmation domain.EnforcementConfirmation
}

func (m *mockRemoteStatusStore) SubscribeToRemoteStatus(ctx context.Context, childID string, onUpdate func([]domain.RemoteBlock)) (domain.Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	m.callbacks = append(m.callbacks, onUpdate)
	return func() {
		m.mu.Lock()
		m.unsubscribed++
		m.mu.Unlock()
	}, nil
}

func (m *mockRemoteStatusStore) ConfirmEnforcement(ctx context.Context, childID, packageName string, c domain.EnforcementConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		return m.confirmErr
	}
	m.confirms = append(m.confirms, confirmCall{childID: childID, packageName: packageName, confirmation: c})
	return nil
}

func (m *mockRemoteStatusStore) emit(blocks ...domain.RemoteBlock) {
	m.mu.Lock()
	cb := m.callbacks[len(m.callbacks)-1]
	m.mu.Unlock()
	cb(blocks)
}

func (m *mockRemoteStatusStore) setConfirmErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmErr = err
}

func (m *mockRemoteStatusStore) confirmed() []confirmCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]confirmCall(nil), m.confirms...)
}

// mockBlocker implements domain.PlatformBlocker for testing
type mockBlocker struct {
	mu          sync.Mutex
	unavailable bool
	method      string
	applyErr    error
	clearErr    error
	applied     []domain.EnforcementDecision
	clears      int
	permissions domain.PermissionStatus
	permErr     error

	// gate, when set, holds the next apply until closed. That apply succeeds
	// regardless of applyErr.
	gate    chan struct{}
	entered chan struct{}
}

func (m *mockBlocker) Available() bool {
	return !m.unavailable
}

func (m *mockBlocker) ApplyBlockRules(ctx context.Context, decision domain.EnforcementDecision) (string, error) {
	m.mu.Lock()
	gate, entered := m.gate, m.entered
	m.gate = nil
	m.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
		m.mu.Lock()
		defer m.mu.Unlock()
		m.applied = append(m.applied, decision)
		return m.method, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return "", m.applyErr
	}
	m.applied = append(m.applied, decision)
	return m.method, nil
}

func (m *mockBlocker) ClearBlockRules(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	return m.clearErr
}

func (m *mockBlocker) PermissionStatus(ctx context.Context) (domain.PermissionStatus, error) {
	return m.permissions, m.permErr
}

// holdNextApply gates the next apply and returns a channel closed once it is waiting.
func (m *mockBlocker) holdNextApply(gate chan struct{}) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
	m.entered = make(chan struct{})
	return m.entered
}

func (m *mockBlocker) setApplyErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr = err
}

func (m *mockBlocker) applies() []domain.EnforcementDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EnforcementDecision(nil), m.applied...)
}

func (m *mockBlocker) last() domain.EnforcementDecision {
	a := m.applies()
	return a[len(a)-1]
}
