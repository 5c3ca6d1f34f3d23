// Package usecase contains application business logic.
package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
	"github.com/eliteGoblin/focusd/child_mon/internal/metrics"
	"github.com/eliteGoblin/focusd/child_mon/internal/policy"
)

// SessionConfig tunes an enforcement session.
type SessionConfig struct {
	ConfirmTimeout time.Duration // Upper bound for one telemetry write
	LedgerSize     int           // Packages remembered as confirmed
}

// DefaultSessionConfig returns default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ConfirmTimeout: 10 * time.Second,
		LedgerSize:     512,
	}
}

// Session implements domain.Enforcer.
//
// Each Start bumps a generation counter. Every subscription callback carries
// the generation it was created for and is ignored once that generation is
// no longer current.
type Session struct {
	controls domain.ControlsStore
	usage    domain.UsageAggregator
	remote   domain.RemoteStatusStore
	blocker  domain.PlatformBlocker
	config   SessionConfig
	logger   *zap.Logger
	now      func() time.Time

	mu           sync.Mutex
	generation   uint64
	started      bool
	sessionID    string
	ec           domain.EnforcementContext
	cancel       context.CancelFunc
	runCtx       context.Context
	unsubscribes []domain.Unsubscribe

	controlsState   domain.ControlsState
	usageSnapshot   *domain.UsageSnapshot
	remoteBlocks    map[string]domain.RemoteBlock
	lastFingerprint string
	lastDecision    *domain.EnforcementDecision
	lastAppliedAt   time.Time
	method          string
	seq             uint64
	confirmed       *lru.Cache[string, string]
	inflight        map[string]string

	// applyMu serializes calls into the blocker, including the final clear.
	applyMu sync.Mutex
	pending sync.WaitGroup
}

// NewSession creates a stopped enforcement session.
func NewSession(
	controls domain.ControlsStore,
	usage domain.UsageAggregator,
	remote domain.RemoteStatusStore,
	blocker domain.PlatformBlocker,
	config SessionConfig,
	logger *zap.Logger,
) *Session {
	if config.LedgerSize <= 0 {
		config.LedgerSize = DefaultSessionConfig().LedgerSize
	}
	if config.ConfirmTimeout <= 0 {
		config.ConfirmTimeout = DefaultSessionConfig().ConfirmTimeout
	}
	s := &Session{
		controls: controls,
		usage:    usage,
		remote:   remote,
		blocker:  blocker,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	s.resetLocked()
	return s
}

// available reports whether the platform blocker can be used at all.
func (s *Session) available() bool {
	return s.blocker != nil && s.blocker.Available()
}

// Start begins enforcing for ec. A running session is torn down first.
// It is a no-op when the platform blocker is unavailable.
func (s *Session) Start(ctx context.Context, ec domain.EnforcementContext) error {
	if !s.available() {
		s.logger.Debug("platform blocker unavailable, enforcement disabled")
		return nil
	}

	ec = ec.Normalize()
	if err := ec.Validate(); err != nil {
		s.logger.Warn("missing identifiers for enforcement",
			zap.String("child_id", ec.ChildID),
			zap.String("family_id", ec.FamilyID))
		return err
	}

	s.mu.Lock()
	previous := s.detachLocked()
	s.generation++
	gen := s.generation
	s.started = true
	s.sessionID = uuid.NewString()
	s.ec = ec
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.resetLocked()
	sessionID := s.sessionID
	s.mu.Unlock()

	previous.release()

	// Subscribe without holding mu: stores may deliver the first update synchronously.
	subs := make([]domain.Unsubscribe, 0, 3)
	unsubControls, err := s.controls.SubscribeToControls(ctx, ec.FamilyID, ec.ChildID, s.onControls(gen))
	if err == nil {
		subs = append(subs, unsubControls)
		subs = append(subs, s.usage.SubscribeToUsage(s.onUsage(gen)))
		var unsubRemote domain.Unsubscribe
		unsubRemote, err = s.remote.SubscribeToRemoteStatus(ctx, ec.ChildID, s.onRemoteStatus(gen))
		if err == nil {
			subs = append(subs, unsubRemote)
		}
	}

	s.mu.Lock()
	if err != nil || s.generation != gen {
		superseded := s.generation != gen
		var teardown detached
		if !superseded {
			teardown = s.detachLocked()
			s.generation++
			s.resetLocked()
		}
		s.mu.Unlock()
		teardown.release()
		for _, u := range subs {
			u()
		}
		if superseded {
			return nil
		}
		s.logger.Warn("failed to subscribe, enforcement not started",
			zap.String("child_id", ec.ChildID),
			zap.Error(err))
		return err
	}
	s.unsubscribes = subs
	s.mu.Unlock()

	s.logger.Info("app enforcement started",
		zap.String("session", sessionID),
		zap.String("child_id", ec.ChildID),
		zap.String("family_id", ec.FamilyID))
	return nil
}

// Stop ends the session, clears every blocker rule and resets cached state.
func (s *Session) Stop(ctx context.Context) {
	if !s.available() {
		return
	}

	s.mu.Lock()
	wasStarted := s.started
	teardown := s.detachLocked()
	s.generation++
	s.resetLocked()
	s.mu.Unlock()

	teardown.release()

	// Wait for an in-flight apply so it cannot land after the clear.
	s.applyMu.Lock()
	err := s.blocker.ClearBlockRules(ctx)
	s.applyMu.Unlock()
	if err != nil {
		s.logger.Error("failed to reset blocker rules", zap.Error(err))
	}
	metrics.ObserveDecision(0, false)

	if wasStarted {
		s.logger.Info("app enforcement stopped")
	}
}

// Status reports the current session.
func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := domain.SessionStatus{
		Started:           s.started,
		SessionID:         s.sessionID,
		Context:           s.ec,
		Fingerprint:       s.lastFingerprint,
		LastAppliedAt:     s.lastAppliedAt,
		EnforcementMethod: s.method,
		RemoteBlocks:      len(s.remoteBlocks),
		Confirmed:         s.confirmed.Len(),
	}
	if s.lastDecision != nil {
		d := *s.lastDecision
		st.LastDecision = &d
	}
	return st
}

// Wait blocks until outstanding telemetry writes finish.
func (s *Session) Wait() {
	s.pending.Wait()
}

// detached holds what a torn-down session still has to release outside mu.
type detached struct {
	unsubscribes []domain.Unsubscribe
	cancel       context.CancelFunc
}

func (d detached) release() {
	for _, u := range d.unsubscribes {
		if u != nil {
			u()
		}
	}
	if d.cancel != nil {
		d.cancel()
	}
}

// detachLocked marks the session stopped and hands back its subscriptions.
func (s *Session) detachLocked() detached {
	d := detached{unsubscribes: s.unsubscribes, cancel: s.cancel}
	s.unsubscribes = nil
	s.cancel = nil
	s.runCtx = nil
	s.started = false
	s.sessionID = ""
	s.ec = domain.EnforcementContext{}
	return d
}

// resetLocked restores every cached value to its initial state.
func (s *Session) resetLocked() {
	s.controlsState = domain.DefaultControlsState()
	s.usageSnapshot = nil
	s.remoteBlocks = make(map[string]domain.RemoteBlock)
	s.lastFingerprint = ""
	s.lastDecision = nil
	s.lastAppliedAt = time.Time{}
	s.method = domain.MethodUnknown
	s.inflight = make(map[string]string)
	// New only fails for a non-positive size, which NewSession rules out.
	s.confirmed, _ = lru.New[string, string](s.config.LedgerSize)
}

// currentLocked reports whether gen still identifies the running session.
func (s *Session) currentLocked(gen uint64) bool {
	return s.started && s.generation == gen
}

func (s *Session) onControls(gen uint64) func(domain.ControlsState) {
	return func(state domain.ControlsState) {
		s.mu.Lock()
		if !s.currentLocked(gen) {
			s.mu.Unlock()
			metrics.StaleCallbacks.WithLabelValues("controls").Inc()
			return
		}
		if state.Apps == nil {
			state.Apps = map[string]domain.AppRule{}
		}
		s.controlsState = state
		s.mu.Unlock()

		if tz := state.Meta.Timezone; tz != nil && *tz != "" {
			if err := s.usage.SetTimezone(*tz); err != nil {
				s.logger.Warn("failed to set usage timezone",
					zap.String("timezone", *tz),
					zap.Error(err))
			}
		}
		s.evaluate(gen, "controls")
	}
}

func (s *Session) onUsage(gen uint64) func(domain.UsageSnapshot) {
	return func(snapshot domain.UsageSnapshot) {
		s.mu.Lock()
		if !s.currentLocked(gen) {
			s.mu.Unlock()
			metrics.StaleCallbacks.WithLabelValues("usage").Inc()
			return
		}
		s.usageSnapshot = &snapshot
		s.mu.Unlock()

		s.evaluate(gen, "usage")
	}
}

func (s *Session) onRemoteStatus(gen uint64) func([]domain.RemoteBlock) {
	return func(blocks []domain.RemoteBlock) {
		s.mu.Lock()
		if !s.currentLocked(gen) {
			s.mu.Unlock()
			metrics.StaleCallbacks.WithLabelValues("remote_status").Inc()
			return
		}
		next := make(map[string]domain.RemoteBlock, len(blocks))
		for _, b := range blocks {
			if b.PackageName == "" {
				continue
			}
			next[b.PackageName] = b
		}
		// A block that went away must be confirmed again if it comes back.
		for _, pkg := range s.confirmed.Keys() {
			if _, ok := next[pkg]; !ok {
				s.confirmed.Remove(pkg)
			}
		}
		s.remoteBlocks = next
		s.mu.Unlock()

		s.evaluate(gen, "remote_status")
	}
}

// evaluate recomputes the decision and applies it when the fingerprint changed.
func (s *Session) evaluate(gen uint64, source string) {
	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		metrics.StaleCallbacks.WithLabelValues(source).Inc()
		return
	}
	metrics.EvaluationsTotal.WithLabelValues(source).Inc()

	decision := policy.Evaluate(policy.Inputs{
		Controls:     s.controlsState,
		Usage:        s.usageSnapshot,
		RemoteBlocks: s.remoteBlockListLocked(),
	})
	fingerprint := policy.Fingerprint(decision)
	if fingerprint == s.lastFingerprint {
		s.mu.Unlock()
		metrics.AppliesSkipped.WithLabelValues("unchanged").Inc()
		return
	}
	s.lastFingerprint = fingerprint
	s.seq++
	seq := s.seq
	runCtx := s.runCtx
	s.mu.Unlock()

	s.apply(gen, seq, fingerprint, decision, runCtx)
}

// apply pushes decision to the blocker unless a newer decision superseded it.
func (s *Session) apply(gen, seq uint64, fingerprint string, decision domain.EnforcementDecision, runCtx context.Context) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return
	}
	if seq != s.seq {
		s.mu.Unlock()
		metrics.AppliesSkipped.WithLabelValues("superseded").Inc()
		return
	}
	s.mu.Unlock()

	method, err := s.blocker.ApplyBlockRules(runCtx, decision)
	if err != nil {
		s.logger.Error("failed to update blocker rules",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		metrics.AppliesTotal.WithLabelValues(domain.MethodUnknown, "error").Inc()

		s.mu.Lock()
		if s.currentLocked(gen) && s.lastFingerprint == fingerprint {
			// Forget the claim so the next update retries.
			s.lastFingerprint = ""
		}
		s.mu.Unlock()
		return
	}
	if method == "" {
		method = domain.MethodUnknown
	}
	metrics.AppliesTotal.WithLabelValues(method, "ok").Inc()

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.method = method
	s.lastDecision = &decision
	s.lastAppliedAt = s.now()
	childID := s.ec.ChildID
	toConfirm := s.claimConfirmationsLocked(decision)
	s.mu.Unlock()

	metrics.ObserveDecision(decision.ActivePackages(), decision.Global.Active)
	s.logger.Info("blocker rules updated",
		zap.String("method", method),
		zap.Int("blocked_packages", decision.ActivePackages()),
		zap.Bool("global_limit", decision.Global.Active))

	for _, block := range toConfirm {
		s.pending.Add(1)
		go s.confirm(gen, runCtx, childID, method, block)
	}
}

// claimConfirmationsLocked returns the remote blocks enforced by applied whose
// current version has not been confirmed yet, marking them in flight. A block
// that arrived while applied was in flight is left for the apply that carries it.
func (s *Session) claimConfirmationsLocked(applied domain.EnforcementDecision) []domain.RemoteBlock {
	var out []domain.RemoteBlock
	for pkg, block := range s.remoteBlocks {
		if got, ok := applied.Apps[pkg]; !ok || got != policy.RemoteDecision(block) {
			continue
		}
		if v, ok := s.confirmed.Peek(pkg); ok && v == block.StatusVersion {
			continue
		}
		if s.inflight[pkg] == block.StatusVersion {
			continue
		}
		s.inflight[pkg] = block.StatusVersion
		out = append(out, block)
	}
	return out
}

// confirm writes enforcement telemetry for one remote block. Failures are
// logged and not retried; the version stays unconfirmed.
func (s *Session) confirm(gen uint64, runCtx context.Context, childID, method string, block domain.RemoteBlock) {
	defer s.pending.Done()

	ctx, cancel := context.WithTimeout(runCtx, s.config.ConfirmTimeout)
	defer cancel()

	err := s.remote.ConfirmEnforcement(ctx, childID, block.PackageName, domain.EnforcementConfirmation{
		Enforced:   true,
		EnforcedAt: s.now(),
		Method:     method,
		ChildID:    childID,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(gen) {
		return
	}
	if s.inflight[block.PackageName] == block.StatusVersion {
		delete(s.inflight, block.PackageName)
	}
	if err != nil {
		metrics.ConfirmationsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("failed to confirm remote block enforcement",
			zap.String("package", block.PackageName),
			zap.String("status_version", block.StatusVersion),
			zap.Error(err))
		return
	}
	metrics.ConfirmationsTotal.WithLabelValues("ok").Inc()
	if current, ok := s.remoteBlocks[block.PackageName]; ok && current.StatusVersion == block.StatusVersion {
		s.confirmed.Add(block.PackageName, block.StatusVersion)
	}
}

func (s *Session) remoteBlockListLocked() []domain.RemoteBlock {
	out := make([]domain.RemoteBlock, 0, len(s.remoteBlocks))
	for _, b := range s.remoteBlocks {
		out = append(out, b)
	}
	return out
}

// Ensure Session implements domain.Enforcer.
var _ domain.Enforcer = (*Session)(nil)
