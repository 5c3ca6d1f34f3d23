// Package daemon implements the long-running enforcement agent.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// UsageRunner samples usage until its context is canceled.
type UsageRunner interface {
	Run(ctx context.Context)
}

// Sweeper re-enforces the active block rules.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// PermissionReporter reports the blocker's current grants.
type PermissionReporter interface {
	Status(ctx context.Context) domain.PermissionStatus
}

// Notifier tells the service manager about lifecycle changes.
// Any nil field is skipped.
type Notifier struct {
	Ready    func() error
	Watchdog func() error
	Stopping func() error
}

// AgentConfig holds agent loop configuration.
type AgentConfig struct {
	HeartbeatInterval       time.Duration // Device heartbeat, agent state and watchdog ping
	PermissionCheckInterval time.Duration // How often grants are re-read and logged
	SweepInterval           time.Duration // How often block rules are re-enforced
	ShutdownTimeout         time.Duration // Budget for the shutdown writes
	APIAddress              string        // Recorded in agent state for the status command
	Version                 string
}

// DefaultAgentConfig returns default agent configuration.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		HeartbeatInterval:       30 * time.Second,
		PermissionCheckInterval: 5 * time.Minute,
		SweepInterval:           5 * time.Second,
		ShutdownTimeout:         5 * time.Second,
	}
}

// Agent is the enforcement daemon.
// It runs the enforcement session for the linked child, keeps usage sampling
// going, re-enforces block rules on a schedule and reports liveness to both
// the remote device record and the local state store.
type Agent struct {
	config      AgentConfig
	session     domain.Enforcer
	usage       UsageRunner
	blocker     Sweeper
	permissions PermissionReporter
	devices     domain.DeviceStore
	state       domain.LocalStateStore
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time

	link            *domain.LinkedDevice
	lastPermissions *domain.PermissionStatus
}

// NewAgent creates a new agent. usage and blocker may be nil.
func NewAgent(
	config AgentConfig,
	session domain.Enforcer,
	usage UsageRunner,
	blocker Sweeper,
	permissions PermissionReporter,
	devices domain.DeviceStore,
	state domain.LocalStateStore,
	notifier Notifier,
	logger *zap.Logger,
) *Agent {
	defaults := DefaultAgentConfig()
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.PermissionCheckInterval <= 0 {
		config.PermissionCheckInterval = defaults.PermissionCheckInterval
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	return &Agent{
		config:      config,
		session:     session,
		usage:       usage,
		blocker:     blocker,
		permissions: permissions,
		devices:     devices,
		state:       state,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// Run starts the agent loop.
// This blocks until ctx is canceled; shutdown writes use their own timeout.
func (a *Agent) Run(ctx context.Context) error {
	link, err := a.state.LoadLink()
	if err != nil {
		if errors.Is(err, domain.ErrNotLinked) {
			return fmt.Errorf("%w: run 'childmon link' first", err)
		}
		return fmt.Errorf("failed to load linked child: %w", err)
	}
	a.link = link

	usageCtx, stopUsage := context.WithCancel(ctx)
	defer stopUsage()

	var wg sync.WaitGroup
	if a.usage != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.usage.Run(usageCtx)
		}()
	}

	if err := a.session.Start(ctx, link.Context); err != nil {
		stopUsage()
		wg.Wait()
		return fmt.Errorf("failed to start enforcement: %w", err)
	}

	a.logger.Info("agent started",
		zap.Int("pid", os.Getpid()),
		zap.String("device_id", link.DeviceID),
		zap.String("child_id", link.Context.ChildID),
		zap.String("family_id", link.Context.FamilyID))

	a.heartbeat(ctx)
	a.checkPermissions(ctx)
	a.notify("ready", a.notifier.Ready)

	heartbeatTicker := time.NewTicker(a.config.HeartbeatInterval)
	permissionTicker := time.NewTicker(a.config.PermissionCheckInterval)
	sweepTicker := time.NewTicker(a.config.SweepInterval)

	defer func() {
		heartbeatTicker.Stop()
		permissionTicker.Stop()
		sweepTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopping")
			a.shutdown()
			wg.Wait()
			return ctx.Err()

		case <-heartbeatTicker.C:
			a.heartbeat(ctx)

		case <-permissionTicker.C:
			a.checkPermissions(ctx)

		case <-sweepTicker.C:
			a.sweep(ctx)
		}
	}
}

// heartbeat refreshes the remote device record, the local agent state and
// the service watchdog.
func (a *Agent) heartbeat(ctx context.Context) {
	now := a.now()

	if a.devices != nil {
		if err := a.devices.Heartbeat(ctx, a.link.DeviceID, a.link.Context.ChildID, now); err != nil {
			a.logger.Warn("failed to write device heartbeat", zap.Error(err))
		}
	}

	status := a.session.Status()
	if err := a.state.SaveAgentState(domain.AgentState{
		PID:           os.Getpid(),
		SessionID:     status.SessionID,
		APIAddress:    a.config.APIAddress,
		LastHeartbeat: now,
		AppVersion:    a.config.Version,
	}); err != nil {
		a.logger.Warn("failed to update agent state", zap.Error(err))
	}

	a.notify("watchdog", a.notifier.Watchdog)
}

// checkPermissions logs the grants whenever they change.
func (a *Agent) checkPermissions(ctx context.Context) {
	if a.permissions == nil {
		return
	}
	status := a.permissions.Status(ctx)
	if a.lastPermissions != nil && *a.lastPermissions == status {
		return
	}
	a.lastPermissions = &status

	fields := []zap.Field{
		zap.Bool("accessibility", status.Accessibility),
		zap.Bool("overlay", status.Overlay),
		zap.Bool("battery_optimization", status.BatteryOptimization),
	}
	if status.Accessibility && status.Overlay && status.BatteryOptimization {
		a.logger.Info("permission status", fields...)
		return
	}
	a.logger.Warn("permission status incomplete", fields...)
}

func (a *Agent) sweep(ctx context.Context) {
	if a.blocker == nil {
		return
	}
	if err := a.blocker.Sweep(ctx); err != nil {
		a.logger.Warn("block rule sweep failed", zap.Error(err))
	}
}

// shutdown stops enforcement and marks the device inactive.
func (a *Agent) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()

	a.notify("stopping", a.notifier.Stopping)
	a.session.Stop(ctx)

	if a.devices != nil {
		if err := a.devices.MarkInactive(ctx, a.link.DeviceID); err != nil {
			a.logger.Warn("failed to mark device inactive", zap.Error(err))
		}
	}
	if err := a.state.ClearAgentState(); err != nil {
		a.logger.Warn("failed to clear agent state", zap.Error(err))
	}
}

func (a *Agent) notify(name string, fn func() error) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		a.logger.Debug("service notify failed", zap.String("state", name), zap.Error(err))
	}
}
