package domain

import (
	"context"
	"time"
)

// Unsubscribe releases a subscription. Calling it more than once is safe.
type Unsubscribe func()

// ControlsStore provides the parent-defined app controls for a child.
// Implementation: Redis hashes with a pub/sub change feed.
type ControlsStore interface {
	// SubscribeToControls emits the current state, then every change.
	SubscribeToControls(ctx context.Context, familyID, childID string, onUpdate func(ControlsState)) (Unsubscribe, error)

	// GetControlsOnce reads the current state without subscribing.
	GetControlsOnce(ctx context.Context, familyID, childID string) (ControlsState, error)
}

// UsageAggregator supplies per-package foreground time for the local day.
type UsageAggregator interface {
	// SubscribeToUsage emits the latest snapshot, then every new one.
	SubscribeToUsage(onUpdate func(UsageSnapshot)) Unsubscribe

	// SetTimezone changes the zone used for the local-midnight reset.
	SetTimezone(tz string) error
}

// RemoteStatusStore provides remote force-block records and accepts enforcement telemetry.
type RemoteStatusStore interface {
	// SubscribeToRemoteStatus emits the full set of active remote blocks on every change.
	SubscribeToRemoteStatus(ctx context.Context, childID string, onUpdate func([]RemoteBlock)) (Unsubscribe, error)

	// ConfirmEnforcement records that a remote block was enforced on the device.
	ConfirmEnforcement(ctx context.Context, childID, packageName string, c EnforcementConfirmation) error
}

// PlatformBlocker enforces decisions at the OS level.
type PlatformBlocker interface {
	// Available reports whether the blocker can run on this platform.
	Available() bool

	// ApplyBlockRules replaces the active rules. Returns the enforcement method used.
	ApplyBlockRules(ctx context.Context, decision EnforcementDecision) (string, error)

	// ClearBlockRules removes every rule and releases anything suspended.
	ClearBlockRules(ctx context.Context) error

	// PermissionStatus reports current grants.
	PermissionStatus(ctx context.Context) (PermissionStatus, error)
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// List returns running processes keyed by PID with their names.
	List() (map[int]string, error)

	// FindByName returns PIDs of processes whose name matches exactly (case-insensitive).
	FindByName(name string) ([]int, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// Suspend stops a process (SIGSTOP).
	Suspend(pid int) error

	// Resume continues a stopped process (SIGCONT).
	Resume(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DeviceStore records device liveness for the parent side.
type DeviceStore interface {
	// Heartbeat marks the device as seen now.
	Heartbeat(ctx context.Context, deviceID, childID string, at time.Time) error

	// MarkInactive flags the device as no longer running the agent.
	MarkInactive(ctx context.Context, deviceID string) error
}

// UsageStore persists daily usage so totals survive restarts.
type UsageStore interface {
	// AddUsage adds ms to package's total for the given local date.
	AddUsage(ctx context.Context, date, packageName string, ms int64) error

	// DailyTotals returns package totals for a date.
	DailyTotals(ctx context.Context, date string) (map[string]int64, error)
}

// LocalStateStore provides encrypted on-device persistence.
type LocalStateStore interface {
	// LoadLink returns the linked device, or ErrNotLinked.
	LoadLink() (*LinkedDevice, error)

	// SaveLink persists the child context for this device.
	SaveLink(ctx EnforcementContext) (*LinkedDevice, error)

	// ClearLink forgets the child context. The device id is kept.
	ClearLink() error

	// DeviceID returns the stable device id, generating one on first use.
	DeviceID() (string, error)

	// SaveAgentState records the running agent for the status command.
	SaveAgentState(state AgentState) error

	// LoadAgentState returns the last recorded agent, or ErrNotFound.
	LoadAgentState() (*AgentState, error)

	// ClearAgentState removes the agent record on clean shutdown.
	ClearAgentState() error

	// Close releases resources (e.g., database connection).
	Close() error
}

// Enforcer runs one enforcement session at a time.
type Enforcer interface {
	// Start begins enforcing for ec, replacing any running session.
	Start(ctx context.Context, ec EnforcementContext) error

	// Stop ends the session and clears every blocker rule.
	Stop(ctx context.Context)

	// Status reports the current session.
	Status() SessionStatus
}
