package infra

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

func blockApps(pkgs ...string) domain.EnforcementDecision {
	d := domain.EnforcementDecision{Apps: map[string]domain.AppDecision{}}
	for _, p := range pkgs {
		d.Apps[p] = domain.AppDecision{Active: true, Reason: domain.ReasonBlocked, Message: "Blocked by Parent"}
	}
	return d
}

func newTestBlocker(pm *mockProcessManager, suspendMode, root bool) *ProcessBlocker {
	b := NewProcessBlocker(pm, BlockerConfig{
		TrackedPackages:   []string{"minecraft", "roblox", "sshd"},
		ProtectedPackages: []string{"sshd", "childmon"},
		SuspendMode:       suspendMode,
	}, func() bool { return true }, zap.NewNop())
	b.privileged = func() bool { return root }
	return b
}

func TestRuleBook_Resolve(t *testing.T) {
	decision := blockApps("Minecraft", "*", "sshd")
	decision.Global = domain.GlobalDecision{Active: true, Reason: domain.ReasonDailyLimit, Message: "Daily Limit Reached"}
	rb := NewRuleBook(decision, []string{"roblox", "sshd"}, []string{"sshd"})

	tests := []struct {
		name       string
		pkg        string
		wantOK     bool
		wantReason domain.BlockReason
	}{
		{"direct rule, case-insensitive", "minecraft", true, domain.ReasonBlocked},
		{"global rule for tracked package", "roblox", true, domain.ReasonDailyLimit},
		{"untracked package ignores global", "firefox", false, ""},
		{"protected package never resolves", "sshd", false, ""},
		{"wildcard never resolves", "*", false, ""},
		{"blank never resolves", "  ", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok := rb.Resolve(tt.pkg)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantReason, rule.Reason)
		})
	}
}

func TestRuleBook_InactiveGlobal(t *testing.T) {
	rb := NewRuleBook(domain.EnforcementDecision{}, []string{"roblox"}, nil)
	_, ok := rb.Resolve("roblox")
	assert.False(t, ok)
	assert.True(t, rb.Empty())
}

// TestProcessBlocker_KillMode verifies unprivileged blocking kills matching processes.
func TestProcessBlocker_KillMode(t *testing.T) {
	pm := newMockProcessManager()
	pm.SetRunning(100, "minecraft")
	pm.SetRunning(101, "Minecraft")
	pm.SetRunning(200, "firefox")
	b := newTestBlocker(pm, true, false)

	method, err := b.ApplyBlockRules(context.Background(), blockApps("minecraft"))
	require.NoError(t, err)

	assert.Equal(t, MethodProcess, method)
	assert.Equal(t, []int{100, 101}, pm.killed())
	assert.True(t, pm.IsRunning(200))
}

// TestProcessBlocker_SuspendDiffing verifies only added packages are suspended and removed ones resumed.
func TestProcessBlocker_SuspendDiffing(t *testing.T) {
	pm := newMockProcessManager()
	pm.SetRunning(100, "minecraft")
	pm.SetRunning(300, "roblox")
	b := newTestBlocker(pm, true, true)
	ctx := context.Background()

	method, err := b.ApplyBlockRules(ctx, blockApps("minecraft"))
	require.NoError(t, err)
	assert.Equal(t, MethodSuspend, method)
	assert.True(t, pm.isSuspended(100))
	assert.False(t, pm.isSuspended(300))
	assert.Equal(t, []string{"minecraft"}, b.Suspended())

	_, err = b.ApplyBlockRules(ctx, blockApps("roblox"))
	require.NoError(t, err)
	assert.False(t, pm.isSuspended(100))
	assert.True(t, pm.isSuspended(300))
	assert.Equal(t, []string{"roblox"}, b.Suspended())
	assert.Empty(t, pm.killed())
}

func TestProcessBlocker_SelfAndProtectedUntouched(t *testing.T) {
	pm := newMockProcessManager()
	pm.SetRunning(pm.selfPID, "minecraft")
	pm.SetRunning(50, "sshd")
	b := newTestBlocker(pm, false, true)

	_, err := b.ApplyBlockRules(context.Background(), blockApps("minecraft", "sshd"))
	require.NoError(t, err)
	assert.Empty(t, pm.killed())
}

// TestProcessBlocker_Sweep verifies processes started after the apply are caught.
func TestProcessBlocker_Sweep(t *testing.T) {
	pm := newMockProcessManager()
	b := newTestBlocker(pm, true, true)
	ctx := context.Background()

	_, err := b.ApplyBlockRules(ctx, blockApps("minecraft"))
	require.NoError(t, err)
	assert.Empty(t, b.Suspended())

	pm.SetRunning(400, "minecraft")
	require.NoError(t, b.Sweep(ctx))
	assert.True(t, pm.isSuspended(400))

	// A process that exits is forgotten
	pm.Exit(400)
	require.NoError(t, b.Sweep(ctx))
	assert.Empty(t, b.Suspended())
}

func TestProcessBlocker_GlobalLimit(t *testing.T) {
	pm := newMockProcessManager()
	pm.SetRunning(100, "minecraft")
	pm.SetRunning(200, "firefox")
	b := newTestBlocker(pm, false, false)

	decision := domain.EnforcementDecision{
		Apps:   map[string]domain.AppDecision{},
		Global: domain.GlobalDecision{Active: true, Reason: domain.ReasonDailyLimit, Message: "Daily Limit Reached"},
	}
	_, err := b.ApplyBlockRules(context.Background(), decision)
	require.NoError(t, err)
	assert.Equal(t, []int{100}, pm.killed())
}

func TestProcessBlocker_ClearResumesEverything(t *testing.T) {
	pm := newMockProcessManager()
	pm.SetRunning(100, "minecraft")
	pm.SetRunning(300, "roblox")
	b := newTestBlocker(pm, true, true)
	ctx := context.Background()

	_, err := b.ApplyBlockRules(ctx, blockApps("minecraft", "roblox"))
	require.NoError(t, err)
	require.Len(t, b.Suspended(), 2)

	require.NoError(t, b.ClearBlockRules(ctx))
	assert.Empty(t, b.Suspended())
	assert.False(t, pm.isSuspended(100))
	assert.False(t, pm.isSuspended(300))

	// Nothing left to sweep
	pm.SetRunning(500, "minecraft")
	require.NoError(t, b.Sweep(ctx))
	assert.False(t, pm.isSuspended(500))
}

func TestProcessBlocker_LosingRootResumes(t *testing.T) {
	pm := newMockProcessManager()
	pm.SetRunning(100, "minecraft")
	b := newTestBlocker(pm, true, true)
	ctx := context.Background()

	_, err := b.ApplyBlockRules(ctx, blockApps("minecraft"))
	require.NoError(t, err)
	require.True(t, pm.isSuspended(100))

	b.privileged = func() bool { return false }
	method, err := b.ApplyBlockRules(ctx, blockApps("minecraft"))
	require.NoError(t, err)
	assert.Equal(t, MethodProcess, method)
	assert.Empty(t, b.Suspended())
	assert.Equal(t, []int{100}, pm.killed())
}

func TestProcessBlocker_SuspendFailureNotRecorded(t *testing.T) {
	pm := newMockProcessManager()
	pm.SetRunning(100, "minecraft")
	pm.failSuspend[100] = true
	b := newTestBlocker(pm, true, true)

	_, err := b.ApplyBlockRules(context.Background(), blockApps("minecraft"))
	require.NoError(t, err)
	assert.Empty(t, b.Suspended())
}

func TestProcessBlocker_ListError(t *testing.T) {
	pm := newMockProcessManager()
	pm.listErr = errors.New("no /proc")
	b := newTestBlocker(pm, false, false)

	_, err := b.ApplyBlockRules(context.Background(), blockApps("minecraft"))
	assert.Error(t, err)

	_, err = b.PermissionStatus(context.Background())
	assert.Error(t, err)
}

func TestProcessBlocker_PermissionStatus(t *testing.T) {
	pm := newMockProcessManager()
	pm.SetRunning(1, "childmon")
	pm.SetRunning(2, "systemd")

	b := newTestBlocker(pm, true, true)
	status, err := b.PermissionStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionStatus{Accessibility: true, Overlay: true, BatteryOptimization: true}, status)

	b.privileged = func() bool { return false }
	status, err = b.PermissionStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Overlay)
}

func TestProcessBlocker_Available(t *testing.T) {
	assert.True(t, newTestBlocker(newMockProcessManager(), false, false).Available())
	assert.False(t, NewProcessBlocker(nil, BlockerConfig{}, nil, zap.NewNop()).Available())
}
