package infra

import (
	"context"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
	"github.com/eliteGoblin/focusd/child_mon/internal/metrics"
)

// Enforcement methods reported by ProcessBlocker.
const (
	MethodSuspend = "suspend" // SIGSTOP, reversed with SIGCONT when the rule goes away
	MethodProcess = "process" // SIGKILL on every sweep
)

// BlockerConfig configures the process blocker.
type BlockerConfig struct {
	TrackedPackages   []string // Packages the global daily limit applies to
	ProtectedPackages []string // Never suspended or killed
	SuspendMode       bool     // Prefer suspend over kill when privileged
}

// ProcessBlocker implements domain.PlatformBlocker by suspending or killing
// the processes of blocked packages.
//
// In suspend mode it remembers which processes it stopped so a later decision
// only touches the difference: newly blocked packages are suspended, packages
// that dropped out are resumed. Without root it cannot stop other users'
// processes and falls back to killing them.
type ProcessBlocker struct {
	processes  domain.ProcessManager
	config     BlockerConfig
	privileged func() bool
	supervised func() bool
	available  bool
	logger     *zap.Logger

	mu        sync.Mutex
	rules     RuleBook
	suspended map[string]map[int]bool // package -> suspended pids
}

// NewProcessBlocker creates a blocker. supervised reports whether a process
// supervisor keeps the agent alive; it backs the battery-optimization grant.
func NewProcessBlocker(processes domain.ProcessManager, config BlockerConfig, supervised func() bool, logger *zap.Logger) *ProcessBlocker {
	if supervised == nil {
		supervised = func() bool { return false }
	}
	return &ProcessBlocker{
		processes:  processes,
		config:     config,
		privileged: func() bool { return os.Geteuid() == 0 },
		supervised: supervised,
		available:  processes != nil && runtime.GOOS != "windows",
		logger:     logger,
		rules:      NewRuleBook(domain.EnforcementDecision{}, nil, nil),
		suspended:  make(map[string]map[int]bool),
	}
}

// Available reports whether process signals can be used on this platform.
func (b *ProcessBlocker) Available() bool {
	return b.available
}

// ApplyBlockRules replaces the active rules and enforces them immediately.
func (b *ProcessBlocker) ApplyBlockRules(ctx context.Context, decision domain.EnforcementDecision) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rules = NewRuleBook(decision, b.config.TrackedPackages, b.config.ProtectedPackages)
	return b.enforceLocked()
}

// Sweep re-enforces the current rules against processes started since the last pass.
func (b *ProcessBlocker) Sweep(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rules.Empty() && len(b.suspended) == 0 {
		return nil
	}
	_, err := b.enforceLocked()
	return err
}

// ClearBlockRules drops every rule and resumes everything this blocker suspended.
func (b *ProcessBlocker) ClearBlockRules(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rules = NewRuleBook(domain.EnforcementDecision{}, nil, nil)
	for pkg := range b.suspended {
		b.resumeLocked(pkg)
	}
	return nil
}

// PermissionStatus maps the desktop equivalents of the mobile grants:
// accessibility is seeing other processes, overlay is being allowed to signal
// them and battery optimization is running under a restarting supervisor.
func (b *ProcessBlocker) PermissionStatus(ctx context.Context) (domain.PermissionStatus, error) {
	procs, err := b.processes.List()
	if err != nil {
		return domain.PermissionStatus{}, err
	}
	return domain.PermissionStatus{
		Accessibility:       len(procs) > 1,
		Overlay:             b.privileged(),
		BatteryOptimization: b.supervised(),
	}, nil
}

// Suspended returns the packages currently held in SIGSTOP, sorted.
func (b *ProcessBlocker) Suspended() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.suspended))
	for pkg := range b.suspended {
		out = append(out, pkg)
	}
	sort.Strings(out)
	return out
}

func (b *ProcessBlocker) method() string {
	if b.config.SuspendMode && b.privileged() {
		return MethodSuspend
	}
	return MethodProcess
}

// enforceLocked applies b.rules to the running processes.
func (b *ProcessBlocker) enforceLocked() (string, error) {
	method := b.method()

	// Leaving suspend mode (or losing root) must not strand stopped processes.
	if method != MethodSuspend {
		for pkg := range b.suspended {
			b.resumeLocked(pkg)
		}
	}

	procs, err := b.processes.List()
	if err != nil {
		return method, err
	}
	self := b.processes.GetCurrentPID()

	for pid, name := range procs {
		if pid == self {
			continue
		}
		rule, ok := b.rules.Resolve(name)
		if !ok {
			continue
		}
		pkg := strings.ToLower(name)

		if method == MethodSuspend {
			b.suspendLocked(pkg, pid, rule)
		} else {
			b.killLocked(pkg, pid, rule)
		}
	}

	for pkg, pids := range b.suspended {
		if _, still := b.rules.Resolve(pkg); !still {
			b.resumeLocked(pkg)
			continue
		}
		for pid := range pids {
			if _, alive := procs[pid]; !alive {
				delete(pids, pid)
			}
		}
		if len(pids) == 0 {
			delete(b.suspended, pkg)
		}
	}

	return method, nil
}

func (b *ProcessBlocker) suspendLocked(pkg string, pid int, rule domain.AppDecision) {
	if b.suspended[pkg][pid] {
		return
	}
	if err := b.processes.Suspend(pid); err != nil {
		metrics.ProcessActions.WithLabelValues("suspend", "error").Inc()
		b.logger.Warn("failed to suspend process",
			zap.String("package", pkg),
			zap.Int("pid", pid),
			zap.Error(err))
		return
	}
	metrics.ProcessActions.WithLabelValues("suspend", "success").Inc()
	if b.suspended[pkg] == nil {
		b.suspended[pkg] = make(map[int]bool)
	}
	b.suspended[pkg][pid] = true
	b.logger.Info("process suspended",
		zap.String("package", pkg),
		zap.Int("pid", pid),
		zap.String("reason", string(rule.Reason)))
}

func (b *ProcessBlocker) killLocked(pkg string, pid int, rule domain.AppDecision) {
	if err := b.processes.Kill(pid); err != nil {
		metrics.ProcessActions.WithLabelValues("kill", "error").Inc()
		b.logger.Warn("failed to kill process",
			zap.String("package", pkg),
			zap.Int("pid", pid),
			zap.Error(err))
		return
	}
	metrics.ProcessActions.WithLabelValues("kill", "success").Inc()
	b.logger.Info("process killed",
		zap.String("package", pkg),
		zap.Int("pid", pid),
		zap.String("reason", string(rule.Reason)))
}

// resumeLocked continues every suspended pid of pkg that is still alive.
func (b *ProcessBlocker) resumeLocked(pkg string) {
	for pid := range b.suspended[pkg] {
		if !b.processes.IsRunning(pid) {
			continue
		}
		if err := b.processes.Resume(pid); err != nil {
			metrics.ProcessActions.WithLabelValues("resume", "error").Inc()
			b.logger.Warn("failed to resume process",
				zap.String("package", pkg),
				zap.Int("pid", pid),
				zap.Error(err))
			continue
		}
		metrics.ProcessActions.WithLabelValues("resume", "success").Inc()
	}
	delete(b.suspended, pkg)
	b.logger.Info("package released", zap.String("package", pkg))
}

// Ensure ProcessBlocker implements domain.PlatformBlocker.
var _ domain.PlatformBlocker = (*ProcessBlocker)(nil)
