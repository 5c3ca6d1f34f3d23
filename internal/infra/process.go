// Package infra implements infrastructure concerns (processes, blocking, local state).
package infra

import (
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// List returns every running process keyed by PID.
func (pm *ProcessManagerImpl) List() (map[int]string, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	out := make(map[int]string, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // Process may have exited
		}
		out[int(p.Pid)] = name
	}
	return out, nil
}

// FindByName returns PIDs of processes whose name equals name (case-insensitive).
// "go" does not match "gopls".
func (pm *ProcessManagerImpl) FindByName(name string) ([]int, error) {
	procs, err := pm.List()
	if err != nil {
		return nil, err
	}

	var found []int
	for pid, procName := range procs {
		if strings.EqualFold(procName, name) {
			found = append(found, pid)
		}
	}
	return found, nil
}

// Kill terminates a process by PID using SIGKILL.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// Suspend stops a process by PID using SIGSTOP.
func (pm *ProcessManagerImpl) Suspend(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Suspend()
}

// Resume continues a stopped process by PID using SIGCONT.
func (pm *ProcessManagerImpl) Resume(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Resume()
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	// On Unix, FindProcess always succeeds
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
