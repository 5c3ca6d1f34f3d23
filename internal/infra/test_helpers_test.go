package infra

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	mu          sync.Mutex
	procs       map[int]string
	selfPID     int
	listErr     error
	failSuspend map[int]bool
	killedPIDs  []int
	suspended   map[int]bool
	resumedPIDs []int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		procs:       make(map[int]string),
		selfPID:     1,
		failSuspend: make(map[int]bool),
		suspended:   make(map[int]bool),
	}
}

func (m *mockProcessManager) List() (map[int]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make(map[int]string, len(m.procs))
	for pid, name := range m.procs {
		out[pid] = name
	}
	return out, nil
}

func (m *mockProcessManager) FindByName(name string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []int
	for pid, n := range m.procs {
		if strings.EqualFold(n, name) {
			found = append(found, pid)
		}
	}
	sort.Ints(found)
	return found, nil
}

func (m *mockProcessManager) Kill(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killedPIDs = append(m.killedPIDs, pid)
	delete(m.procs, pid)
	return nil
}

func (m *mockProcessManager) Suspend(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSuspend[pid] {
		return errors.New("operation not permitted")
	}
	m.suspended[pid] = true
	return nil
}

func (m *mockProcessManager) Resume(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.suspended, pid)
	m.resumedPIDs = append(m.resumedPIDs, pid)
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.procs[pid]
	return ok
}

func (m *mockProcessManager) GetCurrentPID() int {
	return m.selfPID
}

func (m *mockProcessManager) SetRunning(pid int, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs[pid] = name
}

func (m *mockProcessManager) Exit(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.procs, pid)
	delete(m.suspended, pid)
}

func (m *mockProcessManager) isSuspended(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspended[pid]
}

func (m *mockProcessManager) killed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]int(nil), m.killedPIDs...)
	sort.Ints(out)
	return out
}
