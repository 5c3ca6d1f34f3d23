//go:build integration

package integration

import (
	"sort"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// fakeProcesses is an in-memory process table.
type fakeProcesses struct {
	mu     sync.Mutex
	procs  map[int]string
	killed []string
}

func newFakeProcesses() *fakeProcesses {
	return &fakeProcesses{procs: make(map[int]string)}
}

func (f *fakeProcesses) Launch(pid int, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[pid] = name
}

func (f *fakeProcesses) Killed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.killed...)
	sort.Strings(out)
	return out
}

func (f *fakeProcesses) Running(name string) bool {
	pids, _ := f.FindByName(name)
	return len(pids) > 0
}

func (f *fakeProcesses) List() (map[int]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]string, len(f.procs))
	for pid, name := range f.procs {
		out[pid] = name
	}
	return out, nil
}

func (f *fakeProcesses) FindByName(name string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pids []int
	for pid, n := range f.procs {
		if strings.EqualFold(n, name) {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids, nil
}

func (f *fakeProcesses) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name, ok := f.procs[pid]; ok {
		f.killed = append(f.killed, name)
		delete(f.procs, pid)
	}
	return nil
}

func (f *fakeProcesses) Suspend(pid int) error { return nil }

func (f *fakeProcesses) Resume(pid int) error { return nil }

func (f *fakeProcesses) IsRunning(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[pid]
	return ok
}

func (f *fakeProcesses) GetCurrentPID() int { return 1 }

// fakeUsage publishes snapshots on demand.
type fakeUsage struct {
	mu        sync.Mutex
	latest    domain.UsageSnapshot
	listeners map[int]func(domain.UsageSnapshot)
	next      int
	timezones []string
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{listeners: make(map[int]func(domain.UsageSnapshot))}
}

func (u *fakeUsage) SubscribeToUsage(onUpdate func(domain.UsageSnapshot)) domain.Unsubscribe {
	u.mu.Lock()
	id := u.next
	u.next++
	u.listeners[id] = onUpdate
	latest := u.latest
	u.mu.Unlock()

	onUpdate(latest)
	return func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		delete(u.listeners, id)
	}
}

func (u *fakeUsage) SetTimezone(tz string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.timezones = append(u.timezones, tz)
	return nil
}

func (u *fakeUsage) Timezones() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.timezones...)
}

func (u *fakeUsage) Publish(snap domain.UsageSnapshot) {
	u.mu.Lock()
	u.latest = snap
	listeners := make([]func(domain.UsageSnapshot), 0, len(u.listeners))
	for _, l := range u.listeners {
		listeners = append(listeners, l)
	}
	u.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func millis(ms int64) *int64 { return &ms }
