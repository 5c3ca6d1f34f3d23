// Package usage aggregates per-package foreground time for the local day.
package usage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // zones arrive from the parent side, the host may lack a zoneinfo database

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
	"github.com/eliteGoblin/focusd/child_mon/internal/metrics"
)

const dateLayout = "2006-01-02"

// Config holds tracker configuration
type Config struct {
	SampleInterval  time.Duration
	TrackedPackages []string
	Timezone        string // IANA name or "Local"
}

// DefaultConfig returns default tracker configuration.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 15 * time.Second,
		Timezone:       "Local",
	}
}

// Tracker implements domain.UsageAggregator by sampling the process list.
//
// A tracked package counts as in use for a whole interval when at least one
// of its processes is running at the end of it. Totals reset at local
// midnight in the tracker's timezone and are persisted per day.
type Tracker struct {
	processes domain.ProcessManager
	store     domain.UsageStore
	clock     Clock
	config    Config
	tracked   map[string]string // lowercased process name -> package
	logger    *zap.Logger

	mu          sync.Mutex
	location    *time.Location
	date        string
	totals      map[string]int64
	lastSample  time.Time
	subscribers map[uint64]func(domain.UsageSnapshot)
	nextID      uint64
}

// NewTracker creates a usage tracker. store may be nil, in which case totals
// only live in memory.
func NewTracker(processes domain.ProcessManager, store domain.UsageStore, config Config, logger *zap.Logger) (*Tracker, error) {
	return newTracker(processes, store, config, RealClock{}, logger)
}

func newTracker(processes domain.ProcessManager, store domain.UsageStore, config Config, clock Clock, logger *zap.Logger) (*Tracker, error) {
	if config.SampleInterval <= 0 {
		config.SampleInterval = DefaultConfig().SampleInterval
	}
	if config.Timezone == "" {
		config.Timezone = DefaultConfig().Timezone
	}
	location, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
	}

	tracked := make(map[string]string, len(config.TrackedPackages))
	for _, pkg := range config.TrackedPackages {
		pkg = strings.TrimSpace(pkg)
		if pkg == "" {
			continue
		}
		tracked[strings.ToLower(pkg)] = pkg
	}

	t := &Tracker{
		processes:   processes,
		store:       store,
		clock:       clock,
		config:      config,
		tracked:     tracked,
		logger:      logger,
		location:    location,
		totals:      make(map[string]int64),
		subscribers: make(map[uint64]func(domain.UsageSnapshot)),
	}
	t.date = t.clock.Now().In(location).Format(dateLayout)
	return t, nil
}

// SubscribeToUsage delivers the current snapshot immediately, then every new one.
func (t *Tracker) SubscribeToUsage(onUpdate func(domain.UsageSnapshot)) domain.Unsubscribe {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subscribers[id] = onUpdate
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	onUpdate(snapshot)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subscribers, id)
			t.mu.Unlock()
		})
	}
}

// SetTimezone switches the zone used for the midnight reset. When the local
// date differs in the new zone the day's totals start over.
func (t *Tracker) SetTimezone(tz string) error {
	location, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	t.mu.Lock()
	if t.location.String() == location.String() {
		t.mu.Unlock()
		return nil
	}
	t.location = location
	date := t.clock.Now().In(location).Format(dateLayout)
	rolled := date != t.date
	if rolled {
		t.date = date
		t.totals = make(map[string]int64)
	}
	t.mu.Unlock()

	t.logger.Info("usage timezone changed",
		zap.String("timezone", tz),
		zap.String("date", date))

	if rolled {
		t.restore(context.Background(), date)
		t.publish()
	}
	return nil
}

// Run restores today's persisted totals, then samples until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	if len(t.tracked) == 0 {
		t.logger.Warn("no tracked packages configured, usage stays at zero")
	}

	t.mu.Lock()
	date := t.date
	t.mu.Unlock()
	t.restore(ctx, date)
	t.publish()

	ticker := time.NewTicker(t.config.SampleInterval)
	defer ticker.Stop()

	t.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sample(ctx)
		}
	}
}

// Sample takes one reading of the process list and publishes a new snapshot.
func (t *Tracker) Sample(ctx context.Context) {
	running, err := t.runningPackages()
	if err != nil {
		t.logger.Warn("failed to list processes for usage", zap.Error(err))
		return
	}

	now := t.clock.Now()

	t.mu.Lock()
	elapsed := t.elapsedLocked(now)
	t.lastSample = now

	local := now.In(t.location)
	date := local.Format(dateLayout)
	var previous string
	var previousMs int64
	if date != t.date {
		t.logger.Info("local day changed, resetting usage",
			zap.String("previous", t.date),
			zap.String("date", date))
		// Time before local midnight belongs to the day that just ended.
		sinceMidnight := local.Sub(time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.location))
		if elapsed > sinceMidnight {
			previous = t.date
			previousMs = (elapsed - sinceMidnight).Milliseconds()
			elapsed = sinceMidnight
		}
		t.date = date
		t.totals = make(map[string]int64)
	}

	ms := elapsed.Milliseconds()
	if ms > 0 {
		for _, pkg := range running {
			t.totals[pkg] += ms
		}
	}
	t.mu.Unlock()

	if previousMs > 0 {
		t.persist(ctx, previous, running, previousMs)
	}
	if ms > 0 {
		t.persist(ctx, date, running, ms)
	}

	t.publish()
}

// persist adds ms to every running package for date.
func (t *Tracker) persist(ctx context.Context, date string, running []string, ms int64) {
	if t.store == nil {
		return
	}
	for _, pkg := range running {
		if err := t.store.AddUsage(ctx, date, pkg, ms); err != nil {
			t.logger.Warn("failed to persist usage",
				zap.String("package", pkg),
				zap.String("date", date),
				zap.Error(err))
		}
	}
}

// Snapshot returns the current totals.
func (t *Tracker) Snapshot() domain.UsageSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// elapsedLocked returns the time to credit since the previous sample. The
// first sample only sets the baseline. A gap much longer than the interval
// means the machine slept, so only one interval is credited.
func (t *Tracker) elapsedLocked(now time.Time) time.Duration {
	if t.lastSample.IsZero() {
		return 0
	}
	elapsed := now.Sub(t.lastSample)
	if elapsed < 0 {
		return 0
	}
	if elapsed > 2*t.config.SampleInterval {
		return t.config.SampleInterval
	}
	return elapsed
}

// runningPackages returns the tracked packages with at least one live process.
func (t *Tracker) runningPackages() ([]string, error) {
	if len(t.tracked) == 0 {
		return nil, nil
	}
	procs, err := t.processes.List()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, name := range procs {
		if pkg, ok := t.tracked[strings.ToLower(name)]; ok {
			seen[pkg] = true
		}
	}

	running := make([]string, 0, len(seen))
	for pkg := range seen {
		running = append(running, pkg)
	}
	sort.Strings(running)
	return running, nil
}

// restore replaces the totals for date with the persisted ones.
func (t *Tracker) restore(ctx context.Context, date string) {
	if t.store == nil {
		return
	}
	totals, err := t.store.DailyTotals(ctx, date)
	if err != nil {
		t.logger.Warn("failed to restore persisted usage",
			zap.String("date", date),
			zap.Error(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.date != date {
		return
	}
	for pkg, ms := range totals {
		if ms > t.totals[pkg] {
			t.totals[pkg] = ms
		}
	}
}

// publish delivers the current snapshot to every subscriber.
func (t *Tracker) publish() {
	t.mu.Lock()
	snapshot := t.snapshotLocked()
	callbacks := make([]func(domain.UsageSnapshot), 0, len(t.subscribers))
	for _, cb := range t.subscribers {
		callbacks = append(callbacks, cb)
	}
	t.mu.Unlock()

	metrics.UsageTotalSeconds.Set(float64(snapshot.TotalDurationMs) / 1000)
	for _, cb := range callbacks {
		cb(snapshot)
	}
}

// snapshotLocked builds the snapshot, longest use first.
func (t *Tracker) snapshotLocked() domain.UsageSnapshot {
	snapshot := domain.UsageSnapshot{
		Totals:   make([]domain.UsageTotal, 0, len(t.totals)),
		Date:     t.date,
		Timezone: t.location.String(),
	}
	for pkg, ms := range t.totals {
		snapshot.Totals = append(snapshot.Totals, domain.UsageTotal{PackageName: pkg, DurationMs: ms})
		snapshot.TotalDurationMs += ms
	}
	sort.Slice(snapshot.Totals, func(i, j int) bool {
		a, b := snapshot.Totals[i], snapshot.Totals[j]
		if a.DurationMs != b.DurationMs {
			return a.DurationMs > b.DurationMs
		}
		return a.PackageName < b.PackageName
	})
	return snapshot
}

var _ domain.UsageAggregator = (*Tracker)(nil)
