// Package scheduler drives the engine's daily cadence on UTC cron: match
// selection shortly after midnight, cycle creation a few minutes later,
// resolution checks through the evening and night, and weekly cleanup.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oddyssey/engine/internal/domain"
	"github.com/oddyssey/engine/internal/guard"
)

// Cron expressions, all evaluated in UTC.
const (
	matchSelectSpec  = "1 0 * * *"        // 00:01, pick the day's matches
	newCycleSpec     = "5 0 * * *"        // 00:05, create and publish the cycle
	resolveCheckSpec = "0 22,23,0-6 * * *" // hourly through the late window
	cleanupSpec      = "0 3 * * 0"        // Sunday 03:00
)

// Cycle creation is the one job that must not lose its day: a transient
// failure (deadlock, brief outage) gets a few more chances before the run is
// given up.
const (
	newCycleAttempts       = 3
	defaultNewCycleBackoff = 30 * time.Second
)

// Lock names, one per job.
const (
	lockMatchSelect = "matchSelect"
	lockNewCycle    = "newCycle"
	lockResolve     = "resolve"
	lockCleanup     = "cleanup"
)

// Lifecycle is the slice of the cycle manager the scheduler drives.
type Lifecycle interface {
	SelectDailyMatches(ctx context.Context, date time.Time) error
	CreateDailyCycle(ctx context.Context, date time.Time) (*domain.Cycle, error)
	ResolvePending(ctx context.Context) error
	SyncRepair(ctx context.Context) error
}

// Cleaner purges aged rows.
type Cleaner interface {
	PurgeOlderThan(ctx context.Context, cycleDays, selectionDays int) (int64, error)
}

// JobStatus is the last outcome of one scheduled job.
type JobStatus struct {
	Name    string     `json:"name"`
	LastRun *time.Time `json:"last_run,omitempty"`
	LastErr string     `json:"last_error,omitempty"`
	Running bool       `json:"running"`
}

// Scheduler owns the cron runner and the per-job locks. Manual triggers and
// cron firings share the same locked entry points.
type Scheduler struct {
	lifecycle Lifecycle
	cleaner   Cleaner
	locks     *guard.LockSet
	logger    *slog.Logger
	cron      *cron.Cron

	cycleCleanupDays     int
	selectionCleanupDays int
	jobTimeout           time.Duration
	newCycleBackoff      time.Duration

	mu      sync.Mutex
	lastRun map[string]time.Time
	lastErr map[string]string

	now func() time.Time
}

// New builds a stopped scheduler; call Start to arm the cron entries.
func New(lifecycle Lifecycle, cleaner Cleaner, logger *slog.Logger, cycleCleanupDays, selectionCleanupDays int) *Scheduler {
	return &Scheduler{
		lifecycle:            lifecycle,
		cleaner:              cleaner,
		locks:                guard.NewLockSet(),
		logger:               logger,
		cron:                 cron.New(cron.WithLocation(time.UTC)),
		cycleCleanupDays:     cycleCleanupDays,
		selectionCleanupDays: selectionCleanupDays,
		jobTimeout:           20 * time.Minute,
		newCycleBackoff:      defaultNewCycleBackoff,
		lastRun:              map[string]time.Time{},
		lastErr:              map[string]string{},
		now:                  func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the cron entries and begins firing them.
func (s *Scheduler) Start() error {
	jobs := []struct {
		spec string
		name string
		fn   func(context.Context) error
	}{
		{matchSelectSpec, lockMatchSelect, s.runMatchSelection},
		{newCycleSpec, lockNewCycle, s.runNewCycle},
		{resolveCheckSpec, lockResolve, s.runResolution},
		{cleanupSpec, lockCleanup, s.runCleanup},
	}
	for _, j := range jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() { s.runLocked(j.name, j.fn) }); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(jobs))
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// runLocked runs a job under its named lock, recording outcome for /status.
// An invocation that would overlap a still-running one is skipped.
func (s *Scheduler) runLocked(name string, fn func(context.Context) error) {
	if !s.locks.TryAcquire(name) {
		s.logger.Warn("job still running, skipping", "job", name)
		return
	}
	defer s.locks.Release(name)

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	start := s.now()
	err := fn(ctx)

	s.mu.Lock()
	s.lastRun[name] = start
	if err != nil {
		s.lastErr[name] = err.Error()
	} else {
		s.lastErr[name] = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", name, "error", err)
		return
	}
	s.logger.Info("job finished", "job", name, "took", s.now().Sub(start))
}

func (s *Scheduler) runMatchSelection(ctx context.Context) error {
	return s.lifecycle.SelectDailyMatches(ctx, s.now())
}

func (s *Scheduler) runNewCycle(ctx context.Context) error {
	backoff := s.newCycleBackoff
	var err error
	for attempt := 1; attempt <= newCycleAttempts; attempt++ {
		_, err = s.lifecycle.CreateDailyCycle(ctx, s.now())
		if err == nil {
			return nil
		}
		if attempt == newCycleAttempts {
			break
		}
		s.logger.Warn("cycle creation failed, retrying",
			"attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (s *Scheduler) runResolution(ctx context.Context) error {
	if err := s.lifecycle.SyncRepair(ctx); err != nil {
		s.logger.Warn("sync repair pending", "error", err)
	}
	return s.lifecycle.ResolvePending(ctx)
}

func (s *Scheduler) runCleanup(ctx context.Context) error {
	purged, err := s.cleaner.PurgeOlderThan(ctx, s.cycleCleanupDays, s.selectionCleanupDays)
	if err != nil {
		return err
	}
	s.logger.Info("cleanup done", "purged", purged)
	return nil
}

// TriggerMatchSelection runs the selection job now, from the control surface.
func (s *Scheduler) TriggerMatchSelection() { go s.runLocked(lockMatchSelect, s.runMatchSelection) }

// TriggerNewCycle runs the cycle creation job now.
func (s *Scheduler) TriggerNewCycle() { go s.runLocked(lockNewCycle, s.runNewCycle) }

// TriggerResolution runs the resolution check now.
func (s *Scheduler) TriggerResolution() { go s.runLocked(lockResolve, s.runResolution) }

// TriggerCleanup runs the cleanup job now.
func (s *Scheduler) TriggerCleanup() { go s.runLocked(lockCleanup, s.runCleanup) }

// Status reports every job's last outcome and whether it is running.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, 4)
	for _, name := range []string{lockMatchSelect, lockNewCycle, lockResolve, lockCleanup} {
		st := JobStatus{Name: name, Running: s.locks.Held(name), LastErr: s.lastErr[name]}
		if t, ok := s.lastRun[name]; ok {
			lr := t
			st.LastRun = &lr
		}
		out = append(out, st)
	}
	return out
}
