package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Store abstracts the persistence layer used by the scheduler.
type Store interface {
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasksByStatus(ctx context.Context, status TaskStatus) ([]*Task, error)
	// UpdateTaskSchedule persists status and next trigger. A non-nil reason
	// replaces last_error.
	UpdateTaskSchedule(ctx context.Context, id string, status TaskStatus, next *time.Time, reason *string) error
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error
	RecordRun(ctx context.Context, id string, at time.Time, errMsg *string) error
}

// Executor delivers a task's reminder.
type Executor interface {
	Execute(ctx context.Context, task *Task) error
}

// CalendarSyncer makes sure a year of calendar data is stored.
type CalendarSyncer interface {
	EnsureYear(ctx context.Context, year int, force bool) error
}

const (
	DefaultMaintenanceSpec = "10 1 * * *"
	DefaultRecurringGrace  = time.Hour
	DefaultOneShotGrace    = 10 * time.Minute
	DefaultWorkers         = 8
)

// SchedulerOptions tunes a Scheduler. Zero values select the defaults.
type SchedulerOptions struct {
	MaintenanceSpec string
	Workers         int
	RecurringGrace  time.Duration
	OneShotGrace    time.Duration
	Syncer          CalendarSyncer
	// Now overrides the clock used for misfire checks and recalculation.
	Now func() time.Time
}

// timerEntry is a live timer. entryID is zero while its callback is running.
type timerEntry struct {
	entryID   cron.EntryID
	at        time.Time
	scheduled time.Time
	recurring bool
	gen       uint64
}

// Scheduler keeps one timer per armed task on top of robfig/cron and runs the
// daily maintenance sweep.
type Scheduler struct {
	store    Store
	calc     *Calculator
	executor Executor
	logger   *slog.Logger
	location *time.Location
	opts     SchedulerOptions

	cron  *cron.Cron
	locks *keyedMutex
	sem   chan struct{}

	mu      sync.Mutex
	entries map[string]*timerEntry
	seq     uint64

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(store Store, calc *Calculator, executor Executor, logger *slog.Logger, opts SchedulerOptions) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaintenanceSpec == "" {
		opts.MaintenanceSpec = DefaultMaintenanceSpec
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.RecurringGrace <= 0 {
		opts.RecurringGrace = DefaultRecurringGrace
	}
	if opts.OneShotGrace <= 0 {
		opts.OneShotGrace = DefaultOneShotGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	location := calc.Location()
	cl := cronLogger{logger: logger.With("component", "cron")}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return &Scheduler{
		store:    store,
		calc:     calc,
		executor: executor,
		logger:   logger,
		location: location,
		opts:     opts,
		cron:     c,
		locks:    newKeyedMutex(),
		sem:      make(chan struct{}, opts.Workers),
		entries:  make(map[string]*timerEntry),
	}
}

// Calculator returns the trigger calculator the scheduler recomputes with.
func (s *Scheduler) Calculator() *Calculator {
	return s.calc
}

// Start registers the maintenance job and begins dispatching timers.
// ctx is used for background operations (store updates, deliveries).
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	_, err := s.cron.AddFunc(s.opts.MaintenanceSpec, func() {
		if _, err := s.DailyMaintenance(s.ctxOrBackground()); err != nil {
			s.logger.Error("daily maintenance", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register maintenance %q: %w", s.opts.MaintenanceSpec, err)
	}
	s.cron.Start()
	return nil
}

// Stop stops dispatching. The returned context is done once running callbacks finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Lock serializes work on a single task. Callers that change a task's
// schedule must hold it while persisting and arming.
func (s *Scheduler) Lock(taskID string) func() {
	return s.locks.Lock(taskID)
}

// Arm replaces any timer for the task. A trigger in the past fires immediately.
func (s *Scheduler) Arm(taskID string, at time.Time, recurring bool) error {
	if taskID == "" {
		return errors.New("arm: task id is required")
	}
	if at.IsZero() {
		return fmt.Errorf("arm %s: trigger time is required", taskID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(taskID, at, recurring)
	return nil
}

// armIfCurrent re-arms only when no other writer armed or disarmed the task
// since generation gen was captured.
func (s *Scheduler) armIfCurrent(taskID string, gen uint64, at time.Time, recurring bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok || e.gen != gen {
		return false
	}
	s.armLocked(taskID, at, recurring)
	return true
}

func (s *Scheduler) armLocked(taskID string, at time.Time, recurring bool) {
	if e, ok := s.entries[taskID]; ok && e.entryID != 0 {
		s.cron.Remove(e.entryID)
	}
	s.seq++
	gen := s.seq
	scheduled := at
	if now := s.opts.Now(); scheduled.Before(now) {
		scheduled = now
	}
	id := s.cron.Schedule(&onceSchedule{at: scheduled}, cron.FuncJob(func() {
		s.fire(taskID, gen)
	}))
	s.entries[taskID] = &timerEntry{
		entryID:   id,
		at:        at,
		scheduled: scheduled,
		recurring: recurring,
		gen:       gen,
	}
	s.logger.Debug("task armed", "task_id", taskID, "at", at, "recurring", recurring)
}

// Disarm removes the task's timer. It is a no-op for unknown tasks and never
// touches the stored status.
func (s *Scheduler) Disarm(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok {
		return
	}
	if e.entryID != 0 {
		s.cron.Remove(e.entryID)
	}
	delete(s.entries, taskID)
	s.logger.Debug("task disarmed", "task_id", taskID)
}

func (s *Scheduler) releaseIfCurrent(taskID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[taskID]; ok && e.gen == gen {
		if e.entryID != 0 {
			s.cron.Remove(e.entryID)
		}
		delete(s.entries, taskID)
	}
}

// isCurrent reports whether generation gen still owns the task's timer slot.
func (s *Scheduler) isCurrent(taskID string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	return ok && e.gen == gen
}

// claim takes the timer out of cron before its callback runs.
func (s *Scheduler) claim(taskID string, gen uint64) (timerEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok || e.gen != gen || e.entryID == 0 {
		return timerEntry{}, false
	}
	s.cron.Remove(e.entryID)
	e.entryID = 0
	return *e, true
}

// Armed returns the trigger instant of the task's live timer.
func (s *Scheduler) Armed(taskID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[taskID]
	if !ok || e.entryID == 0 {
		return time.Time{}, false
	}
	return e.at, true
}

// ArmedCount returns the number of live timers.
func (s *Scheduler) ArmedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.entryID != 0 {
			n++
		}
	}
	return n
}

// Reschedule recomputes the task's trigger from base, persists the outcome
// and arms or disarms accordingly. Callers hold the task lock. Edits may
// revive finished tasks, so the transition table is not consulted here.
func (s *Scheduler) Reschedule(ctx context.Context, task *Task, base time.Time) (Outcome, error) {
	res := s.calc.Compute(ctx, task.Info.Schedule, base)
	out := RecalculationOutcome(res)
	if err := s.store.UpdateTaskSchedule(ctx, task.ID, out.Status, out.Next, reasonText(res.Reason)); err != nil {
		return out, fmt.Errorf("persist schedule: %w", err)
	}
	if out.Arm {
		if err := s.Arm(task.ID, *out.Next, task.Recurring); err != nil {
			return out, err
		}
	} else {
		s.Disarm(task.ID)
	}
	s.logger.Info("task rescheduled", "task_id", task.ID, "status", out.Status, "next", out.Next, "reason", res.Reason)
	return out, nil
}

// ReconcileOnStartup arms every PENDING task. Tasks left RUNNING by an
// interrupted process are re-armed the same way.
func (s *Scheduler) ReconcileOnStartup(ctx context.Context) error {
	armed := 0
	for _, status := range []TaskStatus{TaskStatusPending, TaskStatusRunning} {
		tasks, err := s.store.ListTasksByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("list %s tasks: %w", status, err)
		}
		for _, task := range tasks {
			if s.reconcileTask(ctx, task) {
				armed++
			}
		}
	}
	deferred, err := s.store.ListTasksByStatus(ctx, TaskStatusPendingCalculation)
	if err != nil {
		return fmt.Errorf("list %s tasks: %w", TaskStatusPendingCalculation, err)
	}
	s.logger.Info("startup reconciliation finished", "armed", armed, "deferred", len(deferred))
	return nil
}

func (s *Scheduler) reconcileTask(ctx context.Context, task *Task) bool {
	unlock := s.Lock(task.ID)
	defer unlock()
	if task.NextTriggerAt == nil {
		out, err := s.Reschedule(ctx, task, s.opts.Now())
		if err != nil {
			s.logger.Error("reschedule task without trigger", "task_id", task.ID, "err", err)
			return false
		}
		return out.Arm
	}
	if task.Status == TaskStatusRunning {
		if err := s.store.UpdateTaskStatus(ctx, task.ID, TaskStatusPending); err != nil {
			s.logger.Error("reset interrupted task", "task_id", task.ID, "err", err)
			return false
		}
	}
	if err := s.Arm(task.ID, *task.NextTriggerAt, task.Recurring); err != nil {
		s.logger.Error("arm task", "task_id", task.ID, "err", err)
		return false
	}
	return true
}

// MaintenanceReport summarizes a maintenance sweep.
type MaintenanceReport struct {
	Checked  int `json:"checked"`
	Armed    int `json:"armed"`
	Deferred int `json:"deferred"`
	Retired  int `json:"retired"`
	Skipped  int `json:"skipped"`
}

// DailyMaintenance syncs next year's calendar and retries every task whose
// trigger could not be resolved.
func (s *Scheduler) DailyMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	now := s.opts.Now().In(s.location)
	if s.opts.Syncer != nil {
		if err := s.opts.Syncer.EnsureYear(ctx, now.Year()+1, false); err != nil {
			s.logger.Warn("sync next calendar year", "year", now.Year()+1, "err", err)
		}
	}

	tasks, err := s.store.ListTasksByStatus(ctx, TaskStatusPendingCalculation)
	if err != nil {
		return report, fmt.Errorf("list %s tasks: %w", TaskStatusPendingCalculation, err)
	}
	for _, listed := range tasks {
		report.Checked++
		out, ok := s.recalculate(ctx, listed.ID, now)
		if !ok {
			report.Skipped++
			continue
		}
		switch {
		case out.Arm:
			report.Armed++
		case out.Status == TaskStatusPendingCalculation:
			report.Deferred++
		default:
			report.Retired++
		}
	}
	s.logger.Info("daily maintenance finished",
		"checked", report.Checked,
		"armed", report.Armed,
		"deferred", report.Deferred,
		"retired", report.Retired,
		"skipped", report.Skipped)
	return report, nil
}

func (s *Scheduler) recalculate(ctx context.Context, taskID string, now time.Time) (Outcome, bool) {
	unlock := s.Lock(taskID)
	defer unlock()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if !errors.Is(err, ErrTaskNotFound) {
			s.logger.Error("load task for recalculation", "task_id", taskID, "err", err)
		}
		return Outcome{}, false
	}
	if task.Status != TaskStatusPendingCalculation {
		return Outcome{}, false
	}

	if !task.Recurring {
		reason := "one-shot task cannot be recalculated"
		if err := s.store.UpdateTaskSchedule(ctx, task.ID, TaskStatusFailed, nil, &reason); err != nil {
			s.logger.Error("persist failed one-shot task", "task_id", task.ID, "err", err)
			return Outcome{}, false
		}
		s.Disarm(task.ID)
		return Outcome{Status: TaskStatusFailed}, true
	}

	base := now
	if task.NextTriggerAt != nil {
		if b := task.NextTriggerAt.Add(-time.Minute); b.After(now) {
			base = b
		}
	}
	out, err := s.Reschedule(ctx, task, base)
	if err != nil {
		s.logger.Error("recalculate task", "task_id", task.ID, "err", err)
		return Outcome{}, false
	}
	return out, true
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func reasonText(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

// onceSchedule activates a single time. Next returns zero once the instant
// it handed out has been reached.
type onceSchedule struct {
	mu     sync.Mutex
	at     time.Time
	issued time.Time
}

func (o *onceSchedule) Next(t time.Time) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.issued.IsZero() && !t.Before(o.issued) {
		return time.Time{}
	}
	next := o.at
	if next.Before(t) {
		next = t
	}
	o.issued = next
	return next
}
