package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"remindtab/internal/core"
)

// ErrSyncDisabled is returned when calendar sync is requested without a provider.
var ErrSyncDisabled = errors.New("calendar sync is not configured")

// Repository is the persistence the reminder service needs on top of core.Store.
type Repository interface {
	core.Store
	InsertTask(ctx context.Context, task *core.Task) error
	UpdateTaskInfo(ctx context.Context, id string, info core.TaskInfo) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, status *core.TaskStatus) ([]*core.Task, error)
	ListRuns(ctx context.Context, taskID string, limit, offset int) ([]*core.Run, error)
	GetRun(ctx context.Context, id string) (*core.Run, error)
}

// Reminders is the task CRUD used by the HTTP and MCP front ends.
type Reminders struct {
	repo   Repository
	sched  *core.Scheduler
	syncer core.CalendarSyncer
	logger *slog.Logger
	now    func() time.Time
}

func NewReminders(repo Repository, sched *core.Scheduler, syncer core.CalendarSyncer, logger *slog.Logger) *Reminders {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reminders{repo: repo, sched: sched, syncer: syncer, logger: logger, now: time.Now}
}

// Create validates the task, computes its first trigger, persists it and arms it.
func (r *Reminders) Create(ctx context.Context, info core.TaskInfo) (*core.Task, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	res := r.sched.Calculator().Compute(ctx, info.Schedule, r.now())
	out := core.RecalculationOutcome(res)
	reason := res.Reason
	if out.Status == core.TaskStatusCompleted {
		// Not a legal initial state: the rule expired before its first run.
		out = core.Outcome{Status: core.TaskStatusFailed}
		reason = fmt.Errorf("recurrence ended before its first trigger: %w", res.Reason)
	}
	if err := core.Transition("", out.Status); err != nil {
		return nil, err
	}

	task := &core.Task{
		ID:            core.NewID(),
		Name:          info.Name,
		Info:          info,
		Status:        out.Status,
		Recurring:     info.Schedule.Recurring,
		NextTriggerAt: out.Next,
	}
	if reason != nil {
		msg := reason.Error()
		task.LastError = &msg
	}

	unlock := r.sched.Lock(task.ID)
	defer unlock()
	if err := r.repo.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	if out.Arm {
		if err := r.sched.Arm(task.ID, *out.Next, task.Recurring); err != nil {
			r.logger.Error("arm new task", "task_id", task.ID, "err", err)
			msg := err.Error()
			if err := r.repo.UpdateTaskSchedule(ctx, task.ID, core.TaskStatusPendingCalculation, out.Next, &msg); err != nil {
				return nil, err
			}
			task.Status = core.TaskStatusPendingCalculation
		}
	}
	r.logger.Info("task created", "task_id", task.ID, "name", task.Name, "status", task.Status, "next", task.NextTriggerAt)
	return task, nil
}

// Update merges the patch into the task, recomputes its trigger from now and
// re-arms or disarms it. Terminal tasks are revived by a successful update.
func (r *Reminders) Update(ctx context.Context, id string, patch core.TaskInfoPatch) (*core.Task, error) {
	unlock := r.sched.Lock(id)
	defer unlock()

	task, err := r.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	merged, err := core.MergeTaskInfo(task.Info, patch)
	if err != nil {
		return nil, err
	}
	if err := r.repo.UpdateTaskInfo(ctx, id, merged); err != nil {
		return nil, err
	}
	task.Info = merged
	task.Name = merged.Name
	task.Recurring = merged.Schedule.Recurring

	if _, err := r.sched.Reschedule(ctx, task, r.now()); err != nil {
		return nil, err
	}
	return r.repo.GetTask(ctx, id)
}

// Delete removes the task and its timer.
func (r *Reminders) Delete(ctx context.Context, id string) error {
	unlock := r.sched.Lock(id)
	defer unlock()
	if err := r.repo.DeleteTask(ctx, id); err != nil {
		return err
	}
	r.sched.Disarm(id)
	r.logger.Info("task deleted", "task_id", id)
	return nil
}

func (r *Reminders) Get(ctx context.Context, id string) (*core.Task, error) {
	return r.repo.GetTask(ctx, id)
}

func (r *Reminders) List(ctx context.Context, status *core.TaskStatus) ([]*core.Task, error) {
	return r.repo.ListTasks(ctx, status)
}

func (r *Reminders) Runs(ctx context.Context, id string, limit, offset int) ([]*core.Run, error) {
	if _, err := r.repo.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return r.repo.ListRuns(ctx, id, limit, offset)
}

func (r *Reminders) Run(ctx context.Context, id string) (*core.Run, error) {
	return r.repo.GetRun(ctx, id)
}

// Armed reports the live timer of a task.
func (r *Reminders) Armed(id string) (time.Time, bool) {
	return r.sched.Armed(id)
}

func (r *Reminders) ArmedCount() int {
	return r.sched.ArmedCount()
}

// PreviewItem is one projected trigger.
type PreviewItem struct {
	At     *time.Time      `json:"at,omitempty"`
	Status core.TaskStatus `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

// Preview projects up to n triggers of a schedule from now without storing
// anything. The projection stops at the first result that is not PENDING.
func (r *Reminders) Preview(ctx context.Context, schedule core.Schedule, n int) ([]PreviewItem, error) {
	return r.PreviewFrom(ctx, schedule, r.now(), n)
}

func (r *Reminders) PreviewFrom(ctx context.Context, schedule core.Schedule, base time.Time, n int) ([]PreviewItem, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 5
	}
	if !schedule.Recurring {
		n = 1
	}
	calc := r.sched.Calculator()
	items := make([]PreviewItem, 0, n)
	for i := 0; i < n; i++ {
		res := calc.Compute(ctx, schedule, base)
		item := PreviewItem{At: res.Next, Status: res.Status}
		if res.Reason != nil {
			item.Reason = res.Reason.Error()
		}
		items = append(items, item)
		if res.Status != core.TaskStatusPending || res.Next == nil {
			break
		}
		base = *res.Next
	}
	return items, nil
}

// RunMaintenance runs the daily maintenance sweep on demand.
func (r *Reminders) RunMaintenance(ctx context.Context) (core.MaintenanceReport, error) {
	return r.sched.DailyMaintenance(ctx)
}

// SyncCalendar fetches a year of calendar data and retries deferred tasks.
func (r *Reminders) SyncCalendar(ctx context.Context, year int, force bool) (core.MaintenanceReport, error) {
	if r.syncer == nil {
		return core.MaintenanceReport{}, ErrSyncDisabled
	}
	if err := r.syncer.EnsureYear(ctx, year, force); err != nil {
		return core.MaintenanceReport{}, err
	}
	return r.sched.DailyMaintenance(ctx)
}
