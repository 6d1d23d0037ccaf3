package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// fire is the timer callback of an armed task. The task lock is held while
// the run is claimed and while its outcome is persisted, but not during
// delivery, so edits to the task never wait on a notification channel.
func (s *Scheduler) fire(taskID string, gen uint64) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	ctx := s.ctxOrBackground()

	unlock := s.Lock(taskID)
	task, ok := s.beginRun(ctx, taskID, gen)
	unlock()
	if !ok {
		return
	}
	s.deliver(ctx, task, gen)
}

// beginRun claims the timer and marks the task RUNNING. It reports false when
// nothing should be delivered. Callers hold the task lock.
func (s *Scheduler) beginRun(ctx context.Context, taskID string, gen uint64) (*Task, bool) {
	entry, ok := s.claim(taskID, gen)
	if !ok {
		s.logger.Debug("stale timer ignored", "task_id", taskID)
		return nil, false
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			s.logger.Warn("fired task no longer exists", "task_id", taskID)
		} else {
			s.logger.Error("fetch task for scheduled run", "task_id", taskID, "err", err)
		}
		s.releaseIfCurrent(taskID, gen)
		return nil, false
	}
	if !task.Status.Fireable() {
		s.logger.Info("skipping run for task in non-fireable status", "task_id", taskID, "status", task.Status)
		s.releaseIfCurrent(taskID, gen)
		return nil, false
	}

	grace := s.opts.OneShotGrace
	if task.Recurring {
		grace = s.opts.RecurringGrace
	}
	if late := s.opts.Now().Sub(entry.scheduled); late > grace {
		s.handleMisfire(ctx, task, entry, late)
		return nil, false
	}

	if err := s.store.UpdateTaskStatus(ctx, task.ID, TaskStatusRunning); err != nil {
		s.logger.Error("mark task running", "task_id", task.ID, "err", err)
		s.releaseIfCurrent(task.ID, gen)
		return nil, false
	}
	return task, true
}

func (s *Scheduler) handleMisfire(ctx context.Context, task *Task, entry timerEntry, late time.Duration) {
	s.logger.Warn("trigger missed grace window", "task_id", task.ID, "scheduled", entry.scheduled, "late", late)
	misfire := fmt.Errorf("%w: %s late for %s", ErrMisfire, late.Round(time.Second), entry.scheduled.Format(time.RFC3339))
	if !task.Recurring {
		if err := s.store.UpdateTaskSchedule(ctx, task.ID, TaskStatusFailed, nil, reasonText(misfire)); err != nil {
			s.logger.Error("persist misfired task", "task_id", task.ID, "err", err)
		}
		s.releaseIfCurrent(task.ID, entry.gen)
		return
	}
	res := s.calc.Compute(ctx, task.Info.Schedule, s.opts.Now())
	reason := misfire
	if res.Reason != nil {
		reason = errors.Join(misfire, res.Reason)
	}
	s.applyOutcome(ctx, task, task.Status, entry.gen, RecalculationOutcome(res), reason)
}

// deliver sends the reminder without the task lock, then re-takes it to
// record the run. The outcome is dropped when the task was re-armed,
// disarmed or deleted while the send was in flight.
func (s *Scheduler) deliver(ctx context.Context, task *Task, gen uint64) {
	runAt := s.opts.Now()
	runErr := s.runExecutor(ctx, task)
	if runErr != nil {
		s.logger.Error("execute task", "task_id", task.ID, "err", runErr)
	} else {
		s.logger.Info("task executed", "task_id", task.ID, "name", task.Name)
	}

	unlock := s.Lock(task.ID)
	defer unlock()

	if err := s.store.RecordRun(ctx, task.ID, runAt, reasonText(runErr)); err != nil && !errors.Is(err, ErrTaskNotFound) {
		s.logger.Error("record run", "task_id", task.ID, "err", err)
	}
	if !s.isCurrent(task.ID, gen) {
		s.logger.Info("task changed during delivery, keeping newer schedule", "task_id", task.ID)
		return
	}

	var next Result
	if task.Recurring {
		next = s.calc.Compute(ctx, task.Info.Schedule, s.opts.Now())
	}
	s.applyOutcome(ctx, task, TaskStatusRunning, gen, RunOutcome(task.Recurring, runErr, next), next.Reason)
}

func (s *Scheduler) runExecutor(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrExecution, r)
		}
	}()
	if s.executor == nil {
		return fmt.Errorf("%w: no executor configured", ErrExecution)
	}
	if err := s.executor.Execute(ctx, task); err != nil {
		return fmt.Errorf("%w: %w", ErrExecution, err)
	}
	return nil
}

// applyOutcome persists a scheduler driven status change. A change the
// transition table forbids fails the task instead.
func (s *Scheduler) applyOutcome(ctx context.Context, task *Task, from TaskStatus, gen uint64, out Outcome, reason error) {
	if err := Transition(from, out.Status); err != nil {
		s.logger.Error("refusing run outcome", "task_id", task.ID, "err", err)
		out = Outcome{Status: TaskStatusFailed}
		reason = err
	}
	if err := s.store.UpdateTaskSchedule(ctx, task.ID, out.Status, out.Next, reasonText(reason)); err != nil {
		s.logger.Error("persist run outcome", "task_id", task.ID, "err", err)
		s.releaseIfCurrent(task.ID, gen)
		return
	}
	if out.Arm {
		if !s.armIfCurrent(task.ID, gen, *out.Next, task.Recurring) {
			s.logger.Info("task was rescheduled during run, keeping newer timer", "task_id", task.ID)
		}
		return
	}
	s.releaseIfCurrent(task.ID, gen)
	if out.Status.Terminal() {
		s.logger.Info("task finished", "task_id", task.ID, "status", out.Status, "reason", reason)
	}
}
