package core

import (
	"fmt"
	"time"
)

// transitions lists the legal status changes driven by the scheduler. It is
// checked on task creation and before a run or misfire outcome is persisted.
// The empty status stands for a task that is being created.
var transitions = map[TaskStatus][]TaskStatus{
	"":                           {TaskStatusPending, TaskStatusPendingCalculation, TaskStatusFailed},
	TaskStatusPending:            {TaskStatusRunning, TaskStatusPending, TaskStatusPendingCalculation, TaskStatusCompleted, TaskStatusFailed},
	TaskStatusRunning:            {TaskStatusPending, TaskStatusPendingCalculation, TaskStatusCompleted, TaskStatusFailed},
	TaskStatusPendingCalculation: {TaskStatusPending, TaskStatusPendingCalculation, TaskStatusCompleted, TaskStatusFailed},
}

// Terminal reports whether the status ends the task's life.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Fireable reports whether a timer may execute a task in this status.
func (s TaskStatus) Fireable() bool {
	return s == TaskStatusPending || s == TaskStatusRunning
}

// CanTransition reports whether the scheduler may move a task from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates a status change.
func Transition(from, to TaskStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}

// Outcome is the persisted state a task moves to after a run or recalculation.
type Outcome struct {
	Status TaskStatus
	Next   *time.Time
	// Arm is set when the scheduler should arm a timer for Next.
	Arm bool
}

// RunOutcome derives the post-run state. One-shot tasks finish as COMPLETED
// or FAILED. Recurring tasks follow the next computation so a single failed
// delivery does not end the recurrence.
func RunOutcome(recurring bool, runErr error, next Result) Outcome {
	if !recurring {
		if runErr != nil {
			return Outcome{Status: TaskStatusFailed}
		}
		return Outcome{Status: TaskStatusCompleted}
	}
	return RecalculationOutcome(next)
}

// RecalculationOutcome maps a trigger computation to the state to persist.
func RecalculationOutcome(next Result) Outcome {
	switch next.Status {
	case TaskStatusPending:
		if next.Next == nil {
			return Outcome{Status: TaskStatusFailed}
		}
		return Outcome{Status: TaskStatusPending, Next: next.Next, Arm: true}
	case TaskStatusPendingCalculation:
		return Outcome{Status: TaskStatusPendingCalculation, Next: next.Next}
	case TaskStatusCompleted:
		return Outcome{Status: TaskStatusCompleted}
	default:
		return Outcome{Status: TaskStatusFailed}
	}
}
