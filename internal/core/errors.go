package core

import "errors"

var (
	// ErrConfiguration marks a permanently invalid task configuration.
	ErrConfiguration = errors.New("invalid task configuration")

	// ErrCalendarUnavailable is returned when day classification data is missing.
	ErrCalendarUnavailable = errors.New("calendar data unavailable")

	// ErrCalendarYearUnknown is returned by a CalendarOracle that has no data for a year.
	ErrCalendarYearUnknown = errors.New("calendar year unknown")

	// ErrSearchExhausted is returned when no candidate satisfied the rule within the attempt bound.
	ErrSearchExhausted = errors.New("no matching trigger time within search bound")

	// ErrExecution wraps a failed reminder delivery.
	ErrExecution = errors.New("task execution failed")

	// ErrMisfire is recorded when a timer fired later than its grace window.
	ErrMisfire = errors.New("trigger missed grace window")

	// ErrTaskNotFound is returned when a task is not found.
	ErrTaskNotFound = errors.New("task not found")

	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidTransition is returned for an illegal lifecycle transition.
	ErrInvalidTransition = errors.New("invalid status transition")
)
