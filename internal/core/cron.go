package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field expressions and 6-field expressions with a
// leading seconds field. "?" is accepted in day-of-month and day-of-week.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron ensures the expression is a valid 5-or-6-field cron definition and returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron expression is empty")
	}
	if strings.HasPrefix(expr, "@every") {
		return nil, fmt.Errorf("interval descriptors are not supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	it := NewCandidates(schedule, base)
	for i := 0; i < n; i++ {
		next, ok := it.Next()
		if !ok {
			break
		}
		times = append(times, next)
	}
	return times
}

// Candidates lazily walks the raw activation times of a cron schedule.
// Each call to Next returns an instant strictly after the previous one.
type Candidates struct {
	schedule cron.Schedule
	cursor   time.Time
}

// NewCandidates starts a candidate walk strictly after from.
func NewCandidates(schedule cron.Schedule, from time.Time) *Candidates {
	return &Candidates{schedule: schedule, cursor: from}
}

// Next advances the walk. ok is false when the schedule has no further activation.
func (c *Candidates) Next() (time.Time, bool) {
	next := c.schedule.Next(c.cursor)
	if next.IsZero() {
		return time.Time{}, false
	}
	c.cursor = next
	return next, true
}

// Reset restarts the walk strictly after from.
func (c *Candidates) Reset(from time.Time) {
	c.cursor = from
}
