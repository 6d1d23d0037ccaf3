package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultMaxAttempts bounds the candidate search. Two years of daily
// candidates are enough for an annual lunar rule to find its next match.
const DefaultMaxAttempts = 366 * 2

// CalendarOracle supplies day classifications per year, keyed by YYYY-MM-DD.
// It returns ErrCalendarYearUnknown when no data exists for the year.
type CalendarOracle interface {
	CalendarYear(ctx context.Context, year int) (map[string]CalendarDay, error)
}

// Result is the outcome of a trigger computation.
type Result struct {
	Next   *time.Time
	Status TaskStatus
	// Reason explains FAILED, COMPLETED and PENDING_CALCULATION results.
	Reason error
}

func pendingAt(t time.Time) Result {
	return Result{Next: &t, Status: TaskStatusPending}
}

func failedWith(err error) Result {
	return Result{Status: TaskStatusFailed, Reason: err}
}

// Calculator computes the next valid trigger instant of a task.
// It never returns an error; every failure is encoded in the Result.
type Calculator struct {
	calendar    CalendarOracle
	logger      *slog.Logger
	location    *time.Location
	maxAttempts int
}

// NewCalculator constructs a calculator. maxAttempts <= 0 selects DefaultMaxAttempts.
func NewCalculator(calendar CalendarOracle, logger *slog.Logger, location *time.Location, maxAttempts int) *Calculator {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Calculator{
		calendar:    calendar,
		logger:      logger,
		location:    location,
		maxAttempts: maxAttempts,
	}
}

// Location returns the zone candidates are evaluated in.
func (c *Calculator) Location() *time.Location {
	return c.location
}

// Compute returns the next trigger for the schedule relative to base.
func (c *Calculator) Compute(ctx context.Context, s Schedule, base time.Time) Result {
	base = base.In(c.location)
	if s.Recurring {
		if s.Cron == nil {
			return failedWith(fmt.Errorf("%w: recurring task without cron_config", ErrConfiguration))
		}
		return c.NextRecurring(ctx, *s.Cron, base)
	}
	switch {
	case s.TriggerAt != nil:
		at := s.TriggerAt.In(c.location)
		if !at.After(base) {
			return pendingAt(base.Add(time.Second))
		}
		return pendingAt(at)
	case s.Countdown != nil:
		d, err := ParseCountdown(*s.Countdown)
		if err != nil {
			return failedWith(err)
		}
		return pendingAt(base.Add(d))
	}
	return failedWith(fmt.Errorf("%w: one-shot task without trigger_at or countdown", ErrConfiguration))
}

// NextRecurring walks cron candidates after base and returns the first one
// that satisfies the validity window, the lunar date and the day filters.
func (c *Calculator) NextRecurring(ctx context.Context, rule RecurrenceRule, base time.Time) Result {
	schedule, err := ParseCron(rule.Expression)
	if err != nil {
		c.logger.Warn("malformed recurrence rule", "cron", rule.Expression, "err", err)
		return failedWith(fmt.Errorf("%w: %v", ErrConfiguration, err))
	}
	if rule.Lunar && (rule.LunarMonth == nil || rule.LunarDay == nil) {
		return failedWith(fmt.Errorf("%w: lunar rule without lunar_month or lunar_day", ErrConfiguration))
	}

	base = base.In(c.location)
	if rule.ValidFrom != nil && base.Before(*rule.ValidFrom) {
		base = rule.ValidFrom.In(c.location).Add(-time.Second)
	}

	needsCalendar := rule.NeedsCalendar()
	years := make(map[int]map[string]CalendarDay)
	var calendarErr error

	it := NewCandidates(schedule, base)
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		candidate, ok := it.Next()
		if !ok {
			break
		}
		if rule.ValidUntil != nil && candidate.After(*rule.ValidUntil) {
			return Result{Status: TaskStatusCompleted, Reason: fmt.Errorf("rule expired at %s", rule.ValidUntil.Format(time.RFC3339))}
		}
		if rule.ValidFrom != nil && candidate.Before(*rule.ValidFrom) {
			continue
		}

		var day *CalendarDay
		if needsCalendar && calendarErr == nil {
			d, err := c.lookupDay(ctx, years, candidate)
			if err != nil {
				calendarErr = err
				c.logger.Warn("calendar data missing, trigger left pending calculation",
					"cron", rule.Expression, "date", DateKey(candidate), "err", err)
			} else {
				day = &d
			}
		}

		if rule.Lunar {
			ld, err := SolarToLunar(candidate)
			if err != nil {
				c.logger.Debug("skip candidate without lunar equivalent", "date", DateKey(candidate), "err", err)
				continue
			}
			if !ld.Matches(*rule.LunarMonth, *rule.LunarDay) {
				continue
			}
		}

		if len(rule.LimitDays) > 0 && !matchDayFilters(rule.LimitDays, candidate, day) {
			continue
		}

		next := candidate
		if calendarErr != nil {
			return Result{
				Next:   &next,
				Status: TaskStatusPendingCalculation,
				Reason: fmt.Errorf("%w: %v", ErrCalendarUnavailable, calendarErr),
			}
		}
		return pendingAt(next)
	}

	c.logger.Warn("no trigger time found within search bound",
		"cron", rule.Expression,
		"lunar", rule.Lunar,
		"lunar_month", intValue(rule.LunarMonth),
		"lunar_day", intValue(rule.LunarDay),
		"limit_days", rule.LimitDays,
		"attempts", c.maxAttempts,
		"base", base.Format(time.RFC3339))
	return failedWith(fmt.Errorf("%w: %d attempts from %s", ErrSearchExhausted, c.maxAttempts, base.Format(time.RFC3339)))
}

func (c *Calculator) lookupDay(ctx context.Context, cache map[int]map[string]CalendarDay, t time.Time) (CalendarDay, error) {
	year := t.Year()
	days, ok := cache[year]
	if !ok {
		if c.calendar == nil {
			return CalendarDay{}, fmt.Errorf("year %d: %w", year, ErrCalendarYearUnknown)
		}
		var err error
		days, err = c.calendar.CalendarYear(ctx, year)
		if err != nil {
			return CalendarDay{}, fmt.Errorf("year %d: %w", year, err)
		}
		if len(days) == 0 {
			return CalendarDay{}, fmt.Errorf("year %d: %w", year, ErrCalendarYearUnknown)
		}
		cache[year] = days
	}
	key := DateKey(t)
	day, ok := days[key]
	if !ok {
		return CalendarDay{}, fmt.Errorf("date %s: %w", key, ErrCalendarUnavailable)
	}
	return day, nil
}

// matchDayFilters reports whether any filter accepts the candidate. A nil
// day means classification data is unavailable; calendar dependent filters
// then accept the candidate so that it can serve as an estimate.
func matchDayFilters(filters []DayFilter, t time.Time, day *CalendarDay) bool {
	for _, f := range filters {
		switch f {
		case DayFilterWeekdayOnly:
			if wd := ISOWeekday(t); wd >= 1 && wd <= 5 {
				return true
			}
		case DayFilterWorkday:
			if day == nil || day.IsWorkday() {
				return true
			}
		case DayFilterHoliday:
			if day == nil || day.IsHoliday() {
				return true
			}
		case DayFilterWeekend:
			if day == nil || day.IsWeekend() {
				return true
			}
		}
	}
	return false
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
