package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DayFilter restricts recurring candidates to a class of days.
type DayFilter string

const (
	DayFilterWorkday     DayFilter = "WORKDAY"
	DayFilterHoliday     DayFilter = "HOLIDAY"
	DayFilterWeekend     DayFilter = "WEEKEND"
	DayFilterWeekdayOnly DayFilter = "WEEKDAY_ONLY"
)

// NeedsCalendar reports whether evaluating the filter requires day classification data.
func (f DayFilter) NeedsCalendar() bool {
	return f != DayFilterWeekdayOnly
}

// ParseDayFilter normalizes a filter name.
func ParseDayFilter(s string) (DayFilter, error) {
	f := DayFilter(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case DayFilterWorkday, DayFilterHoliday, DayFilterWeekend, DayFilterWeekdayOnly:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown limit_days value %q", ErrConfiguration, s)
}

// RecurrenceRule describes a recurring schedule.
//
// Lunar rules and calendar filtered rules are expected to leave the
// day-of-month and month cron fields as "*" and rely on the filter stage.
type RecurrenceRule struct {
	Expression string      `json:"cron_expression"`
	ValidFrom  *time.Time  `json:"start_time,omitempty"`
	ValidUntil *time.Time  `json:"end_time,omitempty"`
	LimitDays  []DayFilter `json:"limit_days,omitempty"`
	Lunar      bool        `json:"is_lunar"`
	LunarMonth *int        `json:"lunar_month,omitempty"`
	LunarDay   *int        `json:"lunar_day,omitempty"`
}

// Validate checks the rule and normalizes LimitDays in place.
func (r *RecurrenceRule) Validate() error {
	r.Expression = strings.TrimSpace(r.Expression)
	if r.Expression == "" {
		return fmt.Errorf("%w: cron_expression is required", ErrConfiguration)
	}
	if _, err := ParseCron(r.Expression); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if r.ValidFrom != nil && r.ValidUntil != nil && r.ValidUntil.Before(*r.ValidFrom) {
		return fmt.Errorf("%w: end_time is before start_time", ErrConfiguration)
	}
	if r.Lunar {
		if r.LunarMonth == nil || r.LunarDay == nil {
			return fmt.Errorf("%w: lunar rules require lunar_month and lunar_day", ErrConfiguration)
		}
		if *r.LunarMonth < 1 || *r.LunarMonth > 12 {
			return fmt.Errorf("%w: lunar_month must be within 1..12", ErrConfiguration)
		}
		if *r.LunarDay < 1 || *r.LunarDay > 30 {
			return fmt.Errorf("%w: lunar_day must be within 1..30", ErrConfiguration)
		}
	} else if r.LunarMonth != nil || r.LunarDay != nil {
		return fmt.Errorf("%w: lunar_month and lunar_day require is_lunar", ErrConfiguration)
	}
	normalized := make([]DayFilter, 0, len(r.LimitDays))
	for _, f := range r.LimitDays {
		parsed, err := ParseDayFilter(string(f))
		if err != nil {
			return err
		}
		normalized = append(normalized, parsed)
	}
	if len(normalized) == 0 {
		normalized = nil
	}
	r.LimitDays = normalized
	return nil
}

// NeedsCalendar reports whether candidates must be classified through a CalendarOracle.
func (r RecurrenceRule) NeedsCalendar() bool {
	if r.Lunar {
		return true
	}
	for _, f := range r.LimitDays {
		if f.NeedsCalendar() {
			return true
		}
	}
	return false
}

// Schedule is the tagged timing part of a task: a recurrence rule, an
// absolute instant, or a countdown. Exactly one variant is set.
type Schedule struct {
	Recurring bool            `json:"is_recurring"`
	Cron      *RecurrenceRule `json:"cron_config,omitempty"`
	TriggerAt *time.Time      `json:"trigger_at,omitempty"`
	Countdown *string         `json:"countdown,omitempty"`
}

// Validate enforces the mutual exclusivity of the schedule variants.
func (s *Schedule) Validate() error {
	if s.Recurring {
		if s.Cron == nil {
			return fmt.Errorf("%w: recurring tasks require cron_config", ErrConfiguration)
		}
		if s.TriggerAt != nil || s.Countdown != nil {
			return fmt.Errorf("%w: recurring tasks cannot set trigger_at or countdown", ErrConfiguration)
		}
		return s.Cron.Validate()
	}
	if s.Cron != nil {
		return fmt.Errorf("%w: one-shot tasks cannot set cron_config", ErrConfiguration)
	}
	if (s.TriggerAt != nil) == (s.Countdown != nil) {
		return fmt.Errorf("%w: one-shot tasks require exactly one of trigger_at or countdown", ErrConfiguration)
	}
	if s.Countdown != nil {
		if _, err := ParseCountdown(*s.Countdown); err != nil {
			return err
		}
	}
	return nil
}

var reCountdown = regexp.MustCompile(`^(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// ParseCountdown parses durations such as "1d2h3m4s", "30m" or "0d".
func ParseCountdown(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	m := reCountdown.FindStringSubmatch(s)
	if s == "" || m == nil {
		return 0, fmt.Errorf("%w: invalid countdown %q", ErrConfiguration, raw)
	}
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var total time.Duration
	present := false
	for i, unit := range units {
		part := m[i+1]
		if part == "" {
			continue
		}
		present = true
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid countdown %q", ErrConfiguration, raw)
		}
		total += time.Duration(n) * unit
	}
	if !present {
		return 0, fmt.Errorf("%w: countdown %q has no units", ErrConfiguration, raw)
	}
	return total, nil
}
