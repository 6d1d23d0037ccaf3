package store

import (
	"context"
	"database/sql"
	"fmt"

	"remindtab/internal/core"
)

// CalendarYear implements core.CalendarOracle.
func (s *Store) CalendarYear(ctx context.Context, year int) (map[string]core.CalendarDay, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT date, year, month, day, weekday, day_type, type_desc, lunar_text
		FROM calendar_days
		WHERE year = ?
	`, year)
	if err != nil {
		return nil, fmt.Errorf("query calendar year %d: %w", year, err)
	}
	defer rows.Close()

	days := make(map[string]core.CalendarDay)
	for rows.Next() {
		var (
			d        core.CalendarDay
			dayType  int
			typeDesc sql.NullString
			lunar    sql.NullString
		)
		if err := rows.Scan(&d.Date, &d.Year, &d.Month, &d.Day, &d.Weekday, &dayType, &typeDesc, &lunar); err != nil {
			return nil, fmt.Errorf("scan calendar day: %w", err)
		}
		d.Type = core.DayType(dayType)
		d.TypeDesc = typeDesc.String
		d.LunarText = lunar.String
		days[d.Date] = d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, core.ErrCalendarYearUnknown
	}
	return days, nil
}

// UpsertCalendarDays stores the given days, replacing existing rows by date.
func (s *Store) UpsertCalendarDays(ctx context.Context, days []core.CalendarDay) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin calendar upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO calendar_days (date, year, month, day, weekday, day_type, type_desc, lunar_text, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			year = excluded.year,
			month = excluded.month,
			day = excluded.day,
			weekday = excluded.weekday,
			day_type = excluded.day_type,
			type_desc = excluded.type_desc,
			lunar_text = excluded.lunar_text,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare calendar upsert: %w", err)
	}
	defer stmt.Close()

	ts := now()
	for _, d := range days {
		if _, err := stmt.ExecContext(ctx, d.Date, d.Year, d.Month, d.Day, d.Weekday, int(d.Type), d.TypeDesc, d.LunarText, ts); err != nil {
			return fmt.Errorf("upsert calendar day %s: %w", d.Date, err)
		}
	}
	return tx.Commit()
}

// CountCalendarDays returns how many days of the year are stored.
func (s *Store) CountCalendarDays(ctx context.Context, year int) (int, error) {
	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM calendar_days WHERE year = ?`, year).Scan(&count); err != nil {
		return 0, fmt.Errorf("count calendar days %d: %w", year, err)
	}
	return count, nil
}
