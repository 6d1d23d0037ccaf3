package core

import (
	"fmt"
	"time"

	"github.com/6tail/lunar-go/calendar"
)

// LunarDate is a date in the Chinese lunisolar calendar.
type LunarDate struct {
	Year  int
	Month int // 1..12
	Day   int // 1..30
	Leap  bool
}

func (d LunarDate) String() string {
	if d.Leap {
		return fmt.Sprintf("%04d-L%02d-%02d", d.Year, d.Month, d.Day)
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Matches reports whether d falls on the given regular (non-leap) month and day.
func (d LunarDate) Matches(month, day int) bool {
	return !d.Leap && d.Month == month && d.Day == day
}

// SolarToLunar converts the calendar date of t to its lunar equivalent.
func SolarToLunar(t time.Time) (ld LunarDate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convert %s to lunar: %v", DateKey(t), r)
		}
	}()
	lunar := calendar.NewSolarFromYmd(t.Year(), int(t.Month()), t.Day()).GetLunar()
	month := lunar.GetMonth()
	ld = LunarDate{Year: lunar.GetYear(), Month: month, Day: lunar.GetDay()}
	if month < 0 {
		ld.Month = -month
		ld.Leap = true
	}
	return ld, nil
}

// LunarToSolar converts a lunar date to midnight of the solar date in loc.
func LunarToSolar(d LunarDate, loc *time.Location) (t time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("convert lunar %s to solar: %v", d, r)
		}
	}()
	month := d.Month
	if d.Leap {
		month = -month
	}
	solar := calendar.NewLunarFromYmd(d.Year, month, d.Day).GetSolar()
	if loc == nil {
		loc = time.Local
	}
	return time.Date(solar.GetYear(), time.Month(solar.GetMonth()), solar.GetDay(), 0, 0, 0, 0, loc), nil
}
