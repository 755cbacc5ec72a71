package scheduling

import "time"

// HolidayCalendar answers whether a date should be skipped when a series has
// the holiday-skip policy enabled.
type HolidayCalendar interface {
	IsHoliday(date time.Time) (bool, string)
}

// USHolidays is the default calendar: fixed federal dates plus the floating
// Memorial Day, Labor Day and Thanksgiving rules.
type USHolidays struct{}

func (USHolidays) IsHoliday(date time.Time) (bool, string) {
	d := DateOf(date)
	switch {
	case d.Month() == time.January && d.Day() == 1:
		return true, "New Year's Day"
	case d.Month() == time.July && d.Day() == 4:
		return true, "Independence Day"
	case d.Month() == time.December && d.Day() == 25:
		return true, "Christmas Day"
	case d.Month() == time.May && d.Weekday() == time.Monday && d.Day() > 24:
		return true, "Memorial Day"
	case d.Month() == time.September && d.Weekday() == time.Monday && d.Day() <= 7:
		return true, "Labor Day"
	case d.Month() == time.November && d.Weekday() == time.Thursday && d.Day() >= 22 && d.Day() <= 28:
		return true, "Thanksgiving"
	}
	return false, ""
}
