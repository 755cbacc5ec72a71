package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestProjectDatesDaily(t *testing.T) {
	dates := projectDates(RecurrencePattern{Kind: RecurDaily, Frequency: 2, Occurrences: 4}, baseDay)

	require.Len(t, dates, 4)
	assert.Equal(t, baseDay, dates[0])
	assert.Equal(t, baseDay.AddDate(0, 0, 2), dates[1])
	assert.Equal(t, baseDay.AddDate(0, 0, 6), dates[3])
}

func TestProjectDatesWeeklyByWeekday(t *testing.T) {
	// Base is a Monday; Mon/Wed/Fri for two weeks.
	pattern := RecurrencePattern{
		Kind:        RecurWeekly,
		DaysOfWeek:  []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		Occurrences: 6,
	}
	dates := projectDates(pattern, baseDay)

	require.Len(t, dates, 6)
	want := []time.Time{
		baseDay,                  // Mon
		baseDay.AddDate(0, 0, 2), // Wed
		baseDay.AddDate(0, 0, 4), // Fri
		baseDay.AddDate(0, 0, 7), // Mon
		baseDay.AddDate(0, 0, 9), // Wed
		baseDay.AddDate(0, 0, 11),
	}
	assert.Equal(t, want, dates)
}

func TestProjectDatesWeeklyPlainInterval(t *testing.T) {
	dates := projectDates(RecurrencePattern{Kind: RecurWeekly, Frequency: 2, Occurrences: 3}, baseDay)
	assert.Equal(t, []time.Time{baseDay, baseDay.AddDate(0, 0, 14), baseDay.AddDate(0, 0, 28)}, dates)
}

func TestProjectDatesBiweekly(t *testing.T) {
	dates := projectDates(RecurrencePattern{Kind: RecurBiweekly, Occurrences: 3}, baseDay)
	assert.Equal(t, []time.Time{baseDay, baseDay.AddDate(0, 0, 14), baseDay.AddDate(0, 0, 28)}, dates)
}

func TestProjectDatesMonthlyClampsShortMonths(t *testing.T) {
	// A series anchored on the 31st lands on each month's last valid day and
	// snaps back to the 31st when the month has one.
	dates := projectDates(RecurrencePattern{Kind: RecurMonthly, Occurrences: 4}, day(2026, time.January, 31))

	want := []time.Time{
		day(2026, time.January, 31),
		day(2026, time.February, 28),
		day(2026, time.March, 31),
		day(2026, time.April, 30),
	}
	assert.Equal(t, want, dates)
}

func TestProjectDatesEndDateBound(t *testing.T) {
	pattern := RecurrencePattern{Kind: RecurWeekly, EndDate: baseDay.AddDate(0, 0, 21)}
	dates := projectDates(pattern, baseDay)
	require.Len(t, dates, 4) // base + 3 more, inclusive end date
	assert.Equal(t, baseDay.AddDate(0, 0, 21), dates[3])
}

func TestProjectDatesSafetyCap(t *testing.T) {
	dates := projectDates(RecurrencePattern{Kind: RecurDaily}, baseDay)
	assert.Len(t, dates, maxSeriesInstances)
}

func TestIsException(t *testing.T) {
	pattern := RecurrencePattern{Exceptions: []time.Time{baseDay.AddDate(0, 0, 7)}}
	assert.True(t, pattern.isException(baseDay.AddDate(0, 0, 7)))
	assert.False(t, pattern.isException(baseDay))
}

func TestUSHolidays(t *testing.T) {
	cal := USHolidays{}

	cases := []struct {
		date time.Time
		name string
	}{
		{day(2026, time.January, 1), "New Year's Day"},
		{day(2026, time.July, 4), "Independence Day"},
		{day(2026, time.December, 25), "Christmas Day"},
		{day(2026, time.May, 25), "Memorial Day"},      // last Monday of May 2026
		{day(2026, time.September, 7), "Labor Day"},    // first Monday of Sep 2026
		{day(2026, time.November, 26), "Thanksgiving"}, // fourth Thursday of Nov 2026
	}
	for _, tc := range cases {
		ok, name := cal.IsHoliday(tc.date)
		assert.True(t, ok, tc.date.Format("2006-01-02"))
		assert.Equal(t, tc.name, name)
	}

	ok, _ := cal.IsHoliday(baseDay)
	assert.False(t, ok)
	ok, _ = cal.IsHoliday(day(2026, time.May, 18)) // a Monday, but not the last one
	assert.False(t, ok)
}
