package scheduling

import (
	"fmt"
	"time"
)

// maxSeriesInstances is the hard safety cap on recurrence expansion so a
// malformed pattern can never generate unbounded work.
const maxSeriesInstances = 104

// SkippedInstance reports one candidate date the generator refused with the
// reason it was refused.
type SkippedInstance struct {
	Date   time.Time
	Reason string
}

// FailedInstance reports one candidate date that passed generation but was
// rejected by the booking pipeline.
type FailedInstance struct {
	Date   time.Time
	Reason string
}

// ExpansionReport is the structured outcome of a recurrence expansion. The
// series as a whole succeeds even when individual instances are skipped or
// failed. LimitWarnings is the soft whole-window regulatory pre-check; it
// never blocks the series.
type ExpansionReport struct {
	SeriesID      string
	Created       []*Appointment
	Skipped       []SkippedInstance
	Failed        []FailedInstance
	LimitWarnings []string
}

func (p RecurrencePattern) frequency() int {
	if p.Frequency < 1 {
		return 1
	}
	return p.Frequency
}

// isException reports whether the date matches one of the pattern's
// exception dates.
func (p RecurrencePattern) isException(date time.Time) bool {
	for _, ex := range p.Exceptions {
		if SameDate(ex, date) {
			return true
		}
	}
	return false
}

func (p RecurrencePattern) matchesWeekday(date time.Time) bool {
	for _, wd := range p.DaysOfWeek {
		if date.Weekday() == wd {
			return true
		}
	}
	return false
}

// nextDate computes the candidate following current. anchorDay is the base
// appointment's day of month; monthly stepping clamps it to the target
// month's last valid day instead of letting the date normalize forward.
func (p RecurrencePattern) nextDate(current time.Time, anchorDay int) time.Time {
	switch p.Kind {
	case RecurDaily:
		return current.AddDate(0, 0, p.frequency())
	case RecurWeekly:
		if len(p.DaysOfWeek) == 0 {
			return current.AddDate(0, 0, 7*p.frequency())
		}
		next := current.AddDate(0, 0, 1)
		for i := 0; i < 7; i++ {
			if p.matchesWeekday(next) {
				return next
			}
			next = next.AddDate(0, 0, 1)
		}
		return next
	case RecurBiweekly:
		return current.AddDate(0, 0, 14)
	case RecurMonthly:
		return addMonthsClamped(current, p.frequency(), anchorDay)
	default:
		return current.AddDate(0, 0, 7)
	}
}

func addMonthsClamped(date time.Time, months, anchorDay int) time.Time {
	y, m, _ := date.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	day := anchorDay
	if last := daysInMonth(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1).Day()
}

// projectDates enumerates every candidate date of the series, base date
// first, bounded by the end condition and the hard safety cap. Exception and
// holiday filtering happens later so skips still consume an occurrence.
func projectDates(pattern RecurrencePattern, base time.Time) []time.Time {
	limit := maxSeriesInstances
	if pattern.Occurrences > 0 && pattern.Occurrences < limit {
		limit = pattern.Occurrences
	}

	anchor := DateOf(base).Day()
	dates := make([]time.Time, 0, limit)
	current := DateOf(base)
	for len(dates) < limit {
		if !pattern.EndDate.IsZero() && current.After(DateOf(pattern.EndDate)) {
			break
		}
		dates = append(dates, current)
		current = pattern.nextDate(current, anchor)
	}
	return dates
}

// nearestAvailableStart picks the open start minute closest to preferred,
// measured in minutes. Ties break toward the earlier slot so the search is
// deterministic.
func nearestAvailableStart(sched *ProfessionalSchedule, preferred, durationMinutes int) (int, bool) {
	best, bestDist := 0, -1
	for _, start := range sched.AvailableStarts(durationMinutes) {
		dist := start - preferred
		if dist < 0 {
			dist = -dist
		}
		if bestDist == -1 || dist < bestDist || (dist == bestDist && start < best) {
			best, bestDist = start, dist
		}
	}
	return best, bestDist != -1
}

// limitWarning formats one soft pre-check warning for the expansion report.
func limitWarning(kind AppointmentKind, year, week, projected, limit int) string {
	return fmt.Sprintf("%s: projected %d sessions in ISO week %d-W%02d exceeds weekly cap %d", kind, projected, year, week, limit)
}
