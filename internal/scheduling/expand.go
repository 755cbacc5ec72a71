package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateRecurringAppointments expands a recurrence pattern into concrete
// bookings. Individual instances may be skipped (exception, holiday,
// conflict) or failed (rejected by the booking pipeline) without failing
// the series; the report carries every outcome. The whole projected window
// is pre-checked against the weekly regulatory caps and over-cap weeks are
// surfaced as soft warnings only.
func (s *Service) CreateRecurringAppointments(ctx context.Context, req BookingRequest, pattern RecurrencePattern) (*ExpansionReport, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if pattern.ConflictPolicy == "" {
		pattern.ConflictPolicy = ConflictBlock
	}

	seriesID := uuid.New()
	ref := &SeriesRef{SeriesID: seriesID, Pattern: pattern}
	report := &ExpansionReport{SeriesID: seriesID.String()}

	dates := projectDates(pattern, req.Date)
	warnings, err := s.weeklyLimitWarnings(ctx, req.PatientID, req.Kind, dates)
	if err != nil {
		return nil, err
	}
	report.LimitWarnings = warnings

	for _, date := range dates {
		if pattern.isException(date) {
			report.Skipped = append(report.Skipped, SkippedInstance{Date: date, Reason: "exception date"})
			s.metrics.ObserveSeriesInstance("skipped")
			continue
		}
		if pattern.SkipHolidays {
			if holiday, name := s.holidays.IsHoliday(date); holiday {
				report.Skipped = append(report.Skipped, SkippedInstance{Date: date, Reason: "holiday: " + name})
				s.metrics.ObserveSeriesInstance("skipped")
				continue
			}
		}

		instanceReq := req
		instanceReq.Date = date

		conflict, err := s.HasConflict(ctx, req.ProfessionalID, date, req.StartMinute, req.DurationMinutes)
		if err != nil {
			return nil, err
		}
		if conflict {
			switch pattern.ConflictPolicy {
			case ConflictBlock:
				report.Skipped = append(report.Skipped, SkippedInstance{Date: date, Reason: "schedule conflict"})
				s.metrics.ObserveSeriesInstance("skipped")
				continue
			case ConflictAutoAdjust:
				start, ok, err := s.relocate(ctx, req.ProfessionalID, date, req.StartMinute, req.DurationMinutes)
				if err != nil {
					return nil, err
				}
				if !ok {
					report.Skipped = append(report.Skipped, SkippedInstance{Date: date, Reason: "no alternative slot available"})
					s.metrics.ObserveSeriesInstance("skipped")
					continue
				}
				instanceReq.StartMinute = start
			case ConflictAllow:
				// Deliberate double-booking; override slot bookkeeping below.
			}
		}

		appt, err := s.bookInstance(ctx, instanceReq, ref, pattern.ConflictPolicy == ConflictAllow && conflict)
		if err != nil {
			report.Failed = append(report.Failed, FailedInstance{Date: date, Reason: err.Error()})
			s.metrics.ObserveSeriesInstance("failed")
			continue
		}
		report.Created = append(report.Created, appt)
		s.metrics.ObserveSeriesInstance("created")
	}

	return report, nil
}

// bookInstance books one surviving candidate through the standard creation
// path. Allowed-conflict instances skip only the slot-grid reservation (the
// interval is already owned by another appointment); the eligibility gate
// still runs in full.
func (s *Service) bookInstance(ctx context.Context, req BookingRequest, ref *SeriesRef, overlapAllowed bool) (*Appointment, error) {
	if !overlapAllowed {
		return s.bookSeriesInstance(ctx, req, ref)
	}

	verified, priorAuthRequired, err := s.verifyInsurance(ctx, req)
	if err != nil {
		return nil, err
	}

	var created *Appointment
	err = s.locker.WithProfessionalLock(ctx, req.ProfessionalID, func(lockCtx context.Context) error {
		ok, err := s.gate.CheckRegulatoryLimit(lockCtx, req.PatientID, req.Kind, req.Date)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRegulatoryLimitExceeded
		}
		appt := s.newAppointment(req)
		appt.Series = ref
		appt.Billing.InsuranceVerified = verified
		appt.Billing.PriorAuthRequired = priorAuthRequired
		if priorAuthRequired && appt.Billing.PriorAuthStatus == "" {
			appt.Billing.PriorAuthStatus = PriorAuthPending
		}
		if err := s.repo.SaveAppointment(lockCtx, appt); err != nil {
			return fmt.Errorf("save appointment: %w", err)
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.reminders.Schedule(created)
	return created, nil
}

// relocate finds the nearest open start on the date, measured in minutes
// from the preferred time.
func (s *Service) relocate(ctx context.Context, professionalID uuid.UUID, date time.Time, preferred, durationMinutes int) (int, bool, error) {
	sched, err := s.getOrCreateSchedule(ctx, professionalID, date)
	if err != nil {
		return 0, false, err
	}
	start, ok := nearestAvailableStart(sched, preferred, durationMinutes)
	return start, ok, nil
}

// weeklyLimitWarnings groups the projected dates by ISO week and flags any
// week where the projected instances plus the patient's existing
// non-cancelled appointments would exceed the weekly cap for the kind.
func (s *Service) weeklyLimitWarnings(ctx context.Context, patientID uuid.UUID, kind AppointmentKind, dates []time.Time) ([]string, error) {
	limit, capped := weeklyCaps[kind]
	if !capped {
		return nil, nil
	}

	type isoWeek struct {
		year, week int
	}
	counts := make(map[isoWeek]int)
	first := make(map[isoWeek]time.Time)
	order := make([]isoWeek, 0)
	for _, d := range dates {
		y, w := d.ISOWeek()
		k := isoWeek{y, w}
		if _, seen := counts[k]; !seen {
			order = append(order, k)
			first[k] = d
		}
		counts[k]++
	}

	var warnings []string
	for _, k := range order {
		existing, err := s.gate.countInISOWeek(ctx, patientID, kind, first[k])
		if err != nil {
			return nil, err
		}
		if total := existing + counts[k]; total > limit {
			warnings = append(warnings, limitWarning(kind, k.year, k.week, total, limit))
		}
	}
	return warnings, nil
}
