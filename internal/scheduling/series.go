package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

var ErrSeriesNotFound = errors.New("series not found")

// UpdateScope selects which instances of a series an update or cancellation
// touches.
type UpdateScope string

const (
	ScopeAll    UpdateScope = "all"
	ScopeFuture UpdateScope = "future"
	ScopeSingle UpdateScope = "single"
)

// SeriesUpdates is a partial update applied to selected instances. Nil
// fields are left untouched. Time and duration changes are re-validated per
// instance before the reservation is moved.
type SeriesUpdates struct {
	StartMinute     *int
	DurationMinutes *int
	Location        *Location
	Notes           *string
	Reminders       *ReminderConfig
}

func (u SeriesUpdates) movesInterval() bool {
	return u.StartMinute != nil || u.DurationMinutes != nil
}

// SeriesUpdateReport lists what a scoped update touched. Conflicting
// instances are reported failed and left unmodified; the batch never aborts.
type SeriesUpdateReport struct {
	Updated []uuid.UUID
	Failed  []FailedInstance
}

// SeriesCancelReport aggregates a scoped cancellation.
type SeriesCancelReport struct {
	Cancelled int
	LateFees  int
	Failed    []FailedInstance
}

// UpdateSeries applies updates to the selected instances of a recurring
// group. scope single requires targetID; scope future selects every
// instance at or after the target instance's date.
func (s *Service) UpdateSeries(ctx context.Context, seriesID uuid.UUID, updates SeriesUpdates, scope UpdateScope, targetID uuid.UUID) (*SeriesUpdateReport, error) {
	selected, err := s.selectInstances(ctx, seriesID, scope, targetID)
	if err != nil {
		return nil, err
	}

	report := &SeriesUpdateReport{}
	for _, instance := range selected {
		if instance.Status.IsTerminal() {
			continue
		}
		if err := s.updateInstance(ctx, instance.ID, updates); err != nil {
			report.Failed = append(report.Failed, FailedInstance{Date: instance.Date, Reason: err.Error()})
			continue
		}
		report.Updated = append(report.Updated, instance.ID)
	}
	return report, nil
}

// CancelSeries applies the standard cancel transition to the selected
// instances and counts how many incurred late-cancellation fees. Scope
// future means instances on or after today.
func (s *Service) CancelSeries(ctx context.Context, seriesID uuid.UUID, scope UpdateScope, reason string, actor Actor) (*SeriesCancelReport, error) {
	if scope == ScopeSingle {
		return nil, fmt.Errorf("cancel series: scope must be all or future")
	}
	instances, err := s.repo.ListBySeries(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("list series instances: %w", err)
	}
	if len(instances) == 0 {
		return nil, ErrSeriesNotFound
	}

	today := DateOf(s.clock.Now())
	report := &SeriesCancelReport{}
	for _, instance := range instances {
		if instance.Status.IsTerminal() {
			continue
		}
		if scope == ScopeFuture && instance.Date.Before(today) {
			continue
		}
		_, fee, err := s.CancelAppointment(ctx, instance.ID, reason, actor)
		if err != nil {
			report.Failed = append(report.Failed, FailedInstance{Date: instance.Date, Reason: err.Error()})
			continue
		}
		report.Cancelled++
		if fee {
			report.LateFees++
		}
	}
	return report, nil
}

func (s *Service) selectInstances(ctx context.Context, seriesID uuid.UUID, scope UpdateScope, targetID uuid.UUID) ([]*Appointment, error) {
	instances, err := s.repo.ListBySeries(ctx, seriesID)
	if err != nil {
		return nil, fmt.Errorf("list series instances: %w", err)
	}
	if len(instances) == 0 {
		return nil, ErrSeriesNotFound
	}

	switch scope {
	case ScopeAll:
		return instances, nil
	case ScopeSingle:
		for _, instance := range instances {
			if instance.ID == targetID {
				return []*Appointment{instance}, nil
			}
		}
		return nil, ErrAppointmentNotFound
	case ScopeFuture:
		var cutoff time.Time
		found := false
		for _, instance := range instances {
			if instance.ID == targetID {
				cutoff = instance.Date
				found = true
				break
			}
		}
		if !found {
			return nil, ErrAppointmentNotFound
		}
		var selected []*Appointment
		for _, instance := range instances {
			if !instance.Date.Before(cutoff) {
				selected = append(selected, instance)
			}
		}
		return selected, nil
	default:
		return nil, fmt.Errorf("unknown update scope %q", scope)
	}
}

// updateInstance mutates one instance under the professional lock,
// re-validating conflicts and moving the slot reservation when the interval
// changes.
func (s *Service) updateInstance(ctx context.Context, id uuid.UUID, updates SeriesUpdates) error {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return err
	}

	var updated *Appointment
	err = s.locker.WithProfessionalLock(ctx, appt.ProfessionalID, func(lockCtx context.Context) error {
		appt, err := s.repo.GetAppointment(lockCtx, id)
		if err != nil {
			return err
		}

		newStart := appt.StartMinute
		newDuration := appt.DurationMinutes
		if updates.StartMinute != nil {
			newStart = *updates.StartMinute
		}
		if updates.DurationMinutes != nil {
			newDuration = *updates.DurationMinutes
		}

		if updates.movesInterval() && (newStart != appt.StartMinute || newDuration != appt.DurationMinutes) {
			conflict, err := s.hasConflictExcluding(lockCtx, appt.ProfessionalID, appt.Date, newStart, newDuration, appt.ID)
			if err != nil {
				return err
			}
			if conflict {
				return ErrScheduleConflict
			}
			oldStart, oldDuration := appt.StartMinute, appt.DurationMinutes
			if err := s.release(lockCtx, appt); err != nil {
				return err
			}
			appt.StartMinute = newStart
			appt.DurationMinutes = newDuration
			if err := s.reserve(lockCtx, appt); err != nil {
				// A failed instance must stay exactly as it was, slots
				// included.
				appt.StartMinute, appt.DurationMinutes = oldStart, oldDuration
				if rerr := s.reserve(lockCtx, appt); rerr != nil {
					log.Printf("restore reservation failed appointment=%s: %v", appt.ID, rerr)
				}
				return err
			}
		}

		if updates.Location != nil {
			appt.Location = *updates.Location
		}
		if updates.Notes != nil {
			appt.Notes = *updates.Notes
		}
		if updates.Reminders != nil {
			appt.Reminders = *updates.Reminders
		}
		appt.UpdatedAt = s.clock.Now()
		if err := s.repo.SaveAppointment(lockCtx, appt); err != nil {
			return fmt.Errorf("save updated instance: %w", err)
		}
		updated = appt
		return nil
	})
	if err != nil {
		return err
	}

	if updates.movesInterval() || updates.Reminders != nil {
		s.reminders.Schedule(updated)
	}
	return nil
}
