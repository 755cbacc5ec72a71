package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// overlaps applies the half-open interval rule: [aStart, aEnd) and
// [bStart, bEnd) conflict only on strict overlap, so touching endpoints
// (aEnd == bStart) do not count.
func overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

// hasOverlap scans existing appointments for a strict interval overlap with
// the candidate. Cancelled and superseded records never block. A linear scan
// is deliberate: per-professional per-day cardinality is tiny.
func hasOverlap(existing []*Appointment, startMinute, durationMinutes int, exclude uuid.UUID) bool {
	end := startMinute + durationMinutes
	for _, appt := range existing {
		if !appt.CountsForConflicts() {
			continue
		}
		if appt.ID == exclude {
			continue
		}
		if overlaps(startMinute, end, appt.StartMinute, appt.EndMinute()) {
			return true
		}
	}
	return false
}

// HasConflict reports whether the candidate interval collides with any
// existing non-cancelled appointment for the professional on that date.
func (s *Service) HasConflict(ctx context.Context, professionalID uuid.UUID, date time.Time, startMinute, durationMinutes int) (bool, error) {
	return s.hasConflictExcluding(ctx, professionalID, date, startMinute, durationMinutes, uuid.Nil)
}

func (s *Service) hasConflictExcluding(ctx context.Context, professionalID uuid.UUID, date time.Time, startMinute, durationMinutes int, exclude uuid.UUID) (bool, error) {
	existing, err := s.repo.ListByProfessionalDate(ctx, professionalID, date)
	if err != nil {
		return false, fmt.Errorf("list appointments for conflict check: %w", err)
	}
	return hasOverlap(existing, startMinute, durationMinutes, exclude), nil
}
