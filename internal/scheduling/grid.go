package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrSlotUnavailable = errors.New("requested interval is not fully available")

// GridConfig controls how a professional's day is cut into slots. All values
// are minutes from midnight except SlotMinutes.
type GridConfig struct {
	WorkdayStart int
	WorkdayEnd   int
	LunchStart   int
	LunchEnd     int
	SlotMinutes  int
}

// DefaultGridConfig is an 08:00-17:00 day of 15-minute slots with a
// 12:00-13:00 lunch break.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		WorkdayStart: 8 * 60,
		WorkdayEnd:   17 * 60,
		LunchStart:   12 * 60,
		LunchEnd:     13 * 60,
		SlotMinutes:  15,
	}
}

// NewDaySchedule synthesizes the slot grid for one professional on one date.
// Lunch slots are marked as break time and never bookable.
func NewDaySchedule(professionalID uuid.UUID, date time.Time, cfg GridConfig) *ProfessionalSchedule {
	sched := &ProfessionalSchedule{
		ProfessionalID: professionalID,
		Date:           DateOf(date),
	}
	for start := cfg.WorkdayStart; start+cfg.SlotMinutes <= cfg.WorkdayEnd; start += cfg.SlotMinutes {
		isBreak := start >= cfg.LunchStart && start < cfg.LunchEnd
		sched.Slots = append(sched.Slots, TimeSlot{
			StartMinute:     start,
			DurationMinutes: cfg.SlotMinutes,
			Available:       !isBreak,
			Break:           isBreak,
		})
	}
	return sched
}

// Reserve marks every slot fully contained in [start, start+duration)
// unavailable, tags it with the appointment id and updates derived totals.
// It fails without mutating anything if any covered slot is unavailable.
func (s *ProfessionalSchedule) Reserve(startMinute, durationMinutes int, appointmentID uuid.UUID, perUnitRevenue float64) error {
	covered := s.coveredSlots(startMinute, durationMinutes)
	for _, i := range covered {
		if !s.Slots[i].Available {
			return ErrSlotUnavailable
		}
	}
	for _, i := range covered {
		id := appointmentID
		s.Slots[i].Available = false
		s.Slots[i].AppointmentID = &id
	}
	s.AppointmentCount++
	s.BillableHours += float64(durationMinutes) / 60
	s.ProjectedRevenue += projectedRevenue(durationMinutes, perUnitRevenue)
	return nil
}

// Release reverses a reservation and decrements derived totals. Slots tagged
// with a different appointment are left alone.
func (s *ProfessionalSchedule) Release(startMinute, durationMinutes int, appointmentID uuid.UUID, perUnitRevenue float64) {
	released := false
	for _, i := range s.coveredSlots(startMinute, durationMinutes) {
		if s.Slots[i].AppointmentID == nil || *s.Slots[i].AppointmentID != appointmentID {
			continue
		}
		s.Slots[i].Available = true
		s.Slots[i].AppointmentID = nil
		released = true
	}
	if !released {
		return
	}
	s.AppointmentCount--
	s.BillableHours -= float64(durationMinutes) / 60
	s.ProjectedRevenue -= projectedRevenue(durationMinutes, perUnitRevenue)
}

// AvailableStarts returns every slot start minute at which an appointment of
// the given duration fits entirely in open slots.
func (s *ProfessionalSchedule) AvailableStarts(durationMinutes int) []int {
	var starts []int
	for _, slot := range s.Slots {
		if !slot.Available {
			continue
		}
		if s.canFit(slot.StartMinute, durationMinutes) {
			starts = append(starts, slot.StartMinute)
		}
	}
	return starts
}

// AvailableSlots returns the open slots that can begin an appointment of the
// given duration.
func (s *ProfessionalSchedule) AvailableSlots(durationMinutes int) []TimeSlot {
	var slots []TimeSlot
	for _, start := range s.AvailableStarts(durationMinutes) {
		for _, slot := range s.Slots {
			if slot.StartMinute == start {
				slots = append(slots, slot)
				break
			}
		}
	}
	return slots
}

func (s *ProfessionalSchedule) canFit(startMinute, durationMinutes int) bool {
	covered := s.coveredSlots(startMinute, durationMinutes)
	if len(covered) == 0 {
		return false
	}
	need := 0
	if len(s.Slots) > 0 {
		need = durationMinutes / s.Slots[0].DurationMinutes
	}
	if len(covered) < need {
		return false // interval runs past the end of the workday
	}
	for _, i := range covered {
		if !s.Slots[i].Available {
			return false
		}
	}
	return true
}

func (s *ProfessionalSchedule) coveredSlots(startMinute, durationMinutes int) []int {
	end := startMinute + durationMinutes
	var covered []int
	for i, slot := range s.Slots {
		if slot.StartMinute >= startMinute && slot.StartMinute+slot.DurationMinutes <= end {
			covered = append(covered, i)
		}
	}
	return covered
}

func projectedRevenue(durationMinutes int, perUnitRevenue float64) float64 {
	units := (durationMinutes + unitMinutes - 1) / unitMinutes
	return float64(units) * perUnitRevenue
}
