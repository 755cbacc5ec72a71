package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is the in-memory Repository used by tests, seeds and
// single-node deployments. All methods copy on the way in and out so callers
// never share mutable state with the store.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]*Appointment
	schedules    map[scheduleKey]*ProfessionalSchedule
}

type scheduleKey struct {
	professionalID uuid.UUID
	date           time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]*Appointment),
		schedules:    make(map[scheduleKey]*ProfessionalSchedule),
	}
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	appt, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return copyAppointment(appt), nil
}

func (r *MemoryRepository) SaveAppointment(_ context.Context, appt *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.appointments[appt.ID] = copyAppointment(appt)
	return nil
}

func (r *MemoryRepository) ListByProfessionalDate(_ context.Context, professionalID uuid.UUID, date time.Time) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	day := DateOf(date)
	var result []*Appointment
	for _, appt := range r.appointments {
		if appt.ProfessionalID == professionalID && appt.Date.Equal(day) {
			result = append(result, copyAppointment(appt))
		}
	}
	sortByStart(result)
	return result, nil
}

func (r *MemoryRepository) ListByPatientBetween(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lo, hi := DateOf(from), DateOf(to)
	var result []*Appointment
	for _, appt := range r.appointments {
		if appt.PatientID != patientID {
			continue
		}
		if appt.Date.Before(lo) || appt.Date.After(hi) {
			continue
		}
		result = append(result, copyAppointment(appt))
	}
	sortByStart(result)
	return result, nil
}

func (r *MemoryRepository) ListBySeries(_ context.Context, seriesID uuid.UUID) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Appointment
	for _, appt := range r.appointments {
		if appt.Series != nil && appt.Series.SeriesID == seriesID {
			result = append(result, copyAppointment(appt))
		}
	}
	sortByStart(result)
	return result, nil
}

func (r *MemoryRepository) ListStartingBetween(_ context.Context, from, to time.Time) ([]*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Appointment
	for _, appt := range r.appointments {
		start := appt.StartAt()
		if start.Before(from) || !start.Before(to) {
			continue
		}
		result = append(result, copyAppointment(appt))
	}
	sortByStart(result)
	return result, nil
}

func (r *MemoryRepository) GetSchedule(_ context.Context, professionalID uuid.UUID, date time.Time) (*ProfessionalSchedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sched, ok := r.schedules[scheduleKey{professionalID, DateOf(date)}]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return copySchedule(sched), nil
}

func (r *MemoryRepository) SaveSchedule(_ context.Context, sched *ProfessionalSchedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.schedules[scheduleKey{sched.ProfessionalID, DateOf(sched.Date)}] = copySchedule(sched)
	return nil
}

func sortByStart(appts []*Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].Date.Equal(appts[j].Date) {
			return appts[i].Date.Before(appts[j].Date)
		}
		return appts[i].StartMinute < appts[j].StartMinute
	})
}

func copyAppointment(a *Appointment) *Appointment {
	dup := *a
	dup.Billing.Modifiers = append([]string(nil), a.Billing.Modifiers...)
	dup.Billing.DiagnosisCodes = append([]string(nil), a.Billing.DiagnosisCodes...)
	dup.Clinical.Goals = append([]string(nil), a.Clinical.Goals...)
	dup.Clinical.Materials = append([]string(nil), a.Clinical.Materials...)
	dup.Reminders.Channels = append([]ReminderChannel(nil), a.Reminders.Channels...)
	dup.Reminders.OffsetsMinutes = append([]int(nil), a.Reminders.OffsetsMinutes...)
	if a.Series != nil {
		series := *a.Series
		series.Pattern.DaysOfWeek = append([]time.Weekday(nil), a.Series.Pattern.DaysOfWeek...)
		series.Pattern.Exceptions = append([]time.Time(nil), a.Series.Pattern.Exceptions...)
		dup.Series = &series
	}
	return &dup
}

func copySchedule(s *ProfessionalSchedule) *ProfessionalSchedule {
	dup := *s
	dup.Slots = make([]TimeSlot, len(s.Slots))
	for i, slot := range s.Slots {
		dup.Slots[i] = slot
		if slot.AppointmentID != nil {
			id := *slot.AppointmentID
			dup.Slots[i].AppointmentID = &id
		}
	}
	return &dup
}
