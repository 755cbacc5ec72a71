package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrScheduleNotFound    = errors.New("schedule not found")
)

// Repository contains all persistence interactions needed by the service.
// The same contract is implemented in-memory for tests and on Postgres for
// production.
type Repository interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	SaveAppointment(ctx context.Context, appt *Appointment) error

	// Conflict detection and schedule views
	ListByProfessionalDate(ctx context.Context, professionalID uuid.UUID, date time.Time) ([]*Appointment, error)

	// Regulatory limit windows
	ListByPatientBetween(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error)

	// Series operations
	ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]*Appointment, error)

	// Reminder worker sweep
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]*Appointment, error)

	GetSchedule(ctx context.Context, professionalID uuid.UUID, date time.Time) (*ProfessionalSchedule, error)
	SaveSchedule(ctx context.Context, sched *ProfessionalSchedule) error
}
