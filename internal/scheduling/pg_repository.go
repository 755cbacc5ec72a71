package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository is the durable Repository implementation. Structured
// sub-records (billing, clinical, reminders, series pattern, slots) live in
// JSONB columns; everything the queries filter on is a plain column.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, professional_id, patient_id, kind, date, start_minute,
	duration_minutes, status, location_kind, location_details,
	billing, clinical, series_id, series_pattern, reminders,
	notes, cancel_reason, created_at, updated_at
`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a             Appointment
		locationKind  string
		billingJSON   []byte
		clinicalJSON  []byte
		seriesID      *uuid.UUID
		patternJSON   []byte
		remindersJSON []byte
	)

	err := row.Scan(
		&a.ID,
		&a.ProfessionalID,
		&a.PatientID,
		&a.Kind,
		&a.Date,
		&a.StartMinute,
		&a.DurationMinutes,
		&a.Status,
		&locationKind,
		&a.Location.Details,
		&billingJSON,
		&clinicalJSON,
		&seriesID,
		&patternJSON,
		&remindersJSON,
		&a.Notes,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Location.Kind = LocationKind(locationKind)
	a.Date = DateOf(a.Date)
	if err := json.Unmarshal(billingJSON, &a.Billing); err != nil {
		return nil, fmt.Errorf("decode billing: %w", err)
	}
	if err := json.Unmarshal(clinicalJSON, &a.Clinical); err != nil {
		return nil, fmt.Errorf("decode clinical: %w", err)
	}
	if err := json.Unmarshal(remindersJSON, &a.Reminders); err != nil {
		return nil, fmt.Errorf("decode reminders: %w", err)
	}
	if seriesID != nil {
		ref := SeriesRef{SeriesID: *seriesID}
		if len(patternJSON) > 0 {
			if err := json.Unmarshal(patternJSON, &ref.Pattern); err != nil {
				return nil, fmt.Errorf("decode series pattern: %w", err)
			}
		}
		a.Series = &ref
	}
	return &a, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) SaveAppointment(ctx context.Context, appt *Appointment) error {
	billingJSON, err := json.Marshal(appt.Billing)
	if err != nil {
		return fmt.Errorf("encode billing: %w", err)
	}
	clinicalJSON, err := json.Marshal(appt.Clinical)
	if err != nil {
		return fmt.Errorf("encode clinical: %w", err)
	}
	remindersJSON, err := json.Marshal(appt.Reminders)
	if err != nil {
		return fmt.Errorf("encode reminders: %w", err)
	}
	var (
		seriesID    *uuid.UUID
		patternJSON []byte
	)
	if appt.Series != nil {
		id := appt.Series.SeriesID
		seriesID = &id
		patternJSON, err = json.Marshal(appt.Series.Pattern)
		if err != nil {
			return fmt.Errorf("encode series pattern: %w", err)
		}
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO appointments (
			id, professional_id, patient_id, kind, date, start_minute,
			duration_minutes, status, location_kind, location_details,
			billing, clinical, series_id, series_pattern, reminders,
			notes, cancel_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			date = EXCLUDED.date,
			start_minute = EXCLUDED.start_minute,
			duration_minutes = EXCLUDED.duration_minutes,
			status = EXCLUDED.status,
			location_kind = EXCLUDED.location_kind,
			location_details = EXCLUDED.location_details,
			billing = EXCLUDED.billing,
			clinical = EXCLUDED.clinical,
			series_id = EXCLUDED.series_id,
			series_pattern = EXCLUDED.series_pattern,
			reminders = EXCLUDED.reminders,
			notes = EXCLUDED.notes,
			cancel_reason = EXCLUDED.cancel_reason,
			updated_at = EXCLUDED.updated_at
	`,
		appt.ID, appt.ProfessionalID, appt.PatientID, appt.Kind, appt.Date, appt.StartMinute,
		appt.DurationMinutes, appt.Status, string(appt.Location.Kind), appt.Location.Details,
		billingJSON, clinicalJSON, seriesID, patternJSON, remindersJSON,
		appt.Notes, appt.CancelReason, appt.CreatedAt, appt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) ListByProfessionalDate(ctx context.Context, professionalID uuid.UUID, date time.Time) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE professional_id = $1 AND date = $2
		ORDER BY start_minute
	`, professionalID, DateOf(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) ListByPatientBetween(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date, start_minute
	`, patientID, DateOf(from), DateOf(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) ListBySeries(ctx context.Context, seriesID uuid.UUID) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE series_id = $1
		ORDER BY date, start_minute
	`, seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PgRepository) ListStartingBetween(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE date + make_interval(mins => start_minute) >= $1
		  AND date + make_interval(mins => start_minute) < $2
		ORDER BY date, start_minute
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	var result []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) GetSchedule(ctx context.Context, professionalID uuid.UUID, date time.Time) (*ProfessionalSchedule, error) {
	var (
		s         ProfessionalSchedule
		slotsJSON []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT professional_id, date, slots, appointment_count, billable_hours, projected_revenue
		FROM professional_schedules
		WHERE professional_id = $1 AND date = $2
	`, professionalID, DateOf(date)).Scan(
		&s.ProfessionalID,
		&s.Date,
		&slotsJSON,
		&s.AppointmentCount,
		&s.BillableHours,
		&s.ProjectedRevenue,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	s.Date = DateOf(s.Date)
	if err := json.Unmarshal(slotsJSON, &s.Slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	return &s, nil
}

func (r *PgRepository) SaveSchedule(ctx context.Context, sched *ProfessionalSchedule) error {
	slotsJSON, err := json.Marshal(sched.Slots)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO professional_schedules (
			professional_id, date, slots, appointment_count, billable_hours, projected_revenue
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (professional_id, date) DO UPDATE SET
			slots = EXCLUDED.slots,
			appointment_count = EXCLUDED.appointment_count,
			billable_hours = EXCLUDED.billable_hours,
			projected_revenue = EXCLUDED.projected_revenue
	`, sched.ProfessionalID, DateOf(sched.Date), slotsJSON, sched.AppointmentCount, sched.BillableHours, sched.ProjectedRevenue)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}
