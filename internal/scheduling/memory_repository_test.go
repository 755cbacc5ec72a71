package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryCopySemantics(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	appt := &Appointment{
		ID:              uuid.New(),
		ProfessionalID:  uuid.New(),
		PatientID:       uuid.New(),
		Kind:            KindIndividual,
		Date:            baseDay,
		StartMinute:     9 * 60,
		DurationMinutes: 60,
		Status:          StatusScheduled,
		Clinical:        ClinicalInfo{Goals: []string{"articulation"}},
	}
	require.NoError(t, repo.SaveAppointment(ctx, appt))

	// Mutating the caller's copy after save must not leak into the store.
	appt.Status = StatusCancelled
	appt.Clinical.Goals[0] = "changed"

	stored, err := repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, stored.Status)
	assert.Equal(t, []string{"articulation"}, stored.Clinical.Goals)

	// And mutating a loaded copy must not change the store either.
	stored.Notes = "scribble"
	again, err := repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Empty(t, again.Notes)
}

func TestMemoryRepositoryNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	_, err := repo.GetAppointment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = repo.GetSchedule(context.Background(), uuid.New(), baseDay)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestMemoryRepositoryListByProfessionalDate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	professionalID := uuid.New()

	for _, start := range []int{14 * 60, 9 * 60, 11 * 60} {
		require.NoError(t, repo.SaveAppointment(ctx, &Appointment{
			ID:              uuid.New(),
			ProfessionalID:  professionalID,
			PatientID:       uuid.New(),
			Date:            baseDay,
			StartMinute:     start,
			DurationMinutes: 30,
			Status:          StatusScheduled,
		}))
	}
	require.NoError(t, repo.SaveAppointment(ctx, &Appointment{
		ID:             uuid.New(),
		ProfessionalID: professionalID,
		Date:           baseDay.AddDate(0, 0, 1),
		StartMinute:    8 * 60,
		Status:         StatusScheduled,
	}))

	appts, err := repo.ListByProfessionalDate(ctx, professionalID, baseDay)
	require.NoError(t, err)
	require.Len(t, appts, 3)
	assert.Equal(t, 9*60, appts[0].StartMinute)
	assert.Equal(t, 11*60, appts[1].StartMinute)
	assert.Equal(t, 14*60, appts[2].StartMinute)
}

func TestMemoryRepositoryListByPatientBetween(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	patientID := uuid.New()

	for _, offset := range []int{-10, -3, 0, 5, 20} {
		require.NoError(t, repo.SaveAppointment(ctx, &Appointment{
			ID:          uuid.New(),
			PatientID:   patientID,
			Date:        baseDay.AddDate(0, 0, offset),
			StartMinute: 9 * 60,
			Status:      StatusScheduled,
		}))
	}

	appts, err := repo.ListByPatientBetween(ctx, patientID, baseDay.AddDate(0, 0, -7), baseDay.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, appts, 3) // -3, 0, +5; bounds inclusive
	assert.Equal(t, baseDay.AddDate(0, 0, -3), appts[0].Date)
	assert.Equal(t, baseDay.AddDate(0, 0, 5), appts[2].Date)
}

func TestMemoryRepositoryListStartingBetween(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	mk := func(startMinute int) {
		require.NoError(t, repo.SaveAppointment(ctx, &Appointment{
			ID:              uuid.New(),
			ProfessionalID:  uuid.New(),
			PatientID:       uuid.New(),
			Date:            baseDay,
			StartMinute:     startMinute,
			DurationMinutes: 30,
			Status:          StatusScheduled,
		}))
	}
	mk(8 * 60)
	mk(10 * 60)
	mk(12 * 60)

	// Half-open window: [10:00, 12:00).
	appts, err := repo.ListStartingBetween(ctx, baseDay.Add(10*time.Hour), baseDay.Add(12*time.Hour))
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, 10*60, appts[0].StartMinute)
}

func TestMemoryRepositoryScheduleRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	professionalID := uuid.New()

	sched := NewDaySchedule(professionalID, baseDay, DefaultGridConfig())
	apptID := uuid.New()
	require.NoError(t, sched.Reserve(9*60, 60, apptID, 40))
	require.NoError(t, repo.SaveSchedule(ctx, sched))

	loaded, err := repo.GetSchedule(ctx, professionalID, baseDay.Add(30*time.Minute)) // any time that day
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.AppointmentCount)

	// Loaded slots are deep copies.
	loaded.Slots[0].Available = false
	again, err := repo.GetSchedule(ctx, professionalID, baseDay)
	require.NoError(t, err)
	assert.True(t, again.Slots[0].Available)
}

func TestDateHelpers(t *testing.T) {
	noon := time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, baseDay, DateOf(noon))
	assert.True(t, SameDate(noon, baseDay.Add(23*time.Hour)))
	assert.False(t, SameDate(noon, baseDay.AddDate(0, 0, 1)))
}
