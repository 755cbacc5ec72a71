package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bookSeries(t *testing.T, f *fixture, professionalID, patientID uuid.UUID, occurrences int) (uuid.UUID, []*Appointment) {
	t.Helper()
	req := f.bookingRequest(professionalID, patientID, 9*60)
	report, err := f.svc.CreateRecurringAppointments(context.Background(), req,
		RecurrencePattern{Kind: RecurWeekly, Occurrences: occurrences})
	require.NoError(t, err)
	require.Len(t, report.Created, occurrences)
	seriesID, err := uuid.Parse(report.SeriesID)
	require.NoError(t, err)
	return seriesID, report.Created
}

func TestUpdateSeriesAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seriesID, _ := bookSeries(t, f, uuid.New(), uuid.New(), 4)

	notes := "bring AAC device"
	location := Location{Kind: LocationRemote}
	report, err := f.svc.UpdateSeries(ctx, seriesID, SeriesUpdates{
		Notes:    &notes,
		Location: &location,
	}, ScopeAll, uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, report.Updated, 4)
	assert.Empty(t, report.Failed)

	instances, err := f.repo.ListBySeries(ctx, seriesID)
	require.NoError(t, err)
	for _, instance := range instances {
		assert.Equal(t, "bring AAC device", instance.Notes)
		assert.Equal(t, LocationRemote, instance.Location.Kind)
	}
}

func TestUpdateSeriesFutureScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seriesID, created := bookSeries(t, f, uuid.New(), uuid.New(), 10)

	// Future scope from the fifth instance touches it and everything after.
	newStart := 14 * 60
	report, err := f.svc.UpdateSeries(ctx, seriesID, SeriesUpdates{StartMinute: &newStart}, ScopeFuture, created[4].ID)
	require.NoError(t, err)
	assert.Len(t, report.Updated, 6)
	assert.Empty(t, report.Failed)

	instances, err := f.repo.ListBySeries(ctx, seriesID)
	require.NoError(t, err)
	for i, instance := range instances {
		if i < 4 {
			assert.Equal(t, 9*60, instance.StartMinute)
		} else {
			assert.Equal(t, 14*60, instance.StartMinute)
		}
	}
}

func TestUpdateSeriesSingleScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seriesID, created := bookSeries(t, f, uuid.New(), uuid.New(), 3)

	duration := 30
	report, err := f.svc.UpdateSeries(ctx, seriesID, SeriesUpdates{DurationMinutes: &duration}, ScopeSingle, created[1].ID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{created[1].ID}, report.Updated)

	instances, err := f.repo.ListBySeries(ctx, seriesID)
	require.NoError(t, err)
	assert.Equal(t, 60, instances[0].DurationMinutes)
	assert.Equal(t, 30, instances[1].DurationMinutes)
	assert.Equal(t, 60, instances[2].DurationMinutes)
}

func TestUpdateSeriesMoveConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	professionalID := uuid.New()
	seriesID, _ := bookSeries(t, f, professionalID, uuid.New(), 3)

	// Block 14:00 on week two only.
	blocker := f.bookingRequest(professionalID, uuid.New(), 14*60)
	blocker.Date = baseDay.AddDate(0, 0, 7)
	f.mustBook(t, blocker)

	newStart := 14 * 60
	report, err := f.svc.UpdateSeries(ctx, seriesID, SeriesUpdates{StartMinute: &newStart}, ScopeAll, uuid.Nil)
	require.NoError(t, err)

	// The conflicting week is reported failed and left at its old time; the
	// batch does not abort.
	assert.Len(t, report.Updated, 2)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, baseDay.AddDate(0, 0, 7), report.Failed[0].Date)

	instances, err := f.repo.ListBySeries(ctx, seriesID)
	require.NoError(t, err)
	assert.Equal(t, 14*60, instances[0].StartMinute)
	assert.Equal(t, 9*60, instances[1].StartMinute)
	assert.Equal(t, 14*60, instances[2].StartMinute)
}

func TestUpdateSeriesFailedMoveKeepsReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	professionalID := uuid.New()
	seriesID, _ := bookSeries(t, f, professionalID, uuid.New(), 1)

	// The lunch hour holds no appointment, so the conflict check passes and
	// the grid itself refuses the reservation. The instance must stay
	// exactly as it was, slots and totals included.
	newStart := 12 * 60
	report, err := f.svc.UpdateSeries(ctx, seriesID, SeriesUpdates{StartMinute: &newStart}, ScopeAll, uuid.Nil)
	require.NoError(t, err)
	assert.Empty(t, report.Updated)
	require.Len(t, report.Failed, 1)

	instances, err := f.repo.ListBySeries(ctx, seriesID)
	require.NoError(t, err)
	assert.Equal(t, 9*60, instances[0].StartMinute)

	sched, err := f.repo.GetSchedule(ctx, professionalID, baseDay)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.AppointmentCount)
	assert.NotContains(t, sched.AvailableStarts(60), 9*60)
}

func TestUpdateSeriesSkipsTerminalInstances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seriesID, created := bookSeries(t, f, uuid.New(), uuid.New(), 3)

	_, _, err := f.svc.CancelAppointment(ctx, created[0].ID, "", ActorStaff)
	require.NoError(t, err)

	notes := "updated"
	report, err := f.svc.UpdateSeries(ctx, seriesID, SeriesUpdates{Notes: &notes}, ScopeAll, uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, report.Updated, 2)

	cancelled, err := f.repo.GetAppointment(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Empty(t, cancelled.Notes)
}

func TestUpdateSeriesNotFound(t *testing.T) {
	f := newFixture(t)
	notes := "x"
	_, err := f.svc.UpdateSeries(context.Background(), uuid.New(), SeriesUpdates{Notes: &notes}, ScopeAll, uuid.Nil)
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}

func TestCancelSeriesAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	professionalID := uuid.New()
	seriesID, _ := bookSeries(t, f, professionalID, uuid.New(), 4)

	report, err := f.svc.CancelSeries(ctx, seriesID, ScopeAll, "family moved", ActorStaff)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Cancelled)
	assert.Equal(t, 0, report.LateFees)
	assert.Empty(t, report.Failed)

	instances, err := f.repo.ListBySeries(ctx, seriesID)
	require.NoError(t, err)
	for _, instance := range instances {
		assert.Equal(t, StatusCancelled, instance.Status)
		assert.Equal(t, "family moved", instance.CancelReason)
	}

	// Every freed interval is bookable again.
	f.mustBook(t, f.bookingRequest(professionalID, uuid.New(), 9*60))
}

func TestCancelSeriesFutureScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seriesID, _ := bookSeries(t, f, uuid.New(), uuid.New(), 4)

	// Today is between the second and third instance.
	f.clock.Set(baseDay.AddDate(0, 0, 10))

	report, err := f.svc.CancelSeries(ctx, seriesID, ScopeFuture, "insurance change", ActorPatient)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Cancelled)

	instances, err := f.repo.ListBySeries(ctx, seriesID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, instances[0].Status)
	assert.Equal(t, StatusScheduled, instances[1].Status)
	assert.Equal(t, StatusCancelled, instances[2].Status)
	assert.Equal(t, StatusCancelled, instances[3].Status)
}

func TestCancelSeriesCountsLateFees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seriesID, _ := bookSeries(t, f, uuid.New(), uuid.New(), 3)

	// Ten hours before the first instance's 09:00 start.
	f.clock.Set(baseDay.Add(-time.Hour))

	report, err := f.svc.CancelSeries(ctx, seriesID, ScopeAll, "", ActorPatient)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Cancelled)
	assert.Equal(t, 1, report.LateFees) // only the imminent instance
}

func TestCancelSeriesSingleScopeRejected(t *testing.T) {
	f := newFixture(t)
	seriesID, _ := bookSeries(t, f, uuid.New(), uuid.New(), 2)

	_, err := f.svc.CancelSeries(context.Background(), seriesID, ScopeSingle, "", ActorStaff)
	assert.Error(t, err)
}
