package scheduling

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDaySchedule(t *testing.T) {
	sched := NewDaySchedule(uuid.New(), baseDay, DefaultGridConfig())

	// 08:00-17:00 at 15 minutes is 36 slots.
	require.Len(t, sched.Slots, 36)
	assert.Equal(t, 8*60, sched.Slots[0].StartMinute)
	assert.Equal(t, 17*60-15, sched.Slots[35].StartMinute)

	for _, slot := range sched.Slots {
		lunch := slot.StartMinute >= 12*60 && slot.StartMinute < 13*60
		assert.Equal(t, lunch, slot.Break, "slot %d", slot.StartMinute)
		assert.Equal(t, !lunch, slot.Available, "slot %d", slot.StartMinute)
	}
}

func TestReserveAndRelease(t *testing.T) {
	sched := NewDaySchedule(uuid.New(), baseDay, DefaultGridConfig())
	id := uuid.New()

	require.NoError(t, sched.Reserve(9*60, 45, id, 42.50))
	assert.Equal(t, 1, sched.AppointmentCount)
	assert.InDelta(t, 0.75, sched.BillableHours, 1e-9)
	assert.InDelta(t, 3*42.50, sched.ProjectedRevenue, 1e-9) // ceil(45/15) units

	// Overlapping reservation is refused and changes nothing.
	other := uuid.New()
	err := sched.Reserve(9*60+30, 30, other, 42.50)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, 1, sched.AppointmentCount)

	sched.Release(9*60, 45, id, 42.50)
	assert.Equal(t, 0, sched.AppointmentCount)
	assert.InDelta(t, 0, sched.BillableHours, 1e-9)
	assert.InDelta(t, 0, sched.ProjectedRevenue, 1e-9)

	require.NoError(t, sched.Reserve(9*60+30, 30, other, 42.50))
}

func TestReserveLunchRefused(t *testing.T) {
	sched := NewDaySchedule(uuid.New(), baseDay, DefaultGridConfig())
	err := sched.Reserve(11*60+30, 60, uuid.New(), 40)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestReleaseWrongAppointmentNoop(t *testing.T) {
	sched := NewDaySchedule(uuid.New(), baseDay, DefaultGridConfig())
	id := uuid.New()
	require.NoError(t, sched.Reserve(9*60, 30, id, 40))

	sched.Release(9*60, 30, uuid.New(), 40)
	assert.Equal(t, 1, sched.AppointmentCount)
	assert.False(t, sched.Slots[4].Available) // 09:00 slot still held
}

func TestAvailableStarts(t *testing.T) {
	sched := NewDaySchedule(uuid.New(), baseDay, DefaultGridConfig())
	require.NoError(t, sched.Reserve(9*60, 60, uuid.New(), 40))

	starts := sched.AvailableStarts(60)
	assert.Contains(t, starts, 8*60)
	assert.Contains(t, starts, 10*60)
	assert.NotContains(t, starts, 9*60)
	assert.NotContains(t, starts, 9*60+30)
	// A 60-minute session cannot start inside or right before lunch.
	assert.NotContains(t, starts, 11*60+15)
	assert.NotContains(t, starts, 12*60)
	// Nor past the end of the workday.
	assert.NotContains(t, starts, 16*60+15)
	assert.Contains(t, starts, 16*60)
}

func TestNearestAvailableStart(t *testing.T) {
	sched := NewDaySchedule(uuid.New(), baseDay, DefaultGridConfig())
	require.NoError(t, sched.Reserve(10*60, 60, uuid.New(), 40))

	// Both 09:00 and 11:00 are 60 minutes from the preferred 10:00; the tie
	// goes to the earlier slot.
	start, ok := nearestAvailableStart(sched, 10*60, 60)
	require.True(t, ok)
	assert.Equal(t, 9*60, start)

	start, ok = nearestAvailableStart(sched, 10*60+15, 60)
	require.True(t, ok)
	assert.Equal(t, 11*60, start)
}

func TestNearestAvailableStartFullDay(t *testing.T) {
	sched := NewDaySchedule(uuid.New(), baseDay, GridConfig{
		WorkdayStart: 9 * 60,
		WorkdayEnd:   10 * 60,
		SlotMinutes:  30,
	})
	require.NoError(t, sched.Reserve(9*60, 60, uuid.New(), 40))

	_, ok := nearestAvailableStart(sched, 9*60, 30)
	assert.False(t, ok)
}
