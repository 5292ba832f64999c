package appointment

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduled(t *testing.T) *Appointment {
	t.Helper()
	return &Appointment{
		ID:         uuid.New(),
		PatientID:  1,
		ProviderID: 7,
		Date:       march1,
		StartTime:  mustTime("10:00"),
		EndTime:    mustTime("10:30"),
		Status:     StatusScheduled,
		Version:    1,
	}
}

func TestStatusAllows(t *testing.T) {
	transitions := []Transition{TransitionReschedule, TransitionCancel, TransitionComplete, TransitionNoShow}

	for _, tr := range transitions {
		assert.True(t, StatusScheduled.Allows(tr), tr.String())
		for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
			assert.False(t, s.Allows(tr), "%s should not allow %s", s, tr)
		}
	}
}

func TestStatusTerminalAndOccupancy(t *testing.T) {
	assert.False(t, StatusScheduled.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusNoShow.Terminal())

	assert.True(t, StatusScheduled.OccupiesSlot())
	assert.True(t, StatusNoShow.OccupiesSlot())
	assert.False(t, StatusCancelled.OccupiesSlot())
	assert.False(t, StatusCompleted.OccupiesSlot())
}

func TestTerminalStatusErrorNamesStatus(t *testing.T) {
	a := scheduled(t)
	a.Status = StatusCompleted
	_, err := a.Cancel("", time.Date(2025, 2, 27, 9, 0, 0, 0, time.UTC), time.UTC)
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Contains(t, err.Error(), "already COMPLETED")
}

func TestCheckRescheduleOrder(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC) // 30 minutes before the appointment
	past := slotOn(march1, "07:00", "07:15")

	a := scheduled(t)
	a.Status = StatusCancelled
	a.RescheduleCount = MaxReschedules
	assert.ErrorIs(t, a.CheckReschedule(past, now, time.UTC), ErrInvalidStatus)

	a = scheduled(t)
	a.RescheduleCount = MaxReschedules
	assert.ErrorIs(t, a.CheckReschedule(past, now, time.UTC), ErrMaxRescheduleExceeded)

	a = scheduled(t)
	assert.ErrorIs(t, a.CheckReschedule(past, now, time.UTC), ErrCutoffExceeded)

	early := now.Add(-2 * time.Hour)
	assert.ErrorIs(t, a.CheckReschedule(past, early, time.UTC), ErrInvalidDate)
	assert.NoError(t, a.CheckReschedule(slotOn(march1, "15:00", "15:30"), early, time.UTC))
}

func TestRescheduleMutation(t *testing.T) {
	now := time.Date(2025, 2, 27, 9, 0, 0, 0, time.UTC)
	a := scheduled(t)

	to := slotOn(march1, "11:00", "11:45")
	require.NoError(t, a.Reschedule(to, "", now, time.UTC))

	assert.Equal(t, to, a.Slot())
	assert.Equal(t, 1, a.RescheduleCount)
	assert.Equal(t, 2, a.Version)
	assert.Equal(t, now, a.UpdatedAt)
	assert.Equal(t, "[2025-02-27T09:00:00Z] Rescheduled from 2025-03-01 10:00-10:30 to 2025-03-01 11:00-11:45", a.Notes)
}

func TestCancelMutation(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) // 10 hours ahead
	a := scheduled(t)
	a.Notes = "existing"

	tier, err := a.Cancel("  sick  ", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, RefundPartial, tier)
	assert.Equal(t, StatusCancelled, a.Status)
	assert.Equal(t, 2, a.Version)
	assert.Equal(t, "existing\n[2025-03-01T00:00:00Z] Cancelled (PARTIAL_REFUND): sick", a.Notes)

	version := a.Version
	_, err = a.Cancel("", now, time.UTC)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, version, a.Version)
}

func TestCancelUsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	a := scheduled(t)

	// 10:00 JST on 2025-03-01 is 01:00 UTC, so 25 hours ahead of this instant.
	now := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	tier, err := a.Cancel("", now, tokyo)
	require.NoError(t, err)
	assert.Equal(t, RefundFull, tier)
}

func TestCompleteAndNoShowMutation(t *testing.T) {
	now := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)

	a := scheduled(t)
	require.NoError(t, a.Complete("all good", now))
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, 2, a.Version)
	assert.True(t, strings.HasSuffix(a.Notes, "Completed: all good"))
	assert.ErrorIs(t, a.MarkNoShow(now), ErrInvalidStatus)

	b := scheduled(t)
	require.NoError(t, b.MarkNoShow(now))
	assert.Equal(t, StatusNoShow, b.Status)
	assert.Equal(t, 2, b.Version)
	assert.Empty(t, b.Notes)
	assert.ErrorIs(t, b.Complete("", now), ErrInvalidStatus)
}
