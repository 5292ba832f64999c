package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pgColumns = []string{
	"id", "patient_id", "provider_id", "date", "start_time", "end_time", "status",
	"reschedule_count", "version", "notes", "reason", "created_at", "updated_at",
}

func appointmentRows(appts ...Appointment) *pgxmock.Rows {
	rows := pgxmock.NewRows(pgColumns)
	for _, a := range appts {
		rows.AddRow(
			a.ID, a.PatientID, a.ProviderID, a.Date, toPGTime(a.StartTime), toPGTime(a.EndTime),
			a.Status.String(), a.RescheduleCount, a.Version, a.Notes, a.Reason, a.CreatedAt, a.UpdatedAt,
		)
	}
	return rows
}

func sampleAppointment() Appointment {
	created := time.Date(2025, 2, 27, 9, 0, 0, 0, time.UTC)
	return Appointment{
		ID:         uuid.New(),
		PatientID:  1,
		ProviderID: 7,
		Date:       march1,
		StartTime:  mustTime("10:00"),
		EndTime:    mustTime("10:30"),
		Status:     StatusScheduled,
		Version:    1,
		Reason:     "checkup",
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func TestPgGetAppointmentByID(t *testing.T) {
	mock, repo := newMockRepo(t)
	want := sampleAppointment()

	mock.ExpectQuery("FROM appointments").
		WithArgs(want.ID).
		WillReturnRows(appointmentRows(want))

	got, err := repo.GetAppointmentByID(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetAppointmentByIDNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("FROM appointments").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetAppointmentByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListAppointments(t *testing.T) {
	mock, repo := newMockRepo(t)
	a, b := sampleAppointment(), sampleAppointment()
	b.StartTime, b.EndTime = mustTime("11:00"), mustTime("11:30")
	b.Status = StatusCancelled

	mock.ExpectQuery("FROM appointments").
		WithArgs(int64(0), int64(7), 20, 0).
		WillReturnRows(appointmentRows(a, b))

	got, err := repo.ListAppointments(context.Background(), ListFilter{ProviderID: 7, Limit: 20})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, StatusCancelled, got[1].Status)
	assert.Equal(t, mustTime("11:00"), got[1].StartTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgScanRejectsUnknownStatus(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment()

	rows := pgxmock.NewRows(pgColumns).AddRow(
		a.ID, a.PatientID, a.ProviderID, a.Date, toPGTime(a.StartTime), toPGTime(a.EndTime),
		"PENDING", 0, 1, "", "", a.CreatedAt, a.UpdatedAt,
	)
	mock.ExpectQuery("FROM appointments").WithArgs(a.ID).WillReturnRows(rows)

	_, err := repo.GetAppointmentByID(context.Background(), a.ID)
	assert.ErrorContains(t, err, "unknown appointment status")
}

func TestPgWithTxCommitsBooking(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(int64(7), march1).
		WillReturnRows(pgxmock.NewRows(pgColumns))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(a.ID, a.PatientID, a.ProviderID, a.Date, toPGTime(a.StartTime), toPGTime(a.EndTime),
			"SCHEDULED", 0, 1, "", "checkup", a.CreatedAt, a.UpdatedAt).
		WillReturnRows(appointmentRows(a))
	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs(EventAppointmentBooked, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.WithTx(context.Background(), func(tx TxRepository) error {
		conflict, err := HasConflict(context.Background(), tx, SlotQuery{ProviderID: 7, Slot: a.Slot()})
		require.NoError(t, err)
		require.False(t, conflict)

		created, err := tx.InsertAppointment(context.Background(), &a)
		if err != nil {
			return err
		}
		return tx.InsertEvent(context.Background(), EventLog{EventType: EventAppointmentBooked, AppointmentID: &created.ID})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUniqueViolationMapsToSlotConflict(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_provider_slot_active_key"})
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(tx TxRepository) error {
		_, err := tx.InsertAppointment(context.Background(), &a)
		return err
	})
	assert.ErrorIs(t, err, ErrSlotConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgUpdateWithinTx(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment()
	cancelled := a
	cancelled.Status = StatusCancelled
	cancelled.Version = 2
	cancelled.Notes = "[2025-02-28T09:00:00Z] Cancelled (FULL_REFUND)"

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs(a.ID).WillReturnRows(appointmentRows(a))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(a.ID, a.Date, toPGTime(a.StartTime), toPGTime(a.EndTime), "CANCELLED", 0, 2, cancelled.Notes, pgxmock.AnyArg()).
		WillReturnRows(appointmentRows(cancelled))
	mock.ExpectCommit()

	var updated *Appointment
	err := repo.WithTx(context.Background(), func(tx TxRepository) error {
		cur, err := tx.GetAppointmentForUpdate(context.Background(), a.ID)
		if err != nil {
			return err
		}
		now := time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC)
		if _, err := cur.Cancel("", now, time.UTC); err != nil {
			return err
		}
		updated, err = tx.UpdateAppointment(context.Background(), cur)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
	assert.Equal(t, 2, updated.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgWithTxRollsBackOnError(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(TxRepository) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgListScheduledOnOrBefore(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := sampleAppointment()

	mock.ExpectQuery("status = 'SCHEDULED'").
		WithArgs(march1, 50).
		WillReturnRows(appointmentRows(a))

	got, err := repo.ListScheduledOnOrBefore(context.Background(), time.Date(2025, 3, 1, 14, 0, 0, 0, time.UTC), 50)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
