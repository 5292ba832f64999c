package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxPool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool pgxPool
}

// NewPgRepository accepts a *pgxpool.Pool or any compatible pool (pgxmock in tests).
func NewPgRepository(pool pgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, patient_id, provider_id, date, start_time, end_time, status,
		       reschedule_count, version, notes, reason, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start, end pgtype.Time
	var status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.Date,
		&start,
		&end,
		&status,
		&a.RescheduleCount,
		&a.Version,
		&a.Notes,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.Status, err = ParseStatus(status); err != nil {
		return nil, fmt.Errorf("scan appointment %s: %w", a.ID, err)
	}
	a.Date = CivilDate(a.Date)
	a.StartTime = fromPGTime(start)
	a.EndTime = fromPGTime(end)
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func toPGTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

func fromPGTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Microseconds) * time.Microsecond)
}

// mapWriteError turns the (provider, date, start_time) unique violation into
// ErrSlotConflict; it is the backstop for races the conflict check cannot see.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w (constraint %s)", ErrSlotConflict, pgErr.ConstraintName)
	}
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func insertEvent(ctx context.Context, q querier, ev EventLog) error {
	_, err := q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1::bigint = 0 OR patient_id = $1)
		  AND ($2::bigint = 0 OR provider_id = $2)
		ORDER BY date, start_time, id
		LIMIT $3 OFFSET $4
	`, f.PatientID, f.ProviderID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return scanAppointments(rows)
}

func (r *PgRepository) ListScheduledOnOrBefore(ctx context.Context, date time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'SCHEDULED'
		  AND date <= $1
		ORDER BY date, end_time
		LIMIT $2
	`, CivilDate(date), limit)
	if err != nil {
		return nil, fmt.Errorf("list scheduled appointments: %w", err)
	}
	return scanAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	return insertEvent(ctx, r.pool, ev)
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(tx TxRepository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(&pgTxRepository{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", mapWriteError(err))
	}
	committed = true
	return nil
}

type pgTxRepository struct {
	q querier
}

func (t *pgTxRepository) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

// ListSlotOccupants applies the same status filter as the partial unique
// index and locks matching rows for the rest of the transaction.
func (t *pgTxRepository) ListSlotOccupants(ctx context.Context, providerID int64, date time.Time) ([]Appointment, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND date = $2
		  AND status NOT IN ('CANCELLED', 'COMPLETED')
		FOR UPDATE
	`, providerID, CivilDate(date))
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (t *pgTxRepository) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.ProviderID, CivilDate(a.Date), toPGTime(a.StartTime), toPGTime(a.EndTime),
		a.Status.String(), a.RescheduleCount, a.Version, a.Notes, a.Reason, a.CreatedAt, a.UpdatedAt,
	)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return created, nil
}

func (t *pgTxRepository) UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE appointments
		SET date = $2,
		    start_time = $3,
		    end_time = $4,
		    status = $5,
		    reschedule_count = $6,
		    version = $7,
		    notes = $8,
		    updated_at = $9
		WHERE id = $1
		RETURNING `+appointmentColumns,
		a.ID, CivilDate(a.Date), toPGTime(a.StartTime), toPGTime(a.EndTime),
		a.Status.String(), a.RescheduleCount, a.Version, a.Notes, a.UpdatedAt,
	)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return updated, nil
}

func (t *pgTxRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	return insertEvent(ctx, t.q, ev)
}
