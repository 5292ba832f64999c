package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, error)

	// No-show worker
	ListScheduledOnOrBefore(ctx context.Context, date time.Time, limit int) ([]Appointment, error)

	// Event logging outside of a command transaction
	InsertEvent(ctx context.Context, ev EventLog) error

	// WithTx runs fn in a single transaction, committing only if fn returns nil.
	WithTx(ctx context.Context, fn func(tx TxRepository) error) error
}

// TxRepository is the transactional view used by mutating commands.
type TxRepository interface {
	SlotOccupantSource

	// GetAppointmentForUpdate locks the row until the transaction ends.
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Insert and Update return ErrSlotConflict on a (provider, date, start) unique violation.
	InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
