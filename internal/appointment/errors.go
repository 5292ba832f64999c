package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")

	ErrSlotConflict          = errors.New("provider already has an appointment in this time slot")
	ErrMaxRescheduleExceeded = errors.New("maximum number of reschedules reached")
	ErrCutoffExceeded        = errors.New("appointments can only be rescheduled at least 1 hour in advance")
	ErrInvalidStatus         = errors.New("transition not allowed from current appointment status")
	ErrInvalidDate           = errors.New("appointment time must be in the future")
	ErrServiceUnavailable    = errors.New("dependent service unavailable")
	ErrValidation            = errors.New("validation error")
)

// ErrSlotBusy is returned when another request holds the provider/date lock.
var ErrSlotBusy = fmt.Errorf("%w: slot is currently being booked, please retry", ErrSlotConflict)

// Code returns a stable, machine-readable identifier for err. It is used as
// the API error code and as the metrics outcome label.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAppointmentNotFound):
		return "appointment_not_found"
	case errors.Is(err, ErrPatientNotFound):
		return "patient_not_found"
	case errors.Is(err, ErrDoctorNotFound):
		return "doctor_not_found"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrMaxRescheduleExceeded):
		return "max_reschedule_exceeded"
	case errors.Is(err, ErrCutoffExceeded):
		return "cutoff_exceeded"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, ErrInvalidDate):
		return "invalid_date"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	default:
		return "internal_error"
	}
}
