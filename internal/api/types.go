package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
)

type BookAppointmentRequest struct {
	PatientID  int64  `json:"patient_id" validate:"required,gt=0"`
	ProviderID int64  `json:"provider_id" validate:"required,gt=0"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime  string `json:"start_time" validate:"required,clock"`
	EndTime    string `json:"end_time" validate:"required,clock"`
	Reason     string `json:"reason" validate:"max=500"`
}

type RescheduleAppointmentRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,clock"`
	EndTime   string `json:"end_time" validate:"required,clock"`
	Reason    string `json:"reason" validate:"max=500"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type CompleteAppointmentRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       int64     `json:"patient_id"`
	ProviderID      int64     `json:"provider_id"`
	Date            string    `json:"date"`
	StartTime       string    `json:"start_time"`
	EndTime         string    `json:"end_time"`
	Status          string    `json:"status"`
	RescheduleCount int       `json:"reschedule_count"`
	Version         int       `json:"version"`
	Notes           string    `json:"notes,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type CancelAppointmentResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	RefundTier  string              `json:"refund_tier"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		ProviderID:      a.ProviderID,
		Date:            a.Date.Format(time.DateOnly),
		StartTime:       a.StartTime.String(),
		EndTime:         a.EndTime.String(),
		Status:          a.Status.String(),
		RescheduleCount: a.RescheduleCount,
		Version:         a.Version,
		Notes:           a.Notes,
		Reason:          a.Reason,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}
