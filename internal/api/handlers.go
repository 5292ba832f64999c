package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
)

// AppointmentService is the command surface the HTTP layer drives.
type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, req appointment.RescheduleRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, reason string) (*appointment.CancelResult, error)
	Complete(ctx context.Context, id uuid.UUID, notes string) (*appointment.Appointment, error)
	NoShow(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, f appointment.ListFilter) ([]appointment.Appointment, error)
}

type appointmentHandler struct {
	svc      AppointmentService
	validate *validator.Validate
	logger   zerolog.Logger
}

func newAppointmentHandler(svc AppointmentService, logger zerolog.Logger) *appointmentHandler {
	return &appointmentHandler{svc: svc, validate: newValidator(), logger: logger}
}

func (h *appointmentHandler) book(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if !h.bind(w, r, &req) {
		return
	}

	slot, ok := parseSlot(w, req.Date, req.StartTime, req.EndTime)
	if !ok {
		return
	}

	appt, err := h.svc.Book(r.Context(), appointment.BookRequest{
		PatientID:  req.PatientID,
		ProviderID: req.ProviderID,
		Slot:       slot,
		Reason:     req.Reason,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *appointmentHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   appointment.ListFilter
		err error
	)
	for _, p := range []struct {
		name string
		dst  *int64
	}{{"patient_id", &f.PatientID}, {"provider_id", &f.ProviderID}} {
		if v := q.Get(p.name); v != "" {
			if *p.dst, err = strconv.ParseInt(v, 10, 64); err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", p.name+" must be an integer")
				return
			}
		}
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		if v := q.Get(p.name); v != "" {
			if *p.dst, err = strconv.Atoi(v); err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", p.name+" must be an integer")
				return
			}
		}
	}

	appts, err := h.svc.ListAppointments(r.Context(), f)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	f = f.Normalized()
	resp := ListAppointmentsResponse{
		Appointments: make([]AppointmentResponse, 0, len(appts)),
		Limit:        f.Limit,
		Offset:       f.Offset,
	}
	for i := range appts {
		resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *appointmentHandler) reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	var req RescheduleAppointmentRequest
	if !h.bind(w, r, &req) {
		return
	}

	slot, ok := parseSlot(w, req.Date, req.StartTime, req.EndTime)
	if !ok {
		return
	}

	appt, err := h.svc.Reschedule(r.Context(), appointment.RescheduleRequest{ID: id, Slot: slot, Reason: req.Reason})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	var req CancelAppointmentRequest
	if !h.bind(w, r, &req) {
		return
	}

	res, err := h.svc.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelAppointmentResponse{
		Appointment: toAppointmentResponse(res.Appointment),
		RefundTier:  res.RefundTier.String(),
	})
}

func (h *appointmentHandler) complete(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	var req CompleteAppointmentRequest
	if !h.bind(w, r, &req) {
		return
	}

	appt, err := h.svc.Complete(r.Context(), id, req.Notes)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandler) noShow(w http.ResponseWriter, r *http.Request) {
	id, ok := appointmentID(w, r)
	if !ok {
		return
	}

	appt, err := h.svc.NoShow(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *appointmentHandler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", validationDetails(err))
		return false
	}
	return true
}

func (h *appointmentHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := appointment.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("appointment command failed")
		writeError(w, status, code, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

func appointmentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseSlot(w http.ResponseWriter, date, start, end string) (appointment.Slot, bool) {
	d, err := appointment.ParseDate(date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return appointment.Slot{}, false
	}
	s, err := appointment.ParseTimeOfDay(start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return appointment.Slot{}, false
	}
	e, err := appointment.ParseTimeOfDay(end)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return appointment.Slot{}, false
	}
	return appointment.NewSlot(d, s, e), true
}
