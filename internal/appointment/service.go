package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/appointment-lifecycle/internal/collaborator"
	"github.com/hackgods/appointment-lifecycle/internal/config"
	"github.com/hackgods/appointment-lifecycle/internal/dispatch"
	"github.com/hackgods/appointment-lifecycle/internal/metrics"
	redisclient "github.com/hackgods/appointment-lifecycle/internal/redis"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow      = "APPOINTMENT_NO_SHOW"
	EventDispatchFailed         = "DISPATCH_FAILED"
)

var tracer = otel.Tracer("appointment-lifecycle.internal.appointment")

type PatientDirectory interface {
	GetPatient(ctx context.Context, id int64) (*collaborator.Patient, error)
}

type ProviderDirectory interface {
	GetProvider(ctx context.Context, id int64) (*collaborator.Provider, error)
}

type Billing interface {
	Charge(ctx context.Context, charge collaborator.Charge) error
	Refund(ctx context.Context, refund collaborator.Refund) error
}

type Notifier interface {
	Notify(ctx context.Context, n collaborator.Notification) error
}

// Dispatcher accepts post-commit work. It must not block the caller.
type Dispatcher interface {
	Dispatch(t dispatch.Task) bool
}

type Dependencies struct {
	Repo       Repository
	Locker     redisclient.Locker
	Patients   PatientDirectory
	Providers  ProviderDirectory
	Billing    Billing
	Notifier   Notifier
	Dispatcher Dispatcher
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type Service struct {
	repo       Repository
	locker     redisclient.Locker
	patients   PatientDirectory
	providers  ProviderDirectory
	billing    Billing
	notifier   Notifier
	dispatcher Dispatcher
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	cfg        config.Config
	loc        *time.Location
}

func NewService(deps Dependencies, cfg config.Config) *Service {
	if deps.Repo == nil {
		panic("appointment: repository required")
	}
	if deps.Patients == nil || deps.Providers == nil || deps.Billing == nil || deps.Notifier == nil {
		panic("appointment: all collaborators required")
	}
	if deps.Dispatcher == nil {
		panic("appointment: dispatcher required")
	}
	if deps.Locker == nil {
		deps.Locker = redisclient.NoopLocker()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Service{
		repo:       deps.Repo,
		locker:     deps.Locker,
		patients:   deps.Patients,
		providers:  deps.Providers,
		billing:    deps.Billing,
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger.With().Str("component", "appointment").Logger(),
		metrics:    deps.Metrics,
		now:        deps.Now,
		cfg:        cfg,
		loc:        loc,
	}
}

// Book validates the patient and provider, then reserves the slot.
// Collaborator lookups happen before the transaction opens; a failure there
// means no transaction is started.
func (s *Service) Book(ctx context.Context, req BookRequest) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.book")
	defer s.observe(span, "book", time.Now(), &err)
	span.SetAttributes(
		attribute.Int64("appointment.patient_id", req.PatientID),
		attribute.Int64("appointment.provider_id", req.ProviderID),
	)

	if err := validateBook(req); err != nil {
		return nil, err
	}

	if err := s.requirePatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	provider, err := s.requireProvider(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	slot := NewSlot(req.Slot.Date, req.Slot.Start, req.Slot.End)
	if !IsFuture(slot.StartsAt(s.loc), now) {
		return nil, ErrInvalidDate
	}

	appt := &Appointment{
		ID:         uuid.New(),
		PatientID:  req.PatientID,
		ProviderID: req.ProviderID,
		Date:       slot.Date,
		StartTime:  slot.Start,
		EndTime:    slot.End,
		Status:     StatusScheduled,
		Version:    1,
		Reason:     req.Reason,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var created *Appointment
	err = s.withSlotLock(ctx, req.ProviderID, slot.Date, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(tx TxRepository) error {
			conflict, err := HasConflict(ctx, tx, SlotQuery{ProviderID: req.ProviderID, Slot: slot})
			if err != nil {
				return fmt.Errorf("check slot conflict: %w", err)
			}
			if conflict {
				return ErrSlotConflict
			}

			created, err = tx.InsertAppointment(ctx, appt)
			if err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}

			return s.logEvent(ctx, tx, created.ID, EventAppointmentBooked, map[string]any{
				"patient_id":  created.PatientID,
				"provider_id": created.ProviderID,
				"slot":        created.Slot().String(),
			})
		})
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("appointment.id", created.ID.String()))
	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Int64("provider_id", created.ProviderID).
		Str("slot", created.Slot().String()).
		Msg("appointment booked")

	s.dispatchNotification(created, collaborator.NotificationConfirmation,
		fmt.Sprintf("Your appointment with %s on %s at %s is confirmed.",
			provider.Name, created.Date.Format(time.DateOnly), created.StartTime),
		slotMetadata(created, provider.Name))

	return created, nil
}

// Reschedule moves an appointment to a new slot with the same provider.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.reschedule")
	defer s.observe(span, "reschedule", time.Now(), &err)
	span.SetAttributes(attribute.String("appointment.id", req.ID.String()))

	slot := NewSlot(req.Slot.Date, req.Slot.Start, req.Slot.End)
	if err := slot.Validate(); err != nil {
		return nil, err
	}

	// The provider is needed to pick the lock key; the authoritative read
	// happens again under FOR UPDATE.
	current, err := s.repo.GetAppointmentByID(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	var updated *Appointment
	err = s.withSlotLock(ctx, current.ProviderID, slot.Date, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(tx TxRepository) error {
			a, err := tx.GetAppointmentForUpdate(ctx, req.ID)
			if err != nil {
				return fmt.Errorf("load appointment: %w", err)
			}

			now := s.now()
			if err := a.CheckReschedule(slot, now, s.loc); err != nil {
				return err
			}

			conflict, err := HasConflict(ctx, tx, SlotQuery{ProviderID: a.ProviderID, Slot: slot, ExcludeID: &a.ID})
			if err != nil {
				return fmt.Errorf("check slot conflict: %w", err)
			}
			if conflict {
				return ErrSlotConflict
			}

			from := a.Slot()
			if err := a.Reschedule(slot, req.Reason, now, s.loc); err != nil {
				return err
			}

			updated, err = tx.UpdateAppointment(ctx, a)
			if err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}

			return s.logEvent(ctx, tx, updated.ID, EventAppointmentRescheduled, map[string]any{
				"from":             from.String(),
				"to":               updated.Slot().String(),
				"reschedule_count": updated.RescheduleCount,
				"version":          updated.Version,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", updated.ID.String()).
		Int("reschedule_count", updated.RescheduleCount).
		Str("slot", updated.Slot().String()).
		Msg("appointment rescheduled")

	appt := *updated
	s.dispatch(dispatch.Task{
		Name:          "notification." + string(collaborator.NotificationRescheduled),
		Collaborator:  "notification",
		AppointmentID: appt.ID,
		Run: func(ctx context.Context) error {
			// Provider name is decoration; a failed lookup must not block the notice.
			name := ""
			if p, err := s.providers.GetProvider(ctx, appt.ProviderID); err == nil {
				name = p.Name
			} else {
				s.logger.Debug().Err(err).Str("appointment_id", appt.ID.String()).Msg("provider lookup for notification failed")
			}
			return s.notifier.Notify(ctx, collaborator.Notification{
				AppointmentID: appt.ID,
				PatientID:     appt.PatientID,
				Message: fmt.Sprintf("Your appointment has been rescheduled to %s at %s.",
					appt.Date.Format(time.DateOnly), appt.StartTime),
				Type:     collaborator.NotificationRescheduled,
				Metadata: slotMetadata(&appt, name),
			})
		},
	})

	return updated, nil
}

// Cancel computes the refund tier from the time remaining before the
// appointment as it was before cancellation.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (_ *CancelResult, err error) {
	ctx, span := tracer.Start(ctx, "appointment.cancel")
	defer s.observe(span, "cancel", time.Now(), &err)
	span.SetAttributes(attribute.String("appointment.id", id.String()))

	var tier RefundTier
	updated, err := s.transition(ctx, id, EventAppointmentCancelled, func(a *Appointment, now time.Time) error {
		var err error
		tier, err = a.Cancel(reason, now, s.loc)
		return err
	}, func() map[string]any {
		return map[string]any{"refund_tier": tier.String(), "reason": reason}
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", updated.ID.String()).
		Str("refund_tier", tier.String()).
		Msg("appointment cancelled")

	s.dispatch(dispatch.Task{
		Name:          "billing.refund",
		Collaborator:  "billing",
		AppointmentID: updated.ID,
		Run: func(ctx context.Context) error {
			return s.billing.Refund(ctx, collaborator.Refund{
				AppointmentID: updated.ID,
				RefundTier:    tier.String(),
			})
		},
	})

	meta := slotMetadata(updated, "")
	meta["refund_tier"] = tier.String()
	s.dispatchNotification(updated, collaborator.NotificationCancellation,
		fmt.Sprintf("Your appointment on %s at %s has been cancelled (%s).",
			updated.Date.Format(time.DateOnly), updated.StartTime, tier),
		meta)

	return &CancelResult{Appointment: updated, RefundTier: tier}, nil
}

// Complete closes a SCHEDULED appointment and bills the consultation. A
// second call fails with ErrInvalidStatus, so billing fires at most once.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, notes string) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.complete")
	defer s.observe(span, "complete", time.Now(), &err)
	span.SetAttributes(attribute.String("appointment.id", id.String()))

	updated, err := s.transition(ctx, id, EventAppointmentCompleted, func(a *Appointment, now time.Time) error {
		return a.Complete(notes, now)
	}, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", updated.ID.String()).Msg("appointment completed")
	s.dispatchCharge(updated, collaborator.BillConsultation, s.cfg.ConsultationFeeCents)
	return updated, nil
}

func (s *Service) NoShow(ctx context.Context, id uuid.UUID) (_ *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.no_show")
	defer s.observe(span, "no_show", time.Now(), &err)
	span.SetAttributes(attribute.String("appointment.id", id.String()))

	updated, err := s.transition(ctx, id, EventAppointmentNoShow, func(a *Appointment, now time.Time) error {
		return a.MarkNoShow(now)
	}, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", updated.ID.String()).Msg("appointment marked no-show")
	s.dispatchCharge(updated, collaborator.BillNoShow, s.cfg.NoShowFeeCents)
	return updated, nil
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListAppointments retrieves appointments for a patient and/or provider
func (s *Service) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	if f.PatientID <= 0 && f.ProviderID <= 0 {
		return nil, fmt.Errorf("%w: patient_id or provider_id is required", ErrValidation)
	}
	appointments, err := s.repo.ListAppointments(ctx, f.Normalized())
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appointments, nil
}

// SweepNoShows is intended to be called by the worker periodically. It marks
// SCHEDULED appointments whose end passed more than grace ago as NO_SHOW and
// returns how many were transitioned.
func (s *Service) SweepNoShows(ctx context.Context, grace time.Duration, limit int) (int, error) {
	if grace <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-grace)

	candidates, err := s.repo.ListScheduledOnOrBefore(ctx, cutoff.In(s.loc), limit)
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, appt := range candidates {
		if !appt.Slot().EndsAt(s.loc).Before(cutoff) {
			continue
		}
		if _, err := s.NoShow(ctx, appt.ID); err != nil {
			if errors.Is(err, ErrInvalidStatus) {
				continue
			}
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark appointment no-show")
			continue
		}
		marked++
	}
	return marked, nil
}

// RecordDispatchFailure persists a failed best-effort call for manual
// reconciliation. It is installed as the dispatcher's failure hook.
func (s *Service) RecordDispatchFailure(ctx context.Context, task dispatch.Task, cause error) {
	data, err := json.Marshal(map[string]any{
		"task":         task.Name,
		"collaborator": task.Collaborator,
		"error":        cause.Error(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal dispatch failure payload")
		data = nil
	}

	apptID := task.AppointmentID
	if err := s.repo.InsertEvent(ctx, EventLog{
		EventType:     EventDispatchFailed,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Error().Err(err).
			Str("appointment_id", apptID.String()).
			Str("collaborator", task.Collaborator).
			Msg("failed to record dispatch failure")
	}
}

// transition runs a single-row state change inside one transaction: lock,
// mutate, persist, audit.
func (s *Service) transition(
	ctx context.Context,
	id uuid.UUID,
	eventType string,
	mutate func(a *Appointment, now time.Time) error,
	extra func() map[string]any,
) (*Appointment, error) {
	var updated *Appointment
	err := s.repo.WithTx(ctx, func(tx TxRepository) error {
		a, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}

		from := a.Status
		if err := mutate(a, s.now()); err != nil {
			return err
		}

		updated, err = tx.UpdateAppointment(ctx, a)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		payload := map[string]any{
			"from_status": from.String(),
			"to_status":   updated.Status.String(),
			"version":     updated.Version,
		}
		if extra != nil {
			for k, v := range extra() {
				payload[k] = v
			}
		}
		return s.logEvent(ctx, tx, updated.ID, eventType, payload)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// withSlotLock maps lock contention to ErrSlotBusy. If Redis itself is
// unreachable the command proceeds unlocked; the store's constraint still holds.
// fn runs at most once, and once it has run its result is the command's.
func (s *Service) withSlotLock(ctx context.Context, providerID int64, date time.Time, fn func(ctx context.Context) error) error {
	var (
		ran   bool
		fnErr error
	)
	err := s.locker.WithSlotLock(ctx, providerID, date, func(ctx context.Context) error {
		ran = true
		fnErr = fn(ctx)
		return fnErr
	})
	switch {
	case ran:
		if err != nil && fnErr == nil {
			s.logger.Warn().Err(err).Int64("provider_id", providerID).Msg("slot lock release failed")
		}
		return fnErr
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrSlotBusy
	default:
		s.logger.Warn().Err(err).Int64("provider_id", providerID).Msg("slot lock unavailable, continuing without it")
		return fn(ctx)
	}
}

func (s *Service) requirePatient(ctx context.Context, id int64) error {
	_, err := s.patients.GetPatient(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, collaborator.ErrNotFound):
		return fmt.Errorf("%w: id %d", ErrPatientNotFound, id)
	default:
		return fmt.Errorf("%w: patient lookup: %v", ErrServiceUnavailable, err)
	}
}

func (s *Service) requireProvider(ctx context.Context, id int64) (*collaborator.Provider, error) {
	p, err := s.providers.GetProvider(ctx, id)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, collaborator.ErrNotFound):
		return nil, fmt.Errorf("%w: id %d", ErrDoctorNotFound, id)
	default:
		return nil, fmt.Errorf("%w: doctor lookup: %v", ErrServiceUnavailable, err)
	}
}

func (s *Service) logEvent(ctx context.Context, tx TxRepository, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	apptID := appointmentID
	return tx.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	})
}

func (s *Service) dispatch(t dispatch.Task) {
	s.dispatcher.Dispatch(t)
}

func (s *Service) dispatchNotification(a *Appointment, typ collaborator.NotificationType, message string, meta map[string]string) {
	n := collaborator.Notification{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		Message:       message,
		Type:          typ,
		Metadata:      meta,
	}
	s.dispatch(dispatch.Task{
		Name:          "notification." + string(typ),
		Collaborator:  "notification",
		AppointmentID: a.ID,
		Run: func(ctx context.Context) error {
			return s.notifier.Notify(ctx, n)
		},
	})
}

func (s *Service) dispatchCharge(a *Appointment, billType collaborator.BillType, amount int64) {
	charge := collaborator.Charge{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		ProviderID:    a.ProviderID,
		AmountCents:   amount,
		BillType:      billType,
	}
	s.dispatch(dispatch.Task{
		Name:          "billing.charge",
		Collaborator:  "billing",
		AppointmentID: a.ID,
		Run: func(ctx context.Context) error {
			return s.billing.Charge(ctx, charge)
		},
	})
}

func (s *Service) observe(span trace.Span, command string, start time.Time, errp *error) {
	err := *errp
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
	}
	span.End()
	s.metrics.ObserveCommand(command, Code(err), time.Since(start).Seconds())
}

func validateBook(req BookRequest) error {
	if req.PatientID <= 0 {
		return fmt.Errorf("%w: patient_id must be positive", ErrValidation)
	}
	if req.ProviderID <= 0 {
		return fmt.Errorf("%w: provider_id must be positive", ErrValidation)
	}
	return req.Slot.Validate()
}

func slotMetadata(a *Appointment, providerName string) map[string]string {
	meta := map[string]string{
		"date":       a.Date.Format(time.DateOnly),
		"start_time": a.StartTime.String(),
		"end_time":   a.EndTime.String(),
	}
	if providerName != "" {
		meta["provider_name"] = providerName
	}
	return meta
}
