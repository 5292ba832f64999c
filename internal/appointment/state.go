package appointment

import (
	"fmt"
	"strings"
	"time"
)

// Transition names a mutating command on an existing appointment.
type Transition int

const (
	TransitionReschedule Transition = iota + 1
	TransitionCancel
	TransitionComplete
	TransitionNoShow
)

func (t Transition) String() string {
	switch t {
	case TransitionReschedule:
		return "reschedule"
	case TransitionCancel:
		return "cancel"
	case TransitionComplete:
		return "complete"
	case TransitionNoShow:
		return "mark no-show"
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// Allows reports whether t is legal from s. Every transition leaves SCHEDULED
// and none returns to it.
func (s Status) Allows(t Transition) bool {
	switch s {
	case StatusScheduled:
		switch t {
		case TransitionReschedule, TransitionCancel, TransitionComplete, TransitionNoShow:
			return true
		}
		return false
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return false
	default:
		return false
	}
}

// Terminal reports whether s is a final status. No transition leaves it.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	default:
		return false
	}
}

// OccupiesSlot reports whether an appointment in status s blocks its
// provider/time slot. NO_SHOW keeps blocking; only CANCELLED and COMPLETED free it.
func (s Status) OccupiesSlot() bool {
	switch s {
	case StatusScheduled, StatusNoShow:
		return true
	case StatusCompleted, StatusCancelled:
		return false
	default:
		return true
	}
}

func (a *Appointment) checkTransition(t Transition) error {
	switch {
	case a.Status.Allows(t):
		return nil
	case a.Status.Terminal():
		return fmt.Errorf("%w: cannot %s an appointment that is already %s", ErrInvalidStatus, t, a.Status)
	default:
		return fmt.Errorf("%w: cannot %s an appointment in status %s", ErrInvalidStatus, t, a.Status)
	}
}

// CheckReschedule evaluates every reschedule precondition except the slot
// conflict, which needs the store.
func (a *Appointment) CheckReschedule(to Slot, now time.Time, loc *time.Location) error {
	if err := a.checkTransition(TransitionReschedule); err != nil {
		return err
	}
	if a.RescheduleCount >= MaxReschedules {
		return fmt.Errorf("%w: appointment %s was already rescheduled %d times", ErrMaxRescheduleExceeded, a.ID, a.RescheduleCount)
	}
	if !CanReschedule(a.Slot().StartsAt(loc), now) {
		return ErrCutoffExceeded
	}
	if !IsFuture(to.StartsAt(loc), now) {
		return ErrInvalidDate
	}
	return nil
}

func (a *Appointment) Reschedule(to Slot, reason string, now time.Time, loc *time.Location) error {
	if err := a.CheckReschedule(to, now, loc); err != nil {
		return err
	}
	from := a.Slot()

	a.Date = CivilDate(to.Date)
	a.StartTime = to.Start
	a.EndTime = to.End
	a.RescheduleCount++
	a.Version++
	a.UpdatedAt = now
	a.appendNote(now, fmt.Sprintf("Rescheduled from %s to %s", from, to), reason)
	return nil
}

// Cancel returns the refund tier computed from the pre-cancellation slot.
func (a *Appointment) Cancel(reason string, now time.Time, loc *time.Location) (RefundTier, error) {
	if err := a.checkTransition(TransitionCancel); err != nil {
		return 0, err
	}
	tier := RefundPolicy(a.Slot().StartsAt(loc), now)

	a.Status = StatusCancelled
	a.Version++
	a.UpdatedAt = now
	a.appendNote(now, "Cancelled ("+tier.String()+")", reason)
	return tier, nil
}

func (a *Appointment) Complete(notes string, now time.Time) error {
	if err := a.checkTransition(TransitionComplete); err != nil {
		return err
	}
	a.Status = StatusCompleted
	a.Version++
	a.UpdatedAt = now
	a.appendNote(now, "Completed", notes)
	return nil
}

func (a *Appointment) MarkNoShow(now time.Time) error {
	if err := a.checkTransition(TransitionNoShow); err != nil {
		return err
	}
	a.Status = StatusNoShow
	a.Version++
	a.UpdatedAt = now
	return nil
}

// appendNote keeps prior history intact.
func (a *Appointment) appendNote(now time.Time, action, detail string) {
	line := "[" + now.UTC().Format(time.RFC3339) + "] " + action
	if detail = strings.TrimSpace(detail); detail != "" {
		line += ": " + detail
	}
	if a.Notes == "" {
		a.Notes = line
		return
	}
	a.Notes += "\n" + line
}
