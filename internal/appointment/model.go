package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment. SCHEDULED is the only
// non-terminal state.
type Status int

const (
	StatusScheduled Status = iota + 1
	StatusCompleted
	StatusCancelled
	StatusNoShow
)

func (s Status) String() string {
	switch s {
	case StatusScheduled:
		return "SCHEDULED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusNoShow:
		return "NO_SHOW"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func ParseStatus(v string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "SCHEDULED":
		return StatusScheduled, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "CANCELLED":
		return StatusCancelled, nil
	case "NO_SHOW":
		return StatusNoShow, nil
	}
	return 0, fmt.Errorf("unknown appointment status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TimeOfDay is a wall-clock offset from midnight.
type TimeOfDay time.Duration

const day = 24 * time.Hour

// ParseTimeOfDay accepts "15:04" or "15:04:05". "24:00" is end of day.
func ParseTimeOfDay(v string) (TimeOfDay, error) {
	if v == "24:00" || v == "24:00:00" {
		return TimeOfDay(day), nil
	}
	layout := "15:04"
	if strings.Count(v, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", v, err)
	}
	return TimeOfDay(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second), nil
}

func (t TimeOfDay) Duration() time.Duration { return time.Duration(t) }

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if s := (d % time.Minute) / time.Second; s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// CivilDate strips the clock and location from t, keeping its calendar day.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(v string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", v, err)
	}
	return t, nil
}

// Slot is a provider-independent time window on a calendar day.
type Slot struct {
	Date  time.Time
	Start TimeOfDay
	End   TimeOfDay
}

func NewSlot(date time.Time, start, end TimeOfDay) Slot {
	return Slot{Date: CivilDate(date), Start: start, End: end}
}

// Validate checks the half-open interval is non-empty and inside one day.
func (s Slot) Validate() error {
	if s.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}
	if s.Start < 0 || time.Duration(s.End) > day {
		return fmt.Errorf("%w: times must fall within a single day", ErrValidation)
	}
	if s.End <= s.Start {
		return fmt.Errorf("%w: end_time must be after start_time", ErrValidation)
	}
	return nil
}

// StartsAt resolves the slot start to an instant in loc from its wall-clock
// fields, so DST transition days land on the written time.
func (s Slot) StartsAt(loc *time.Location) time.Time {
	return s.wallClock(s.Start, loc)
}

func (s Slot) EndsAt(loc *time.Location) time.Time {
	return s.wallClock(s.End, loc)
}

func (s Slot) wallClock(t TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := s.Date.Date()
	dur := t.Duration()
	h := int(dur / time.Hour)
	min := int(dur % time.Hour / time.Minute)
	sec := int(dur % time.Minute / time.Second)
	// time.Date normalizes hour 24 to midnight of the next day.
	return time.Date(y, m, d, h, min, sec, 0, loc)
}

func (s Slot) String() string {
	return fmt.Sprintf("%s %s-%s", s.Date.Format(time.DateOnly), s.Start, s.End)
}

type Appointment struct {
	ID              uuid.UUID
	PatientID       int64
	ProviderID      int64
	Date            time.Time
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	Status          Status
	RescheduleCount int
	Version         int
	Notes           string
	Reason          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Appointment) Slot() Slot {
	return Slot{Date: a.Date, Start: a.StartTime, End: a.EndTime}
}

// RefundTier is the cancellation category derived from lead time.
type RefundTier int

const (
	RefundFull RefundTier = iota + 1
	RefundPartial
	RefundCancellationFee
)

func (r RefundTier) String() string {
	switch r {
	case RefundFull:
		return "FULL_REFUND"
	case RefundPartial:
		return "PARTIAL_REFUND"
	case RefundCancellationFee:
		return "CANCELLATION_FEE"
	default:
		return fmt.Sprintf("RefundTier(%d)", int(r))
	}
}

func (r RefundTier) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// CancelResult carries the cancelled row and the tier billed for it.
type CancelResult struct {
	Appointment *Appointment
	RefundTier  RefundTier
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// BookRequest is the input of Service.Book.
type BookRequest struct {
	PatientID  int64
	ProviderID int64
	Slot       Slot
	Reason     string
}

// RescheduleRequest moves an appointment to a new slot with the same provider.
type RescheduleRequest struct {
	ID     uuid.UUID
	Slot   Slot
	Reason string
}

// ListFilter selects appointments by patient and/or provider. Zero ids are ignored.
type ListFilter struct {
	PatientID  int64
	ProviderID int64
	Limit      int
	Offset     int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Normalized applies the default page size and clamps limit and offset.
func (f ListFilter) Normalized() ListFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultListLimit
	case f.Limit > MaxListLimit:
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
