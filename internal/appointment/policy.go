package appointment

import "time"

const (
	// MaxReschedules is the hard cap on RescheduleCount.
	MaxReschedules = 2

	RescheduleCutoff  = time.Hour
	FullRefundLead    = 24 * time.Hour
	PartialRefundLead = 6 * time.Hour
)

// CanReschedule reports whether at least RescheduleCutoff remains before the
// appointment. The reschedule cap is checked separately.
func CanReschedule(appointmentAt, now time.Time) bool {
	return appointmentAt.Sub(now) >= RescheduleCutoff
}

// RefundPolicy maps the lead time before the appointment to a refund tier.
// Appointments already in the past fall through to the cancellation fee.
func RefundPolicy(appointmentAt, now time.Time) RefundTier {
	lead := appointmentAt.Sub(now)
	switch {
	case lead >= FullRefundLead:
		return RefundFull
	case lead >= PartialRefundLead:
		return RefundPartial
	default:
		return RefundCancellationFee
	}
}

// IsFuture is strict: the current instant is not the future.
func IsFuture(candidate, now time.Time) bool {
	return candidate.After(now)
}
