package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotQuery describes the window to test for a provider. ExcludeID is set when
// rescheduling so an appointment never conflicts with itself.
type SlotQuery struct {
	ProviderID int64
	Slot       Slot
	ExcludeID  *uuid.UUID
}

// SlotOccupantSource lists appointments that may hold a provider's slots on a
// given date. Implementations backed by a store should run inside the same
// transaction as the subsequent write.
type SlotOccupantSource interface {
	ListSlotOccupants(ctx context.Context, providerID int64, date time.Time) ([]Appointment, error)
}

// Overlaps applies the half-open rule [s1,e1) x [s2,e2): s1 < e2 && s2 < e1.
// Touching intervals do not overlap.
func Overlaps(a, b Slot) bool {
	if !CivilDate(a.Date).Equal(CivilDate(b.Date)) {
		return false
	}
	return a.Start < b.End && b.Start < a.End
}

// HasConflict reports whether an occupying appointment overlaps q.
func HasConflict(ctx context.Context, src SlotOccupantSource, q SlotQuery) (bool, error) {
	occupants, err := src.ListSlotOccupants(ctx, q.ProviderID, CivilDate(q.Slot.Date))
	if err != nil {
		return false, fmt.Errorf("list slot occupants: %w", err)
	}

	for i := range occupants {
		o := &occupants[i]
		if q.ExcludeID != nil && o.ID == *q.ExcludeID {
			continue
		}
		if o.ProviderID != q.ProviderID || !o.Status.OccupiesSlot() {
			continue
		}
		if Overlaps(o.Slot(), q.Slot) {
			return true, nil
		}
	}
	return false, nil
}
