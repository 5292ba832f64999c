package collaborator

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type BillType string

const (
	BillConsultation BillType = "CONSULTATION"
	BillNoShow       BillType = "NO_SHOW"
)

type Charge struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     int64     `json:"patient_id"`
	ProviderID    int64     `json:"provider_id"`
	AmountCents   int64     `json:"amount_cents"`
	BillType      BillType  `json:"bill_type"`
}

type Refund struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	RefundTier    string    `json:"refund_tier"`
}

type BillingClient struct {
	c client
}

func NewBillingClient(baseURL string, timeout time.Duration) *BillingClient {
	return &BillingClient{c: newClient("billing-service", baseURL, timeout)}
}

func (b *BillingClient) Charge(ctx context.Context, charge Charge) error {
	return b.c.postJSON(ctx, "/billing/charges", charge)
}

func (b *BillingClient) Refund(ctx context.Context, refund Refund) error {
	return b.c.postJSON(ctx, "/billing/refunds", refund)
}
