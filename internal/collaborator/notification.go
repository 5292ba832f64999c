package collaborator

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationConfirmation NotificationType = "CONFIRMATION"
	NotificationRescheduled  NotificationType = "RESCHEDULED"
	NotificationCancellation NotificationType = "CANCELLATION"
)

type Notification struct {
	AppointmentID uuid.UUID         `json:"appointment_id"`
	PatientID     int64             `json:"patient_id"`
	Message       string            `json:"message"`
	Type          NotificationType  `json:"type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type NotificationClient struct {
	c client
}

func NewNotificationClient(baseURL string, timeout time.Duration) *NotificationClient {
	return &NotificationClient{c: newClient("notification-service", baseURL, timeout)}
}

func (n *NotificationClient) Notify(ctx context.Context, msg Notification) error {
	return n.c.postJSON(ctx, "/notifications", msg)
}
