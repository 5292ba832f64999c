package collaborator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	bodies map[string][]byte
}

func (r *recorder) store(path string, req *http.Request) {
	var raw json.RawMessage
	_ = json.NewDecoder(req.Body).Decode(&raw)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bodies == nil {
		r.bodies = make(map[string][]byte)
	}
	r.bodies[path] = raw
}

func (r *recorder) body(path string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[path]
}

func newCollaboratorServer(t *testing.T, rec *recorder) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/patients/{id}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "id") != "1" {
			http.NotFound(w, req)
			return
		}
		_ = json.NewEncoder(w).Encode(Patient{ID: 1, Name: "Ada Lovelace"})
	})
	r.Get("/doctors/{id}", func(w http.ResponseWriter, req *http.Request) {
		switch chi.URLParam(req, "id") {
		case "7":
			_ = json.NewEncoder(w).Encode(Provider{ID: 7, Name: "Dr. Seven", Specialty: "General Practice"})
		case "500":
			http.Error(w, "database offline", http.StatusInternalServerError)
		case "garbage":
			_, _ = w.Write([]byte("{not json"))
		default:
			http.NotFound(w, req)
		}
	})
	r.Post("/billing/charges", func(w http.ResponseWriter, req *http.Request) {
		rec.store(req.URL.Path, req)
		w.WriteHeader(http.StatusCreated)
	})
	r.Post("/billing/refunds", func(w http.ResponseWriter, req *http.Request) {
		rec.store(req.URL.Path, req)
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/notifications", func(w http.ResponseWriter, req *http.Request) {
		rec.store(req.URL.Path, req)
		w.WriteHeader(http.StatusAccepted)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestDirectoryLookups(t *testing.T) {
	srv := newCollaboratorServer(t, &recorder{})
	ctx := context.Background()

	patients := NewPatientClient(srv.URL+"/", time.Second)
	p, err := patients.GetPatient(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", p.Name)

	_, err = patients.GetPatient(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	providers := NewProviderClient(srv.URL, time.Second)
	d, err := providers.GetProvider(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Seven", d.Name)

	_, err = providers.GetProvider(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = providers.GetProvider(ctx, 500)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorContains(t, err, "database offline")
}

func TestMalformedResponseIsUnavailable(t *testing.T) {
	srv := newCollaboratorServer(t, &recorder{})
	c := newClient("doctor-service", srv.URL, time.Second)

	var out Provider
	err := c.getJSON(context.Background(), "/doctors/garbage", &out)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTimeoutIsUnavailable(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(slow.Close)

	_, err := NewPatientClient(slow.URL, 50*time.Millisecond).GetPatient(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewProviderClient(url, time.Second).GetProvider(context.Background(), 7)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestBillingAndNotificationPayloads(t *testing.T) {
	rec := &recorder{}
	srv := newCollaboratorServer(t, rec)
	ctx := context.Background()
	id := uuid.MustParse("2b6f0cc9-4c5e-4f86-9b0c-4a8f0b7a4b11")

	billing := NewBillingClient(srv.URL, time.Second)
	require.NoError(t, billing.Charge(ctx, Charge{AppointmentID: id, PatientID: 1, ProviderID: 7, AmountCents: 5000, BillType: BillConsultation}))
	require.NoError(t, billing.Refund(ctx, Refund{AppointmentID: id, RefundTier: "PARTIAL_REFUND"}))

	assert.JSONEq(t, `{
		"appointment_id": "2b6f0cc9-4c5e-4f86-9b0c-4a8f0b7a4b11",
		"patient_id": 1,
		"provider_id": 7,
		"amount_cents": 5000,
		"bill_type": "CONSULTATION"
	}`, string(rec.body("/billing/charges")))
	assert.JSONEq(t, `{
		"appointment_id": "2b6f0cc9-4c5e-4f86-9b0c-4a8f0b7a4b11",
		"refund_tier": "PARTIAL_REFUND"
	}`, string(rec.body("/billing/refunds")))

	notifier := NewNotificationClient(srv.URL, time.Second)
	require.NoError(t, notifier.Notify(ctx, Notification{
		AppointmentID: id,
		PatientID:     1,
		Message:       "confirmed",
		Type:          NotificationConfirmation,
		Metadata:      map[string]string{"date": "2025-03-01"},
	}))
	assert.JSONEq(t, `{
		"appointment_id": "2b6f0cc9-4c5e-4f86-9b0c-4a8f0b7a4b11",
		"patient_id": 1,
		"message": "confirmed",
		"type": "CONFIRMATION",
		"metadata": {"date": "2025-03-01"}
	}`, string(rec.body("/notifications")))
}
