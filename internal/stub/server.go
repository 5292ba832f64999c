// Package stub serves fake patient, doctor, billing and notification
// services for local runs and load simulation.
package stub

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-lifecycle/internal/collaborator"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type Options struct {
	Patients    int
	Doctors     int
	Seed        uint64
	FailureRate float64       // fraction of billing/notification calls answered with 503
	Latency     time.Duration // added to every response
}

type Server struct {
	opts      Options
	patients  map[int64]collaborator.Patient
	providers map[int64]collaborator.Provider
	logger    zerolog.Logger

	mu            sync.Mutex
	rng           *rand.Rand
	charges       []collaborator.Charge
	refunds       []collaborator.Refund
	notifications []collaborator.Notification
}

// New generates opts.Patients patients and opts.Doctors doctors with ids
// starting at 1.
func New(opts Options, logger zerolog.Logger) *Server {
	faker := gofakeit.New(opts.Seed)
	s := &Server{
		opts:      opts,
		patients:  make(map[int64]collaborator.Patient, opts.Patients),
		providers: make(map[int64]collaborator.Provider, opts.Doctors),
		logger:    logger,
		rng:       rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}

	for i := 1; i <= opts.Patients; i++ {
		s.patients[int64(i)] = collaborator.Patient{ID: int64(i), Name: faker.Name(), Email: faker.Email()}
	}
	for i := 1; i <= opts.Doctors; i++ {
		s.providers[int64(i)] = collaborator.Provider{
			ID:        int64(i),
			Name:      "Dr. " + faker.LastName(),
			Specialty: specialties[faker.Number(0, len(specialties)-1)],
		}
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.delay)
	r.Get("/patients/{id}", s.getPatient)
	r.Get("/doctors/{id}", s.getDoctor)
	r.With(s.flaky).Post("/billing/charges", s.charge)
	r.With(s.flaky).Post("/billing/refunds", s.refund)
	r.With(s.flaky).Post("/notifications", s.notify)
	return r
}

func (s *Server) getPatient(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	p, ok := s.patients[id]
	if err != nil || !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getDoctor(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	p, ok := s.providers[id]
	if err != nil || !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) charge(w http.ResponseWriter, r *http.Request) {
	var c collaborator.Charge
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.charges = append(s.charges, c)
	s.mu.Unlock()

	s.logger.Info().Str("appointment_id", c.AppointmentID.String()).Str("bill_type", string(c.BillType)).Int64("amount_cents", c.AmountCents).Msg("charge recorded")
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	var rf collaborator.Refund
	if err := json.NewDecoder(r.Body).Decode(&rf); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.refunds = append(s.refunds, rf)
	s.mu.Unlock()

	s.logger.Info().Str("appointment_id", rf.AppointmentID.String()).Str("refund_tier", rf.RefundTier).Msg("refund recorded")
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) notify(w http.ResponseWriter, r *http.Request) {
	var n collaborator.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.notifications = append(s.notifications, n)
	s.mu.Unlock()

	s.logger.Info().Str("appointment_id", n.AppointmentID.String()).Str("type", string(n.Type)).Msg("notification sent")
	w.WriteHeader(http.StatusAccepted)
}

// Counts reports how many charges, refunds and notifications were accepted.
func (s *Server) Counts() (charges, refunds, notifications int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.charges), len(s.refunds), len(s.notifications)
}

func (s *Server) delay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Latency > 0 {
			select {
			case <-time.After(s.opts.Latency):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) flaky(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.FailureRate > 0 {
			s.mu.Lock()
			fail := s.rng.Float64() < s.opts.FailureRate
			s.mu.Unlock()
			if fail {
				http.Error(w, "injected failure", http.StatusServiceUnavailable)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
