package appointment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-lifecycle/internal/collaborator"
	"github.com/hackgods/appointment-lifecycle/internal/config"
	"github.com/hackgods/appointment-lifecycle/internal/dispatch"
)

// memRepository is a serializable in-memory store. Each WithTx holds the lock
// for its whole duration and stages writes until commit.
type memRepository struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]Appointment
	events []EventLog

	// hideOccupants makes ListSlotOccupants return nothing so the unique
	// constraint backstop can be exercised.
	hideOccupants bool

	commits   int
	rollbacks int
}

func newMemRepository() *memRepository {
	return &memRepository{rows: make(map[uuid.UUID]Appointment)}
}

func (r *memRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepository) ListAppointments(_ context.Context, f ListFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.sorted() {
		if f.PatientID != 0 && a.PatientID != f.PatientID {
			continue
		}
		if f.ProviderID != 0 && a.ProviderID != f.ProviderID {
			continue
		}
		out = append(out, a)
	}
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepository) ListScheduledOnOrBefore(_ context.Context, date time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.sorted() {
		if a.Status == StatusScheduled && !a.Date.After(CivilDate(date)) {
			out = append(out, a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepository) WithTx(ctx context.Context, fn func(tx TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{repo: r, staged: make(map[uuid.UUID]Appointment, len(r.rows))}
	for id, a := range r.rows {
		tx.staged[id] = a
	}

	if err := fn(tx); err != nil {
		r.rollbacks++
		return err
	}
	r.rows = tx.staged
	r.events = append(r.events, tx.events...)
	r.commits++
	return nil
}

func (r *memRepository) sorted() []Appointment {
	out := make([]Appointment, 0, len(r.rows))
	for _, a := range r.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (r *memRepository) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *memRepository) txCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits + r.rollbacks
}

type memTx struct {
	repo   *memRepository
	staged map[uuid.UUID]Appointment
	events []EventLog
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.staged[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) ListSlotOccupants(_ context.Context, providerID int64, date time.Time) ([]Appointment, error) {
	if t.repo.hideOccupants {
		return nil, nil
	}
	var out []Appointment
	for _, a := range t.staged {
		if a.ProviderID == providerID && a.Date.Equal(CivilDate(date)) &&
			a.Status != StatusCancelled && a.Status != StatusCompleted {
			out = append(out, a)
		}
	}
	return out, nil
}

// violatesUnique mirrors the partial unique index on (provider_id, date, start_time).
func (t *memTx) violatesUnique(a *Appointment) bool {
	for id, o := range t.staged {
		if id == a.ID || !o.Status.OccupiesSlot() || !a.Status.OccupiesSlot() {
			continue
		}
		if o.ProviderID == a.ProviderID && o.Date.Equal(a.Date) && o.StartTime == a.StartTime {
			return true
		}
	}
	return false
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	if t.violatesUnique(a) {
		return nil, ErrSlotConflict
	}
	t.staged[a.ID] = *a
	out := *a
	return &out, nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	if _, ok := t.staged[a.ID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	if t.violatesUnique(a) {
		return nil, ErrSlotConflict
	}
	t.staged[a.ID] = *a
	out := *a
	return &out, nil
}

func (t *memTx) InsertEvent(_ context.Context, ev EventLog) error {
	t.events = append(t.events, ev)
	return nil
}

type fakeDirectory struct {
	mu         sync.Mutex
	patients   map[int64]*collaborator.Patient
	providers  map[int64]*collaborator.Provider
	patientErr error
	doctorErr  error
	calls      int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		patients: map[int64]*collaborator.Patient{
			1: {ID: 1, Name: "Ada Lovelace"},
			2: {ID: 2, Name: "Grace Hopper"},
		},
		providers: map[int64]*collaborator.Provider{
			7: {ID: 7, Name: "Dr. Seven", Specialty: "General Practice"},
			8: {ID: 8, Name: "Dr. Eight", Specialty: "Cardiology"},
		},
	}
}

func (d *fakeDirectory) GetPatient(_ context.Context, id int64) (*collaborator.Patient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.patientErr != nil {
		return nil, d.patientErr
	}
	p, ok := d.patients[id]
	if !ok {
		return nil, collaborator.ErrNotFound
	}
	return p, nil
}

func (d *fakeDirectory) GetProvider(_ context.Context, id int64) (*collaborator.Provider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.doctorErr != nil {
		return nil, d.doctorErr
	}
	p, ok := d.providers[id]
	if !ok {
		return nil, collaborator.ErrNotFound
	}
	return p, nil
}

type fakeBilling struct {
	mu      sync.Mutex
	charges []collaborator.Charge
	refunds []collaborator.Refund
	err     error
}

func (b *fakeBilling) Charge(_ context.Context, c collaborator.Charge) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.charges = append(b.charges, c)
	return nil
}

func (b *fakeBilling) Refund(_ context.Context, r collaborator.Refund) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.refunds = append(b.refunds, r)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []collaborator.Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, msg collaborator.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

// inlineDispatcher runs tasks synchronously so assertions see their effects.
type inlineDispatcher struct {
	mu       sync.Mutex
	tasks    []string
	failures map[string]error
	onFail   dispatch.FailureFunc
}

func (d *inlineDispatcher) Dispatch(t dispatch.Task) bool {
	err := t.Run(context.Background())
	d.mu.Lock()
	d.tasks = append(d.tasks, t.Name)
	if err != nil {
		if d.failures == nil {
			d.failures = make(map[string]error)
		}
		d.failures[t.Name] = err
	}
	onFail := d.onFail
	d.mu.Unlock()
	if err != nil && onFail != nil {
		onFail(context.Background(), t, err)
	}
	return true
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type fixture struct {
	svc        *Service
	repo       *memRepository
	dir        *fakeDirectory
	billing    *fakeBilling
	notifier   *fakeNotifier
	dispatcher *inlineDispatcher
	clock      *testClock
}

// baseNow is two days before the 2025-03-01 slots used across tests.
var baseNow = time.Date(2025, 2, 27, 9, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		repo:       newMemRepository(),
		dir:        newFakeDirectory(),
		billing:    &fakeBilling{},
		notifier:   &fakeNotifier{},
		dispatcher: &inlineDispatcher{},
		clock:      &testClock{t: baseNow},
	}
	f.svc = NewService(Dependencies{
		Repo:       f.repo,
		Patients:   f.dir,
		Providers:  f.dir,
		Billing:    f.billing,
		Notifier:   f.notifier,
		Dispatcher: f.dispatcher,
		Logger:     zerolog.Nop(),
		Now:        f.clock.Now,
	}, config.Config{
		Location:             time.UTC,
		ConsultationFeeCents: 5000,
		NoShowFeeCents:       2500,
	})
	f.dispatcher.onFail = f.svc.RecordDispatchFailure
	return f
}

func mustTime(v string) TimeOfDay {
	t, err := ParseTimeOfDay(v)
	if err != nil {
		panic(err)
	}
	return t
}

func slotOn(date time.Time, start, end string) Slot {
	return NewSlot(date, mustTime(start), mustTime(end))
}

var march1 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func (f *fixture) book(providerID int64, s Slot) (*Appointment, error) {
	return f.svc.Book(context.Background(), BookRequest{
		PatientID:  1,
		ProviderID: providerID,
		Slot:       s,
		Reason:     "checkup",
	})
}

// slotAt builds a 30 minute slot starting at the given instant.
func slotAt(t time.Time) Slot {
	start := TimeOfDay(t.Sub(CivilDate(t)))
	return Slot{Date: CivilDate(t), Start: start, End: start + TimeOfDay(30*time.Minute)}
}

var errBoom = errors.New("boom")
