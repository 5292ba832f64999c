// Package dispatch runs best-effort collaborator calls after a command has
// committed. Tasks never feed back into the command result; a failed task
// is logged and passed to the optional failure hook.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-lifecycle/internal/config"
	"github.com/hackgods/appointment-lifecycle/internal/metrics"
)

type Task struct {
	Name          string // e.g. billing.charge
	Collaborator  string // billing, notification
	AppointmentID uuid.UUID
	Run           func(ctx context.Context) error
}

// FailureFunc is called with a fresh bounded context after a task fails.
type FailureFunc func(ctx context.Context, task Task, err error)

type Dispatcher struct {
	queue     chan Task
	workers   int
	timeout   time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	onFailure FailureFunc

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func New(cfg config.Dispatch, logger zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Dispatcher{
		queue:   make(chan Task, cfg.QueueSize),
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		metrics: m,
	}
}

func (d *Dispatcher) WithFailureHook(fn FailureFunc) *Dispatcher {
	d.onFailure = fn
	return d
}

// Start launches the worker goroutines. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for task := range d.queue {
				d.run(task)
			}
		}()
	}
}

// Dispatch enqueues t without blocking. It returns false when the task was
// dropped because the queue is full or the dispatcher is shut down.
func (d *Dispatcher) Dispatch(t Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(t, "dispatcher closed")
		return false
	}

	select {
	case d.queue <- t:
		return true
	default:
		d.drop(t, "dispatch queue full")
		return false
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish or for
// ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		for task := range d.queue {
			d.drop(task, "dispatcher never started")
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) run(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	err := safeRun(ctx, task)
	elapsed := time.Since(start)

	if err == nil {
		d.metrics.ObserveDispatch(task.Collaborator, "ok", elapsed.Seconds())
		d.logger.Debug().
			Str("task", task.Name).
			Str("collaborator", task.Collaborator).
			Str("appointment_id", task.AppointmentID.String()).
			Dur("duration", elapsed).
			Msg("dispatch delivered")
		return
	}

	d.metrics.ObserveDispatch(task.Collaborator, "failed", elapsed.Seconds())
	d.logger.Warn().
		Err(err).
		Str("task", task.Name).
		Str("collaborator", task.Collaborator).
		Str("appointment_id", task.AppointmentID.String()).
		Dur("duration", elapsed).
		Msg("best-effort dispatch failed; manual reconciliation may be required")

	if d.onFailure != nil {
		hookCtx, hookCancel := context.WithTimeout(context.Background(), d.timeout)
		defer hookCancel()
		d.onFailure(hookCtx, task, err)
	}
}

func (d *Dispatcher) drop(t Task, reason string) {
	d.metrics.ObserveDispatch(t.Collaborator, "dropped", 0)
	d.logger.Warn().
		Str("task", t.Name).
		Str("collaborator", t.Collaborator).
		Str("appointment_id", t.AppointmentID.String()).
		Str("reason", reason).
		Msg("best-effort dispatch dropped")
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if task.Run == nil {
		return fmt.Errorf("task %s has no run function", task.Name)
	}
	return task.Run(ctx)
}
