// Package sla watches task due dates and publishes overdue notifications on a cron schedule.
package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/taskflow/pkg/eventbus"
	"github.com/dukex/taskflow/pkg/events"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule sweeps every five minutes.
const DefaultSchedule = "*/5 * * * *"

var ErrAlreadyStarted = errors.New("sla monitor already started")

// Monitor publishes task.overdue once per task that passes its due date
// while still open.
type Monitor struct {
	tasks     persistence.TaskRepository
	publisher eventbus.EventPublisher
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	notified map[string]struct{}
	cron     *cron.Cron
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the monitor clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

func NewMonitor(tasks persistence.TaskRepository, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		tasks:     tasks,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With("module", "sla_monitor"),
		notified:  make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start schedules sweeps with a standard five-field cron expression.
func (m *Monitor) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid sla schedule: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cron != nil {
		return ErrAlreadyStarted
	}

	m.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	sweepCtx := context.WithoutCancel(ctx)

	id, err := m.cron.AddFunc(schedule, func() {
		if _, err := m.Sweep(sweepCtx); err != nil {
			m.logger.ErrorContext(sweepCtx, "sla sweep failed", "error", err)
		}
	})
	if err != nil {
		m.cron = nil

		return fmt.Errorf("failed to schedule sla sweep: %w", err)
	}

	m.logger.InfoContext(ctx, "sla monitor started", "schedule", schedule, "entry_id", id)
	m.cron.Start()

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	m.logger.InfoContext(ctx, "sla monitor stopped")

	return nil
}

// Sweep publishes task.overdue for tasks that became overdue since the last
// sweep and returns how many were published.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	now := m.now()

	overdue, err := m.tasks.ListOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue tasks: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[string]struct{}, len(overdue))
	published := 0

	for _, task := range overdue {
		current[task.ID] = struct{}{}

		if _, ok := m.notified[task.ID]; ok {
			continue
		}

		err := m.publisher.Publish(ctx, task.WorkflowInstanceID, events.NewTaskOverdue(task, now))
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to publish overdue task", "task_id", task.ID, "error", err)

			continue
		}

		m.notified[task.ID] = struct{}{}
		published++
	}

	for id := range m.notified {
		if _, ok := current[id]; !ok {
			delete(m.notified, id)
		}
	}

	if published > 0 {
		m.logger.InfoContext(ctx, "overdue tasks published", "count", published, "overdue", len(overdue))
	}

	return published, nil
}
