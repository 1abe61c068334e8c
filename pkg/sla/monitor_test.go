package sla_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/taskflow/pkg/events"
	"github.com/dukex/taskflow/pkg/mocks"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence/file"
	"github.com/dukex/taskflow/pkg/sla"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMonitor_SweepPublishesOncePerTask(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	ctx := t.Context()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	past := now.Add(-2 * time.Hour)
	future := now.Add(2 * time.Hour)

	late, err := p.TaskRepository().Create(ctx, &models.TaskInput{WorkflowInstanceID: "instance-1", NodeID: "late", Title: "Late", DueAt: &past})
	require.NoError(t, err)

	_, err = p.TaskRepository().Create(ctx, &models.TaskInput{WorkflowInstanceID: "instance-1", NodeID: "on-time", Title: "On time", DueAt: &future})
	require.NoError(t, err)

	_, err = p.TaskRepository().Create(ctx, &models.TaskInput{WorkflowInstanceID: "instance-1", NodeID: "closed", Title: "Closed", DueAt: &past, Status: models.TaskStatusDone})
	require.NoError(t, err)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "instance-1", mock.Anything).Return(nil)

	monitor := sla.NewMonitor(p.TaskRepository(), bus, testLogger(), sla.WithClock(func() time.Time { return now }))

	published, err := monitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	event, ok := bus.Calls[0].Arguments.Get(2).(*events.TaskOverdue)
	require.True(t, ok)
	assert.Equal(t, late.ID, event.TaskID)
	assert.Equal(t, 2*time.Hour, event.OverdueBy)

	published, err = monitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, published)
	bus.AssertNumberOfCalls(t, "Publish", 1)
}

func TestMonitor_RetriesFailedPublish(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	ctx := t.Context()
	past := time.Now().UTC().Add(-time.Hour)

	_, err := p.TaskRepository().Create(ctx, &models.TaskInput{WorkflowInstanceID: "instance-1", NodeID: "late", Title: "Late", DueAt: &past})
	require.NoError(t, err)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError).Once()
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	monitor := sla.NewMonitor(p.TaskRepository(), bus, testLogger())

	published, err := monitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, published)

	published, err = monitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, published)
}

func TestMonitor_StartValidatesSchedule(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	monitor := sla.NewMonitor(p.TaskRepository(), &mocks.MockEventBus{}, testLogger())

	require.Error(t, monitor.Start(t.Context(), "not a cron"))

	require.NoError(t, monitor.Start(t.Context(), "@every 1h"))
	require.ErrorIs(t, monitor.Start(t.Context(), ""), sla.ErrAlreadyStarted)
	require.NoError(t, monitor.Stop(t.Context()))
	require.NoError(t, monitor.Stop(t.Context()))
}
