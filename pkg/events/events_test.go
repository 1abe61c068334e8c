package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTask() *models.Task {
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	return &models.Task{
		ID:                 "task-1",
		WorkflowInstanceID: "inst-1",
		NodeID:             "review",
		Type:               models.NodeTypeApproval,
		Title:              "Review draft",
		Status:             models.TaskStatusDone,
		AssignedRole:       "Editor",
		AssigneeUserID:     "u1",
		DueAt:              &due,
		Fields:             models.TaskFields{Outcome: "approved"},
	}
}

func TestTaskCompleted_JSONSerialization(t *testing.T) {
	original := NewTaskCompleted(testTask(), "u1")
	assert.Equal(t, TaskCompletedEvent, original.GetType())

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"type":"task.completed"`)
	assert.Contains(t, string(jsonData), `"task_type":"approval"`)
	assert.Contains(t, string(jsonData), `"outcome":"approved"`)
	assert.Contains(t, string(jsonData), `"instance_id":"inst-1"`)

	var deserialized TaskCompleted

	err = json.Unmarshal(jsonData, &deserialized)
	require.NoError(t, err)

	assert.Equal(t, original.TaskID, deserialized.TaskID)
	assert.Equal(t, original.NodeID, deserialized.NodeID)
	assert.Equal(t, original.Outcome, deserialized.Outcome)
	assert.Equal(t, original.ActorID, deserialized.ActorID)
}

func TestTaskOverdue_OverdueBy(t *testing.T) {
	task := testTask()
	now := task.DueAt.Add(90 * time.Minute)

	event := NewTaskOverdue(task, now)

	assert.Equal(t, TaskOverdueEvent, event.GetType())
	assert.Equal(t, 90*time.Minute, event.OverdueBy)
	assert.Empty(t, event.ActorID)

	event = NewTaskOverdue(&models.Task{ID: "t", WorkflowInstanceID: "i"}, now)
	assert.Zero(t, event.OverdueBy)
}

func TestTaskCreated_Validate(t *testing.T) {
	event := NewTaskCreated(testTask(), "u1")
	require.NoError(t, event.Validate())

	event.TaskID = ""
	assert.ErrorIs(t, event.Validate(), ErrMissingTaskID)

	event = NewTaskCreated(&models.Task{ID: "t"}, "")
	assert.ErrorIs(t, event.Validate(), ErrMissingInstanceID)
}

func TestNodesPending_Validate(t *testing.T) {
	event := NewNodesPending("inst-1", "review", []string{"publish"}, "")
	require.NoError(t, event.Validate())
	assert.Equal(t, NodesPendingEvent, event.GetType())
	assert.Equal(t, "review", event.CompletedNodeID)

	event = NewNodesPending("inst-1", "review", nil, "")
	assert.ErrorIs(t, event.Validate(), ErrMissingNodeIDs)
}

func TestInstanceEvents(t *testing.T) {
	instance := &models.WorkflowInstance{ID: "inst-1", TemplateID: "content", TemplateVersion: 2, Status: models.InstanceStatusRunning}

	created := NewInstanceCreated(instance, "u1")
	assert.Equal(t, InstanceCreatedEvent, created.GetType())
	assert.Equal(t, "inst-1", created.InstanceID)
	require.NoError(t, created.Validate())

	changed := NewInstanceStatusChanged("inst-1", models.InstanceStatusRunning, models.InstanceStatusPaused, "u1")
	assert.Equal(t, InstanceStatusChangedEvent, changed.GetType())

	completed := NewInstanceCompleted(instance, 3, "u1")
	assert.Equal(t, InstanceCompletedEvent, completed.GetType())
	assert.NotEqual(t, created.ID, completed.ID)
}
