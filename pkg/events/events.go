// Package events defines event types and structures for workflow instance and task notifications.
package events

import (
	"errors"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every taskflow event.
const Topic = "taskflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Instance lifecycle events.
	InstanceCreatedEvent       EventType = "instance.created"
	InstanceCompletedEvent     EventType = "instance.completed"
	InstanceStatusChangedEvent EventType = "instance.status_changed"

	// Task lifecycle events.
	TaskCreatedEvent   EventType = "task.created"
	TaskAssignedEvent  EventType = "task.assigned"
	TaskCompletedEvent EventType = "task.completed"
	TaskOverdueEvent   EventType = "task.overdue"

	// NodesPendingEvent asks an operator to follow up on ready nodes the acting
	// user could not materialize.
	NodesPendingEvent EventType = "nodes.pending"
)

var (
	ErrMissingInstanceID = errors.New("instance_id is required")
	ErrMissingTaskID     = errors.New("task_id is required")
	ErrMissingNodeIDs    = errors.New("node_ids is required")
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instance_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, instanceID, actorID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
		ActorID:    actorID,
		Metadata:   make(map[string]any),
	}
}

// Validate checks the fields every event needs.
func (b BaseEvent) Validate() error {
	if b.InstanceID == "" {
		return ErrMissingInstanceID
	}

	return nil
}

type InstanceCreated struct {
	BaseEvent

	TemplateID      string         `json:"template_id"`
	TemplateVersion int            `json:"template_version"`
	Variables       map[string]any `json:"variables,omitempty"`
	ClientID        string         `json:"client_id,omitempty"`
	ServiceID       string         `json:"service_id,omitempty"`
}

func (e InstanceCreated) GetType() EventType {
	return InstanceCreatedEvent
}

func NewInstanceCreated(instance *models.WorkflowInstance, actorID string) *InstanceCreated {
	return &InstanceCreated{
		BaseEvent:       NewBaseEvent(InstanceCreatedEvent, instance.ID, actorID),
		TemplateID:      instance.TemplateID,
		TemplateVersion: instance.TemplateVersion,
		Variables:       instance.Variables,
		ClientID:        instance.ClientID,
		ServiceID:       instance.ServiceID,
	}
}

type InstanceCompleted struct {
	BaseEvent

	TemplateID      string `json:"template_id"`
	TemplateVersion int    `json:"template_version"`
	TaskCount       int    `json:"task_count"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

func NewInstanceCompleted(instance *models.WorkflowInstance, taskCount int, actorID string) *InstanceCompleted {
	return &InstanceCompleted{
		BaseEvent:       NewBaseEvent(InstanceCompletedEvent, instance.ID, actorID),
		TemplateID:      instance.TemplateID,
		TemplateVersion: instance.TemplateVersion,
		TaskCount:       taskCount,
	}
}

type InstanceStatusChanged struct {
	BaseEvent

	From models.InstanceStatus `json:"from"`
	To   models.InstanceStatus `json:"to"`
}

func (e InstanceStatusChanged) GetType() EventType {
	return InstanceStatusChangedEvent
}

func NewInstanceStatusChanged(instanceID string, from, to models.InstanceStatus, actorID string) *InstanceStatusChanged {
	return &InstanceStatusChanged{
		BaseEvent: NewBaseEvent(InstanceStatusChangedEvent, instanceID, actorID),
		From:      from,
		To:        to,
	}
}

// TaskSnapshot is the subset of a task carried by task events.
type TaskSnapshot struct {
	TaskID         string            `json:"task_id"`
	NodeID         string            `json:"node_id"`
	TaskType       models.NodeType   `json:"task_type"`
	Title          string            `json:"title"`
	Status         models.TaskStatus `json:"status"`
	AssignedRole   string            `json:"assigned_role,omitempty"`
	AssigneeUserID string            `json:"assignee_user_id,omitempty"`
	DueAt          *time.Time        `json:"due_at,omitempty"`
}

func snapshot(task *models.Task) TaskSnapshot {
	return TaskSnapshot{
		TaskID:         task.ID,
		NodeID:         task.NodeID,
		TaskType:       task.Type,
		Title:          task.Title,
		Status:         task.Status,
		AssignedRole:   task.AssignedRole,
		AssigneeUserID: task.AssigneeUserID,
		DueAt:          task.DueAt,
	}
}

type TaskCreated struct {
	BaseEvent
	TaskSnapshot
}

func (e TaskCreated) GetType() EventType {
	return TaskCreatedEvent
}

func NewTaskCreated(task *models.Task, actorID string) *TaskCreated {
	return &TaskCreated{
		BaseEvent:    NewBaseEvent(TaskCreatedEvent, task.WorkflowInstanceID, actorID),
		TaskSnapshot: snapshot(task),
	}
}

type TaskAssigned struct {
	BaseEvent
	TaskSnapshot
}

func (e TaskAssigned) GetType() EventType {
	return TaskAssignedEvent
}

func NewTaskAssigned(task *models.Task, actorID string) *TaskAssigned {
	return &TaskAssigned{
		BaseEvent:    NewBaseEvent(TaskAssignedEvent, task.WorkflowInstanceID, actorID),
		TaskSnapshot: snapshot(task),
	}
}

type TaskCompleted struct {
	BaseEvent
	TaskSnapshot

	Outcome     string     `json:"outcome,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (e TaskCompleted) GetType() EventType {
	return TaskCompletedEvent
}

func NewTaskCompleted(task *models.Task, actorID string) *TaskCompleted {
	return &TaskCompleted{
		BaseEvent:    NewBaseEvent(TaskCompletedEvent, task.WorkflowInstanceID, actorID),
		TaskSnapshot: snapshot(task),
		Outcome:      task.Fields.Outcome,
		CompletedAt:  task.CompletedAt,
	}
}

type TaskOverdue struct {
	BaseEvent
	TaskSnapshot

	OverdueBy time.Duration `json:"overdue_by"`
}

func (e TaskOverdue) GetType() EventType {
	return TaskOverdueEvent
}

func NewTaskOverdue(task *models.Task, now time.Time) *TaskOverdue {
	var overdueBy time.Duration
	if task.DueAt != nil {
		overdueBy = now.Sub(*task.DueAt)
	}

	return &TaskOverdue{
		BaseEvent:    NewBaseEvent(TaskOverdueEvent, task.WorkflowInstanceID, ""),
		TaskSnapshot: snapshot(task),
		OverdueBy:    overdueBy,
	}
}

type NodesPending struct {
	BaseEvent

	CompletedNodeID string   `json:"completed_node_id"`
	NodeIDs         []string `json:"node_ids"`
}

func (e NodesPending) GetType() EventType {
	return NodesPendingEvent
}

func NewNodesPending(instanceID, completedNodeID string, nodeIDs []string, actorID string) *NodesPending {
	return &NodesPending{
		BaseEvent:       NewBaseEvent(NodesPendingEvent, instanceID, actorID),
		CompletedNodeID: completedNodeID,
		NodeIDs:         nodeIDs,
	}
}

func (e *TaskCreated) Validate() error {
	if e.TaskID == "" {
		return ErrMissingTaskID
	}

	return e.BaseEvent.Validate()
}

func (e *NodesPending) Validate() error {
	if len(e.NodeIDs) == 0 {
		return ErrMissingNodeIDs
	}

	return e.BaseEvent.Validate()
}
