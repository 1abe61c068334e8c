package models

import (
	"strings"
	"time"
)

// AdHocNodePrefix marks node ids of tasks that have no backing template node.
const AdHocNodePrefix = "adhoc:"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusRejected   TaskStatus = "rejected"
)

// IsTerminal reports whether the status records a final decision.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusRejected
}

// IsValid reports whether the status is a known task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusBlocked, TaskStatusDone, TaskStatusRejected:
		return true
	default:
		return false
	}
}

// Priority orders tasks for the people working them.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ChecklistItem is a single checkbox on a task.
type ChecklistItem struct {
	Label string `json:"label"`
	Done  bool   `json:"done"`
}

// TaskFields holds the decision outcome and free-form data captured on a task.
type TaskFields struct {
	Outcome    string          `json:"outcome,omitempty"`
	Checklist  []ChecklistItem `json:"checklist,omitempty"`
	Attributes map[string]any  `json:"attributes,omitempty"`
}

// Task is the runtime manifestation of one (instance, node) pair.
type Task struct {
	ID                 string     `json:"id"`
	WorkflowInstanceID string     `json:"workflow_instance_id"`
	NodeID             string     `json:"node_id"`
	Type               NodeType   `json:"type"`
	Title              string     `json:"title"`
	Status             TaskStatus `json:"status"`
	Priority           Priority   `json:"priority"`
	AssignedRole       string     `json:"assigned_role,omitempty"`
	AssigneeUserID     string     `json:"assignee_user_id,omitempty"`
	DueAt              *time.Time `json:"due_at,omitempty"`
	SLAHours           *int       `json:"sla_hours,omitempty"`
	Fields             TaskFields `json:"fields"`
	CreatedBy          string     `json:"created_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// IsAdHoc reports whether the task was created outside the template graph.
func (t *Task) IsAdHoc() bool {
	return IsAdHocNodeID(t.NodeID)
}

// IsAdHocNodeID reports whether nodeID carries the ad-hoc prefix.
func IsAdHocNodeID(nodeID string) bool {
	return strings.HasPrefix(nodeID, AdHocNodePrefix)
}

// TaskInput carries what is needed to create a task.
type TaskInput struct {
	WorkflowInstanceID string     `json:"workflow_instance_id" validate:"required"`
	NodeID             string     `json:"node_id"              validate:"required"`
	Type               NodeType   `json:"type"`
	Title              string     `json:"title"                validate:"required"`
	Status             TaskStatus `json:"status"`
	Priority           Priority   `json:"priority"`
	AssignedRole       string     `json:"assigned_role,omitempty"`
	AssigneeUserID     string     `json:"assignee_user_id,omitempty"`
	SLAHours           *int       `json:"sla_hours,omitempty"`
	DueAt              *time.Time `json:"due_at,omitempty"`
	Fields             TaskFields `json:"fields"`
	CreatedBy          string     `json:"created_by,omitempty"`
}

// NewTaskInputFromNode builds the creation input for a template node.
func NewTaskInputFromNode(instanceID string, node *WorkflowNode) *TaskInput {
	return &TaskInput{
		WorkflowInstanceID: instanceID,
		NodeID:             node.ID,
		Type:               node.EffectiveType(),
		Title:              node.Title,
		Status:             TaskStatusOpen,
		Priority:           PriorityNormal,
		AssignedRole:       node.Role,
		SLAHours:           node.SLAHours,
	}
}

// ApplyDefaults fills status, priority and due date relative to now.
func (in *TaskInput) ApplyDefaults(now time.Time) {
	if in.Status == "" {
		in.Status = TaskStatusOpen
	}

	if in.Priority == "" {
		in.Priority = PriorityNormal
	}

	if in.Type == "" {
		in.Type = NodeTypeTask
	}

	if in.DueAt == nil && in.SLAHours != nil && *in.SLAHours > 0 {
		due := now.Add(time.Duration(*in.SLAHours) * time.Hour)
		in.DueAt = &due
	}
}

// NewTask materializes a task from its input. The input should already have defaults applied.
func NewTask(id string, in *TaskInput, now time.Time) *Task {
	return &Task{
		ID:                 id,
		WorkflowInstanceID: in.WorkflowInstanceID,
		NodeID:             in.NodeID,
		Type:               in.Type,
		Title:              in.Title,
		Status:             in.Status,
		Priority:           in.Priority,
		AssignedRole:       in.AssignedRole,
		AssigneeUserID:     in.AssigneeUserID,
		DueAt:              in.DueAt,
		SLAHours:           in.SLAHours,
		Fields:             in.Fields,
		CreatedBy:          in.CreatedBy,
		CreatedAt:          now,
	}
}

// TaskPatch is a partial task update; nil fields are left unchanged.
type TaskPatch struct {
	Status         *TaskStatus
	AssigneeUserID *string
	Priority       *Priority
	Outcome        *string
	Checklist      []ChecklistItem
	Attributes     map[string]any
	StartedAt      *time.Time
	CompletedAt    *time.Time

	// RequireOpen makes the store refuse the update when the task is already
	// done or rejected, checked in the same step as the write.
	RequireOpen bool
}

// Apply writes the patch onto task.
func (p TaskPatch) Apply(task *Task) {
	if p.Status != nil {
		task.Status = *p.Status
	}

	if p.AssigneeUserID != nil {
		task.AssigneeUserID = *p.AssigneeUserID
	}

	if p.Priority != nil {
		task.Priority = *p.Priority
	}

	if p.Outcome != nil {
		task.Fields.Outcome = *p.Outcome
	}

	if p.Checklist != nil {
		task.Fields.Checklist = p.Checklist
	}

	if p.Attributes != nil {
		if task.Fields.Attributes == nil {
			task.Fields.Attributes = make(map[string]any, len(p.Attributes))
		}

		for k, v := range p.Attributes {
			task.Fields.Attributes[k] = v
		}
	}

	if p.StartedAt != nil {
		task.StartedAt = p.StartedAt
	}

	if p.CompletedAt != nil {
		task.CompletedAt = p.CompletedAt
	}
}
