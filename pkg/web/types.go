// Package web provides the HTTP API for templates, instances, tasks and role rotations.
package web

import (
	"time"

	"github.com/dukex/taskflow/pkg/models"
)

// CreateTemplateRequest represents the request body for storing version 1 of a template.
type CreateTemplateRequest struct {
	ID              string              `json:"id,omitempty"`
	Name            string              `json:"name"                       validate:"required,min=3"`
	Domain          string              `json:"domain"`
	Spec            models.WorkflowSpec `json:"spec"`
	VariablesSchema map[string]any      `json:"variables_schema,omitempty"`
	Activate        bool                `json:"activate"`
}

// ReviseTemplateRequest represents the request body for a new template version.
// Empty name and domain keep the previous values.
type ReviseTemplateRequest struct {
	Name            string              `json:"name,omitempty"             validate:"omitempty,min=3"`
	Domain          string              `json:"domain,omitempty"`
	Spec            models.WorkflowSpec `json:"spec"`
	VariablesSchema map[string]any      `json:"variables_schema,omitempty"`
	Activate        bool                `json:"activate"`
}

// ValidateSpecRequest carries a spec to check without storing it.
type ValidateSpecRequest struct {
	Spec models.WorkflowSpec `json:"spec"`
}

type ValidationResponse struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations"`
}

// CreateInstanceRequest represents the request body for starting an instance.
type CreateInstanceRequest struct {
	TemplateID      string         `json:"template_id"                validate:"required"`
	TemplateVersion int            `json:"template_version,omitempty" validate:"min=0"`
	Variables       map[string]any `json:"variables"`
	ClientID        string         `json:"client_id,omitempty"`
	ServiceID       string         `json:"service_id,omitempty"`
}

type UpdateInstanceStatusRequest struct {
	Status models.InstanceStatus `json:"status" validate:"required,oneof=running paused canceled"`
}

// DecisionRequest represents the request body for completing or rejecting a task.
type DecisionRequest struct {
	Outcome    string                 `json:"outcome,omitempty"`
	Checklist  []models.ChecklistItem `json:"checklist,omitempty"  validate:"dive"`
	Attributes map[string]any         `json:"attributes,omitempty"`
}

// CreateAdHocTaskRequest represents the request body for a task outside the template graph.
type CreateAdHocTaskRequest struct {
	Title          string          `json:"title"                      validate:"required"`
	Type           models.NodeType `json:"type,omitempty"             validate:"omitempty,oneof=task approval form automation"`
	AssignedRole   string          `json:"assigned_role,omitempty"`
	AssigneeUserID string          `json:"assignee_user_id,omitempty"`
	Priority       models.Priority `json:"priority,omitempty"         validate:"omitempty,oneof=low normal high urgent"`
	SLAHours       *int            `json:"sla_hours,omitempty"        validate:"omitempty,min=0"`
	DueAt          *time.Time      `json:"due_at,omitempty"`
}

// AddMemberRequest places a user in a role rotation.
type AddMemberRequest struct {
	UserID     string `json:"user_id"     validate:"required"`
	IsActive   *bool  `json:"is_active,omitempty"`
	OrderIndex int    `json:"order_index" validate:"min=0"`
}

type SetStrategyRequest struct {
	Strategy models.AssignmentStrategy `json:"strategy" validate:"required,oneof=manual round_robin"`
}
