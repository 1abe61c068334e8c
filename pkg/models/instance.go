package models

import "time"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusRunning  InstanceStatus = "running"
	InstanceStatusPaused   InstanceStatus = "paused"
	InstanceStatusDone     InstanceStatus = "done"
	InstanceStatusCanceled InstanceStatus = "canceled"
)

// IsValid reports whether the status is a known instance status.
func (s InstanceStatus) IsValid() bool {
	switch s {
	case InstanceStatusRunning, InstanceStatusPaused, InstanceStatusDone, InstanceStatusCanceled:
		return true
	default:
		return false
	}
}

// WorkflowInstance is one live run of a template, pinned to the version it was created from.
type WorkflowInstance struct {
	ID              string         `json:"id"`
	TemplateID      string         `json:"template_id"`
	TemplateVersion int            `json:"template_version"`
	Status          InstanceStatus `json:"status"`
	Variables       map[string]any `json:"variables"`
	ClientID        string         `json:"client_id,omitempty"`
	ServiceID       string         `json:"service_id,omitempty"`
	CreatedBy       string         `json:"created_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
