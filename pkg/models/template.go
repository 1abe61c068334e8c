package models

import "time"

// WorkflowTemplate is a versioned process definition. Editing a template saves
// a new version; (ID, Version) identifies one immutable revision.
type WorkflowTemplate struct {
	ID              string         `json:"id"                         yaml:"id"`
	Name            string         `json:"name"                       yaml:"name"                       validate:"required,min=3"`
	Version         int            `json:"version"                    yaml:"version"`
	Domain          string         `json:"domain"                     yaml:"domain"`
	Spec            WorkflowSpec   `json:"spec"                       yaml:"spec"`
	VariablesSchema map[string]any `json:"variables_schema,omitempty" yaml:"variables_schema,omitempty"`
	IsActive        bool           `json:"is_active"                  yaml:"is_active"`
	CreatedBy       string         `json:"created_by,omitempty"       yaml:"created_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"                 yaml:"-"`
}
