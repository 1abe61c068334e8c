// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrTemplateNotFound indicates a template (or template version) was not found.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateVersionExists indicates the template version was already saved.
	ErrTemplateVersionExists = errors.New("template version already exists")

	// ErrInstanceNotFound indicates a workflow instance was not found.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrTaskNotFound indicates a task was not found.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskConflict indicates a task for the same (instance, node) pair already exists.
	ErrTaskConflict = errors.New("task already exists for node")

	// ErrTaskClosed indicates an open-only update hit a done or rejected task.
	ErrTaskClosed = errors.New("task already closed")

	// ErrPermissionDenied indicates the acting user may not perform the write.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNoActiveMember indicates a role has no active member to rotate through.
	ErrNoActiveMember = errors.New("no active member for role")
)

// TaskError wraps task-related errors with additional context.
type TaskError struct {
	Op         string // Operation being performed (e.g., "Create", "Update")
	InstanceID string // Workflow instance ID if applicable
	NodeID     string // Node ID if applicable
	TaskID     string // Task ID if applicable
	Err        error  // Underlying error
}

func (e *TaskError) Error() string {
	target := e.TaskID
	if target == "" {
		target = fmt.Sprintf("node %s in instance %s", e.NodeID, e.InstanceID)
	}

	return fmt.Sprintf("%s operation failed for task %s: %v", e.Op, target, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for task errors.
func (e *TaskError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewTaskConflictError reports a duplicate (instance, node) task.
func NewTaskConflictError(instanceID, nodeID string) *TaskError {
	return &TaskError{
		Op:         "Create",
		InstanceID: instanceID,
		NodeID:     nodeID,
		Err:        ErrTaskConflict,
	}
}

// TemplateError wraps template-related errors with additional context.
type TemplateError struct {
	Op         string
	TemplateID string
	Version    int
	Err        error
}

func (e *TemplateError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s operation failed for template %s v%d: %v", e.Op, e.TemplateID, e.Version, e.Err)
	}

	return fmt.Sprintf("%s operation failed for template %s: %v", e.Op, e.TemplateID, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

func (e *TemplateError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsTemplateNotFound checks if an error indicates a template was not found.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsInstanceNotFound checks if an error indicates an instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsTaskNotFound checks if an error indicates a task was not found.
func IsTaskNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}

// IsTaskConflict checks if an error indicates a duplicate task creation.
func IsTaskConflict(err error) bool {
	return errors.Is(err, ErrTaskConflict)
}

// IsTaskClosed checks if an error indicates an open-only update lost to an earlier decision.
func IsTaskClosed(err error) bool {
	return errors.Is(err, ErrTaskClosed)
}

// IsPermissionDenied checks if an error indicates a permission failure.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsNoActiveMember checks if an error indicates an empty role rotation.
func IsNoActiveMember(err error) bool {
	return errors.Is(err, ErrNoActiveMember)
}
