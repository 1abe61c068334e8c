// Package assignment picks the next member of a role to receive a task.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

var (
	// ErrTaskHasNoRole is returned when a task has no assigned role to rotate through.
	ErrTaskHasNoRole = errors.New("task has no assigned role")

	// ErrNoActiveMember is returned when a role has no active members.
	ErrNoActiveMember = persistence.ErrNoActiveMember
)

// AssignmentError reports why a task could not be assigned.
type AssignmentError struct {
	TaskID string
	Role   string
	Err    error
}

func (e *AssignmentError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("cannot assign task %s by role %s: %v", e.TaskID, e.Role, e.Err)
	}

	return fmt.Sprintf("cannot assign task %s: %v", e.TaskID, e.Err)
}

func (e *AssignmentError) Unwrap() error {
	return e.Err
}

func (e *AssignmentError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NextAssignee applies the rotation to an ordered list of active members.
// Without a rule, with the manual strategy, or without a previous assignee the
// first member is picked; otherwise the member after the previous assignee,
// wrapping around. A previous assignee no longer in the list restarts at the first member.
func NextAssignee(members []string, rule *models.AssignmentRule) (string, bool) {
	if len(members) == 0 {
		return "", false
	}

	if rule == nil || rule.Strategy == models.StrategyManual || rule.LastAssignedUserID == "" {
		return members[0], true
	}

	last := slices.Index(members, rule.LastAssignedUserID)
	if last < 0 {
		return members[0], true
	}

	return members[(last+1)%len(members)], true
}

// Resolver assigns tasks to role members in round-robin order.
type Resolver struct {
	roles  persistence.RoleRepository
	tasks  persistence.TaskRepository
	logger *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(roles persistence.RoleRepository, tasks persistence.TaskRepository, logger *slog.Logger) *Resolver {
	return &Resolver{
		roles:  roles,
		tasks:  tasks,
		logger: logger.With("module", "assignment_resolver"),
	}
}

// GetNextAssignee returns who would receive the next task of role without
// advancing the rotation.
func (r *Resolver) GetNextAssignee(ctx context.Context, role string) (string, error) {
	members, err := r.roles.ActiveMembers(ctx, role)
	if err != nil {
		return "", fmt.Errorf("failed to list members of role %s: %w", role, err)
	}

	if len(members) == 0 {
		return "", fmt.Errorf("%w %s", ErrNoActiveMember, role)
	}

	rule, err := r.roles.AssignmentRule(ctx, role)
	if err != nil {
		return "", fmt.Errorf("failed to load assignment rule of role %s: %w", role, err)
	}

	userID, _ := NextAssignee(members, rule)

	return userID, nil
}

// AssignTaskByRole gives the task to the next member of its role and records
// that member as the role's last assignee.
func (r *Resolver) AssignTaskByRole(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := r.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, &AssignmentError{TaskID: taskID, Err: err}
	}

	if task.AssignedRole == "" {
		return nil, &AssignmentError{TaskID: taskID, Err: ErrTaskHasNoRole}
	}

	userID, err := r.roles.Rotate(ctx, task.AssignedRole, NextAssignee)
	if err != nil {
		return nil, &AssignmentError{TaskID: taskID, Role: task.AssignedRole, Err: err}
	}

	updated, err := r.tasks.Update(ctx, taskID, models.TaskPatch{AssigneeUserID: &userID})
	if err != nil {
		return nil, &AssignmentError{TaskID: taskID, Role: task.AssignedRole, Err: err}
	}

	r.logger.InfoContext(ctx, "task assigned",
		"task_id", taskID,
		"role", task.AssignedRole,
		"assignee_user_id", userID,
	)

	return updated, nil
}

// BulkFailure records one task that could not be assigned.
type BulkFailure struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// BulkResult summarizes a bulk assignment.
type BulkResult struct {
	Total    int           `json:"total"`
	Assigned int           `json:"assigned"`
	Failed   []BulkFailure `json:"failed"`
}

// BulkAssignUnassigned assigns every open, unassigned task of an instance.
// A failing task is recorded and the batch continues.
func (r *Resolver) BulkAssignUnassigned(ctx context.Context, instanceID string) (*BulkResult, error) {
	tasks, err := r.tasks.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks of instance %s: %w", instanceID, err)
	}

	result := &BulkResult{Failed: make([]BulkFailure, 0)}

	for _, task := range tasks {
		if task.AssigneeUserID != "" || task.Status.IsTerminal() {
			continue
		}

		result.Total++

		_, err := r.AssignTaskByRole(ctx, task.ID)
		if err != nil {
			result.Failed = append(result.Failed, BulkFailure{TaskID: task.ID, Reason: err.Error()})

			continue
		}

		result.Assigned++
	}

	r.logger.InfoContext(ctx, "bulk assignment finished",
		"instance_id", instanceID,
		"total", result.Total,
		"assigned", result.Assigned,
		"failed", len(result.Failed),
	)

	return result, nil
}

// SetStrategy changes a role's strategy, keeping its rotation pointer.
func (r *Resolver) SetStrategy(ctx context.Context, role string, strategy models.AssignmentStrategy) (*models.AssignmentRule, error) {
	if !strategy.IsValid() {
		return nil, fmt.Errorf("unknown assignment strategy %q", strategy)
	}

	rule, err := r.roles.AssignmentRule(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment rule of role %s: %w", role, err)
	}

	if rule == nil {
		rule = &models.AssignmentRule{RoleName: role}
	}

	rule.Strategy = strategy

	err = r.roles.UpsertAssignmentRule(ctx, rule)
	if err != nil {
		return nil, fmt.Errorf("failed to save assignment rule of role %s: %w", role, err)
	}

	return rule, nil
}
