package identity

import (
	"context"
	"fmt"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

// Policy decides what an actor may write.
type Policy interface {
	CanCreateTask(actor Actor, input *models.TaskInput) bool
	// CanManageRoles covers role membership and assignment strategy changes.
	CanManageRoles(actor Actor) bool
}

// RolePolicy lets admins and managers create any task and manage role rotations.
// Everybody else may only create tasks assigned to a role they hold.
type RolePolicy struct {
	ManagerRoles []string
}

func (p RolePolicy) CanCreateTask(actor Actor, input *models.TaskInput) bool {
	if p.isManager(actor) {
		return true
	}

	return input.AssignedRole != "" && actor.HasRole(input.AssignedRole)
}

func (p RolePolicy) CanManageRoles(actor Actor) bool {
	return p.isManager(actor)
}

func (p RolePolicy) isManager(actor Actor) bool {
	if actor.Admin {
		return true
	}

	for _, role := range p.ManagerRoles {
		if actor.HasRole(role) {
			return true
		}
	}

	return false
}

// AllowAll permits every creation.
type AllowAll struct{}

func (AllowAll) CanCreateTask(Actor, *models.TaskInput) bool {
	return true
}

func (AllowAll) CanManageRoles(Actor) bool {
	return true
}

// GuardedTasks wraps a TaskRepository and checks task creation against a policy
// using the actor found in the request context.
type GuardedTasks struct {
	persistence.TaskRepository

	policy Policy
}

// GuardTasks returns repo restricted by policy.
func GuardTasks(repo persistence.TaskRepository, policy Policy) *GuardedTasks {
	return &GuardedTasks{TaskRepository: repo, policy: policy}
}

// Create stamps the actor on the input and rejects it with ErrPermissionDenied
// when the context has no actor or the policy refuses.
func (g *GuardedTasks) Create(ctx context.Context, input *models.TaskInput) (*models.Task, error) {
	actor, ok := FromContext(ctx)
	if !ok {
		return nil, &persistence.TaskError{
			Op:         "Create",
			InstanceID: input.WorkflowInstanceID,
			NodeID:     input.NodeID,
			Err:        fmt.Errorf("%w: no acting user", persistence.ErrPermissionDenied),
		}
	}

	if !g.policy.CanCreateTask(actor, input) {
		return nil, &persistence.TaskError{
			Op:         "Create",
			InstanceID: input.WorkflowInstanceID,
			NodeID:     input.NodeID,
			Err:        fmt.Errorf("%w: user %s may not create %q tasks", persistence.ErrPermissionDenied, actor.UserID, input.AssignedRole),
		}
	}

	if input.CreatedBy == "" {
		input.CreatedBy = actor.UserID
	}

	return g.TaskRepository.Create(ctx, input)
}
