// Package persistence provides the storage contracts the workflow engine relies on.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/taskflow/pkg/models"
)

type Persistence interface {
	TemplateRepository() TemplateRepository
	InstanceRepository() InstanceRepository
	TaskRepository() TaskRepository
	RoleRepository() RoleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// TemplateRepository stores immutable template versions.
type TemplateRepository interface {
	// Save stores a new template version. Saving an existing (id, version) fails
	// with ErrTemplateVersionExists unless it only toggles activation.
	Save(ctx context.Context, template *models.WorkflowTemplate) error
	SetActive(ctx context.Context, id string, version int, active bool) error
	GetVersion(ctx context.Context, id string, version int) (*models.WorkflowTemplate, error)
	Latest(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	Versions(ctx context.Context, id string) ([]*models.WorkflowTemplate, error)
	List(ctx context.Context) ([]*models.WorkflowTemplate, error)
}

// InstanceRepository stores workflow instances.
type InstanceRepository interface {
	Save(ctx context.Context, instance *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	UpdateStatus(ctx context.Context, id string, status models.InstanceStatus) (*models.WorkflowInstance, error)
}

// TaskRepository stores tasks. Create must reject a second non-ad-hoc task for
// the same (instance, node) pair with an error matching ErrTaskConflict.
type TaskRepository interface {
	ListByInstance(ctx context.Context, instanceID string) ([]*models.Task, error)
	GetByID(ctx context.Context, id string) (*models.Task, error)
	Create(ctx context.Context, input *models.TaskInput) (*models.Task, error)
	Update(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)
	ListOverdue(ctx context.Context, now time.Time) ([]*models.Task, error)
}

// RotationFunc picks the next assignee from the ordered active members and the
// current rule (nil when the role has none). ok is false when nobody can be picked.
type RotationFunc func(members []string, rule *models.AssignmentRule) (userID string, ok bool)

// RoleRepository stores role membership and rotation state.
type RoleRepository interface {
	// ActiveMembers returns the user ids of active members ordered by order index.
	ActiveMembers(ctx context.Context, role string) ([]string, error)
	SaveMember(ctx context.Context, member *models.RoleMember) error
	// AssignmentRule returns nil and no error when the role has no rule yet.
	AssignmentRule(ctx context.Context, role string) (*models.AssignmentRule, error)
	UpsertAssignmentRule(ctx context.Context, rule *models.AssignmentRule) error
	// Rotate reads the members and rule, applies next and stores the result as the
	// role's last assignee with the round-robin strategy, as one atomic step per role.
	// It returns ErrNoActiveMember when next picks nobody.
	Rotate(ctx context.Context, role string, next RotationFunc) (string, error)
}
