package file

import (
	"context"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

// InstanceRepository handles workflow instance file operations.
type InstanceRepository struct {
	store *store
}

// Save creates or replaces an instance.
func (ir *InstanceRepository) Save(_ context.Context, instance *models.WorkflowInstance) error {
	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	now := time.Now().UTC()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	return ir.store.write(ir.store.path("instances", instance.ID+".json"), instance)
}

// GetByID returns an instance or ErrInstanceNotFound.
func (ir *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	return ir.load(id)
}

// UpdateStatus changes the lifecycle status of an instance.
func (ir *InstanceRepository) UpdateStatus(_ context.Context, id string, status models.InstanceStatus) (*models.WorkflowInstance, error) {
	ir.store.mu.Lock()
	defer ir.store.mu.Unlock()

	instance, err := ir.load(id)
	if err != nil {
		return nil, err
	}

	instance.Status = status
	instance.UpdatedAt = time.Now().UTC()

	err = ir.store.write(ir.store.path("instances", id+".json"), instance)
	if err != nil {
		return nil, err
	}

	return instance, nil
}

func (ir *InstanceRepository) load(id string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance

	found, err := ir.store.read(ir.store.path("instances", id+".json"), &instance)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.ErrInstanceNotFound
	}

	return &instance, nil
}
