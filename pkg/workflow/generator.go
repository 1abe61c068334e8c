package workflow

import "github.com/dukex/taskflow/pkg/models"

// GenerateInitialTasks returns one open task input per start node of spec.
// It has no side effects; callers persist the inputs once, when the instance is created.
func GenerateInitialTasks(spec *models.WorkflowSpec, instanceID string) []*models.TaskInput {
	starts := spec.StartNodes()

	inputs := make([]*models.TaskInput, 0, len(starts))
	for _, node := range starts {
		inputs = append(inputs, models.NewTaskInputFromNode(instanceID, node))
	}

	return inputs
}
