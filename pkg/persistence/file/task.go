package file

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/google/uuid"
)

// TaskRepository handles task file operations. Tasks live under tasks/<instance>/<task>.json.
type TaskRepository struct {
	store *store
}

// ListByInstance returns every task of an instance ordered by creation time.
func (tr *TaskRepository) ListByInstance(_ context.Context, instanceID string) ([]*models.Task, error) {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	return tr.loadInstance(instanceID)
}

// GetByID returns a task or ErrTaskNotFound.
func (tr *TaskRepository) GetByID(_ context.Context, id string) (*models.Task, error) {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	task, _, err := tr.find(id)

	return task, err
}

// Create stores a new task, refusing a second non-ad-hoc task for the same node.
func (tr *TaskRepository) Create(_ context.Context, input *models.TaskInput) (*models.Task, error) {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	if !models.IsAdHocNodeID(input.NodeID) {
		existing, err := tr.loadInstance(input.WorkflowInstanceID)
		if err != nil {
			return nil, err
		}

		for _, task := range existing {
			if task.NodeID == input.NodeID {
				return nil, persistence.NewTaskConflictError(input.WorkflowInstanceID, input.NodeID)
			}
		}
	}

	now := time.Now().UTC()
	input.ApplyDefaults(now)

	task := models.NewTask(uuid.New().String(), input, now)

	err := tr.store.write(tr.store.path("tasks", task.WorkflowInstanceID, task.ID+".json"), task)
	if err != nil {
		return nil, err
	}

	return task, nil
}

// Update applies a partial update to a task.
func (tr *TaskRepository) Update(_ context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	task, path, err := tr.find(id)
	if err != nil {
		return nil, err
	}

	if patch.RequireOpen && task.Status.IsTerminal() {
		return nil, &persistence.TaskError{Op: "Update", TaskID: id, Err: persistence.ErrTaskClosed}
	}

	patch.Apply(task)

	err = tr.store.write(path, task)
	if err != nil {
		return nil, err
	}

	return task, nil
}

// ListOverdue returns non-terminal tasks whose due date is before now.
func (tr *TaskRepository) ListOverdue(_ context.Context, now time.Time) ([]*models.Task, error) {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(tr.store.path("tasks"), "*", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	overdue := make([]*models.Task, 0)

	for _, path := range paths {
		var task models.Task

		found, err := tr.store.read(path, &task)
		if err != nil {
			return nil, err
		}

		if found && !task.Status.IsTerminal() && task.DueAt != nil && task.DueAt.Before(now) {
			overdue = append(overdue, &task)
		}
	}

	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].DueAt.Before(*overdue[j].DueAt)
	})

	return overdue, nil
}

func (tr *TaskRepository) loadInstance(instanceID string) ([]*models.Task, error) {
	paths, err := tr.store.list(tr.store.path("tasks", instanceID))
	if err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, 0, len(paths))

	for _, path := range paths {
		var task models.Task

		found, err := tr.store.read(path, &task)
		if err != nil {
			return nil, err
		}

		if found {
			tasks = append(tasks, &task)
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	return tasks, nil
}

func (tr *TaskRepository) find(id string) (*models.Task, string, error) {
	matches, err := filepath.Glob(filepath.Join(tr.store.path("tasks"), "*", url.PathEscape(id)+".json"))
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up task %s: %w", id, err)
	}

	if len(matches) == 0 {
		return nil, "", &persistence.TaskError{Op: "GetByID", TaskID: id, Err: persistence.ErrTaskNotFound}
	}

	var task models.Task

	found, err := tr.store.read(matches[0], &task)
	if err != nil {
		return nil, "", err
	}

	if !found {
		return nil, "", &persistence.TaskError{Op: "GetByID", TaskID: id, Err: persistence.ErrTaskNotFound}
	}

	return &task, matches[0], nil
}
