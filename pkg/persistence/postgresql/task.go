package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/google/uuid"
)

const taskColumns = `
			id
		  , workflow_instance_id
		  , node_id
		  , type
		  , title
		  , status
		  , priority
		  , assigned_role
		  , assignee_user_id
		  , due_at
		  , sla_hours
		  , fields
		  , created_by
		  , created_at
		  , started_at
		  , completed_at`

// TaskRepository handles task database operations.
type TaskRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *sql.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{db: db, logger: logger}
}

// ListByInstance returns every task of an instance ordered by creation time.
func (r *TaskRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.Task, error) {
	if !isUUID(instanceID) {
		return make([]*models.Task, 0), nil
	}

	query := `SELECT` + taskColumns + `
		FROM tasks
		WHERE workflow_instance_id = $1
		ORDER BY created_at, id
	`

	return r.query(ctx, query, instanceID)
}

// GetByID returns a task or ErrTaskNotFound.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	if !isUUID(id) {
		return nil, &persistence.TaskError{Op: "GetByID", TaskID: id, Err: persistence.ErrTaskNotFound}
	}

	query := `SELECT` + taskColumns + `
		FROM tasks
		WHERE id = $1
	`

	task, err := r.scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.TaskError{Op: "GetByID", TaskID: id, Err: persistence.ErrTaskNotFound}
		}

		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	return task, nil
}

// Create inserts a task. The partial unique index on (instance, node) turns a
// duplicate template-node task into ErrTaskConflict.
func (r *TaskRepository) Create(ctx context.Context, input *models.TaskInput) (*models.Task, error) {
	if !isUUID(input.WorkflowInstanceID) {
		return nil, fmt.Errorf("failed to create task for instance %s: %w", input.WorkflowInstanceID, persistence.ErrInstanceNotFound)
	}

	now := time.Now().UTC()
	input.ApplyDefaults(now)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate task ID: %w", err)
	}

	task := models.NewTask(id.String(), input, now)

	fieldsJSON, err := json.Marshal(task.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task fields: %w", err)
	}

	query := `
		INSERT INTO tasks (id, workflow_instance_id, node_id, type, title, status, priority,
assigned_role, assignee_user_id, due_at, sla_hours, fields, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID,
		task.WorkflowInstanceID,
		task.NodeID,
		task.Type,
		task.Title,
		task.Status,
		task.Priority,
		task.AssignedRole,
		task.AssigneeUserID,
		task.DueAt,
		task.SLAHours,
		fieldsJSON,
		task.CreatedBy,
		task.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, persistence.NewTaskConflictError(task.WorkflowInstanceID, task.NodeID)
		}

		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("failed to create task for instance %s: %w", task.WorkflowInstanceID, persistence.ErrInstanceNotFound)
		}

		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	return task, nil
}

// Update applies a partial update to a task inside a row-locking transaction.
func (r *TaskRepository) Update(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	if !isUUID(id) {
		return nil, &persistence.TaskError{Op: "Update", TaskID: id, Err: persistence.ErrTaskNotFound}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `SELECT` + taskColumns + `
		FROM tasks
		WHERE id = $1
		FOR UPDATE
	`

	task, err := r.scanTask(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = &persistence.TaskError{Op: "Update", TaskID: id, Err: persistence.ErrTaskNotFound}

			return nil, err
		}

		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if patch.RequireOpen && task.Status.IsTerminal() {
		err = &persistence.TaskError{Op: "Update", TaskID: id, Err: persistence.ErrTaskClosed}

		return nil, err
	}

	patch.Apply(task)

	fieldsJSON, err := json.Marshal(task.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task fields: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET
			status = $2,
			priority = $3,
			assignee_user_id = $4,
			fields = $5,
			started_at = $6,
			completed_at = $7
		WHERE id = $1
	`,
		task.ID,
		task.Status,
		task.Priority,
		task.AssigneeUserID,
		fieldsJSON,
		task.StartedAt,
		task.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return task, nil
}

// ListOverdue returns non-terminal tasks whose due date is before now.
func (r *TaskRepository) ListOverdue(ctx context.Context, now time.Time) ([]*models.Task, error) {
	query := `SELECT` + taskColumns + `
		FROM tasks
		WHERE due_at < $1 AND status NOT IN ('done', 'rejected')
		ORDER BY due_at
	`

	return r.query(ctx, query, now)
}

func (r *TaskRepository) query(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		task, err := r.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		tasks = append(tasks, task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func (r *TaskRepository) scanTask(row rowScanner) (*models.Task, error) {
	var (
		task        models.Task
		dueAt       sql.NullTime
		slaHours    sql.NullInt64
		fieldsJSON  []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.WorkflowInstanceID,
		&task.NodeID,
		&task.Type,
		&task.Title,
		&task.Status,
		&task.Priority,
		&task.AssignedRole,
		&task.AssigneeUserID,
		&dueAt,
		&slaHours,
		&fieldsJSON,
		&task.CreatedBy,
		&task.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if dueAt.Valid {
		task.DueAt = &dueAt.Time
	}

	if slaHours.Valid {
		hours := int(slaHours.Int64)
		task.SLAHours = &hours
	}

	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}

	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}

	err = json.Unmarshal(fieldsJSON, &task.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal task fields: %w", err)
	}

	return &task, nil
}
