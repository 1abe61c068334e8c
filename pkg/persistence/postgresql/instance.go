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
)

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(db *sql.DB, logger *slog.Logger) *InstanceRepository {
	return &InstanceRepository{db: db, logger: logger}
}

// Save creates or replaces an instance.
func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	now := time.Now().UTC()

	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	instance.UpdatedAt = now

	variablesJSON, err := json.Marshal(instance.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (id, template_id, template_version, status, variables,
client_id, service_id, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			variables = EXCLUDED.variables,
			client_id = EXCLUDED.client_id,
			service_id = EXCLUDED.service_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.TemplateID,
		instance.TemplateVersion,
		instance.Status,
		variablesJSON,
		instance.ClientID,
		instance.ServiceID,
		instance.CreatedBy,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow instance: %w", err)
	}

	return nil
}

// GetByID returns an instance or ErrInstanceNotFound.
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	if !isUUID(id) {
		return nil, persistence.ErrInstanceNotFound
	}

	query := `
		SELECT
			id
		  , template_id
		  , template_version
		  , status
		  , variables
		  , client_id
		  , service_id
		  , created_by
		  , created_at
		  , updated_at
		FROM workflow_instances
		WHERE id = $1
	`

	var (
		instance      models.WorkflowInstance
		variablesJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&instance.ID,
		&instance.TemplateID,
		&instance.TemplateVersion,
		&instance.Status,
		&variablesJSON,
		&instance.ClientID,
		&instance.ServiceID,
		&instance.CreatedBy,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
	}

	err = json.Unmarshal(variablesJSON, &instance.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	return &instance, nil
}

// UpdateStatus changes the lifecycle status of an instance.
func (r *InstanceRepository) UpdateStatus(ctx context.Context, id string, status models.InstanceStatus) (*models.WorkflowInstance, error) {
	if !isUUID(id) {
		return nil, persistence.ErrInstanceNotFound
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_instances SET status = $2, updated_at = $3 WHERE id = $1",
		id, status, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow instance status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return nil, persistence.ErrInstanceNotFound
	}

	return r.GetByID(ctx, id)
}
