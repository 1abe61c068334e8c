package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

const templateColumns = `
			id
		  , version
		  , name
		  , domain
		  , spec
		  , variables_schema
		  , is_active
		  , created_by
		  , created_at`

// TemplateRepository handles template-related database operations.
type TemplateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sql.DB, logger *slog.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

// Save inserts a new template version.
func (r *TemplateRepository) Save(ctx context.Context, template *models.WorkflowTemplate) error {
	if template.CreatedAt.IsZero() {
		template.CreatedAt = time.Now().UTC()
	}

	specJSON, err := json.Marshal(template.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal spec: %w", err)
	}

	var schemaJSON []byte

	if template.VariablesSchema != nil {
		schemaJSON, err = json.Marshal(template.VariablesSchema)
		if err != nil {
			return fmt.Errorf("failed to marshal variables schema: %w", err)
		}
	}

	query := `
		INSERT INTO workflow_templates (id, version, name, domain, spec, variables_schema, is_active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		template.ID,
		template.Version,
		template.Name,
		template.Domain,
		specJSON,
		schemaJSON,
		template.IsActive,
		template.CreatedBy,
		template.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &persistence.TemplateError{Op: "Save", TemplateID: template.ID, Version: template.Version, Err: persistence.ErrTemplateVersionExists}
		}

		return fmt.Errorf("failed to save template: %w", err)
	}

	return nil
}

// SetActive toggles the activation flag of one version.
func (r *TemplateRepository) SetActive(ctx context.Context, id string, version int, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflow_templates SET is_active = $3 WHERE id = $1 AND version = $2",
		id, version, active,
	)
	if err != nil {
		return fmt.Errorf("failed to update template activation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &persistence.TemplateError{Op: "SetActive", TemplateID: id, Version: version, Err: persistence.ErrTemplateNotFound}
	}

	return nil
}

// GetVersion returns one template version.
func (r *TemplateRepository) GetVersion(ctx context.Context, id string, version int) (*models.WorkflowTemplate, error) {
	query := `SELECT` + templateColumns + `
		FROM workflow_templates
		WHERE id = $1 AND version = $2
	`

	template, err := r.scanTemplate(r.db.QueryRowContext(ctx, query, id, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.TemplateError{Op: "GetVersion", TemplateID: id, Version: version, Err: persistence.ErrTemplateNotFound}
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return template, nil
}

// Latest returns the highest version of a template.
func (r *TemplateRepository) Latest(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	query := `SELECT` + templateColumns + `
		FROM workflow_templates
		WHERE id = $1
		ORDER BY version DESC
		LIMIT 1
	`

	template, err := r.scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.TemplateError{Op: "Latest", TemplateID: id, Err: persistence.ErrTemplateNotFound}
		}

		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	return template, nil
}

// Versions returns every version of a template, oldest first.
func (r *TemplateRepository) Versions(ctx context.Context, id string) ([]*models.WorkflowTemplate, error) {
	query := `SELECT` + templateColumns + `
		FROM workflow_templates
		WHERE id = $1
		ORDER BY version
	`

	return r.query(ctx, query, id)
}

// List returns the latest version of every template.
func (r *TemplateRepository) List(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	query := `SELECT DISTINCT ON (id)` + templateColumns + `
		FROM workflow_templates
		ORDER BY id, version DESC
	`

	templates, err := r.query(ctx, query)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})

	return templates, nil
}

func (r *TemplateRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowTemplate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.WorkflowTemplate, 0)

	for rows.Next() {
		template, err := r.scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

func (r *TemplateRepository) scanTemplate(row rowScanner) (*models.WorkflowTemplate, error) {
	var (
		template   models.WorkflowTemplate
		specJSON   []byte
		schemaJSON []byte
	)

	err := row.Scan(
		&template.ID,
		&template.Version,
		&template.Name,
		&template.Domain,
		&specJSON,
		&schemaJSON,
		&template.IsActive,
		&template.CreatedBy,
		&template.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(specJSON, &template.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal spec: %w", err)
	}

	if schemaJSON != nil {
		err = json.Unmarshal(schemaJSON, &template.VariablesSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables schema: %w", err)
		}
	}

	return &template, nil
}
