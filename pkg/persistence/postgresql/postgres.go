// Package postgresql provides PostgreSQL persistence implementation for templates, instances, tasks and roles.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/persistence/sqlbase"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	templateRepo *TemplateRepository
	instanceRepo *InstanceRepository
	taskRepo     *TaskRepository
	roleRepo     *RoleRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger = logger.With("module", "postgresql")

	postgres := &Persistence{
		db:           database,
		logger:       logger,
		templateRepo: NewTemplateRepository(database, logger),
		instanceRepo: NewInstanceRepository(database, logger),
		taskRepo:     NewTaskRepository(database, logger),
		roleRepo:     NewRoleRepository(database, logger),
	}

	// Run migrations on initialization
	err = sqlbase.NewMigrationManager(logger, database, migrations()).RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

func (p *Persistence) TemplateRepository() persistence.TemplateRepository {
	return p.templateRepo
}

func (p *Persistence) InstanceRepository() persistence.InstanceRepository {
	return p.instanceRepo
}

func (p *Persistence) TaskRepository() persistence.TaskRepository {
	return p.taskRepo
}

func (p *Persistence) RoleRepository() persistence.RoleRepository {
	return p.roleRepo
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

// isUUID reports whether id fits the UUID key columns. No row has any other id.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)

	return err == nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
