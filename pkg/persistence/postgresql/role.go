package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

// RoleRepository handles role membership and rotation database operations.
type RoleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRoleRepository creates a new role repository.
func NewRoleRepository(db *sql.DB, logger *slog.Logger) *RoleRepository {
	return &RoleRepository{db: db, logger: logger}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ActiveMembers returns active member ids ordered by order index.
func (r *RoleRepository) ActiveMembers(ctx context.Context, role string) ([]string, error) {
	return r.activeMembers(ctx, r.db, role)
}

// SaveMember adds a member or replaces the existing entry for the same user.
func (r *RoleRepository) SaveMember(ctx context.Context, member *models.RoleMember) error {
	query := `
		INSERT INTO role_members (role_name, user_id, is_active, order_index)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role_name, user_id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			order_index = EXCLUDED.order_index
	`

	_, err := r.db.ExecContext(ctx, query, member.RoleName, member.UserID, member.IsActive, member.OrderIndex)
	if err != nil {
		return fmt.Errorf("failed to save role member: %w", err)
	}

	return nil
}

// AssignmentRule returns the rule of a role, or nil when there is none.
func (r *RoleRepository) AssignmentRule(ctx context.Context, role string) (*models.AssignmentRule, error) {
	return r.assignmentRule(ctx, r.db, role, "")
}

// UpsertAssignmentRule creates or replaces the rule of a role.
func (r *RoleRepository) UpsertAssignmentRule(ctx context.Context, rule *models.AssignmentRule) error {
	rule.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO assignment_rules (role_name, strategy, last_assigned_user_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role_name) DO UPDATE SET
			strategy = EXCLUDED.strategy,
			last_assigned_user_id = EXCLUDED.last_assigned_user_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, rule.RoleName, rule.Strategy, rule.LastAssignedUserID, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save assignment rule: %w", err)
	}

	return nil
}

// Rotate picks and records the next assignee. The rule row is locked for the
// duration of the transaction so concurrent rotations of one role serialize.
func (r *RoleRepository) Rotate(ctx context.Context, role string, next persistence.RotationFunc) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Make sure a row exists to lock; a missing rule behaves like an empty rotation.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO assignment_rules (role_name, strategy, last_assigned_user_id, updated_at)
		VALUES ($1, $2, '', $3)
		ON CONFLICT (role_name) DO NOTHING
	`, role, models.StrategyRoundRobin, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to initialize assignment rule: %w", err)
	}

	rule, err := r.assignmentRule(ctx, tx, role, "FOR UPDATE")
	if err != nil {
		return "", err
	}

	members, err := r.activeMembers(ctx, tx, role)
	if err != nil {
		return "", err
	}

	userID, ok := next(members, rule)
	if !ok {
		err = persistence.ErrNoActiveMember

		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE assignment_rules
		SET strategy = $2, last_assigned_user_id = $3, updated_at = $4
		WHERE role_name = $1
	`, role, models.StrategyRoundRobin, userID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to record assignee: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return userID, nil
}

func (r *RoleRepository) activeMembers(ctx context.Context, q queryer, role string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id
		FROM role_members
		WHERE role_name = $1 AND is_active
		ORDER BY order_index, user_id
	`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to query role members: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	members := make([]string, 0)

	for rows.Next() {
		var userID string

		err := rows.Scan(&userID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role member: %w", err)
		}

		members = append(members, userID)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating role members: %w", err)
	}

	return members, nil
}

func (r *RoleRepository) assignmentRule(ctx context.Context, q queryer, role, lock string) (*models.AssignmentRule, error) {
	query := `
		SELECT role_name, strategy, last_assigned_user_id, updated_at
		FROM assignment_rules
		WHERE role_name = $1
	` + lock

	var rule models.AssignmentRule

	err := q.QueryRowContext(ctx, query, role).Scan(
		&rule.RoleName,
		&rule.Strategy,
		&rule.LastAssignedUserID,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan assignment rule: %w", err)
	}

	return &rule, nil
}
