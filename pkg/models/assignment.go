package models

import "time"

// AssignmentStrategy selects how a role's next assignee is picked.
type AssignmentStrategy string

const (
	StrategyManual     AssignmentStrategy = "manual"
	StrategyRoundRobin AssignmentStrategy = "round_robin"
)

// IsValid reports whether the strategy is supported.
func (s AssignmentStrategy) IsValid() bool {
	return s == StrategyManual || s == StrategyRoundRobin
}

// AssignmentRule is the per-role rotation state.
type AssignmentRule struct {
	RoleName           string             `json:"role_name"`
	Strategy           AssignmentStrategy `json:"strategy"`
	LastAssignedUserID string             `json:"last_assigned_user_id,omitempty"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// RoleMember places a user in a role's rotation.
type RoleMember struct {
	RoleName   string `json:"role_name"   validate:"required"`
	UserID     string `json:"user_id"     validate:"required"`
	IsActive   bool   `json:"is_active"`
	OrderIndex int    `json:"order_index" validate:"min=0"`
}
