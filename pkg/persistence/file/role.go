package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

// roleDocument is the on-disk form of one role: its members and rotation rule.
type roleDocument struct {
	Members []*models.RoleMember   `json:"members"`
	Rule    *models.AssignmentRule `json:"rule,omitempty"`
}

// RoleRepository handles role membership and rotation file operations.
type RoleRepository struct {
	store *store
}

// ActiveMembers returns active member ids ordered by order index.
func (rr *RoleRepository) ActiveMembers(_ context.Context, role string) ([]string, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	doc, err := rr.load(role)
	if err != nil {
		return nil, err
	}

	return activeMembers(doc.Members), nil
}

// SaveMember adds a member or replaces the existing entry for the same user.
func (rr *RoleRepository) SaveMember(_ context.Context, member *models.RoleMember) error {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	doc, err := rr.load(member.RoleName)
	if err != nil {
		return err
	}

	replaced := false

	for i, existing := range doc.Members {
		if existing.UserID == member.UserID {
			doc.Members[i] = member
			replaced = true

			break
		}
	}

	if !replaced {
		doc.Members = append(doc.Members, member)
	}

	return rr.save(member.RoleName, doc)
}

// AssignmentRule returns the rule of a role, or nil when there is none.
func (rr *RoleRepository) AssignmentRule(_ context.Context, role string) (*models.AssignmentRule, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	doc, err := rr.load(role)
	if err != nil {
		return nil, err
	}

	return doc.Rule, nil
}

// UpsertAssignmentRule creates or replaces the rule of a role.
func (rr *RoleRepository) UpsertAssignmentRule(_ context.Context, rule *models.AssignmentRule) error {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	doc, err := rr.load(rule.RoleName)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now().UTC()
	doc.Rule = rule

	return rr.save(rule.RoleName, doc)
}

// Rotate picks and records the next assignee while holding the store lock.
func (rr *RoleRepository) Rotate(_ context.Context, role string, next persistence.RotationFunc) (string, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	doc, err := rr.load(role)
	if err != nil {
		return "", err
	}

	userID, ok := next(activeMembers(doc.Members), doc.Rule)
	if !ok {
		return "", persistence.ErrNoActiveMember
	}

	doc.Rule = &models.AssignmentRule{
		RoleName:           role,
		Strategy:           models.StrategyRoundRobin,
		LastAssignedUserID: userID,
		UpdatedAt:          time.Now().UTC(),
	}

	err = rr.save(role, doc)
	if err != nil {
		return "", err
	}

	return userID, nil
}

func (rr *RoleRepository) load(role string) (*roleDocument, error) {
	doc := &roleDocument{Members: []*models.RoleMember{}}

	_, err := rr.store.read(rr.store.path("roles", role+".json"), doc)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (rr *RoleRepository) save(role string, doc *roleDocument) error {
	return rr.store.write(rr.store.path("roles", role+".json"), doc)
}

func activeMembers(members []*models.RoleMember) []string {
	active := make([]*models.RoleMember, 0, len(members))

	for _, member := range members {
		if member.IsActive {
			active = append(active, member)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].OrderIndex < active[j].OrderIndex
	})

	ids := make([]string, 0, len(active))
	for _, member := range active {
		ids = append(ids, member.UserID)
	}

	return ids
}
