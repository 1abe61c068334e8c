package assignment_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/taskflow/pkg/assignment"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupResolver(t *testing.T, members ...string) (*assignment.Resolver, *file.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	for i, user := range members {
		require.NoError(t, p.RoleRepository().SaveMember(t.Context(), &models.RoleMember{
			RoleName: "Designer", UserID: user, IsActive: true, OrderIndex: i,
		}))
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return assignment.NewResolver(p.RoleRepository(), p.TaskRepository(), logger), p
}

func createTask(t *testing.T, p *file.Persistence, nodeID, role string) *models.Task {
	t.Helper()

	task, err := p.TaskRepository().Create(t.Context(), &models.TaskInput{
		WorkflowInstanceID: "instance-1", NodeID: nodeID, Title: nodeID, AssignedRole: role,
	})
	require.NoError(t, err)

	return task
}

func TestNextAssignee(t *testing.T) {
	members := []string{"A", "B", "C"}

	tests := []struct {
		name     string
		members  []string
		rule     *models.AssignmentRule
		expected string
		ok       bool
	}{
		{name: "no members", members: nil, ok: false},
		{name: "no rule", members: members, expected: "A", ok: true},
		{name: "manual strategy", members: members, rule: &models.AssignmentRule{Strategy: models.StrategyManual, LastAssignedUserID: "A"}, expected: "A", ok: true},
		{name: "no previous assignee", members: members, rule: &models.AssignmentRule{Strategy: models.StrategyRoundRobin}, expected: "A", ok: true},
		{name: "advances", members: members, rule: &models.AssignmentRule{Strategy: models.StrategyRoundRobin, LastAssignedUserID: "A"}, expected: "B", ok: true},
		{name: "wraps", members: members, rule: &models.AssignmentRule{Strategy: models.StrategyRoundRobin, LastAssignedUserID: "C"}, expected: "A", ok: true},
		{name: "previous assignee removed", members: []string{"A", "C"}, rule: &models.AssignmentRule{Strategy: models.StrategyRoundRobin, LastAssignedUserID: "B"}, expected: "A", ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := assignment.NextAssignee(tt.members, tt.rule)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolver_RoundRobinRotation(t *testing.T) {
	resolver, p := setupResolver(t, "A", "B", "C")
	ctx := t.Context()

	next, err := resolver.GetNextAssignee(ctx, "Designer")
	require.NoError(t, err)
	assert.Equal(t, "A", next)

	expected := []string{"A", "B", "C", "A"}

	for i, want := range expected {
		task := createTask(t, p, "design-"+string(rune('a'+i)), "Designer")

		assigned, err := resolver.AssignTaskByRole(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, want, assigned.AssigneeUserID)

		next, err := resolver.GetNextAssignee(ctx, "Designer")
		require.NoError(t, err)
		assert.Equal(t, expected[(i+1)%3], next)
	}

	rule, err := p.RoleRepository().AssignmentRule(ctx, "Designer")
	require.NoError(t, err)
	assert.Equal(t, models.StrategyRoundRobin, rule.Strategy)
	assert.Equal(t, "A", rule.LastAssignedUserID)
}

func TestResolver_RemovedMemberFallsBackToFirst(t *testing.T) {
	resolver, p := setupResolver(t, "A", "B", "C")
	ctx := t.Context()

	require.NoError(t, p.RoleRepository().UpsertAssignmentRule(ctx, &models.AssignmentRule{
		RoleName: "Designer", Strategy: models.StrategyRoundRobin, LastAssignedUserID: "B",
	}))
	require.NoError(t, p.RoleRepository().SaveMember(ctx, &models.RoleMember{
		RoleName: "Designer", UserID: "B", IsActive: false, OrderIndex: 1,
	}))

	next, err := resolver.GetNextAssignee(ctx, "Designer")
	require.NoError(t, err)
	assert.Equal(t, "A", next)
}

func TestResolver_NoActiveMember(t *testing.T) {
	resolver, p := setupResolver(t)
	ctx := t.Context()

	_, err := resolver.GetNextAssignee(ctx, "Designer")
	require.ErrorIs(t, err, assignment.ErrNoActiveMember)

	task := createTask(t, p, "design", "Designer")

	_, err = resolver.AssignTaskByRole(ctx, task.ID)
	require.ErrorIs(t, err, assignment.ErrNoActiveMember)

	var assignmentErr *assignment.AssignmentError
	require.ErrorAs(t, err, &assignmentErr)
	assert.Equal(t, "Designer", assignmentErr.Role)

	unchanged, err := p.TaskRepository().GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, unchanged.AssigneeUserID)
}

func TestResolver_TaskFailures(t *testing.T) {
	resolver, p := setupResolver(t, "A")
	ctx := t.Context()

	_, err := resolver.AssignTaskByRole(ctx, "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsTaskNotFound(err))

	task := createTask(t, p, "roleless", "")

	_, err = resolver.AssignTaskByRole(ctx, task.ID)
	require.ErrorIs(t, err, assignment.ErrTaskHasNoRole)
}

func TestResolver_BulkAssignUnassigned(t *testing.T) {
	resolver, p := setupResolver(t, "A", "B")
	ctx := t.Context()

	first := createTask(t, p, "one", "Designer")
	second := createTask(t, p, "two", "Designer")
	roleless := createTask(t, p, "three", "")
	createTask(t, p, "four", "Writer")

	preassigned := createTask(t, p, "five", "Designer")
	user := "Z"
	_, err := p.TaskRepository().Update(ctx, preassigned.ID, models.TaskPatch{AssigneeUserID: &user})
	require.NoError(t, err)

	closed := createTask(t, p, "six", "Designer")
	done := models.TaskStatusDone
	_, err = p.TaskRepository().Update(ctx, closed.ID, models.TaskPatch{Status: &done})
	require.NoError(t, err)

	result, err := resolver.BulkAssignUnassigned(ctx, "instance-1")
	require.NoError(t, err)

	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 2, result.Assigned)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, roleless.ID, result.Failed[0].TaskID)
	assert.Contains(t, result.Failed[0].Reason, "no assigned role")
	assert.Contains(t, result.Failed[1].Reason, "no active member")

	a, err := p.TaskRepository().GetByID(ctx, first.ID)
	require.NoError(t, err)
	b, err := p.TaskRepository().GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B"}, []string{a.AssigneeUserID, b.AssigneeUserID})
}

func TestResolver_SetStrategy(t *testing.T) {
	resolver, p := setupResolver(t, "A", "B")
	ctx := t.Context()

	task := createTask(t, p, "one", "Designer")
	_, err := resolver.AssignTaskByRole(ctx, task.ID)
	require.NoError(t, err)

	rule, err := resolver.SetStrategy(ctx, "Designer", models.StrategyManual)
	require.NoError(t, err)
	assert.Equal(t, "A", rule.LastAssignedUserID)

	next, err := resolver.GetNextAssignee(ctx, "Designer")
	require.NoError(t, err)
	assert.Equal(t, "A", next)

	_, err = resolver.SetStrategy(ctx, "Designer", "random")
	assert.Error(t, err)
}
