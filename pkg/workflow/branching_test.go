package workflow_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/dukex/taskflow/pkg/identity"
	"github.com/dukex/taskflow/pkg/locker"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/persistence/file"
	"github.com/dukex/taskflow/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type branchingFixture struct {
	persistence *file.Persistence
	evaluator   *workflow.Evaluator
	instanceID  string
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupBranching(t *testing.T, spec models.WorkflowSpec, opts ...workflow.EvaluatorOption) *branchingFixture {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	ctx := t.Context()

	require.NoError(t, p.TemplateRepository().Save(ctx, &models.WorkflowTemplate{
		ID: "tpl", Name: "Template", Version: 1, Spec: spec, IsActive: true,
	}))

	require.NoError(t, p.InstanceRepository().Save(ctx, &models.WorkflowInstance{
		ID: "instance-1", TemplateID: "tpl", TemplateVersion: 1, Status: models.InstanceStatusRunning,
	}))

	for _, input := range workflow.GenerateInitialTasks(&spec, "instance-1") {
		_, err := p.TaskRepository().Create(ctx, input)
		require.NoError(t, err)
	}

	evaluator := workflow.NewEvaluator(p.TemplateRepository(), p.InstanceRepository(), p.TaskRepository(), testLogger(), opts...)

	return &branchingFixture{persistence: p, evaluator: evaluator, instanceID: "instance-1"}
}

func (f *branchingFixture) complete(t *testing.T, nodeID, outcome string) {
	t.Helper()

	tasks, err := f.persistence.TaskRepository().ListByInstance(t.Context(), f.instanceID)
	require.NoError(t, err)

	for _, task := range tasks {
		if task.NodeID != nodeID {
			continue
		}

		done := models.TaskStatusDone
		_, err := f.persistence.TaskRepository().Update(t.Context(), task.ID, models.TaskPatch{Status: &done, Outcome: &outcome})
		require.NoError(t, err)

		return
	}

	t.Fatalf("no task for node %s", nodeID)
}

func (f *branchingFixture) nodeIDs(t *testing.T) []string {
	t.Helper()

	tasks, err := f.persistence.TaskRepository().ListByInstance(t.Context(), f.instanceID)
	require.NoError(t, err)

	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.NodeID)
	}

	return ids
}

func createdNodeIDs(result *workflow.BranchResult) []string {
	ids := make([]string, 0, len(result.Created))
	for _, task := range result.Created {
		ids = append(ids, task.NodeID)
	}

	return ids
}

func outcomeSpec() models.WorkflowSpec {
	return models.WorkflowSpec{Nodes: []*models.WorkflowNode{
		node("start"),
		node("next", models.AnyOutcome("start")),
		node("next2", models.WithOutcome("start", "ok")),
	}}
}

func TestEvaluator_UnlabeledAndMatchingLabel(t *testing.T) {
	f := setupBranching(t, outcomeSpec())

	result, err := f.evaluator.Execute(t.Context(), workflow.BranchRequest{
		InstanceID: f.instanceID, CompletedNodeID: "start", OutcomeLabel: "ok",
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"next", "next2"}, createdNodeIDs(result))
	assert.Empty(t, result.Pending)
	assert.ElementsMatch(t, []string{"start", "next", "next2"}, f.nodeIDs(t))
}

func TestEvaluator_MismatchedLabelNotCreated(t *testing.T) {
	f := setupBranching(t, outcomeSpec())

	result, err := f.evaluator.Execute(t.Context(), workflow.BranchRequest{
		InstanceID: f.instanceID, CompletedNodeID: "start", OutcomeLabel: "bad",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"next"}, createdNodeIDs(result))
	assert.NotContains(t, f.nodeIDs(t), "next2")
}

func TestEvaluator_DoesNotRequirePersistedCompletion(t *testing.T) {
	f := setupBranching(t, outcomeSpec())

	// The start task is still open in the store; the request alone satisfies it.
	tasks, err := f.persistence.TaskRepository().ListByInstance(t.Context(), f.instanceID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, models.TaskStatusOpen, tasks[0].Status)

	result, err := f.evaluator.Execute(t.Context(), workflow.BranchRequest{
		InstanceID: f.instanceID, CompletedNodeID: "start", OutcomeLabel: "ok",
	})
	require.NoError(t, err)
	assert.Len(t, result.Created, 2)
}

func TestEvaluator_IdempotentOnRetry(t *testing.T) {
	f := setupBranching(t, outcomeSpec())
	req := workflow.BranchRequest{InstanceID: f.instanceID, CompletedNodeID: "start", OutcomeLabel: "ok"}

	first, err := f.evaluator.Execute(t.Context(), req)
	require.NoError(t, err)
	assert.Len(t, first.Created, 2)

	second, err := f.evaluator.Execute(t.Context(), req)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Empty(t, second.Pending)

	assert.Len(t, f.nodeIDs(t), 3)
}

func TestEvaluator_ConcurrentEvaluationsCreateOnce(t *testing.T) {
	for _, withLocker := range []bool{false, true} {
		t.Run(map[bool]string{false: "store conflict", true: "instance lock"}[withLocker], func(t *testing.T) {
			var opts []workflow.EvaluatorOption
			if withLocker {
				opts = append(opts, workflow.WithLocker(locker.NewLocal()))
			}

			f := setupBranching(t, outcomeSpec(), opts...)
			req := workflow.BranchRequest{InstanceID: f.instanceID, CompletedNodeID: "start", OutcomeLabel: "ok"}

			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				total int
			)

			for range 6 {
				wg.Add(1)

				go func() {
					defer wg.Done()

					result, err := f.evaluator.Execute(t.Context(), req)
					if !assert.NoError(t, err) {
						return
					}

					mu.Lock()
					total += len(result.Created)
					mu.Unlock()
				}()
			}

			wg.Wait()

			assert.Equal(t, 2, total)
			assert.Len(t, f.nodeIDs(t), 3)
		})
	}
}

func TestEvaluator_JoinWaitsForAllRequirements(t *testing.T) {
	f := setupBranching(t, models.WorkflowSpec{Nodes: []*models.WorkflowNode{
		node("design"),
		node("copy"),
		node("assemble", models.AnyOutcome("design"), models.AnyOutcome("copy")),
	}})

	f.complete(t, "design", "")

	result, err := f.evaluator.Execute(t.Context(), workflow.BranchRequest{InstanceID: f.instanceID, CompletedNodeID: "design"})
	require.NoError(t, err)
	assert.Empty(t, result.Created)

	f.complete(t, "copy", "")

	result, err = f.evaluator.Execute(t.Context(), workflow.BranchRequest{InstanceID: f.instanceID, CompletedNodeID: "copy"})
	require.NoError(t, err)
	assert.Equal(t, []string{"assemble"}, createdNodeIDs(result))
}

func TestEvaluator_UnmatchedBranchStaysUnsatisfied(t *testing.T) {
	f := setupBranching(t, models.WorkflowSpec{Nodes: []*models.WorkflowNode{
		{ID: "approval1", Title: "Approval", Type: models.NodeTypeApproval, Outputs: []string{"approved", "changes_requested"}},
		node("publish", models.WithOutcome("approval1", "approved")),
		node("revise", models.WithOutcome("approval1", "changes_requested")),
		node("notify", models.AnyOutcome("publish")),
	}})

	f.complete(t, "approval1", "approved")

	result, err := f.evaluator.Execute(t.Context(), workflow.BranchRequest{
		InstanceID: f.instanceID, CompletedNodeID: "approval1", OutcomeLabel: "approved",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"publish"}, createdNodeIDs(result))

	f.complete(t, "publish", "")

	result, err = f.evaluator.Execute(t.Context(), workflow.BranchRequest{InstanceID: f.instanceID, CompletedNodeID: "publish"})
	require.NoError(t, err)
	assert.Equal(t, []string{"notify"}, createdNodeIDs(result))

	// Later evaluations never revive the branch that was not taken.
	result, err = f.evaluator.Execute(t.Context(), workflow.BranchRequest{InstanceID: f.instanceID, CompletedNodeID: "notify"})
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	assert.NotContains(t, f.nodeIDs(t), "revise")
}

func TestEvaluator_RejectedTaskSatisfiesUnlabeledRequirement(t *testing.T) {
	f := setupBranching(t, models.WorkflowSpec{Nodes: []*models.WorkflowNode{
		node("review"),
		node("archive", models.AnyOutcome("review")),
		node("escalate", models.WithOutcome("review", "rejected")),
	}})

	tasks, err := f.persistence.TaskRepository().ListByInstance(t.Context(), f.instanceID)
	require.NoError(t, err)

	rejected := models.TaskStatusRejected
	outcome := "rejected"
	_, err = f.persistence.TaskRepository().Update(t.Context(), tasks[0].ID, models.TaskPatch{Status: &rejected, Outcome: &outcome})
	require.NoError(t, err)

	// A later evaluation triggered elsewhere still sees the stored decision.
	result, err := f.evaluator.Execute(t.Context(), workflow.BranchRequest{InstanceID: f.instanceID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"archive", "escalate"}, createdNodeIDs(result))
}

func TestEvaluator_PermissionDeniedBecomesPending(t *testing.T) {
	spec := models.WorkflowSpec{Nodes: []*models.WorkflowNode{
		node("start"),
		{ID: "design", Title: "Design", Role: "Designer", Requires: []models.Requirement{models.AnyOutcome("start")}},
		{ID: "legal", Title: "Legal review", Role: "Legal", Requires: []models.Requirement{models.AnyOutcome("start")}},
	}}

	f := setupBranching(t, spec)
	guarded := identity.GuardTasks(f.persistence.TaskRepository(), identity.RolePolicy{ManagerRoles: []string{"Manager"}})
	evaluator := workflow.NewEvaluator(f.persistence.TemplateRepository(), f.persistence.InstanceRepository(), guarded, testLogger())

	ctx := identity.WithActor(t.Context(), identity.Actor{UserID: "dana", Roles: []string{"Designer"}})

	result, err := evaluator.Execute(ctx, workflow.BranchRequest{InstanceID: f.instanceID, CompletedNodeID: "start"})
	require.NoError(t, err)

	assert.Equal(t, []string{"design"}, createdNodeIDs(result))
	assert.Equal(t, []string{"legal"}, result.Pending)
	assert.Equal(t, "dana", result.Created[0].CreatedBy)

	// An administrator re-running the evaluation picks the pending node up.
	admin := identity.WithActor(t.Context(), identity.Actor{UserID: "root", Admin: true})

	result, err = evaluator.Execute(admin, workflow.BranchRequest{InstanceID: f.instanceID, CompletedNodeID: "start"})
	require.NoError(t, err)
	assert.Equal(t, []string{"legal"}, createdNodeIDs(result))
	assert.Empty(t, result.Pending)
}

type failingTasks struct {
	persistence.TaskRepository
}

func (failingTasks) Create(context.Context, *models.TaskInput) (*models.Task, error) {
	return nil, errors.New("disk full")
}

func TestEvaluator_OtherCreationErrorsPropagate(t *testing.T) {
	f := setupBranching(t, outcomeSpec())
	evaluator := workflow.NewEvaluator(
		f.persistence.TemplateRepository(),
		f.persistence.InstanceRepository(),
		failingTasks{TaskRepository: f.persistence.TaskRepository()},
		testLogger(),
	)

	_, err := evaluator.Execute(t.Context(), workflow.BranchRequest{InstanceID: f.instanceID, CompletedNodeID: "start"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestEvaluator_InstanceNotFound(t *testing.T) {
	f := setupBranching(t, outcomeSpec())

	_, err := f.evaluator.Execute(t.Context(), workflow.BranchRequest{InstanceID: "missing", CompletedNodeID: "start"})
	require.Error(t, err)
	assert.True(t, persistence.IsInstanceNotFound(err))
}

func TestEvaluator_UsesPinnedTemplateVersion(t *testing.T) {
	f := setupBranching(t, outcomeSpec())

	// A newer version adds a node that the running instance must not see.
	revised := outcomeSpec()
	revised.Nodes = append(revised.Nodes, node("extra", models.AnyOutcome("start")))
	require.NoError(t, f.persistence.TemplateRepository().Save(t.Context(), &models.WorkflowTemplate{
		ID: "tpl", Name: "Template", Version: 2, Spec: revised, IsActive: true,
	}))

	result, err := f.evaluator.Execute(t.Context(), workflow.BranchRequest{InstanceID: f.instanceID, CompletedNodeID: "start", OutcomeLabel: "ok"})
	require.NoError(t, err)
	assert.NotContains(t, createdNodeIDs(result), "extra")
}

func TestReadyNodes(t *testing.T) {
	spec := outcomeSpec()
	tasks := []*models.Task{{NodeID: "start", Status: models.TaskStatusDone, Fields: models.TaskFields{Outcome: "ok"}}}

	ready := workflow.ReadyNodes(&spec, tasks, workflow.NewSatisfiedSet(tasks, "", ""))

	ids := make([]string, 0, len(ready))
	for _, n := range ready {
		ids = append(ids, n.ID)
	}

	assert.Equal(t, []string{"next", "next2"}, ids)
}

func TestSatisfiedSet_IgnoresOpenTasks(t *testing.T) {
	tasks := []*models.Task{
		{NodeID: "a", Status: models.TaskStatusInProgress, Fields: models.TaskFields{Outcome: "ok"}},
		{NodeID: "b", Status: models.TaskStatusDone},
	}

	set := workflow.NewSatisfiedSet(tasks, "c", "yes")

	assert.False(t, set.Satisfies(node("x", models.AnyOutcome("a"))))
	assert.True(t, set.Satisfies(node("x", models.AnyOutcome("b"))))
	assert.False(t, set.Satisfies(node("x", models.WithOutcome("b", "ok"))))
	assert.True(t, set.Satisfies(node("x", models.AnyOutcome("c"), models.WithOutcome("c", "yes"))))
}
