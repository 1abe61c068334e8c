package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/taskflow/pkg/locker"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

// BranchRequest describes the completion that triggers an evaluation.
type BranchRequest struct {
	InstanceID      string
	CompletedNodeID string
	OutcomeLabel    string
}

// BranchResult lists the tasks created by an evaluation and the ready nodes whose
// task could not be created with the acting user's permissions.
type BranchResult struct {
	Created []*models.Task `json:"created_tasks"`
	Pending []string       `json:"pending_nodes"`
}

// Materialization is the outcome of trying to create the task of one ready node.
type Materialization int

const (
	// Created means a new task was stored.
	Created Materialization = iota
	// Pending means the acting user may not create the task; an administrator must.
	Pending
	// Exists means another evaluation created the task first.
	Exists
)

func (m Materialization) String() string {
	switch m {
	case Created:
		return "created"
	case Pending:
		return "pending"
	case Exists:
		return "exists"
	default:
		return "unknown"
	}
}

// SatisfiedSet holds the requirement keys met so far in an instance: the bare
// id of every decided node and its id:outcome form when an outcome was recorded.
type SatisfiedSet map[string]struct{}

// NewSatisfiedSet builds the set from an instance's tasks plus the just-completed
// node, which is included even if its own status update is not visible yet.
func NewSatisfiedSet(tasks []*models.Task, completedNodeID, outcome string) SatisfiedSet {
	set := make(SatisfiedSet, len(tasks)*2+2)

	for _, task := range tasks {
		if !task.Status.IsTerminal() {
			continue
		}

		set.add(task.NodeID, task.Fields.Outcome)
	}

	if completedNodeID != "" {
		set.add(completedNodeID, outcome)
	}

	return set
}

func (s SatisfiedSet) add(nodeID, outcome string) {
	s[nodeID] = struct{}{}

	if outcome != "" {
		s[models.SatisfiedKey(nodeID, outcome)] = struct{}{}
	}
}

// Satisfies reports whether every requirement of node is met.
func (s SatisfiedSet) Satisfies(node *models.WorkflowNode) bool {
	for _, req := range node.Requires {
		if _, ok := s[req.Key()]; !ok {
			return false
		}
	}

	return true
}

// ReadyNodes returns, in spec order, the nodes without a backing task whose
// requirements are all in satisfied.
func ReadyNodes(spec *models.WorkflowSpec, tasks []*models.Task, satisfied SatisfiedSet) []*models.WorkflowNode {
	backed := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		backed[task.NodeID] = struct{}{}
	}

	ready := make([]*models.WorkflowNode, 0)

	for _, node := range spec.Nodes {
		if node == nil {
			continue
		}

		if _, ok := backed[node.ID]; ok {
			continue
		}

		if satisfied.Satisfies(node) {
			ready = append(ready, node)
		}
	}

	return ready
}

// Evaluator advances an instance's graph after a task is decided.
type Evaluator struct {
	templates persistence.TemplateRepository
	instances persistence.InstanceRepository
	tasks     persistence.TaskRepository
	locker    locker.Locker
	logger    *slog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLocker serializes evaluations of the same instance through l.
func WithLocker(l locker.Locker) EvaluatorOption {
	return func(e *Evaluator) {
		e.locker = l
	}
}

// NewEvaluator creates an evaluator. tasks should carry the acting user's
// privileges so that denied creations surface as pending nodes.
func NewEvaluator(
	templates persistence.TemplateRepository,
	instances persistence.InstanceRepository,
	tasks persistence.TaskRepository,
	logger *slog.Logger,
	opts ...EvaluatorOption,
) *Evaluator {
	e := &Evaluator{
		templates: templates,
		instances: instances,
		tasks:     tasks,
		logger:    logger.With("module", "branching_evaluator"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute derives the nodes made ready by the completion in req and creates their tasks.
// The task list is read fresh on every call; it is the only guard against creating
// a node's task twice, backed by the store's conflict check for concurrent calls.
func (e *Evaluator) Execute(ctx context.Context, req BranchRequest) (*BranchResult, error) {
	if e.locker != nil {
		unlock, err := e.locker.Lock(ctx, "instance:"+req.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to lock instance %s: %w", req.InstanceID, err)
		}

		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				e.logger.WarnContext(ctx, "failed to release instance lock", "instance_id", req.InstanceID, "error", err)
			}
		}()
	}

	instance, err := e.instances.GetByID(ctx, req.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", req.InstanceID, err)
	}

	template, err := e.templates.GetVersion(ctx, instance.TemplateID, instance.TemplateVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s v%d: %w", instance.TemplateID, instance.TemplateVersion, err)
	}

	tasks, err := e.tasks.ListByInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks of instance %s: %w", req.InstanceID, err)
	}

	satisfied := NewSatisfiedSet(tasks, req.CompletedNodeID, req.OutcomeLabel)
	ready := ReadyNodes(&template.Spec, tasks, satisfied)

	result := &BranchResult{
		Created: make([]*models.Task, 0, len(ready)),
		Pending: make([]string, 0),
	}

	for _, node := range ready {
		task, kind, err := e.materialize(ctx, req.InstanceID, node)
		if err != nil {
			return nil, err
		}

		switch kind {
		case Created:
			result.Created = append(result.Created, task)
		case Pending:
			result.Pending = append(result.Pending, node.ID)
		case Exists:
		}

		e.logger.DebugContext(ctx, "ready node materialized",
			"instance_id", req.InstanceID,
			"node_id", node.ID,
			"result", kind.String(),
		)
	}

	e.logger.InfoContext(ctx, "branching evaluated",
		"instance_id", req.InstanceID,
		"completed_node_id", req.CompletedNodeID,
		"outcome", req.OutcomeLabel,
		"created", len(result.Created),
		"pending", len(result.Pending),
	)

	return result, nil
}

func (e *Evaluator) materialize(ctx context.Context, instanceID string, node *models.WorkflowNode) (*models.Task, Materialization, error) {
	input := models.NewTaskInputFromNode(instanceID, node)

	task, err := e.tasks.Create(ctx, input)

	switch {
	case err == nil:
		return task, Created, nil
	case persistence.IsTaskConflict(err):
		return nil, Exists, nil
	case persistence.IsPermissionDenied(err):
		e.logger.WarnContext(ctx, "task creation denied, node left pending",
			"instance_id", instanceID,
			"node_id", node.ID,
			"error", err,
		)

		return nil, Pending, nil
	default:
		return nil, Created, fmt.Errorf("failed to create task for node %s: %w", node.ID, err)
	}
}
