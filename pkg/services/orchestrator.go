package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/taskflow/pkg/assignment"
	"github.com/dukex/taskflow/pkg/eventbus"
	"github.com/dukex/taskflow/pkg/events"
	"github.com/dukex/taskflow/pkg/identity"
	"github.com/dukex/taskflow/pkg/locker"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/otelhelper"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/workflow"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator is the facade over instance creation, task decisions, branching
// and assignment. Task writes run with the privileges of the actor in the context.
type Orchestrator struct {
	persistence persistence.Persistence
	tasks       persistence.TaskRepository
	evaluator   *workflow.Evaluator
	resolver    *assignment.Resolver
	publisher   eventbus.EventPublisher
	locker      locker.Locker
	policy      identity.Policy
	tracer      trace.Tracer
	autoAssign  bool
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher publishes lifecycle events through p.
func WithPublisher(p eventbus.EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithLocker serializes branching evaluations per instance.
func WithLocker(l locker.Locker) Option {
	return func(o *Orchestrator) {
		o.locker = l
	}
}

// WithPolicy sets the task creation policy. The default is identity.RolePolicy
// without manager roles.
func WithPolicy(p identity.Policy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithTracer records spans through t.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithAutoAssign assigns new role tasks through the round-robin resolver.
func WithAutoAssign(enabled bool) Option {
	return func(o *Orchestrator) {
		o.autoAssign = enabled
	}
}

// NewOrchestrator creates the orchestration facade.
func NewOrchestrator(p persistence.Persistence, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		persistence: p,
		policy:      identity.RolePolicy{},
		tracer:      otelhelper.NoopTracer(),
		logger:      logger.With("module", "orchestrator"),
	}

	for _, opt := range opts {
		opt(o)
	}

	o.tasks = identity.GuardTasks(p.TaskRepository(), o.policy)
	o.resolver = assignment.NewResolver(p.RoleRepository(), p.TaskRepository(), logger)

	evaluatorOpts := make([]workflow.EvaluatorOption, 0, 1)
	if o.locker != nil {
		evaluatorOpts = append(evaluatorOpts, workflow.WithLocker(o.locker))
	}

	o.evaluator = workflow.NewEvaluator(p.TemplateRepository(), p.InstanceRepository(), o.tasks, logger, evaluatorOpts...)

	return o
}

// Resolver exposes the assignment resolver backing the orchestrator.
func (o *Orchestrator) Resolver() *assignment.Resolver {
	return o.resolver
}

// HealthCheck checks the health of the persistence layer.
func (o *Orchestrator) HealthCheck(ctx context.Context) (string, bool) {
	err := o.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// CreateInstanceRequest starts an instance. A zero TemplateVersion selects the latest version.
type CreateInstanceRequest struct {
	TemplateID      string
	TemplateVersion int
	Variables       map[string]any
	ClientID        string
	ServiceID       string
}

// InstanceResult is the outcome of creating an instance.
type InstanceResult struct {
	Instance           *models.WorkflowInstance `json:"instance"`
	Tasks              []*models.Task           `json:"tasks"`
	PendingNodes       []string                 `json:"pending_nodes"`
	AssignmentFailures []assignment.BulkFailure `json:"assignment_failures,omitempty"`
}

// CreateInstance binds an active template version to variables and creates its start tasks.
func (o *Orchestrator) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*InstanceResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.create_instance",
		attribute.String(otelhelper.TemplateIDKey, req.TemplateID),
	)
	defer span.End()

	result, err := o.createInstance(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, result.Instance.ID))

	return result, nil
}

func (o *Orchestrator) createInstance(ctx context.Context, req CreateInstanceRequest) (*InstanceResult, error) {
	if req.TemplateID == "" {
		return nil, fmt.Errorf("%w: template id is required", ErrInvalidRequest)
	}

	template, err := o.loadTemplate(ctx, req.TemplateID, req.TemplateVersion)
	if err != nil {
		return nil, err
	}

	if !template.IsActive {
		return nil, &persistence.TemplateError{Op: "CreateInstance", TemplateID: template.ID, Version: template.Version, Err: ErrTemplateInactive}
	}

	violations := workflow.Validate(&template.Spec)
	if len(violations) > 0 {
		return nil, &SpecValidationError{TemplateID: template.ID, Violations: violations}
	}

	variables := req.Variables
	if variables == nil {
		variables = make(map[string]any)
	}

	err = validateVariables(template.VariablesSchema, variables)
	if err != nil {
		return nil, err
	}

	actorID := actorID(ctx)

	instance := &models.WorkflowInstance{
		ID:              uuid.NewString(),
		TemplateID:      template.ID,
		TemplateVersion: template.Version,
		Status:          models.InstanceStatusRunning,
		Variables:       variables,
		ClientID:        req.ClientID,
		ServiceID:       req.ServiceID,
		CreatedBy:       actorID,
	}

	err = o.persistence.InstanceRepository().Save(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow instance: %w", err)
	}

	result := &InstanceResult{
		Instance:     instance,
		Tasks:        make([]*models.Task, 0),
		PendingNodes: make([]string, 0),
	}

	for _, input := range workflow.GenerateInitialTasks(&template.Spec, instance.ID) {
		task, err := o.tasks.Create(ctx, input)

		switch {
		case err == nil:
			result.Tasks = append(result.Tasks, task)
		case persistence.IsTaskConflict(err):
		case persistence.IsPermissionDenied(err):
			result.PendingNodes = append(result.PendingNodes, input.NodeID)
		default:
			return nil, fmt.Errorf("failed to create initial task for node %s of instance %s: %w", input.NodeID, instance.ID, err)
		}
	}

	result.AssignmentFailures = o.assignNew(ctx, result.Tasks)

	o.logger.InfoContext(ctx, "workflow instance created",
		"instance_id", instance.ID,
		"template_id", template.ID,
		"template_version", template.Version,
		"tasks", len(result.Tasks),
		"pending", len(result.PendingNodes),
	)

	o.publish(ctx, instance.ID, events.NewInstanceCreated(instance, actorID))
	o.publishTasks(ctx, result.Tasks, actorID)

	if len(result.PendingNodes) > 0 {
		o.publish(ctx, instance.ID, events.NewNodesPending(instance.ID, "", result.PendingNodes, actorID))
	}

	return result, nil
}

// CompleteTaskRequest records a decision on a task.
type CompleteTaskRequest struct {
	TaskID     string
	Outcome    string
	Reject     bool
	Checklist  []models.ChecklistItem
	Attributes map[string]any
}

// CompletionResult is the outcome of a task decision. The decision is stored
// even when BranchingError is set.
type CompletionResult struct {
	Task               *models.Task             `json:"task"`
	Created            []*models.Task           `json:"created_tasks"`
	PendingNodes       []string                 `json:"pending_nodes"`
	InstanceCompleted  bool                     `json:"instance_completed"`
	BranchingError     string                   `json:"branching_error,omitempty"`
	AssignmentFailures []assignment.BulkFailure `json:"assignment_failures,omitempty"`
}

// CompleteTask marks a task done with an outcome and advances the graph.
func (o *Orchestrator) CompleteTask(ctx context.Context, req CompleteTaskRequest) (*CompletionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.complete_task",
		attribute.String(otelhelper.TaskIDKey, req.TaskID),
		attribute.String(otelhelper.OutcomeKey, req.Outcome),
		attribute.Bool("taskflow.reject", req.Reject),
	)
	defer span.End()

	result, err := o.completeTask(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if result.BranchingError != "" {
		span.AddEvent("branching_failed", trace.WithAttributes(attribute.String("error", result.BranchingError)))
	}

	return result, nil
}

// RejectTask marks a task rejected and advances the graph.
func (o *Orchestrator) RejectTask(ctx context.Context, req CompleteTaskRequest) (*CompletionResult, error) {
	req.Reject = true

	return o.CompleteTask(ctx, req)
}

func (o *Orchestrator) completeTask(ctx context.Context, req CompleteTaskRequest) (*CompletionResult, error) {
	task, instance, err := o.openTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	err = o.checkOutcome(ctx, instance, task, req.Outcome, req.Reject)
	if err != nil {
		return nil, err
	}

	status := models.TaskStatusDone
	if req.Reject {
		status = models.TaskStatusRejected
	}

	now := time.Now().UTC()
	outcome := req.Outcome

	task, err = o.persistence.TaskRepository().Update(ctx, task.ID, models.TaskPatch{
		Status:      &status,
		Outcome:     &outcome,
		Checklist:   req.Checklist,
		Attributes:  req.Attributes,
		CompletedAt: &now,
		RequireOpen: true,
	})
	if err != nil {
		if persistence.IsTaskClosed(err) {
			return nil, fmt.Errorf("task %s was decided concurrently: %w", req.TaskID, ErrTaskAlreadyClosed)
		}

		return nil, fmt.Errorf("failed to record decision on task %s: %w", req.TaskID, err)
	}

	actorID := actorID(ctx)

	o.logger.InfoContext(ctx, "task decided",
		"task_id", task.ID,
		"instance_id", task.WorkflowInstanceID,
		"node_id", task.NodeID,
		"status", task.Status,
		"outcome", outcome,
		"actor_id", actorID,
	)

	o.publish(ctx, task.WorkflowInstanceID, events.NewTaskCompleted(task, actorID))

	result := &CompletionResult{
		Task:         task,
		Created:      make([]*models.Task, 0),
		PendingNodes: make([]string, 0),
	}

	branch, err := o.evaluator.Execute(ctx, workflow.BranchRequest{
		InstanceID:      task.WorkflowInstanceID,
		CompletedNodeID: task.NodeID,
		OutcomeLabel:    outcome,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "branching failed after task decision",
			"task_id", task.ID,
			"instance_id", task.WorkflowInstanceID,
			"error", err,
		)

		result.BranchingError = err.Error()

		return result, nil
	}

	result.Created = branch.Created
	result.PendingNodes = branch.Pending
	result.AssignmentFailures = o.assignNew(ctx, result.Created)

	o.publishTasks(ctx, result.Created, actorID)

	if len(result.PendingNodes) > 0 {
		o.publish(ctx, task.WorkflowInstanceID, events.NewNodesPending(task.WorkflowInstanceID, task.NodeID, result.PendingNodes, actorID))
	}

	if len(result.Created) == 0 && len(result.PendingNodes) == 0 {
		result.InstanceCompleted = o.completeInstanceIfFinished(ctx, instance, actorID)
	}

	return result, nil
}

// StartTask moves an open or blocked task to in progress.
func (o *Orchestrator) StartTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, _, err := o.openTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status == models.TaskStatusInProgress {
		return task, nil
	}

	status := models.TaskStatusInProgress
	now := time.Now().UTC()

	task, err = o.persistence.TaskRepository().Update(ctx, taskID, models.TaskPatch{Status: &status, StartedAt: &now, RequireOpen: true})
	if persistence.IsTaskClosed(err) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskAlreadyClosed)
	}

	return task, err
}

// AdHocTaskRequest creates a task that has no node in the template graph.
type AdHocTaskRequest struct {
	InstanceID     string
	Title          string
	Type           models.NodeType
	AssignedRole   string
	AssigneeUserID string
	Priority       models.Priority
	SLAHours       *int
	DueAt          *time.Time
	Fields         models.TaskFields
}

// CreateAdHocTask adds a task outside the template graph. Ad-hoc tasks never
// satisfy node requirements.
func (o *Orchestrator) CreateAdHocTask(ctx context.Context, req AdHocTaskRequest) (*models.Task, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}

	if req.Type != "" && !req.Type.IsKnown() {
		return nil, fmt.Errorf("%w: unknown task type %q", ErrInvalidRequest, req.Type)
	}

	instance, err := o.persistence.InstanceRepository().GetByID(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status != models.InstanceStatusRunning {
		return nil, fmt.Errorf("instance %s is %s: %w", instance.ID, instance.Status, ErrInstanceNotRunning)
	}

	task, err := o.tasks.Create(ctx, &models.TaskInput{
		WorkflowInstanceID: instance.ID,
		NodeID:             models.AdHocNodePrefix + uuid.NewString(),
		Type:               req.Type,
		Title:              req.Title,
		Priority:           req.Priority,
		AssignedRole:       req.AssignedRole,
		AssigneeUserID:     req.AssigneeUserID,
		SLAHours:           req.SLAHours,
		DueAt:              req.DueAt,
		Fields:             req.Fields,
	})
	if err != nil {
		return nil, err
	}

	o.assignNew(ctx, []*models.Task{task})

	task, err = o.persistence.TaskRepository().GetByID(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	o.publishTasks(ctx, []*models.Task{task}, actorID(ctx))

	return task, nil
}

// AssignTask gives a task to the next member of its role.
func (o *Orchestrator) AssignTask(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := o.resolver.AssignTaskByRole(ctx, taskID)
	if err != nil {
		return nil, err
	}

	o.publish(ctx, task.WorkflowInstanceID, events.NewTaskAssigned(task, actorID(ctx)))

	return task, nil
}

// BulkAssign assigns every open, unassigned task of an instance.
func (o *Orchestrator) BulkAssign(ctx context.Context, instanceID string) (*assignment.BulkResult, error) {
	_, err := o.persistence.InstanceRepository().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	return o.resolver.BulkAssignUnassigned(ctx, instanceID)
}

// AddRoleMember places a user in a role rotation. The acting user must be allowed
// to manage roles by the policy.
func (o *Orchestrator) AddRoleMember(ctx context.Context, member *models.RoleMember) error {
	err := o.authorizeRoles(ctx, member.RoleName)
	if err != nil {
		return err
	}

	err = o.persistence.RoleRepository().SaveMember(ctx, member)
	if err != nil {
		return fmt.Errorf("failed to save member %s of role %s: %w", member.UserID, member.RoleName, err)
	}

	o.logger.InfoContext(ctx, "role member saved",
		"role", member.RoleName,
		"user_id", member.UserID,
		"is_active", member.IsActive,
		"actor_id", actorID(ctx),
	)

	return nil
}

// SetRoleStrategy changes how tasks of role are assigned.
func (o *Orchestrator) SetRoleStrategy(ctx context.Context, role string, strategy models.AssignmentStrategy) (*models.AssignmentRule, error) {
	err := o.authorizeRoles(ctx, role)
	if err != nil {
		return nil, err
	}

	return o.resolver.SetStrategy(ctx, role, strategy)
}

func (o *Orchestrator) authorizeRoles(ctx context.Context, role string) error {
	actor, ok := identity.FromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no acting user to manage role %s", persistence.ErrPermissionDenied, role)
	}

	if !o.policy.CanManageRoles(actor) {
		return fmt.Errorf("%w: user %s may not manage role %s", persistence.ErrPermissionDenied, actor.UserID, role)
	}

	return nil
}

// InstanceView is an instance with its tasks.
type InstanceView struct {
	Instance *models.WorkflowInstance `json:"instance"`
	Tasks    []*models.Task           `json:"tasks"`
}

// Instance returns an instance and its tasks.
func (o *Orchestrator) Instance(ctx context.Context, id string) (*InstanceView, error) {
	instance, err := o.persistence.InstanceRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	tasks, err := o.persistence.TaskRepository().ListByInstance(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks of instance %s: %w", id, err)
	}

	return &InstanceView{Instance: instance, Tasks: tasks}, nil
}

// Task returns a task by id.
func (o *Orchestrator) Task(ctx context.Context, id string) (*models.Task, error) {
	return o.persistence.TaskRepository().GetByID(ctx, id)
}

// SetInstanceStatus pauses, resumes or cancels an instance.
func (o *Orchestrator) SetInstanceStatus(ctx context.Context, id string, status models.InstanceStatus) (*models.WorkflowInstance, error) {
	instance, err := o.persistence.InstanceRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if instance.Status == status {
		return instance, nil
	}

	if !allowedTransition(instance.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, instance.Status, status)
	}

	from := instance.Status

	instance, err = o.persistence.InstanceRepository().UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}

	o.logger.InfoContext(ctx, "instance status changed", "instance_id", id, "from", from, "to", status)
	o.publish(ctx, id, events.NewInstanceStatusChanged(id, from, status, actorID(ctx)))

	return instance, nil
}

func allowedTransition(from, to models.InstanceStatus) bool {
	switch from {
	case models.InstanceStatusRunning:
		return to == models.InstanceStatusPaused || to == models.InstanceStatusCanceled
	case models.InstanceStatusPaused:
		return to == models.InstanceStatusRunning || to == models.InstanceStatusCanceled
	case models.InstanceStatusDone, models.InstanceStatusCanceled:
		return false
	default:
		return false
	}
}

func (o *Orchestrator) loadTemplate(ctx context.Context, id string, version int) (*models.WorkflowTemplate, error) {
	if version > 0 {
		return o.persistence.TemplateRepository().GetVersion(ctx, id, version)
	}

	return o.persistence.TemplateRepository().Latest(ctx, id)
}

// openTask loads a task that can still be decided along with its running instance.
func (o *Orchestrator) openTask(ctx context.Context, taskID string) (*models.Task, *models.WorkflowInstance, error) {
	task, err := o.persistence.TaskRepository().GetByID(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}

	if task.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("task %s is %s: %w", task.ID, task.Status, ErrTaskAlreadyClosed)
	}

	instance, err := o.persistence.InstanceRepository().GetByID(ctx, task.WorkflowInstanceID)
	if err != nil {
		return nil, nil, err
	}

	if instance.Status != models.InstanceStatusRunning {
		return nil, nil, fmt.Errorf("instance %s is %s: %w", instance.ID, instance.Status, ErrInstanceNotRunning)
	}

	return task, instance, nil
}

// checkOutcome enforces the node's declared outputs. A rejection may omit the outcome.
func (o *Orchestrator) checkOutcome(ctx context.Context, instance *models.WorkflowInstance, task *models.Task, outcome string, reject bool) error {
	if task.IsAdHoc() {
		return nil
	}

	template, err := o.persistence.TemplateRepository().GetVersion(ctx, instance.TemplateID, instance.TemplateVersion)
	if err != nil {
		return err
	}

	node := template.Spec.Node(task.NodeID)
	if node == nil || len(node.Outputs) == 0 {
		return nil
	}

	if outcome == "" && reject {
		return nil
	}

	if !node.AllowsOutcome(outcome) {
		return fmt.Errorf("%w %q for node %s, expected one of %v", ErrInvalidOutcome, outcome, node.ID, node.Outputs)
	}

	return nil
}

func (o *Orchestrator) completeInstanceIfFinished(ctx context.Context, instance *models.WorkflowInstance, actorID string) bool {
	tasks, err := o.persistence.TaskRepository().ListByInstance(ctx, instance.ID)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to check instance completion", "instance_id", instance.ID, "error", err)

		return false
	}

	for _, task := range tasks {
		if !task.Status.IsTerminal() {
			return false
		}
	}

	updated, err := o.persistence.InstanceRepository().UpdateStatus(ctx, instance.ID, models.InstanceStatusDone)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to mark instance done", "instance_id", instance.ID, "error", err)

		return false
	}

	o.logger.InfoContext(ctx, "workflow instance completed", "instance_id", instance.ID, "tasks", len(tasks))
	o.publish(ctx, instance.ID, events.NewInstanceCompleted(updated, len(tasks), actorID))

	return true
}

// assignNew assigns role tasks without an assignee in place. Failures are
// logged and returned, never propagated.
func (o *Orchestrator) assignNew(ctx context.Context, tasks []*models.Task) []assignment.BulkFailure {
	if !o.autoAssign {
		return nil
	}

	var failures []assignment.BulkFailure

	for i, task := range tasks {
		if task.AssignedRole == "" || task.AssigneeUserID != "" {
			continue
		}

		assigned, err := o.resolver.AssignTaskByRole(ctx, task.ID)
		if err != nil {
			o.logger.WarnContext(ctx, "auto assignment failed", "task_id", task.ID, "role", task.AssignedRole, "error", err)
			failures = append(failures, assignment.BulkFailure{TaskID: task.ID, Reason: err.Error()})

			continue
		}

		tasks[i] = assigned
	}

	return failures
}

func (o *Orchestrator) publishTasks(ctx context.Context, tasks []*models.Task, actorID string) {
	for _, task := range tasks {
		o.publish(ctx, task.WorkflowInstanceID, events.NewTaskCreated(task, actorID))
	}
}

// publish never fails the caller; a lost notification is logged.
func (o *Orchestrator) publish(ctx context.Context, key string, event eventbus.Event) {
	if o.publisher == nil {
		return
	}

	err := o.publisher.Publish(ctx, key, event)
	if err != nil {
		o.logger.ErrorContext(ctx, "failed to publish event", "event_type", event.GetType(), "key", key, "error", err)
	}
}

func validateVariables(schema map[string]any, variables map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(variables))
	if err != nil {
		return fmt.Errorf("%w: variables schema: %v", ErrInvalidRequest, err)
	}

	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}

	return &VariablesError{Violations: violations}
}

func actorID(ctx context.Context) string {
	actor, ok := identity.FromContext(ctx)
	if !ok {
		return ""
	}

	return actor.UserID
}
