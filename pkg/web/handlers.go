package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	templates    *services.Templates
	orchestrator *services.Orchestrator
	roles        persistence.RoleRepository
	validator    *validator.Validate
}

func NewAPIHandlers(
	templates *services.Templates,
	orchestrator *services.Orchestrator,
	roles persistence.RoleRepository,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		templates:    templates,
		orchestrator: orchestrator,
		roles:        roles,
		validator:    validator,
	}
}

// Register mounts every endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	t := router.Group("/templates")
	t.Get("/", h.ListTemplates)
	t.Post("/", h.CreateTemplate)
	t.Post("/validate", h.ValidateSpec)
	t.Get("/:id", h.GetTemplate)
	t.Get("/:id/versions", h.ListTemplateVersions)
	t.Post("/:id/versions", h.ReviseTemplate)
	t.Get("/:id/versions/:version", h.GetTemplateVersion)
	t.Post("/:id/versions/:version/activate", h.ActivateTemplate)
	t.Post("/:id/versions/:version/deactivate", h.DeactivateTemplate)

	i := router.Group("/instances")
	i.Post("/", h.CreateInstance)
	i.Get("/:id", h.GetInstance)
	i.Get("/:id/tasks", h.ListInstanceTasks)
	i.Post("/:id/tasks", h.CreateAdHocTask)
	i.Patch("/:id/status", h.UpdateInstanceStatus)
	i.Post("/:id/assign", h.BulkAssign)

	k := router.Group("/tasks")
	k.Get("/:id", h.GetTask)
	k.Post("/:id/start", h.StartTask)
	k.Post("/:id/complete", h.CompleteTask)
	k.Post("/:id/reject", h.RejectTask)
	k.Post("/:id/assign", h.AssignTask)

	r := router.Group("/roles")
	r.Get("/:role/members", h.ListMembers)
	r.Post("/:role/members", h.AddMember)
	r.Put("/:role/strategy", h.SetStrategy)
	r.Get("/:role/next", h.NextAssignee)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.orchestrator.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Taskflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Taskflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListTemplates(c fiber.Ctx) error {
	templates, err := h.templates.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(templates)
}

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var req CreateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	template, err := h.templates.Create(requestContext(c), services.TemplateRequest{
		ID:              req.ID,
		Name:            req.Name,
		Domain:          req.Domain,
		Spec:            req.Spec,
		VariablesSchema: req.VariablesSchema,
		Activate:        req.Activate,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) ValidateSpec(c fiber.Ctx) error {
	var req ValidateSpecRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	violations := h.templates.Validate(&req.Spec)

	return c.JSON(ValidationResponse{Valid: len(violations) == 0, Violations: violations})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	template, err := h.templates.Latest(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) ListTemplateVersions(c fiber.Ctx) error {
	versions, err := h.templates.Versions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(versions)
}

func (h *APIHandlers) ReviseTemplate(c fiber.Ctx) error {
	var req ReviseTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	template, err := h.templates.Revise(requestContext(c), c.Params("id"), services.TemplateRequest{
		Name:            req.Name,
		Domain:          req.Domain,
		Spec:            req.Spec,
		VariablesSchema: req.VariablesSchema,
		Activate:        req.Activate,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) GetTemplateVersion(c fiber.Ctx) error {
	version, err := versionParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	template, err := h.templates.Get(c.Context(), c.Params("id"), version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) ActivateTemplate(c fiber.Ctx) error {
	version, err := versionParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	template, err := h.templates.Activate(requestContext(c), c.Params("id"), version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) DeactivateTemplate(c fiber.Ctx) error {
	version, err := versionParam(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	template, err := h.templates.Deactivate(requestContext(c), c.Params("id"), version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) CreateInstance(c fiber.Ctx) error {
	var req CreateInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.orchestrator.CreateInstance(requestContext(c), services.CreateInstanceRequest{
		TemplateID:      req.TemplateID,
		TemplateVersion: req.TemplateVersion,
		Variables:       req.Variables,
		ClientID:        req.ClientID,
		ServiceID:       req.ServiceID,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	view, err := h.orchestrator.Instance(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(view)
}

func (h *APIHandlers) ListInstanceTasks(c fiber.Ctx) error {
	view, err := h.orchestrator.Instance(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(view.Tasks)
}

func (h *APIHandlers) CreateAdHocTask(c fiber.Ctx) error {
	var req CreateAdHocTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := h.orchestrator.CreateAdHocTask(requestContext(c), services.AdHocTaskRequest{
		InstanceID:     c.Params("id"),
		Title:          req.Title,
		Type:           req.Type,
		AssignedRole:   req.AssignedRole,
		AssigneeUserID: req.AssigneeUserID,
		Priority:       req.Priority,
		SLAHours:       req.SLAHours,
		DueAt:          req.DueAt,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(task)
}

func (h *APIHandlers) UpdateInstanceStatus(c fiber.Ctx) error {
	var req UpdateInstanceStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.orchestrator.SetInstanceStatus(requestContext(c), c.Params("id"), req.Status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) BulkAssign(c fiber.Ctx) error {
	result, err := h.orchestrator.BulkAssign(requestContext(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetTask(c fiber.Ctx) error {
	task, err := h.orchestrator.Task(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) StartTask(c fiber.Ctx) error {
	task, err := h.orchestrator.StartTask(requestContext(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) CompleteTask(c fiber.Ctx) error {
	return h.decide(c, false)
}

func (h *APIHandlers) RejectTask(c fiber.Ctx) error {
	return h.decide(c, true)
}

func (h *APIHandlers) decide(c fiber.Ctx, reject bool) error {
	var req DecisionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.orchestrator.CompleteTask(requestContext(c), services.CompleteTaskRequest{
		TaskID:     c.Params("id"),
		Outcome:    req.Outcome,
		Reject:     reject,
		Checklist:  req.Checklist,
		Attributes: req.Attributes,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) AssignTask(c fiber.Ctx) error {
	task, err := h.orchestrator.AssignTask(requestContext(c), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(task)
}

func (h *APIHandlers) ListMembers(c fiber.Ctx) error {
	members, err := h.roles.ActiveMembers(c.Context(), c.Params("role"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"role": c.Params("role"), "members": members})
}

func (h *APIHandlers) AddMember(c fiber.Ctx) error {
	var req AddMemberRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	member := &models.RoleMember{
		RoleName:   c.Params("role"),
		UserID:     req.UserID,
		IsActive:   req.IsActive == nil || *req.IsActive,
		OrderIndex: req.OrderIndex,
	}

	if err := h.orchestrator.AddRoleMember(requestContext(c), member); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(member)
}

func (h *APIHandlers) SetStrategy(c fiber.Ctx) error {
	var req SetStrategyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	rule, err := h.orchestrator.SetRoleStrategy(requestContext(c), c.Params("role"), req.Strategy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) NextAssignee(c fiber.Ctx) error {
	userID, err := h.orchestrator.Resolver().GetNextAssignee(c.Context(), c.Params("role"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"role": c.Params("role"), "user_id": userID})
}

func versionParam(c fiber.Ctx) (int, error) {
	version, err := strconv.Atoi(c.Params("version"))
	if err != nil || version < 1 {
		return 0, fmt.Errorf("invalid template version %q", c.Params("version"))
	}

	return version, nil
}
