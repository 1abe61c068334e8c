package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/taskflow/pkg/identity"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/workflow"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// TemplateRequest describes a template version to store.
type TemplateRequest struct {
	ID              string
	Name            string
	Domain          string
	Spec            models.WorkflowSpec
	VariablesSchema map[string]any
	// Activate validates the spec and stores the version active.
	Activate bool
}

// Templates manages versioned workflow templates.
type Templates struct {
	repo   persistence.TemplateRepository
	logger *slog.Logger
}

// NewTemplates creates a template service.
func NewTemplates(repo persistence.TemplateRepository, logger *slog.Logger) *Templates {
	return &Templates{
		repo:   repo,
		logger: logger.With("module", "templates"),
	}
}

// Validate runs the spec validator.
func (s *Templates) Validate(spec *models.WorkflowSpec) []string {
	return workflow.Validate(spec)
}

// Create stores version 1 of a new template.
func (s *Templates) Create(ctx context.Context, req TemplateRequest) (*models.WorkflowTemplate, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: template name is required", ErrInvalidRequest)
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	return s.save(ctx, req, 1)
}

// Revise stores the next version of an existing template. Empty name and
// domain are carried over from the latest version.
func (s *Templates) Revise(ctx context.Context, id string, req TemplateRequest) (*models.WorkflowTemplate, error) {
	latest, err := s.repo.Latest(ctx, id)
	if err != nil {
		return nil, err
	}

	req.ID = id

	if req.Name == "" {
		req.Name = latest.Name
	}

	if req.Domain == "" {
		req.Domain = latest.Domain
	}

	return s.save(ctx, req, latest.Version+1)
}

// Get returns one template version.
func (s *Templates) Get(ctx context.Context, id string, version int) (*models.WorkflowTemplate, error) {
	return s.repo.GetVersion(ctx, id, version)
}

// Latest returns the newest version of a template.
func (s *Templates) Latest(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	return s.repo.Latest(ctx, id)
}

// Versions returns the version history of a template.
func (s *Templates) Versions(ctx context.Context, id string) ([]*models.WorkflowTemplate, error) {
	return s.repo.Versions(ctx, id)
}

// List returns the newest version of every template.
func (s *Templates) List(ctx context.Context) ([]*models.WorkflowTemplate, error) {
	return s.repo.List(ctx)
}

// Activate marks a version active once its spec passes validation.
func (s *Templates) Activate(ctx context.Context, id string, version int) (*models.WorkflowTemplate, error) {
	template, err := s.repo.GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}

	violations := workflow.Validate(&template.Spec)
	if len(violations) > 0 {
		return nil, &SpecValidationError{TemplateID: id, Violations: violations}
	}

	err = s.repo.SetActive(ctx, id, version, true)
	if err != nil {
		return nil, err
	}

	template.IsActive = true

	s.logger.InfoContext(ctx, "template activated", "template_id", id, "version", version)

	return template, nil
}

// Deactivate stops new instances from being created from a version.
func (s *Templates) Deactivate(ctx context.Context, id string, version int) (*models.WorkflowTemplate, error) {
	err := s.repo.SetActive(ctx, id, version, false)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "template deactivated", "template_id", id, "version", version)

	return s.repo.GetVersion(ctx, id, version)
}

func (s *Templates) save(ctx context.Context, req TemplateRequest, version int) (*models.WorkflowTemplate, error) {
	if req.VariablesSchema != nil {
		_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(req.VariablesSchema))
		if err != nil {
			return nil, fmt.Errorf("%w: variables schema: %v", ErrInvalidRequest, err)
		}
	}

	if req.Activate {
		violations := workflow.Validate(&req.Spec)
		if len(violations) > 0 {
			return nil, &SpecValidationError{TemplateID: req.ID, Violations: violations}
		}
	}

	template := &models.WorkflowTemplate{
		ID:              req.ID,
		Name:            req.Name,
		Version:         version,
		Domain:          req.Domain,
		Spec:            req.Spec,
		VariablesSchema: req.VariablesSchema,
		IsActive:        req.Activate,
	}

	if actor, ok := identity.FromContext(ctx); ok {
		template.CreatedBy = actor.UserID
	}

	err := s.repo.Save(ctx, template)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "template version saved",
		"template_id", template.ID,
		"version", template.Version,
		"active", template.IsActive,
		"nodes", len(template.Spec.Nodes),
	)

	return template, nil
}
