package services_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/taskflow/pkg/identity"
	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/dukex/taskflow/pkg/persistence/file"
	"github.com/dukex/taskflow/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func reviewSpec() models.WorkflowSpec {
	return models.WorkflowSpec{Nodes: []*models.WorkflowNode{
		{ID: "draft", Title: "Draft", Role: "Writer"},
		{ID: "review", Type: models.NodeTypeApproval, Title: "Review", Role: "Editor", Requires: []models.Requirement{models.AnyOutcome("draft")}, Outputs: []string{"approved", "changes"}},
		{ID: "publish", Title: "Publish", Role: "Writer", Requires: []models.Requirement{models.WithOutcome("review", "approved")}},
		{ID: "rework", Title: "Rework", Role: "Writer", Requires: []models.Requirement{models.WithOutcome("review", "changes")}},
	}}
}

func TestTemplates_CreateAndRevise(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	svc := services.NewTemplates(p.TemplateRepository(), testLogger())
	ctx := identity.WithActor(t.Context(), identity.Actor{UserID: "alice"})

	created, err := svc.Create(ctx, services.TemplateRequest{Name: "Content review", Domain: "marketing", Spec: reviewSpec()})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.IsActive)
	assert.Equal(t, "alice", created.CreatedBy)

	spec := reviewSpec()
	spec.Nodes = spec.Nodes[:2]

	revised, err := svc.Revise(ctx, created.ID, services.TemplateRequest{Spec: spec, Activate: true})
	require.NoError(t, err)
	assert.Equal(t, 2, revised.Version)
	assert.Equal(t, "Content review", revised.Name)
	assert.Equal(t, "marketing", revised.Domain)
	assert.True(t, revised.IsActive)

	v1, err := svc.Get(ctx, created.ID, 1)
	require.NoError(t, err)
	assert.Len(t, v1.Spec.Nodes, 4)

	versions, err := svc.Versions(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	latest, err := svc.Latest(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
}

func TestTemplates_CreateRequiresName(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	svc := services.NewTemplates(p.TemplateRepository(), testLogger())

	_, err := svc.Create(t.Context(), services.TemplateRequest{Name: "  ", Spec: reviewSpec()})
	require.ErrorIs(t, err, services.ErrInvalidRequest)
	assert.True(t, services.IsValidationError(err))
}

func TestTemplates_ActivateRejectsInvalidSpec(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	svc := services.NewTemplates(p.TemplateRepository(), testLogger())
	ctx := t.Context()

	spec := models.WorkflowSpec{Nodes: []*models.WorkflowNode{
		{ID: "a", Title: "A", Requires: []models.Requirement{models.AnyOutcome("b")}},
		{ID: "b", Title: "B", Requires: []models.Requirement{models.AnyOutcome("a")}},
	}}

	created, err := svc.Create(ctx, services.TemplateRequest{ID: "cyclic", Name: "Cyclic", Spec: spec})
	require.NoError(t, err)

	_, err = svc.Activate(ctx, created.ID, created.Version)
	require.ErrorIs(t, err, services.ErrSpecInvalid)

	var specErr *services.SpecValidationError
	require.ErrorAs(t, err, &specErr)
	assert.NotEmpty(t, specErr.Violations)

	_, err = svc.Create(ctx, services.TemplateRequest{ID: "cyclic-2", Name: "Cyclic", Spec: spec, Activate: true})
	require.ErrorIs(t, err, services.ErrSpecInvalid)

	_, err = svc.Get(ctx, "cyclic-2", 1)
	assert.True(t, persistence.IsTemplateNotFound(err))
}

func TestTemplates_ActivateAndDeactivate(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	svc := services.NewTemplates(p.TemplateRepository(), testLogger())
	ctx := t.Context()

	created, err := svc.Create(ctx, services.TemplateRequest{ID: "review", Name: "Review", Spec: reviewSpec()})
	require.NoError(t, err)

	activated, err := svc.Activate(ctx, "review", 1)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	deactivated, err := svc.Deactivate(ctx, "review", created.Version)
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	_, err = svc.Activate(ctx, "review", 7)
	assert.True(t, services.IsNotFoundError(err))
}

func TestTemplates_InvalidVariablesSchema(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	svc := services.NewTemplates(p.TemplateRepository(), testLogger())

	_, err := svc.Create(t.Context(), services.TemplateRequest{
		Name:            "Review",
		Spec:            reviewSpec(),
		VariablesSchema: map[string]any{"type": "nonsense"},
	})
	require.ErrorIs(t, err, services.ErrInvalidRequest)
}
