package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/persistence"
)

// TemplateRepository handles template file operations.
type TemplateRepository struct {
	store *store
}

func (tr *TemplateRepository) versionPath(id string, version int) string {
	return tr.store.path("templates", id, strconv.Itoa(version)+".json")
}

// Save stores a new template version.
func (tr *TemplateRepository) Save(_ context.Context, template *models.WorkflowTemplate) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	path := tr.versionPath(template.ID, template.Version)
	if _, err := os.Stat(path); err == nil {
		return &persistence.TemplateError{Op: "Save", TemplateID: template.ID, Version: template.Version, Err: persistence.ErrTemplateVersionExists}
	}

	if template.CreatedAt.IsZero() {
		template.CreatedAt = time.Now().UTC()
	}

	return tr.store.write(path, template)
}

// SetActive toggles the activation flag of one version.
func (tr *TemplateRepository) SetActive(_ context.Context, id string, version int, active bool) error {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	path := tr.versionPath(id, version)

	var template models.WorkflowTemplate

	found, err := tr.store.read(path, &template)
	if err != nil {
		return err
	}

	if !found {
		return &persistence.TemplateError{Op: "SetActive", TemplateID: id, Version: version, Err: persistence.ErrTemplateNotFound}
	}

	template.IsActive = active

	return tr.store.write(path, &template)
}

// GetVersion returns one template version.
func (tr *TemplateRepository) GetVersion(_ context.Context, id string, version int) (*models.WorkflowTemplate, error) {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	var template models.WorkflowTemplate

	found, err := tr.store.read(tr.versionPath(id, version), &template)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, &persistence.TemplateError{Op: "GetVersion", TemplateID: id, Version: version, Err: persistence.ErrTemplateNotFound}
	}

	return &template, nil
}

// Latest returns the highest version of a template.
func (tr *TemplateRepository) Latest(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	versions, err := tr.Versions(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(versions) == 0 {
		return nil, &persistence.TemplateError{Op: "Latest", TemplateID: id, Err: persistence.ErrTemplateNotFound}
	}

	return versions[len(versions)-1], nil
}

// Versions returns every version of a template, oldest first.
func (tr *TemplateRepository) Versions(_ context.Context, id string) ([]*models.WorkflowTemplate, error) {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	return tr.loadVersions(tr.store.path("templates", id))
}

// List returns the latest version of every template.
func (tr *TemplateRepository) List(_ context.Context) ([]*models.WorkflowTemplate, error) {
	tr.store.mu.Lock()
	defer tr.store.mu.Unlock()

	entries, err := os.ReadDir(tr.store.path("templates"))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.WorkflowTemplate{}, nil
		}

		return nil, err
	}

	templates := make([]*models.WorkflowTemplate, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		versions, err := tr.loadVersions(filepath.Join(tr.store.path("templates"), entry.Name()))
		if err != nil {
			return nil, err
		}

		if len(versions) > 0 {
			templates = append(templates, versions[len(versions)-1])
		}
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})

	return templates, nil
}

func (tr *TemplateRepository) loadVersions(dir string) ([]*models.WorkflowTemplate, error) {
	paths, err := tr.store.list(dir)
	if err != nil {
		return nil, err
	}

	versions := make([]*models.WorkflowTemplate, 0, len(paths))

	for _, path := range paths {
		var template models.WorkflowTemplate

		found, err := tr.store.read(path, &template)
		if err != nil {
			return nil, err
		}

		if found {
			versions = append(versions, &template)
		}
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})

	return versions, nil
}
