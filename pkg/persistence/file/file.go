// Package file provides file-based persistence for templates, instances, tasks and roles.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/taskflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// Every write goes through one mutex, which is what makes task creation per
// (instance, node) and role rotation atomic for a single process.
type Persistence struct {
	store        *store
	templateRepo *TemplateRepository
	instanceRepo *InstanceRepository
	taskRepo     *TaskRepository
	roleRepo     *RoleRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	s := &store{root: strings.Replace(root, "file://", "", 1)}

	return &Persistence{
		store:        s,
		templateRepo: &TemplateRepository{store: s},
		instanceRepo: &InstanceRepository{store: s},
		taskRepo:     &TaskRepository{store: s},
		roleRepo:     &RoleRepository{store: s},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.store.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) TemplateRepository() persistence.TemplateRepository {
	return fp.templateRepo
}

func (fp *Persistence) InstanceRepository() persistence.InstanceRepository {
	return fp.instanceRepo
}

func (fp *Persistence) TaskRepository() persistence.TaskRepository {
	return fp.taskRepo
}

func (fp *Persistence) RoleRepository() persistence.RoleRepository {
	return fp.roleRepo
}

type store struct {
	mu   sync.Mutex
	root string
}

func (s *store) path(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, s.root)

	for _, part := range parts {
		escaped = append(escaped, url.PathEscape(part))
	}

	return filepath.Clean(filepath.Join(escaped...))
}

// read decodes the JSON document at path into target. found is false when the file does not exist.
func (s *store) read(path string, target any) (bool, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	err = json.Unmarshal(body, target)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	return true, nil
}

func (s *store) write(path string, value any) error {
	err := os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	return os.WriteFile(path, data, 0600)
}

// list returns the JSON file paths directly under dir, sorted by name.
func (s *store) list(dir string) ([]string, error) {
	root := os.DirFS(dir)

	files, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	paths := make([]string, 0, len(files))
	for _, file := range files {
		paths = append(paths, filepath.Join(dir, file))
	}

	return paths, nil
}
