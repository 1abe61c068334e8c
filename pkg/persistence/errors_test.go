package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/taskflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		conflict := persistence.NewTaskConflictError("inst-1", "review")
		templateErr := &persistence.TemplateError{Op: "Get", TemplateID: "tpl-1", Version: 2, Err: persistence.ErrTemplateNotFound}

		assert.True(t, persistence.IsTaskConflict(conflict))
		assert.True(t, persistence.IsTemplateNotFound(templateErr))
		assert.False(t, persistence.IsTaskNotFound(conflict))

		assert.True(t, errors.Is(conflict, persistence.ErrTaskConflict))
		assert.True(t, errors.Is(templateErr, persistence.ErrTemplateNotFound))
	})

	t.Run("wrapped errors are still detected", func(t *testing.T) {
		err := fmt.Errorf("loading: %w", persistence.ErrInstanceNotFound)

		assert.True(t, persistence.IsInstanceNotFound(err))
		assert.True(t, persistence.IsPermissionDenied(fmt.Errorf("create: %w", persistence.ErrPermissionDenied)))
		assert.True(t, persistence.IsNoActiveMember(fmt.Errorf("next: %w", persistence.ErrNoActiveMember)))
	})

	t.Run("task conflict error contains context", func(t *testing.T) {
		err := persistence.NewTaskConflictError("inst-1", "review")

		assert.Contains(t, err.Error(), "Create")
		assert.Contains(t, err.Error(), "node review in instance inst-1")
		assert.Contains(t, err.Error(), "task already exists for node")
	})

	t.Run("task error prefers task id", func(t *testing.T) {
		err := &persistence.TaskError{Op: "Update", TaskID: "task-9", Err: persistence.ErrTaskNotFound}

		assert.Equal(t, "Update operation failed for task task-9: task not found", err.Error())
	})

	t.Run("template error contains version", func(t *testing.T) {
		versioned := &persistence.TemplateError{Op: "Get", TemplateID: "tpl-1", Version: 3, Err: persistence.ErrTemplateNotFound}
		latest := &persistence.TemplateError{Op: "Latest", TemplateID: "tpl-1", Err: persistence.ErrTemplateNotFound}

		assert.Equal(t, "Get operation failed for template tpl-1 v3: template not found", versioned.Error())
		assert.Equal(t, "Latest operation failed for template tpl-1: template not found", latest.Error())
	})
}
