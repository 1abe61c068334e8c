package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/taskflow/pkg/models"
	"github.com/dukex/taskflow/pkg/workflow"
	"gopkg.in/yaml.v3"
)

var ErrInvalidTemplate = errors.New("template spec is invalid")

func loadTemplate(path string) (*models.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	var template models.WorkflowTemplate

	err = yaml.Unmarshal(data, &template)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", path, err)
	}

	return &template, nil
}

// validateFile prints every violation of the template at path and fails when there is any.
func validateFile(path string, out io.Writer) error {
	template, err := loadTemplate(path)
	if err != nil {
		return err
	}

	violations := workflow.Validate(&template.Spec)
	if len(violations) == 0 {
		_, err = fmt.Fprintf(out, "%s: ok (%d nodes)\n", path, len(template.Spec.Nodes))

		return err
	}

	for _, violation := range violations {
		if _, err := fmt.Fprintf(out, "%s: %s\n", path, violation); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: %d violation(s)", ErrInvalidTemplate, len(violations))
}

func printStartNodes(path string, out io.Writer) error {
	template, err := loadTemplate(path)
	if err != nil {
		return err
	}

	for _, input := range workflow.GenerateInitialTasks(&template.Spec, "") {
		role := input.AssignedRole
		if role == "" {
			role = "-"
		}

		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", input.NodeID, input.Type, role, input.Title); err != nil {
			return err
		}
	}

	return nil
}
