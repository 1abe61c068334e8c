package web

import (
	"errors"

	"github.com/dukex/taskflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

// handleServiceError maps service and persistence errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var specErr *services.SpecValidationError

	switch {
	case errors.As(err, &specErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"type":       "spec_invalid",
			"title":      "Bad Request",
			"status":     fiber.StatusBadRequest,
			"instance":   c.Path(),
			"detail":     err.Error(),
			"violations": specErr.Violations,
		})

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsForbiddenError(err):
		problem := problems.NewStatusProblem(403).
			WithInstance(c.Path()).
			WithType("forbidden").
			WithDetail(err.Error())

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case services.IsNotFoundError(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("not_found").
			WithDetail(err.Error())

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
