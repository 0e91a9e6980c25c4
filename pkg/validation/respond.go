package validation

import (
	"github.com/gofiber/fiber/v2"

	"github.com/quytrungg/wrdoc-backend/pkg/models"
)

// Respond writes a 400 with one message list per field.
func Respond(c *fiber.Ctx, errs map[string][]string) error {
	return c.Status(fiber.StatusBadRequest).JSON(models.ValidationErrorResponse{
		Message: "Validation failed",
		Errors:  errs,
	})
}

// RespondNonField writes a 400 carrying a single business-rule error that
// doesn't belong to one input field.
func RespondNonField(c *fiber.Ctx, msg string) error {
	return Respond(c, map[string][]string{
		models.NonFieldErrorsKey: {msg},
	})
}
