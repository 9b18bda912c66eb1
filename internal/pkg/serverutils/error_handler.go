package serverutils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// StatusMapper maps a domain error to an HTTP status. ok is false for errors
// it does not know.
type StatusMapper func(err error) (status int, ok bool)

// ErrorHandlerMiddleware renders errors returned by handlers as ErrorResponse.
// Unknown errors become 500 without leaking their text.
func ErrorHandlerMiddleware(mappers ...StatusMapper) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return ctx.Status(fiberErr.Code).JSON(ErrorResponse(fiberErr.Code, fiberErr.Message))
		}
		var verr *ValidationError
		if errors.As(err, &verr) {
			return ctx.Status(fiber.StatusBadRequest).JSON(ErrorResponse(fiber.StatusBadRequest, verr.Error()))
		}
		for _, m := range mappers {
			if status, ok := m(err); ok {
				return ctx.Status(status).JSON(ErrorResponse(status, err.Error()))
			}
		}
		return ctx.Status(fiber.StatusInternalServerError).JSON(ErrorResponse(fiber.StatusInternalServerError, "internal server error"))
	}
}
