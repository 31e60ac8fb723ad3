package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/facegate/internal/domain"
)

// ErrorHandler renders every error as {"error":{"code","message","details"}}.
// Causes attached with WithError are logged for 5xx and never sent to the client.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *domain.AppError
		var fiberErr *fiber.Error

		switch {
		case errors.As(err, &appErr):
			if appErr.StatusCode >= 500 {
				logger.ErrorContext(c.UserContext(), "request failed",
					slog.String("code", appErr.Code),
					slog.Any("error", appErr.Err),
					slog.String("request_id", requestID(c)),
					slog.String("path", c.Path()),
				)
			}
			return writeError(c, appErr.StatusCode, appErr.Code, appErr.Message, appErr.Details)

		case errors.As(err, &fiberErr):
			// body limit hits before the handler can validate the upload
			if fiberErr.Code == fiber.StatusRequestEntityTooLarge {
				return writeError(c, fiberErr.Code, domain.ErrInvalidImage.Code, fiberErr.Message, nil)
			}
			return writeError(c, fiberErr.Code, "HTTP_ERROR", fiberErr.Message, nil)

		default:
			logger.ErrorContext(c.UserContext(), "unhandled error",
				slog.Any("error", err),
				slog.String("request_id", requestID(c)),
				slog.String("path", c.Path()),
			)
			return writeError(c, domain.ErrInternal.StatusCode, domain.ErrInternal.Code, domain.ErrInternal.Message, nil)
		}
	}
}

func writeError(c *fiber.Ctx, status int, code, message string, details map[string]any) error {
	body := fiber.Map{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	return c.Status(status).JSON(fiber.Map{"error": body})
}
