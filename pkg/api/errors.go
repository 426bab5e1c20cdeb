package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/marmos91/dittostash/internal/logger"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

// errorPayload is the JSON body of every failed request.
type errorPayload struct {
	Error   string               `json:"error"`
	Message string               `json:"message,omitempty"`
	Matches []*metadata.Resource `json:"matches,omitempty"`
}

// statusOf maps a StoreError code to an HTTP status.
var statusOf = map[metadata.ErrorCode]int{
	metadata.ErrNotFound:           fiber.StatusNotFound,
	metadata.ErrConflict:           fiber.StatusConflict,
	metadata.ErrCapacityExceeded:   fiber.StatusInsufficientStorage,
	metadata.ErrIOError:            fiber.StatusInternalServerError,
	metadata.ErrInvariantViolation: fiber.StatusInternalServerError,
	metadata.ErrInvalidArgument:    fiber.StatusBadRequest,
	metadata.ErrReadOnly:           fiber.StatusInternalServerError,
	metadata.ErrClosed:             fiber.StatusServiceUnavailable,
	metadata.ErrBusy:               fiber.StatusServiceUnavailable,
}

// errorHandler renders handler errors as JSON.
func errorHandler(c fiber.Ctx, err error) error {
	status, payload := translate(err)
	if status >= fiber.StatusInternalServerError {
		logger.With(logger.Fields{
			"method": c.Method(),
			"path":   c.Path(),
			"status": status,
		}).Warnf("API request failed: %v", err)
	}
	return c.Status(status).JSON(payload)
}

func translate(err error) (int, errorPayload) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, errorPayload{Error: "http_error", Message: fe.Message}
	}

	if code, ok := metadata.CodeOf(err); ok {
		status, known := statusOf[code]
		if !known {
			status = fiber.StatusInternalServerError
		}
		return status, errorPayload{
			Error:   code.String(),
			Message: err.Error(),
			Matches: metadata.ConflictMatches(err),
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fiber.StatusGatewayTimeout, errorPayload{Error: "timeout", Message: err.Error()}
	}
	return fiber.StatusInternalServerError, errorPayload{Error: "internal", Message: err.Error()}
}
