package httputil

import (
	"github.com/gofiber/fiber/v3"

	"github.com/echochat/echochat-server/internal/apierrors"
)

// SuccessResponse wraps successful API responses.
type SuccessResponse struct {
	Data any `json:"data"`
}

// ErrorBody holds structured error details.
type ErrorBody struct {
	Code    apierrors.Code `json:"code"`
	Message string         `json:"message"`
	Detail  any            `json:"detail,omitempty"`
}

// ErrorResponse wraps failed API responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Success sends a 200 JSON response with the given data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(SuccessResponse{Data: data})
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(SuccessResponse{Data: data})
}

// Fail sends a JSON error response with the given status, code, and message.
func Fail(c fiber.Ctx, status int, code apierrors.Code, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorBody{Code: code, Message: message},
	})
}

// FailErr sends a JSON error response derived from an *apierrors.Error, using its Code to pick the HTTP status and
// carrying along any machine-readable Detail (e.g. the active voice cap or slowmode window).
func FailErr(c fiber.Ctx, err *apierrors.Error) error {
	return c.Status(err.Code.HTTPStatus()).JSON(ErrorResponse{
		Error: ErrorBody{Code: err.Code, Message: err.Message, Detail: err.Detail},
	})
}
