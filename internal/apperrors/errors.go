// Package apperrors provides the standardized error taxonomy: client,
// authentication, storage, crypto, and gossip failures all surface through
// the same AppError shape so the HTTP layer has one translation point.
package apperrors

import (
	"fmt"
	"net/http"
)

// AppError is a structured, client-safe error. Handlers return it directly;
// the gin error middleware maps StatusCode to the response and logs
// Details server-side without exposing them to the caller.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON body written to the client.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ToResponse renders the client-facing payload. Details are intentionally
// omitted: storage and crypto errors must never leak underlying text.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Code, Message: e.Message, Code: e.Code}
}

const (
	CodeBadRequest     = "BAD_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeGone           = "GONE"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"
	CodeInternal       = "INTERNAL_ERROR"
)

func BadRequest(msg string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: msg, StatusCode: http.StatusBadRequest}
}

func Unauthorized(msg string) *AppError {
	if msg == "" {
		msg = "authentication required"
	}
	return &AppError{Code: CodeUnauthorized, Message: msg, StatusCode: http.StatusUnauthorized}
}

func Forbidden(msg string) *AppError {
	if msg == "" {
		msg = "insufficient permissions"
	}
	return &AppError{Code: CodeForbidden, Message: msg, StatusCode: http.StatusForbidden}
}

func NotFound(resource string) *AppError {
	return &AppError{Code: CodeNotFound, Message: resource + " not found", StatusCode: http.StatusNotFound}
}

func Conflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, StatusCode: http.StatusConflict}
}

func Gone(msg string) *AppError {
	return &AppError{Code: CodeGone, Message: msg, StatusCode: http.StatusGone}
}

func PayloadTooLarge(msg string) *AppError {
	return &AppError{Code: CodePayloadTooLarge, Message: msg, StatusCode: http.StatusRequestEntityTooLarge}
}

func TooManyRequests(msg string) *AppError {
	if msg == "" {
		msg = "rate limit exceeded"
	}
	return &AppError{Code: CodeTooManyRequests, Message: msg, StatusCode: http.StatusTooManyRequests}
}

// Internal wraps a StorageError/CryptoError/any unexpected failure. details
// is logged server-side by the caller; it must never reach ToResponse().
func Internal(details string) *AppError {
	return &AppError{Code: CodeInternal, Message: "internal server error", Details: details, StatusCode: http.StatusInternalServerError}
}
