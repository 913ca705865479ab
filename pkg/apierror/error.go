package apierror

import (
	"encoding/json"
	"errors"
	"net/http"

	"collectord/internal/model"
)

// Error represents a structured API error response.
type Error struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// ToJSON converts the error to JSON bytes.
func (e *Error) ToJSON() []byte {
	response := map[string]any{
		"success": false,
		"error":   e,
	}

	data, _ := json.Marshal(response)
	return data
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
	}
}

// ValidationError creates a 400 error with validation details.
func ValidationError(message string, details ...FieldError) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
		Message:    message,
		Details:    details,
	}
}

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return &Error{
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
	}
}

// ServiceUnavailable creates a 503 Service Unavailable error.
func ServiceUnavailable(message string) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    message,
	}
}

// NotCancellable creates a 409 error for an action past its point of no return.
func NotCancellable(message string) *Error {
	return &Error{
		StatusCode: http.StatusConflict,
		Code:       "NOT_CANCELLABLE",
		Message:    message,
	}
}

// FromError maps item-level errors onto API errors. Unrecognized errors
// become a 500 so internals are never echoed back.
func FromError(err error) *Error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, model.ErrUnknownItem):
		return &Error{StatusCode: http.StatusNotFound, Code: "UNKNOWN_ITEM", Message: err.Error()}
	case errors.Is(err, model.ErrActionPending):
		return &Error{StatusCode: http.StatusConflict, Code: "ACTION_PENDING", Message: err.Error()}
	case errors.Is(err, model.ErrNotCancellable):
		return NotCancellable(err.Error())
	case errors.Is(err, model.ErrWrongChain):
		return &Error{StatusCode: http.StatusPreconditionFailed, Code: "WRONG_CHAIN", Message: "wrong network, switch network and try again"}
	case errors.Is(err, model.ErrVerificationUnavailable):
		return ServiceUnavailable("verification unavailable, try again later")
	case errors.Is(err, model.ErrIneligible):
		return &Error{StatusCode: http.StatusUnprocessableEntity, Code: "INELIGIBLE", Message: err.Error()}
	}
	return InternalError("")
}
