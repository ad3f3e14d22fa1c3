package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"evalgo.org/gridstore/models"
)

// APIError represents a structured API error with HTTP status code.
type APIError struct {
	Code       int                    `json:"code"`
	ErrorCode  string                 `json:"error_code,omitempty"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	FieldError map[string]string      `json:"field_errors,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAPIError creates a new API error.
func NewAPIError(code int, message string, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Common error constructors
func BadRequestError(message, details string) *APIError {
	return NewAPIError(http.StatusBadRequest, message, details)
}

func NotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Context: map[string]interface{}{"id": id},
	}
}

func ValidationError(message string, fieldErrors map[string]string) *APIError {
	return &APIError{
		Code:       http.StatusBadRequest,
		Message:    message,
		FieldError: fieldErrors,
	}
}

// statusBySentinel gives every index error kind a distinct status.
var statusBySentinel = []struct {
	sentinel error
	status   int
	message  string
}{
	{models.ErrNotFound, http.StatusNotFound, "Resource not found"},
	{models.ErrDuplicateID, http.StatusConflict, "Duplicate id"},
	{models.ErrValidationFailed, http.StatusBadRequest, "Validation failed"},
	{models.ErrUnsupportedMutation, http.StatusMethodNotAllowed, "Unsupported mutation"},
	{models.ErrUnsupportedQuery, http.StatusNotImplemented, "Unsupported query"},
	{models.ErrBackingStoreUnavailable, http.StatusServiceUnavailable, "Backing store unavailable"},
	{models.ErrInconsistent, http.StatusUnprocessableEntity, "Inconsistent reference"},
}

// FromError converts an index or storage error into an APIError. Errors
// outside the taxonomy become 500.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	for _, s := range statusBySentinel {
		if !errors.Is(err, s.sentinel) {
			continue
		}
		out := &APIError{
			Code:      s.status,
			ErrorCode: models.CodeOf(s.sentinel),
			Message:   s.message,
			Details:   err.Error(),
		}
		var me *models.Error
		if errors.As(err, &me) {
			out.FieldError = me.Fields
			if me.Kind != "" || me.ID != "" {
				out.Context = map[string]interface{}{"type": me.Kind, "id": me.ID}
			}
		}
		return out
	}

	return &APIError{
		Code:      http.StatusInternalServerError,
		ErrorCode: "INTERNAL",
		Message:   "Internal server error",
		Details:   err.Error(),
	}
}

// HTTPErrorHandler is a custom error handler for Echo.
func HTTPErrorHandler(err error, c echo.Context) {
	// Don't send response if already sent
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	if he, ok := err.(*echo.HTTPError); ok {
		apiErr = &APIError{
			Code:    he.Code,
			Message: getHTTPMessage(he.Code),
			Details: fmt.Sprintf("%v", he.Message),
		}
	} else {
		apiErr = FromError(err)
	}
	code := apiErr.Code

	// Don't expose internal errors in production
	if code == http.StatusInternalServerError && !c.Echo().Debug {
		apiErr.Details = "An internal error occurred. Please try again later."
	}

	if err := c.JSON(code, apiErr); err != nil {
		c.Logger().Error(err)
	}
}

// getHTTPMessage returns a user-friendly message for HTTP status codes.
func getHTTPMessage(code int) string {
	messages := map[int]string{
		http.StatusBadRequest:          "Bad request",
		http.StatusUnauthorized:        "Unauthorized",
		http.StatusForbidden:           "Forbidden",
		http.StatusNotFound:            "Resource not found",
		http.StatusMethodNotAllowed:    "Method not allowed",
		http.StatusConflict:            "Conflict",
		http.StatusUnprocessableEntity: "Unprocessable entity",
		http.StatusTooManyRequests:     "Too many requests",
		http.StatusInternalServerError: "Internal server error",
		http.StatusBadGateway:          "Bad gateway",
		http.StatusServiceUnavailable:  "Service unavailable",
	}

	if msg, ok := messages[code]; ok {
		return msg
	}
	return http.StatusText(code)
}
