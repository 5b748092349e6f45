package apierror

import (
	"encoding/json"
	"net/http"
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

// WithDetails adds field-level error details.
func (e *Error) WithDetails(details ...FieldError) *Error {
	e.Details = details
	return e
}

// ToJSON converts the error to JSON bytes.
func (e *Error) ToJSON() []byte {
	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}

	if len(e.Details) > 0 {
		response["error"].(map[string]interface{})["details"] = e.Details
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

// AuthRequired creates a 401 error for missing or invalid credentials.
func AuthRequired(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return &Error{
		StatusCode: http.StatusUnauthorized,
		Code:       "AUTH_REQUIRED",
		Message:    message,
	}
}

// PlanRequired creates a 403 error for users outside the paid tier.
func PlanRequired(message string) *Error {
	if message == "" {
		message = "A paid plan is required for the AI stylist"
	}
	return &Error{
		StatusCode: http.StatusForbidden,
		Code:       "PLAN_REQUIRED",
		Message:    message,
	}
}

// UsageLimitExceeded creates a 429 error for an exhausted monthly quota.
func UsageLimitExceeded(message string) *Error {
	if message == "" {
		message = "Monthly usage limit reached for this plan"
	}
	return &Error{
		StatusCode: http.StatusTooManyRequests,
		Code:       "USAGE_LIMIT_EXCEEDED",
		Message:    message,
	}
}

// BurstLimitExceeded creates a 429 error for an exhausted hourly burst allowance.
func BurstLimitExceeded(message string) *Error {
	if message == "" {
		message = "Too many requests this hour, please slow down"
	}
	return &Error{
		StatusCode: http.StatusTooManyRequests,
		Code:       "BURST_LIMIT_EXCEEDED",
		Message:    message,
	}
}

// TooManyInflight creates a 503 error when the per-user concurrency cap is hit.
// The denial is transient; clients should retry shortly.
func TooManyInflight(message string) *Error {
	if message == "" {
		message = "A styling request is already in progress, retry shortly"
	}
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "UPSTREAM_RATE_LIMIT",
		Message:    message,
	}
}

// UpstreamRateLimit creates a 429 error translated from a provider 429.
func UpstreamRateLimit(message string) *Error {
	if message == "" {
		message = "The AI provider is rate limiting requests"
	}
	return &Error{
		StatusCode: http.StatusTooManyRequests,
		Code:       "UPSTREAM_RATE_LIMIT",
		Message:    message,
	}
}

// ThreadNotFound creates a 404 error for a missing or foreign thread.
// Foreign threads get the same response so their existence is never revealed.
func ThreadNotFound(message string) *Error {
	if message == "" {
		message = "Conversation thread not found"
	}
	return &Error{
		StatusCode: http.StatusNotFound,
		Code:       "THREAD_NOT_FOUND",
		Message:    message,
	}
}

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return &Error{
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    message,
	}
}

// UpstreamTimeout creates a 504 error for a timed-out provider call.
func UpstreamTimeout(message string) *Error {
	if message == "" {
		message = "The AI provider took too long to respond"
	}
	return &Error{
		StatusCode: http.StatusGatewayTimeout,
		Code:       "UPSTREAM_TIMEOUT",
		Message:    message,
	}
}

// UpstreamInvalidRequest creates a 400 error translated from a provider 422.
func UpstreamInvalidRequest(message string) *Error {
	if message == "" {
		message = "The request could not be processed by the AI provider"
	}
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "UPSTREAM_INVALID_REQUEST",
		Message:    message,
	}
}

// UpstreamUnavailable creates a 503 error for an open circuit breaker.
func UpstreamUnavailable(message string) *Error {
	if message == "" {
		message = "The AI provider is temporarily unavailable"
	}
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "UPSTREAM_UNAVAILABLE",
		Message:    message,
	}
}

// UpstreamError creates a 502 error for any other provider failure.
func UpstreamError(message string) *Error {
	if message == "" {
		message = "The AI provider returned an error"
	}
	return &Error{
		StatusCode: http.StatusBadGateway,
		Code:       "UPSTREAM_ERROR",
		Message:    message,
	}
}

// ConfigError creates a 500 error for a deployment/configuration mistake.
func ConfigError(message string) *Error {
	if message == "" {
		message = "Service is misconfigured"
	}
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Code:       "CONFIG_ERROR",
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
