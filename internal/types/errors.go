package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and services use these constants instead of
// hardcoded strings so the HTTP mapping stays in one place.
const (
	// Validation (400)
	ErrCodeValidationMissingUserID ErrorCode = "validation_missing_user_id"
	ErrCodeValidationMissingPlan   ErrorCode = "validation_missing_plan"
	ErrCodeValidationUnknownPlan   ErrorCode = "validation_unknown_plan"
	ErrCodeValidationInvalidJSON   ErrorCode = "validation_invalid_json"
	ErrCodeValidationMissingFile   ErrorCode = "validation_missing_file"

	// Auth (401)
	ErrCodeAuthUserMissing ErrorCode = "auth_user_missing"

	// Payment (402)
	ErrCodePaymentNotCompleted ErrorCode = "payment_not_completed"

	// Quota (403). A quota rejection is an expected outcome, not a fault;
	// it must stay distinguishable from auth and not-found failures.
	ErrCodeQuotaReportsExceeded ErrorCode = "quota_reports_exceeded"
	ErrCodeQuotaAgentsExceeded  ErrorCode = "quota_agent_calls_exceeded"

	// Not Found (404)
	ErrCodeNotFoundUser ErrorCode = "not_found_user"
	ErrCodeNotFoundCase ErrorCode = "not_found_case"

	// Upstream (502)
	ErrCodeUpstreamAIService   ErrorCode = "upstream_ai_service_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case s == string(ErrCodePaymentNotCompleted):
		return http.StatusPaymentRequired
	case strings.HasPrefix(s, "quota_"):
		return http.StatusForbidden
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type used throughout the service.
// Domain and handler errors are expressed as AppError so the API layer can
// format them consistently and map them to HTTP statuses.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details
// that are safe to expose to the client.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{Code: code, Message: message, Err: err, Details: details}
}

// NewQuotaError builds the rejection returned when a counter is at its cap.
// It carries the plan name and an upgrade hint so clients can render a
// meaningful prompt rather than a bare 403.
func NewQuotaError(code ErrorCode, plan PlanTier, limit Limit) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf("upload limit reached for %s plan, please upgrade", plan),
		Details: map[string]any{
			"plan":  string(plan),
			"limit": limit,
			"hint":  "upgrade your plan to continue",
		},
	}
}
