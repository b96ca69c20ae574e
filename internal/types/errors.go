package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidJSON   ErrorCode = "validation_invalid_json"
	ErrCodeValidationInvalidReason ErrorCode = "validation_invalid_reason"
	ErrCodeValidationInvalidPlan   ErrorCode = "validation_invalid_plan"

	// Auth (401) / signature verification (400)
	ErrCodeAuthTokenMissing     ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid     ErrorCode = "auth_token_invalid"
	ErrCodeAuthSignatureInvalid ErrorCode = "auth_signature_invalid"
	ErrCodeAuthAdminKeyInvalid  ErrorCode = "auth_admin_key_invalid"

	// Permission (403)
	ErrCodePermissionRole ErrorCode = "permission_role_insufficient"

	// Limits (403)
	ErrCodeLimitExceeded ErrorCode = "limit_plan_exceeded"

	// Not Found (404)
	ErrCodeNotFoundOrg ErrorCode = "not_found_organization"

	// Conflict / domain state (409)
	ErrCodeBillingNoSubscription     ErrorCode = "billing_no_subscription"
	ErrCodeBillingAlreadyCanceled    ErrorCode = "billing_already_canceled"
	ErrCodeBillingSubscriptionExists ErrorCode = "billing_subscription_exists"
	ErrCodeConflictConcurrent        ErrorCode = "conflict_concurrent_modification"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamStripe      ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamEmail       ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_service_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"

	// Payment-specific (402)
	ErrCodePaymentDeclined ErrorCode = "payment_declined"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case s == string(ErrCodeAuthSignatureInvalid):
		// Webhook signature failures are a malformed request, not a
		// missing credential; Stripe does not retry 4xx responses.
		return http.StatusBadRequest
	case s == string(ErrCodeAuthAdminKeyInvalid):
		return http.StatusForbidden
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden
	case s == string(ErrCodeLimitExceeded):
		return http.StatusForbidden
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "billing_"), strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case s == string(ErrCodePaymentDeclined):
		return http.StatusPaymentRequired
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type used throughout the
// platform. All domain and handler errors should be expressed as AppError to
// enable consistent error formatting, HTTP status mapping, and error chain
// support.
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

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
