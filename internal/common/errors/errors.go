// Package errors provides standardized error handling for the delivery engine.
package errors

import (
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeTemplateNotFound     ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeTemplateRenderFailed ErrorCode = "TEMPLATE_RENDER_FAILED"

	ErrCodeAdapterNotFound      ErrorCode = "ADAPTER_NOT_FOUND"
	ErrCodeAdapterConfigInvalid ErrorCode = "ADAPTER_CONFIG_INVALID"

	ErrCodeProviderAuthFailed      ErrorCode = "PROVIDER_AUTH_FAILED"
	ErrCodeProviderRejected        ErrorCode = "PROVIDER_REJECTED"
	ErrCodeProviderRateLimited     ErrorCode = "PROVIDER_RATE_LIMITED"
	ErrCodeProviderUnavailable     ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderTimeout         ErrorCode = "PROVIDER_TIMEOUT"
	ErrCodeProviderUnknownResponse ErrorCode = "PROVIDER_UNKNOWN_RESPONSE"
	ErrCodeInvalidRecipient        ErrorCode = "INVALID_RECIPIENT"

	ErrCodeWebhookDeliveryFailed ErrorCode = "WEBHOOK_DELIVERY_FAILED"
	ErrCodeWebhookTimeout        ErrorCode = "WEBHOOK_TIMEOUT"

	ErrCodeAttemptsExhausted ErrorCode = "ATTEMPTS_EXHAUSTED"

	ErrCodeQueueUnavailable   ErrorCode = "QUEUE_UNAVAILABLE"
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
)

// Classification decides retry ownership for a failure. The adapter only
// classifies; the queue owns retry policy.
type Classification string

const (
	// ClassTransient errors (network, 5xx, rate limits) are retried on the
	// full backoff ladder.
	ClassTransient Classification = "transient"
	// ClassPermanent errors (invalid recipient, auth failure, malformed
	// request) get exactly one attempt.
	ClassPermanent Classification = "permanent"
	// ClassUnknown errors retry like transient ones but on a reduced
	// attempt budget.
	ClassUnknown Classification = "unknown"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Class     Classification         `json:"class"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Retryable reports whether the queue may schedule another attempt.
func (e *StandardError) Retryable() bool {
	return e.Class != ClassPermanent
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a permanent request validation error. These are
// rejected synchronously and never enqueued.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Request validation failed",
		Details:   details,
		Class:     ClassPermanent,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateNotFoundError creates a permanent template error.
func NewTemplateNotFoundError(templateID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Template not found",
		Details:   fmt.Sprintf("templateId: %s", templateID),
		Class:     ClassPermanent,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateRenderError creates a permanent structural render error.
func NewTemplateRenderError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateRenderFailed,
		Message:   "Template rendering failed",
		Details:   details,
		Class:     ClassPermanent,
		Timestamp: time.Now().UTC(),
	}
}

// NewAdapterNotFoundError creates a permanent adapter selection error.
func NewAdapterNotFoundError(teamID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAdapterNotFound,
		Message:   "No eligible delivery adapter for team",
		Details:   fmt.Sprintf("teamId: %s", teamID),
		Class:     ClassPermanent,
		Timestamp: time.Now().UTC(),
	}
}

// NewAdapterConfigInvalidError creates a permanent configuration error.
func NewAdapterConfigInvalidError(kind, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAdapterConfigInvalid,
		Message:   fmt.Sprintf("Invalid %s adapter configuration", kind),
		Details:   details,
		Class:     ClassPermanent,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderAuthError creates a permanent provider authentication error.
func NewProviderAuthError(provider string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderAuthFailed,
		Message:   fmt.Sprintf("Provider '%s' rejected credentials", provider),
		Details:   err.Error(),
		Class:     ClassPermanent,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderRejectedError creates a permanent provider rejection error.
func NewProviderRejectedError(provider, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderRejected,
		Message:   fmt.Sprintf("Provider '%s' rejected the message", provider),
		Details:   details,
		Class:     ClassPermanent,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidRecipientError creates a permanent recipient error.
func NewInvalidRecipientError(recipient string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRecipient,
		Message:   "Invalid recipient address",
		Details:   fmt.Sprintf("recipient: %s", recipient),
		Class:     ClassPermanent,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderRateLimitedError creates a transient rate-limit error.
func NewProviderRateLimitedError(provider string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderRateLimited,
		Message:   fmt.Sprintf("Provider '%s' rate limit exceeded", provider),
		Class:     ClassTransient,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderUnavailableError creates a transient provider/network error.
func NewProviderUnavailableError(provider string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderUnavailable,
		Message:   fmt.Sprintf("Provider '%s' unavailable", provider),
		Details:   err.Error(),
		Class:     ClassTransient,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderTimeoutError creates a transient timeout error.
func NewProviderTimeoutError(provider string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderTimeout,
		Message:   fmt.Sprintf("Provider '%s' call timed out", provider),
		Class:     ClassTransient,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderUnknownError creates an unknown-class error for responses that
// cannot be confidently classified either way.
func NewProviderUnknownError(provider string, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderUnknownResponse,
		Message:   fmt.Sprintf("Provider '%s' returned an unrecognized response", provider),
		Details:   details,
		Class:     ClassUnknown,
		Timestamp: time.Now().UTC(),
	}
}

// NewWebhookDeliveryError creates a transient webhook endpoint error.
func NewWebhookDeliveryError(url string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeWebhookDeliveryFailed,
		Message:   "Webhook delivery failed",
		Details:   fmt.Sprintf("url: %s, error: %s", url, err.Error()),
		Class:     ClassTransient,
		Timestamp: time.Now().UTC(),
	}
}

// NewWebhookStatusError creates a transient error for a non-2xx response.
func NewWebhookStatusError(url string, status int) *StandardError {
	return &StandardError{
		Code:      ErrCodeWebhookDeliveryFailed,
		Message:   "Webhook endpoint returned non-2xx status",
		Details:   fmt.Sprintf("url: %s, status: %d", url, status),
		Class:     ClassTransient,
		Timestamp: time.Now().UTC(),
	}
}

// NewWebhookTimeoutError creates a transient webhook timeout error.
func NewWebhookTimeoutError(url string) *StandardError {
	return &StandardError{
		Code:      ErrCodeWebhookTimeout,
		Message:   "Webhook POST timed out",
		Details:   fmt.Sprintf("url: %s", url),
		Class:     ClassTransient,
		Timestamp: time.Now().UTC(),
	}
}

// NewAttemptsExhaustedError marks a job that ran out of retry budget.
func NewAttemptsExhaustedError(attempts int, last error) *StandardError {
	details := fmt.Sprintf("attempts: %d", attempts)
	if last != nil {
		details = fmt.Sprintf("attempts: %d, last: %s", attempts, last.Error())
	}
	return &StandardError{
		Code:      ErrCodeAttemptsExhausted,
		Message:   "Retry attempts exhausted",
		Details:   details,
		Class:     ClassPermanent,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueueUnavailableError creates a transient infrastructure error. Enqueue
// callers surface this as service-unavailable.
func NewQueueUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueUnavailable,
		Message:   "Job queue unavailable",
		Details:   err.Error(),
		Class:     ClassTransient,
		Timestamp: time.Now().UTC(),
	}
}

// NewStorageUnavailableError creates a transient infrastructure error.
func NewStorageUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageUnavailable,
		Message:   "Storage unavailable",
		Details:   err.Error(),
		Class:     ClassTransient,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// Classify returns the classification of err. Non-StandardError values are
// treated as unknown so they still retry, on the reduced budget.
func Classify(err error) Classification {
	if err == nil {
		return ""
	}
	if se, ok := err.(*StandardError); ok {
		return se.Class
	}
	return ClassUnknown
}

// CodeOf returns err's error code, or empty for foreign errors.
func CodeOf(err error) ErrorCode {
	if se, ok := err.(*StandardError); ok {
		return se.Code
	}
	return ""
}
