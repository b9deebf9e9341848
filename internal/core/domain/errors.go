package domain

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of an admission error.
type ErrorType string

const (
	// ErrorTypeRateLimit indicates a sliding-window quota was exceeded.
	ErrorTypeRateLimit ErrorType = "rate_limit_exceeded"

	// ErrorTypeBurst indicates a burst attack was detected.
	ErrorTypeBurst ErrorType = "burst_attack_detected"

	// ErrorTypeReputationBlocked indicates the client's reputation crossed
	// the block threshold.
	ErrorTypeReputationBlocked ErrorType = "reputation_blocked"

	// ErrorTypeManualBlock indicates an administratively created block.
	ErrorTypeManualBlock ErrorType = "manual_block"

	// ErrorTypeInternal indicates an unexpected failure inside tracking or
	// scoring. Internal errors are logged and the request fails open.
	ErrorTypeInternal ErrorType = "internal_tracking_error"
)

// AdmissionError is the canonical error surfaced by the admission middleware.
// The first four error types always become a 429-class response; internal
// errors never reach the client.
type AdmissionError struct {
	// Type is the category of error.
	Type ErrorType `json:"type"`

	// Message is the human-readable reason string. It must not leak internal
	// thresholds or other clients' state.
	Message string `json:"message"`

	// RetryAfter is the suggested client backoff.
	RetryAfter time.Duration `json:"-"`

	// StatusCode is the HTTP status to respond with.
	StatusCode int `json:"-"`

	// Err is the wrapped cause, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *AdmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *AdmissionError) Unwrap() error {
	return e.Err
}

// NewRateLimitError builds the denial error for an exhausted window dimension.
func NewRateLimitError(window string, retryAfter time.Duration) *AdmissionError {
	return &AdmissionError{
		Type:       ErrorTypeRateLimit,
		Message:    fmt.Sprintf("rate limit exceeded: too many requests per %s", window),
		RetryAfter: retryAfter,
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewBurstError builds the denial error for a detected burst attack.
func NewBurstError(retryAfter time.Duration) *AdmissionError {
	return &AdmissionError{
		Type:       ErrorTypeBurst,
		Message:    "request burst detected, temporarily blocked",
		RetryAfter: retryAfter,
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewBlockedError builds the denial error for an active block entry.
// Manual blocks and reputation blocks are distinguished by errType.
func NewBlockedError(errType ErrorType, retryAfter time.Duration) *AdmissionError {
	return &AdmissionError{
		Type:       errType,
		Message:    "access temporarily blocked",
		RetryAfter: retryAfter,
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewInternalError wraps an unexpected tracking failure. The middleware logs
// it and fails open.
func NewInternalError(op string, err error) *AdmissionError {
	return &AdmissionError{
		Type:       ErrorTypeInternal,
		Message:    op + " failed",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
