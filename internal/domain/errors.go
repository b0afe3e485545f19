package domain

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput = "INVALID_INPUT"
	ErrPersistence  = "PERSISTENCE_ERROR"
	ErrNotFound     = "NOT_FOUND"
)

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// Sentinel errors for calibration flows. Insufficient data is a
// contract condition reported to callers, never a hard failure of a
// variant batch.
var (
	// ErrInsufficientRuns rejects a compound calibration batch with
	// fewer than MinCompoundSampleSize valid scores.
	ErrInsufficientRuns = errors.New("insufficient valid run scores for calibration")

	// ErrCalibrationNotFound marks a compound/disease pair with no
	// usable calibration record.
	ErrCalibrationNotFound = errors.New("no calibration available")
)
