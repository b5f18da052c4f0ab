package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Webhook Security (SEC) ----

func ErrInvalidSignature() *AppError {
	return New("SEC_001", "Invalid webhook signature", http.StatusUnauthorized)
}

func ErrMissingAuthMaterial() *AppError {
	return New("SEC_002", "Missing signature or token header", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("SEC_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrInvalidCredentials() *AppError {
	return New("SEC_004", "Invalid credentials", http.StatusUnauthorized)
}

// ---- Source Registry (SRC) ----

func ErrUnsupportedSource(source string) *AppError {
	return New("SRC_001", fmt.Sprintf("Unsupported webhook source: %s", source), http.StatusNotFound)
}

func ErrSourceDisabled(source string) *AppError {
	return New("SRC_002", fmt.Sprintf("Webhook source is disabled: %s", source), http.StatusForbidden)
}

// ---- Event Store (EVT) ----

func ErrEventNotFound() *AppError {
	return New("EVT_001", "Webhook event not found", http.StatusNotFound)
}

// ---- Retry Queue (QUE) ----

func ErrQueueItemNotFound() *AppError {
	return New("QUE_001", "Queue item not found", http.StatusNotFound)
}

func ErrClaimTokenMismatch(err error) *AppError {
	return Wrap("QUE_002", "Queue item is not held by this claim token", http.StatusConflict, err)
}

func ErrNotDeadLettered() *AppError {
	return New("QUE_003", "Queue item is not dead-lettered", http.StatusConflict)
}

// ---- Sync Processor (SYNC) ----

func ErrRetryableSync(err error) *AppError {
	return Wrap("SYNC_001", "Transient sync failure", http.StatusServiceUnavailable, err)
}

func ErrPermanentSync(err error) *AppError {
	return Wrap("SYNC_002", "Permanent sync failure", http.StatusUnprocessableEntity, err)
}

func ErrSyncConflict() *AppError {
	return New("SYNC_003", "Entity version conflict", http.StatusConflict)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_002", "Internal database error", http.StatusInternalServerError, err)
}

// Validation returns a generic bad-request validation error.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

func ErrBodyTooLarge() *AppError {
	return New("VAL_002", "Request body too large", http.StatusRequestEntityTooLarge)
}
