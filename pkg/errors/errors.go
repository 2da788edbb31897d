package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of application error.
type ErrorCode string

const (
	// Validation errors
	ErrInvalidRange        ErrorCode = "INVALID_RANGE"
	ErrOverlapConflict     ErrorCode = "OVERLAP_CONFLICT"
	ErrCapacityOutOfBounds ErrorCode = "CAPACITY_OUT_OF_BOUNDS"
	ErrDuplicateSlot       ErrorCode = "DUPLICATE_SLOT_DEFINITION"

	// Capacity errors
	ErrSlotSaturated    ErrorCode = "SLOT_SATURATED"
	ErrSlotBusy         ErrorCode = "SLOT_BUSY"
	ErrCapacityConflict ErrorCode = "CAPACITY_CONFLICT"

	// State errors
	ErrAlreadyResolved   ErrorCode = "ALREADY_RESOLVED"
	ErrHasBookings       ErrorCode = "HAS_BOOKINGS"
	ErrNoMatchingSlot    ErrorCode = "NO_MATCHING_SLOT"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"

	ErrNotFound ErrorCode = "NOT_FOUND"
	ErrInternal ErrorCode = "INTERNAL"
)

// AppError is the application error type. Context carries the details a
// caller needs to render an actionable message (slot ids, capacity numbers,
// conflicting siblings).
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error code to an HTTP status. Used by the error
// handler middleware.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrInvalidRange, ErrCapacityOutOfBounds, ErrDuplicateSlot:
		return http.StatusBadRequest
	case ErrOverlapConflict, ErrSlotSaturated, ErrSlotBusy, ErrCapacityConflict,
		ErrAlreadyResolved, ErrHasBookings, ErrInvalidTransition:
		return http.StatusConflict
	case ErrNoMatchingSlot:
		return http.StatusUnprocessableEntity
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithContext attaches a key/value pair and returns the error for chaining.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Is reports whether err is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of err, or ErrInternal for non-application errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
