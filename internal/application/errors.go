package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidTimeRange is returned when a booking's end is not after its start.
	ErrInvalidTimeRange = errors.New("booking: end must be after start")
	// ErrEmptyRecurrence is returned when recurrence parameters yield no occurrences.
	ErrEmptyRecurrence = errors.New("booking: recurrence produces no occurrences")
	// ErrInvalidRecurrence is returned when recurrence parameters are malformed.
	ErrInvalidRecurrence = errors.New("booking: invalid recurrence")
	// ErrInvalidBooking is returned when required booking fields are missing.
	ErrInvalidBooking = errors.New("booking: invalid booking")
	// ErrRoomConflict is returned when an occurrence overlaps an existing booking.
	ErrRoomConflict = errors.New("booking: room conflict")
	// ErrBackendUnavailable is returned when the row store could not perform a query or insert.
	ErrBackendUnavailable = errors.New("booking: backend unavailable")
	// ErrNotFound is returned when the requested booking or room does not exist.
	ErrNotFound = errors.New("booking: not found")
	// ErrForbidden is returned when the principal may not act on a booking.
	ErrForbidden = errors.New("booking: forbidden")
)

// ValidationError captures field level validation issues that callers can
// surface to users. Kind is one of the validation sentinels.
type ValidationError struct {
	Kind        error
	FieldErrors map[string]string
}

func newValidationError(kind error) *ValidationError {
	return &ValidationError{Kind: kind}
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	msg := "validation failed"
	if v.Kind != nil {
		msg = v.Kind.Error()
	}
	if len(v.FieldErrors) == 0 {
		return msg
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field + ": " + v.FieldErrors[field]
	}
	return msg + " (" + strings.Join(parts, "; ") + ")"
}

// Unwrap exposes the validation kind to errors.Is.
func (v *ValidationError) Unwrap() error {
	if v == nil {
		return nil
	}
	return v.Kind
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// ConflictError reports the existing booking an occurrence collided with.
type ConflictError struct {
	RoomID    string
	BookingID string
	// Message is the display text, e.g. `Room "Alpha" is already booked from ...`.
	Message string
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return ErrRoomConflict.Error()
	}
	return e.Message
}

func (e *ConflictError) Unwrap() error { return ErrRoomConflict }

// BackendError wraps a failed row store call. It matches both
// ErrBackendUnavailable and the underlying cause.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("booking: %s: backend unavailable: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() []error {
	return []error{ErrBackendUnavailable, e.Err}
}

func backendError(op string, err error) error {
	return &BackendError{Op: op, Err: err}
}

// FanOutError reports a multi-room request that stopped at RoomID. Rooms in
// Completed were committed before the failure and remain persisted.
type FanOutError struct {
	RoomID    string
	Completed []string
	Err       error
}

func (e *FanOutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("booking: room %s failed after %d room(s) committed: %v", e.RoomID, len(e.Completed), e.Err)
}

func (e *FanOutError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
