package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/example/facility-booking/internal/persistence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	if got := (&ValidationError{}).Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := newValidationError(ErrInvalidBooking)
	withFields.add("user_id", "user is required")
	withFields.add("title", "title is required")
	want := "booking: invalid booking (title: title is required; user_id: user is required)"
	if got := withFields.Error(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if !errors.Is(withFields, ErrInvalidBooking) {
		t.Fatalf("expected validation error to match its kind")
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	if (&ValidationError{}).HasErrors() {
		t.Fatalf("expected HasErrors to report false for empty error")
	}
	if !(&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors() {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestTypedErrorsUnwrap(t *testing.T) {
	t.Parallel()

	conflict := &ConflictError{RoomID: "R1", Message: `Room "Alpha" is already booked`}
	if !errors.Is(conflict, ErrRoomConflict) || conflict.Error() != `Room "Alpha" is already booked` {
		t.Fatalf("unexpected conflict error behaviour: %v", conflict)
	}

	backend := backendError("insert bookings", fmt.Errorf("wrapped: %w", persistence.ErrRateLimited))
	if !errors.Is(backend, ErrBackendUnavailable) || !errors.Is(backend, persistence.ErrRateLimited) {
		t.Fatalf("expected backend error to match both sentinel and cause: %v", backend)
	}

	fanOut := &FanOutError{RoomID: "B", Completed: []string{"A"}, Err: conflict}
	var target *ConflictError
	if !errors.As(fanOut, &target) || target.RoomID != "R1" {
		t.Fatalf("expected fan-out error to expose the room conflict")
	}
	if ErrorKind(fanOut) != "room_conflict" {
		t.Fatalf("expected room_conflict kind, got %q", ErrorKind(fanOut))
	}
}
