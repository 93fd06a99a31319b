package application

import (
	"time"

	"github.com/example/facility-booking/internal/recurrence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// Room represents a catalog entry for a bookable room. The booking core only
// reads rooms.
type Room struct {
	ID          string
	Name        string
	Description string
	Capacity    *int
	CreatedAt   time.Time
}

// RecurrencePattern is the payload shared by every occurrence of a series.
type RecurrencePattern struct {
	Type       recurrence.Type
	Interval   int
	DaysOfWeek []time.Weekday
	// EndDate is the exclusive bound on occurrence starts, when one was given.
	EndDate *time.Time
}

// Booking is one persisted occurrence.
type Booking struct {
	ID          string
	RoomID      string
	UserID      string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	IsRecurring bool
	Pattern     *RecurrencePattern
	Authorizer  *string
	CreatedAt   time.Time
}

// BookingRequest captures the caller provided fields of a booking template.
type BookingRequest struct {
	RoomID      string
	UserID      string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Authorizer  string
}

// RecurrenceRequest captures caller provided recurrence parameters.
type RecurrenceRequest struct {
	Type     recurrence.Type
	Interval int
	Weekdays []time.Weekday
	// Until is the exclusive bound on occurrence starts; nil selects the
	// default horizon.
	Until *time.Time
}

// ConflictDetails is the pre-flight answer shown next to a booking form.
type ConflictDetails struct {
	HasConflict bool
	Message     string
}

// BookingFilter narrows the consolidated calendar query.
type BookingFilter struct {
	RoomIDs []string
	// From and To bound the window; bookings overlapping [From, To) are returned.
	From *time.Time
	To   *time.Time
	// Limit caps the result; zero means no cap.
	Limit int
}
