package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/timeutil"
)

var (
	roomCounter    uint64
	bookingCounter uint64
)

// referenceTime is a Monday.
var referenceTime = time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// At returns ReferenceTime shifted by days and set to hour:minute UTC.
func At(days, hour, minute int) time.Time {
	return referenceTime.AddDate(0, 0, days).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// ----------------------------- Room fixtures -----------------------------

// RoomFixture is a deterministic room record.
type RoomFixture struct {
	ID          string
	Name        string
	Description string
	Capacity    int64
}

// RoomOption configures the generated room fixture.
type RoomOption func(*RoomFixture)

// NewRoomFixture returns a deterministic room fixture with optional overrides.
func NewRoomFixture(opts ...RoomOption) RoomFixture {
	idx := atomic.AddUint64(&roomCounter, 1)
	fixture := RoomFixture{
		ID:       fmt.Sprintf("room-%03d", idx),
		Name:     fmt.Sprintf("Room %03d", idx),
		Capacity: 8,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRoomID overrides the generated room ID.
func WithRoomID(id string) RoomOption {
	return func(f *RoomFixture) {
		f.ID = id
	}
}

// WithRoomName overrides the generated room name.
func WithRoomName(name string) RoomOption {
	return func(f *RoomFixture) {
		f.Name = name
	}
}

// Row returns the fixture as a rooms table row.
func (f RoomFixture) Row() persistence.Row {
	row := persistence.Row{
		"id":       f.ID,
		"name":     f.Name,
		"capacity": f.Capacity,
	}
	if f.Description != "" {
		row["description"] = f.Description
	}
	return row
}

// ---------------------------- Booking fixtures ----------------------------

// BookingFixture is a deterministic booking record.
type BookingFixture struct {
	ID          string
	RoomID      string
	UserID      string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Pattern     map[string]any
	Authorizer  string
}

// BookingOption configures the generated booking fixture.
type BookingOption func(*BookingFixture)

// NewBookingFixture returns a one-hour booking at 09:00 on the reference day.
func NewBookingFixture(opts ...BookingOption) BookingFixture {
	idx := atomic.AddUint64(&bookingCounter, 1)
	fixture := BookingFixture{
		ID:     fmt.Sprintf("booking-fixture-%03d", idx),
		RoomID: "R1",
		UserID: "user-001",
		Title:  fmt.Sprintf("Meeting %03d", idx),
		Start:  At(0, 9, 0),
		End:    At(0, 10, 0),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithBookingID overrides the generated booking ID.
func WithBookingID(id string) BookingOption {
	return func(f *BookingFixture) {
		f.ID = id
	}
}

// WithBookingRoom sets the booked room.
func WithBookingRoom(roomID string) BookingOption {
	return func(f *BookingFixture) {
		f.RoomID = roomID
	}
}

// WithBookingUser sets the owning user.
func WithBookingUser(userID string) BookingOption {
	return func(f *BookingFixture) {
		f.UserID = userID
	}
}

// WithBookingWindow sets the occupied interval.
func WithBookingWindow(start, end time.Time) BookingOption {
	return func(f *BookingFixture) {
		f.Start = start
		f.End = end
	}
}

// WithBookingPattern marks the fixture as part of a recurring series.
func WithBookingPattern(pattern map[string]any) BookingOption {
	return func(f *BookingFixture) {
		f.Pattern = pattern
	}
}

// Row returns the fixture as a bookings table row.
func (f BookingFixture) Row() persistence.Row {
	row := persistence.Row{
		"id":           f.ID,
		"room_id":      f.RoomID,
		"user_id":      f.UserID,
		"title":        f.Title,
		"start_time":   timeutil.FormatInstant(f.Start),
		"end_time":     timeutil.FormatInstant(f.End),
		"is_recurring": f.Pattern != nil,
	}
	if f.Description != "" {
		row["description"] = f.Description
	}
	if f.Pattern != nil {
		row["recurrence_pattern"] = f.Pattern
	}
	if f.Authorizer != "" {
		row["authorizer"] = f.Authorizer
	}
	return row
}

// Seed inserts rows into table and fails with context when the store refuses.
func Seed(ctx context.Context, store persistence.RowStore, table string, rows ...persistence.Row) ([]persistence.Row, error) {
	stored, err := store.Insert(ctx, table, rows)
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", table, err)
	}
	return stored, nil
}
