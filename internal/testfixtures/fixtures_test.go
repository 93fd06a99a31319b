package testfixtures

import (
	"testing"
	"time"
)

func TestReferenceTimeIsMonday(t *testing.T) {
	if ReferenceTime().Weekday() != time.Monday {
		t.Fatalf("expected a Monday, got %s", ReferenceTime().Weekday())
	}
	if got := At(2, 9, 30); got != time.Date(2024, time.March, 6, 9, 30, 0, 0, time.UTC) {
		t.Fatalf("unexpected At result %v", got)
	}
}

func TestBookingFixtureRow(t *testing.T) {
	fixture := NewBookingFixture(
		WithBookingRoom("R2"),
		WithBookingWindow(At(0, 9, 30), At(0, 10, 30)),
		WithBookingPattern(map[string]any{"type": "weekly"}),
	)
	row := fixture.Row()

	if row["room_id"] != "R2" {
		t.Fatalf("expected room R2, got %v", row["room_id"])
	}
	if row["start_time"] != "2024-03-04T09:30:00.000Z" || row["end_time"] != "2024-03-04T10:30:00.000Z" {
		t.Fatalf("unexpected window %v - %v", row["start_time"], row["end_time"])
	}
	if row["is_recurring"] != true {
		t.Fatalf("expected recurring flag, got %v", row["is_recurring"])
	}
	if _, ok := row["authorizer"]; ok {
		t.Fatalf("blank authorizer must be omitted")
	}
}

func TestRoomFixtureOverrides(t *testing.T) {
	fixture := NewRoomFixture(WithRoomID("R9"), WithRoomName("Boardroom"))
	row := fixture.Row()
	if row["id"] != "R9" || row["name"] != "Boardroom" {
		t.Fatalf("unexpected room row %v", row)
	}
}
