// Package calendar renders bookings as an iCalendar feed.
package calendar

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/example/facility-booking/internal/application"
)

const (
	productID = "-//facility-booking//bookings//EN"
	uidDomain = "facility-booking"

	propertyRoomID = ical.ComponentProperty("X-BOOKING-ROOM-ID")
	propertyUserID = ical.ComponentProperty("X-BOOKING-USER-ID")
)

// Options controls feed level metadata.
type Options struct {
	// Name is published as X-WR-CALNAME when set.
	Name string
	// Now stamps DTSTAMP; time.Now when zero.
	Now time.Time
}

// Export serialises bookings as a VCALENDAR with one VEVENT per occurrence.
// Rooms supply LOCATION; unknown rooms fall back to their id.
func Export(bookings []application.Booking, rooms []application.Room, opts Options) string {
	names := make(map[string]string, len(rooms))
	for _, r := range rooms {
		names[r.ID] = r.Name
	}
	stamp := opts.Now
	if stamp.IsZero() {
		stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, b := range bookings {
		event := cal.AddEvent(b.ID + "@" + uidDomain)
		event.SetDtStampTime(stamp)
		if !b.CreatedAt.IsZero() {
			event.SetCreatedTime(b.CreatedAt)
		}
		event.SetStartAt(b.Start)
		event.SetEndAt(b.End)
		event.SetSummary(b.Title)
		if b.Description != "" {
			event.SetDescription(b.Description)
		}
		location := names[b.RoomID]
		if location == "" {
			location = b.RoomID
		}
		event.SetLocation(location)
		event.AddProperty(propertyRoomID, b.RoomID)
		event.AddProperty(propertyUserID, b.UserID)
	}

	return cal.Serialize()
}
