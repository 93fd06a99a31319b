package application

import (
	"fmt"
	"math"
	"time"

	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/recurrence"
	"github.com/example/facility-booking/internal/timeutil"
)

// Booking row columns.
const (
	colID                = "id"
	colRoomID            = "room_id"
	colUserID            = "user_id"
	colTitle             = "title"
	colDescription       = "description"
	colStartTime         = "start_time"
	colEndTime           = "end_time"
	colIsRecurring       = "is_recurring"
	colRecurrencePattern = "recurrence_pattern"
	colAuthorizer        = "authorizer"
	colCreatedAt         = "created_at"

	colName     = "name"
	colCapacity = "capacity"
)

// bookingRow builds the insert row for b. Identity and created_at are left to
// the store.
func bookingRow(b Booking) persistence.Row {
	row := persistence.Row{
		colRoomID:            b.RoomID,
		colUserID:            b.UserID,
		colTitle:             b.Title,
		colDescription:       nil,
		colStartTime:         timeutil.FormatInstant(b.Start),
		colEndTime:           timeutil.FormatInstant(b.End),
		colIsRecurring:       b.IsRecurring,
		colRecurrencePattern: nil,
		colAuthorizer:        nil,
	}
	if b.Description != "" {
		row[colDescription] = b.Description
	}
	if b.Pattern != nil {
		row[colRecurrencePattern] = patternPayload(*b.Pattern)
	}
	if b.Authorizer != nil {
		row[colAuthorizer] = *b.Authorizer
	}
	return row
}

func patternPayload(p RecurrencePattern) map[string]any {
	payload := map[string]any{
		"type":     string(p.Type),
		"interval": p.Interval,
	}
	if len(p.DaysOfWeek) > 0 {
		days := make([]any, len(p.DaysOfWeek))
		for i, d := range p.DaysOfWeek {
			days[i] = int(d)
		}
		payload["daysOfWeek"] = days
	}
	if p.EndDate != nil {
		payload["endDate"] = timeutil.FormatInstant(*p.EndDate)
	}
	return payload
}

// bookingFromRow maps a stored row onto a Booking. Any shape mismatch is
// reported as persistence.ErrMalformedRow; nothing is coerced.
func bookingFromRow(row persistence.Row) (Booking, error) {
	var b Booking
	var err error

	if b.ID, err = requiredString(row, colID); err != nil {
		return Booking{}, err
	}
	if b.RoomID, err = requiredString(row, colRoomID); err != nil {
		return Booking{}, err
	}
	if b.UserID, err = requiredString(row, colUserID); err != nil {
		return Booking{}, err
	}
	if b.Title, err = requiredString(row, colTitle); err != nil {
		return Booking{}, err
	}
	description, err := optionalString(row, colDescription)
	if err != nil {
		return Booking{}, err
	}
	if description != nil {
		b.Description = *description
	}
	if b.Start, err = requiredInstant(row, colStartTime); err != nil {
		return Booking{}, err
	}
	if b.End, err = requiredInstant(row, colEndTime); err != nil {
		return Booking{}, err
	}
	if !b.End.After(b.Start) {
		return Booking{}, malformed(colEndTime, "not after start_time")
	}

	recurring, ok := row[colIsRecurring].(bool)
	if !ok {
		return Booking{}, malformed(colIsRecurring, fmt.Sprintf("expected bool, got %T", row[colIsRecurring]))
	}
	b.IsRecurring = recurring

	if raw := row[colRecurrencePattern]; raw != nil {
		payload, ok := raw.(map[string]any)
		if !ok {
			return Booking{}, malformed(colRecurrencePattern, fmt.Sprintf("expected object, got %T", raw))
		}
		pattern, err := patternFromPayload(payload)
		if err != nil {
			return Booking{}, err
		}
		b.Pattern = &pattern
	}
	if b.IsRecurring != (b.Pattern != nil) {
		return Booking{}, malformed(colRecurrencePattern, "must be present iff is_recurring")
	}

	if b.Authorizer, err = optionalString(row, colAuthorizer); err != nil {
		return Booking{}, err
	}
	if b.CreatedAt, err = requiredInstant(row, colCreatedAt); err != nil {
		return Booking{}, err
	}
	return b, nil
}

func bookingsFromRows(rows []persistence.Row) ([]Booking, error) {
	out := make([]Booking, 0, len(rows))
	for _, row := range rows {
		b, err := bookingFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func patternFromPayload(payload map[string]any) (RecurrencePattern, error) {
	tag, ok := payload["type"].(string)
	if !ok {
		return RecurrencePattern{}, malformed("recurrence_pattern.type", "missing")
	}
	typ, err := recurrence.ParseType(tag)
	if err != nil {
		return RecurrencePattern{}, malformed("recurrence_pattern.type", err.Error())
	}
	interval, ok := integer(payload["interval"])
	if !ok || interval < 1 {
		return RecurrencePattern{}, malformed("recurrence_pattern.interval", fmt.Sprintf("invalid value %v", payload["interval"]))
	}
	pattern := RecurrencePattern{Type: typ, Interval: interval}

	if raw, present := payload["daysOfWeek"]; present && raw != nil {
		items, ok := raw.([]any)
		if !ok {
			return RecurrencePattern{}, malformed("recurrence_pattern.daysOfWeek", fmt.Sprintf("expected array, got %T", raw))
		}
		for _, item := range items {
			n, ok := integer(item)
			if !ok || !timeutil.ValidWeekday(time.Weekday(n)) {
				return RecurrencePattern{}, malformed("recurrence_pattern.daysOfWeek", fmt.Sprintf("invalid weekday %v", item))
			}
			pattern.DaysOfWeek = append(pattern.DaysOfWeek, time.Weekday(n))
		}
	}

	if raw, present := payload["endDate"]; present && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return RecurrencePattern{}, malformed("recurrence_pattern.endDate", fmt.Sprintf("expected string, got %T", raw))
		}
		end, err := timeutil.ParseInstant(s)
		if err != nil {
			return RecurrencePattern{}, malformed("recurrence_pattern.endDate", err.Error())
		}
		pattern.EndDate = &end
	}
	return pattern, nil
}

func roomFromRow(row persistence.Row) (Room, error) {
	var r Room
	var err error
	if r.ID, err = requiredString(row, colID); err != nil {
		return Room{}, err
	}
	if r.Name, err = requiredString(row, colName); err != nil {
		return Room{}, err
	}
	description, err := optionalString(row, colDescription)
	if err != nil {
		return Room{}, err
	}
	if description != nil {
		r.Description = *description
	}
	if raw := row[colCapacity]; raw != nil {
		n, ok := integer(raw)
		if !ok {
			return Room{}, malformed(colCapacity, fmt.Sprintf("expected integer, got %T", raw))
		}
		r.Capacity = &n
	}
	if raw, ok := row[colCreatedAt].(string); ok && raw != "" {
		if r.CreatedAt, err = timeutil.ParseInstant(raw); err != nil {
			return Room{}, malformed(colCreatedAt, err.Error())
		}
	}
	return r, nil
}

func roomRow(r Room) persistence.Row {
	row := persistence.Row{
		colID:          r.ID,
		colName:        r.Name,
		colDescription: nil,
		colCapacity:    nil,
	}
	if r.Description != "" {
		row[colDescription] = r.Description
	}
	if r.Capacity != nil {
		row[colCapacity] = int64(*r.Capacity)
	}
	return row
}

func malformed(column, reason string) error {
	return fmt.Errorf("%w: %s: %s", persistence.ErrMalformedRow, column, reason)
}

func requiredString(row persistence.Row, column string) (string, error) {
	raw, ok := row[column]
	if !ok || raw == nil {
		return "", malformed(column, "missing")
	}
	s, ok := raw.(string)
	if !ok {
		return "", malformed(column, fmt.Sprintf("expected string, got %T", raw))
	}
	return s, nil
}

func optionalString(row persistence.Row, column string) (*string, error) {
	raw := row[column]
	if raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, malformed(column, fmt.Sprintf("expected string, got %T", raw))
	}
	return &s, nil
}

func requiredInstant(row persistence.Row, column string) (time.Time, error) {
	s, err := requiredString(row, column)
	if err != nil {
		return time.Time{}, err
	}
	t, err := timeutil.ParseInstant(s)
	if err != nil {
		return time.Time{}, malformed(column, err.Error())
	}
	return t, nil
}

// integer accepts the numeric shapes stores produce: Go ints from the memory
// store and integral float64 from decoded JSON.
func integer(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
