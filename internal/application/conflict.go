package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/facility-booking/internal/persistence"
	"github.com/example/facility-booking/internal/timeutil"
)

// ConflictDetector answers whether a window collides with bookings already
// stored for a room. It only reads.
type ConflictDetector struct {
	store  persistence.RowStore
	loc    *time.Location
	logger *slog.Logger
}

// NewConflictDetector constructs a detector over store. Messages are rendered
// in loc, UTC when nil.
func NewConflictDetector(store persistence.RowStore, loc *time.Location, logger *slog.Logger) *ConflictDetector {
	if loc == nil {
		loc = time.UTC
	}
	return &ConflictDetector{store: store, loc: loc, logger: defaultLogger(logger)}
}

// FindConflict returns the earliest stored booking in roomID overlapping
// [start, end), or nil. It issues exactly one select.
func (d *ConflictDetector) FindConflict(ctx context.Context, roomID string, start, end time.Time) (*Booking, error) {
	if d == nil || d.store == nil {
		return nil, fmt.Errorf("ConflictDetector is not configured")
	}

	rows, err := d.store.Select(ctx, persistence.Query{
		Table: persistence.TableBookings,
		Filters: []persistence.Filter{
			persistence.Eq(colRoomID, roomID),
			persistence.Lt(colStartTime, timeutil.FormatInstant(end)),
			persistence.Gt(colEndTime, timeutil.FormatInstant(start)),
		},
		Order: &persistence.Order{Column: colStartTime},
		Limit: 1,
	})
	if err != nil {
		return nil, storeError("check conflict", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	existing, err := bookingFromRow(rows[0])
	if err != nil {
		return nil, backendError("check conflict", err)
	}
	return &existing, nil
}

// CheckRoomConflict reports whether [start, end) overlaps any booking in roomID.
func (d *ConflictDetector) CheckRoomConflict(ctx context.Context, roomID string, start, end time.Time) (bool, error) {
	existing, err := d.FindConflict(ctx, roomID, start, end)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// ConflictDetails is the pre-flight form of CheckRoomConflict, naming the room
// from rooms when it is listed there.
func (d *ConflictDetector) ConflictDetails(ctx context.Context, roomID string, start, end time.Time, rooms []Room) (ConflictDetails, error) {
	if !end.After(start) {
		return ConflictDetails{}, newValidationError(ErrInvalidTimeRange)
	}

	existing, err := d.FindConflict(ctx, roomID, start, end)
	if err != nil {
		d.logger.WarnContext(ctx, "conflict pre-flight failed", "room_id", roomID, "error", err, "error_kind", ErrorKind(err))
		return ConflictDetails{}, err
	}
	if existing == nil {
		return ConflictDetails{}, nil
	}
	return ConflictDetails{
		HasConflict: true,
		Message:     d.Describe(*existing, roomName(roomID, rooms)),
	}, nil
}

// Describe renders the display message for a collision with existing.
func (d *ConflictDetector) Describe(existing Booking, name string) string {
	return fmt.Sprintf("Room %q is already booked from %s", name, timeutil.FormatDisplayRange(existing.Start, existing.End, d.loc))
}

func roomName(roomID string, rooms []Room) string {
	for _, r := range rooms {
		if r.ID == roomID && r.Name != "" {
			return r.Name
		}
	}
	return roomID
}

// storeError passes context errors through unchanged and classifies
// everything else as a backend failure.
func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return backendError(op, err)
}
